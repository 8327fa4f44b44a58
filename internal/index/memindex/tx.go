package memindex

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// tx implements hierarchy.Tx over a single memdb write transaction.
type tx struct {
	txn  *memdb.Txn
	done bool
}

var _ hierarchy.Tx = (*tx)(nil)

var errTxDone = errors.New("transaction already finished")

func (t *tx) FindOrCreatePatient(c hierarchy.PatientCriteria) (string, bool, error) {
	if t.done {
		return "", false, errTxDone
	}
	id := c.Key()
	obj, err := t.txn.First(tablePatient, "id", id)
	if err != nil {
		return "", false, err
	}
	if obj != nil {
		return id, false, nil
	}
	p := &hierarchy.Patient{ID: id, Name: c.Name, BirthDate: c.BirthDate, Sex: c.Sex}
	if err := t.txn.Insert(tablePatient, p); err != nil {
		return "", false, fmt.Errorf("insert patient: %w", err)
	}
	return id, true, nil
}

func (t *tx) FindOrCreateStudy(patientID string, c hierarchy.StudyCriteria) (string, bool, error) {
	if t.done {
		return "", false, errTxDone
	}
	if err := t.requireParent(tablePatient, hierarchy.LevelPatient, patientID); err != nil {
		return "", false, err
	}
	obj, err := t.txn.First(tableStudy, "id", c.StudyInstanceUID)
	if err != nil {
		return "", false, err
	}
	if obj != nil {
		return c.StudyInstanceUID, false, nil
	}
	s := &hierarchy.Study{
		ID:              c.StudyInstanceUID,
		PatientID:       patientID,
		Date:            c.Date,
		Time:            c.Time,
		Description:     c.Description,
		AccessionNumber: c.AccessionNumber,
	}
	if err := t.txn.Insert(tableStudy, s); err != nil {
		return "", false, fmt.Errorf("insert study: %w", err)
	}
	return s.ID, true, nil
}

func (t *tx) FindOrCreateSeries(studyID string, c hierarchy.SeriesCriteria) (string, bool, error) {
	if t.done {
		return "", false, errTxDone
	}
	if err := t.requireParent(tableStudy, hierarchy.LevelStudy, studyID); err != nil {
		return "", false, err
	}
	obj, err := t.txn.First(tableSeries, "id", c.SeriesInstanceUID)
	if err != nil {
		return "", false, err
	}
	if obj != nil {
		return c.SeriesInstanceUID, false, nil
	}
	s := &hierarchy.Series{
		ID:          c.SeriesInstanceUID,
		StudyID:     studyID,
		Number:      c.Number,
		Modality:    c.Modality,
		Description: c.Description,
	}
	if err := t.txn.Insert(tableSeries, s); err != nil {
		return "", false, fmt.Errorf("insert series: %w", err)
	}
	return s.ID, true, nil
}

func (t *tx) UpsertInstance(seriesID, filePath string, m hierarchy.InstanceMetadata) (string, bool, error) {
	if t.done {
		return "", false, errTxDone
	}
	if err := t.requireParent(tableSeries, hierarchy.LevelSeries, seriesID); err != nil {
		return "", false, err
	}

	created := true
	// The same path may now hold a different instance, and the same instance
	// may have moved to a new path. Both count as updates.
	for _, lookup := range [][2]string{{"path", filePath}, {"id", m.SOPInstanceUID}} {
		obj, err := t.txn.First(tableInstance, lookup[0], lookup[1])
		if err != nil {
			return "", false, err
		}
		if obj == nil {
			continue
		}
		created = false
		old := obj.(*hierarchy.Instance)
		if _, err := t.txn.DeleteAll(tableTag, "instance", old.ID); err != nil {
			return "", false, err
		}
		if err := t.txn.Delete(tableInstance, old); err != nil {
			return "", false, fmt.Errorf("replace instance: %w", err)
		}
	}

	inst := &hierarchy.Instance{
		ID:          m.SOPInstanceUID,
		SeriesID:    seriesID,
		FilePath:    filePath,
		Number:      m.Number,
		FrameCount:  m.FrameCount,
		SOPClassUID: m.SOPClassUID,
	}
	if err := t.txn.Insert(tableInstance, inst); err != nil {
		return "", false, fmt.Errorf("insert instance: %w", err)
	}
	for name, value := range m.Tags {
		if err := t.txn.Insert(tableTag, &tagRecord{InstanceID: inst.ID, Name: name, Value: value}); err != nil {
			return "", false, fmt.Errorf("cache tag %s: %w", name, err)
		}
	}
	return inst.ID, created, nil
}

func (t *tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.txn.Commit()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Abort()
	return nil
}

func (t *tx) requireParent(table string, level hierarchy.Level, id string) error {
	obj, err := t.txn.First(table, "id", id)
	if err != nil {
		return err
	}
	if obj == nil {
		return &hierarchy.ParentLevelError{Level: level, ID: id}
	}
	return nil
}
