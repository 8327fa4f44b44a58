package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// indexTx implements hierarchy.Tx
type indexTx struct {
	idx *Index
	tx  *sql.Tx
}

var _ hierarchy.Tx = (*indexTx)(nil)

// FindOrCreatePatient returns the patient id, inserting the patient if needed
func (t *indexTx) FindOrCreatePatient(c hierarchy.PatientCriteria) (string, bool, error) {
	id := c.Key()
	res, err := t.tx.Exec(`
		INSERT INTO patients (id, name, birth_date, sex)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, c.Name, c.BirthDate, c.Sex)
	if err != nil {
		return "", false, fmt.Errorf("insert patient: %w", err)
	}
	return id, inserted(res), nil
}

// FindOrCreateStudy returns the study id, inserting the study if needed
func (t *indexTx) FindOrCreateStudy(patientID string, c hierarchy.StudyCriteria) (string, bool, error) {
	if err := t.requireParent("patients", hierarchy.LevelPatient, patientID); err != nil {
		return "", false, err
	}
	res, err := t.tx.Exec(`
		INSERT INTO studies (id, patient_id, study_date, study_time, description, accession_number)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.StudyInstanceUID, patientID, c.Date, c.Time, c.Description, c.AccessionNumber)
	if err != nil {
		return "", false, fmt.Errorf("insert study: %w", err)
	}
	return c.StudyInstanceUID, inserted(res), nil
}

// FindOrCreateSeries returns the series id, inserting the series if needed
func (t *indexTx) FindOrCreateSeries(studyID string, c hierarchy.SeriesCriteria) (string, bool, error) {
	if err := t.requireParent("studies", hierarchy.LevelStudy, studyID); err != nil {
		return "", false, err
	}
	res, err := t.tx.Exec(`
		INSERT INTO series (id, study_id, number, modality, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.SeriesInstanceUID, studyID, c.Number, c.Modality, c.Description)
	if err != nil {
		return "", false, fmt.Errorf("insert series: %w", err)
	}
	return c.SeriesInstanceUID, inserted(res), nil
}

// UpsertInstance inserts the instance, replacing any record that already
// holds the same file path or the same SOP instance UID
func (t *indexTx) UpsertInstance(seriesID, filePath string, m hierarchy.InstanceMetadata) (string, bool, error) {
	if err := t.requireParent("series", hierarchy.LevelSeries, seriesID); err != nil {
		return "", false, err
	}

	res, err := t.tx.Exec(`DELETE FROM instances WHERE file_path = ? OR id = ?`, filePath, m.SOPInstanceUID)
	if err != nil {
		return "", false, fmt.Errorf("replace instance: %w", err)
	}
	replaced, _ := res.RowsAffected()

	if _, err := t.tx.Exec(`
		INSERT INTO instances (id, series_id, file_path, number, frame_count, sop_class_uid)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.SOPInstanceUID, seriesID, filePath, m.Number, m.FrameCount, m.SOPClassUID); err != nil {
		return "", false, fmt.Errorf("insert instance: %w", err)
	}

	for name, value := range m.Tags {
		if _, err := t.tx.Exec(`
			INSERT OR REPLACE INTO tag_cache (instance_id, tag, value) VALUES (?, ?, ?)
		`, m.SOPInstanceUID, name, value); err != nil {
			return "", false, fmt.Errorf("cache tag %s: %w", name, err)
		}
	}
	return m.SOPInstanceUID, replaced == 0, nil
}

// Commit commits the transaction
func (t *indexTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.idx.tags.Purge()
	return nil
}

// Rollback aborts the transaction
func (t *indexTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *indexTx) requireParent(table string, level hierarchy.Level, id string) error {
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &hierarchy.ParentLevelError{Level: level, ID: id}
	}
	return err
}

func inserted(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
