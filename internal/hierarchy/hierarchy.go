// Package hierarchy defines the Patient → Study → Series → Instance records
// and the index contract that stores them.
//
// Components outside the index only ever hold identifiers. The index may be
// mutated, re-queried or closed independently of any cursor that refers to
// its records.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CurrentSchemaVersion is the schema version this build of the index expects.
const CurrentSchemaVersion = 2

// ErrNotFound is returned by index getters when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Level identifies a depth in the hierarchy.
type Level int

const (
	LevelRoot Level = iota
	LevelPatient
	LevelStudy
	LevelSeries
	LevelInstance
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelRoot:
		return "root"
	case LevelPatient:
		return "patient"
	case LevelStudy:
		return "study"
	case LevelSeries:
		return "series"
	case LevelInstance:
		return "instance"
	default:
		return "unknown"
	}
}

// Child returns the level directly below l.
func (l Level) Child() Level {
	if l >= LevelInstance {
		return LevelInstance
	}
	return l + 1
}

// Node addresses a single record. The zero Node is the root, whose children
// are the patients.
type Node struct {
	Level Level
	ID    string
}

// Root is the node above all patients.
var Root = Node{Level: LevelRoot}

// String returns "level:id".
func (n Node) String() string {
	if n.Level == LevelRoot {
		return "root"
	}
	return n.Level.String() + ":" + n.ID
}

// Patient is a patient record.
type Patient struct {
	ID        string
	Name      string
	BirthDate string
	Sex       string
}

// Study is a study record owned by a patient.
type Study struct {
	ID              string
	PatientID       string
	Date            string
	Time            string
	Description     string
	AccessionNumber string
}

// Series is a series record owned by a study.
type Series struct {
	ID            string
	StudyID       string
	Number        int
	Modality      string
	Description   string
	InstanceCount int
}

// Instance is a single file within a series.
type Instance struct {
	ID          string
	SeriesID    string
	FilePath    string
	Number      int
	FrameCount  int
	SOPClassUID string
}

// PatientCriteria holds the header values that identify a patient.
type PatientCriteria struct {
	PatientID string
	Name      string
	BirthDate string
	Sex       string
}

// Key returns the patient identifier. Files without a PatientID are grouped
// by name and birth date.
func (c PatientCriteria) Key() string {
	if id := strings.TrimSpace(c.PatientID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Name) + "^" + strings.TrimSpace(c.BirthDate)
}

// StudyCriteria holds the header values that identify a study.
type StudyCriteria struct {
	StudyInstanceUID string
	Date             string
	Time             string
	Description      string
	AccessionNumber  string
}

// SeriesCriteria holds the header values that identify a series.
type SeriesCriteria struct {
	SeriesInstanceUID string
	Number            int
	Modality          string
	Description       string
}

// InstanceMetadata holds the per-file values stored with an instance.
type InstanceMetadata struct {
	SOPInstanceUID string
	SOPClassUID    string
	Number         int
	FrameCount     int
	// Tags holds the precached tag values keyed by tag name.
	Tags map[string]string
}

// Reader is the read side of the index.
type Reader interface {
	// ChildrenOf returns the identifiers of node's children in document order.
	ChildrenOf(ctx context.Context, node Node) ([]string, error)

	Patient(ctx context.Context, id string) (Patient, error)
	Study(ctx context.Context, id string) (Study, error)
	Series(ctx context.Context, id string) (Series, error)
	Instance(ctx context.Context, id string) (Instance, error)

	// CachedTag returns a value stored for tagsToPrecache during import.
	CachedTag(ctx context.Context, instanceID, tagName string) (string, bool, error)
}

// Tx groups writes that land atomically on Commit.
// The created flags report whether a record was newly inserted (true) or
// already present (false).
type Tx interface {
	FindOrCreatePatient(c PatientCriteria) (id string, created bool, err error)
	FindOrCreateStudy(patientID string, c StudyCriteria) (id string, created bool, err error)
	FindOrCreateSeries(studyID string, c SeriesCriteria) (id string, created bool, err error)
	UpsertInstance(seriesID, filePath string, m InstanceMetadata) (id string, created bool, err error)
	Commit() error
	Rollback() error
}

// Index is the persistent store of hierarchy records.
type Index interface {
	Reader

	SchemaVersion(ctx context.Context) (int, error)
	// UpgradeSchema migrates the store to CurrentSchemaVersion, reporting
	// step/total progress. It must not be interrupted halfway.
	UpgradeSchema(ctx context.Context, progress func(step, total int)) error

	Begin(ctx context.Context) (Tx, error)

	// Remove deletes node and its whole subtree.
	Remove(ctx context.Context, node Node) error

	Close() error
}

// ParentLevelError is returned by Tx methods when the parent record does
// not exist.
type ParentLevelError struct {
	Level Level
	ID    string
}

func (e *ParentLevelError) Error() string {
	return fmt.Sprintf("parent %s %q does not exist", e.Level, e.ID)
}

// Is reports ErrNotFound so callers can match either form.
func (e *ParentLevelError) Is(target error) bool {
	return target == ErrNotFound
}
