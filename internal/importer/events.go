package importer

// Per-record events are published after the transaction that created the
// record has committed.

// PatientAdded is published when a run creates a patient.
type PatientAdded struct {
	ID        string
	Name      string
	BirthDate string
	Sex       string
}

// StudyAdded is published when a run creates a study.
type StudyAdded struct{ ID string }

// SeriesAdded is published when a run creates a series.
type SeriesAdded struct{ ID string }

// InstanceAdded is published when a run creates an instance. Files that
// replace an existing instance do not produce it.
type InstanceAdded struct{ ID string }

// ScanCompleted is published once the directory walk is done. Files is the
// number of candidate files the run will go through.
type ScanCompleted struct {
	RunID string
	Files int
}

// FileIndexed is published for every committed file, new or updated.
type FileIndexed struct{ Path string }

// FileSkipped is published for files that could not be parsed. Err is a
// *ParseError.
type FileSkipped struct {
	Path string
	Err  error
}

// SchemaUpgradeProgress reports the non-cancelable schema upgrade phase.
type SchemaUpgradeProgress struct {
	Step, Total int
}

// ImportFinished is the last event of every run. Err is nil for completed
// and cancelled runs.
type ImportFinished struct {
	RunID   string
	Summary Summary
	Err     error
}

func (PatientAdded) EventName() string          { return "patient_added" }
func (StudyAdded) EventName() string            { return "study_added" }
func (SeriesAdded) EventName() string           { return "series_added" }
func (InstanceAdded) EventName() string         { return "instance_added" }
func (ScanCompleted) EventName() string         { return "scan_completed" }
func (FileIndexed) EventName() string           { return "file_indexed" }
func (FileSkipped) EventName() string           { return "file_skipped" }
func (SchemaUpgradeProgress) EventName() string { return "schema_upgrade_progress" }
func (ImportFinished) EventName() string        { return "import_finished" }
