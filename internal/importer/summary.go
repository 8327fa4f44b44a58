package importer

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Summary is the outcome of one import run.
type Summary struct {
	Root           string
	PatientsAdded  int
	StudiesAdded   int
	SeriesAdded    int
	InstancesAdded int
	// InstancesUpdated counts files that replaced an existing instance.
	InstancesUpdated int
	Skipped          int
	FilesScanned     int
	Cancelled        bool
	Duration         time.Duration
}

// DisplayImportSummary writes a human-readable report of s. err is the
// fatal error of the run, if any.
func DisplayImportSummary(w io.Writer, s Summary, err error) {
	switch {
	case err != nil:
		_, _ = fmt.Fprintf(w, "\n✗ Import failed: %v\n", err)
	case s.Cancelled:
		_, _ = fmt.Fprintln(w, "\n! Import cancelled")
	default:
		_, _ = fmt.Fprintln(w, "\n✓ Import complete!")
	}
	if s.Root != "" {
		_, _ = fmt.Fprintf(w, "  Directory:  %s\n", s.Root)
	}
	_, _ = fmt.Fprintf(w, "  Patients:   %d added\n", s.PatientsAdded)
	_, _ = fmt.Fprintf(w, "  Studies:    %d added\n", s.StudiesAdded)
	_, _ = fmt.Fprintf(w, "  Series:     %d added\n", s.SeriesAdded)
	_, _ = fmt.Fprintf(w, "  Instances:  %d added, %d updated\n", s.InstancesAdded, s.InstancesUpdated)
	_, _ = fmt.Fprintf(w, "  Skipped:    %d of %d files\n", s.Skipped, s.FilesScanned)
	_, _ = fmt.Fprintf(w, "  Duration:   %s\n", s.Duration.Round(time.Millisecond))
}

// progress holds the live added-record counters of the current run.
type progress struct {
	patients  atomic.Int64
	studies   atomic.Int64
	series    atomic.Int64
	instances atomic.Int64
}

func (p *progress) reset() {
	p.patients.Store(0)
	p.studies.Store(0)
	p.series.Store(0)
	p.instances.Store(0)
}
