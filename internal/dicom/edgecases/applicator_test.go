package edgecases

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

var basePatient = hierarchy.PatientCriteria{PatientID: "PID000001", Name: "Smith^John", BirthDate: "19700101", Sex: "M"}

func newApplicator(pct int, kinds ...Kind) *Applicator {
	return NewApplicator(Config{Percentage: pct, Kinds: kinds}, rand.New(rand.NewPCG(42, 42)))
}

func TestApplicator_Disabled(t *testing.T) {
	app := newApplicator(0, SpecialChars, MissingIDs, Truncated)
	if got := app.Patient(basePatient); got != basePatient {
		t.Errorf("Patient() = %+v, want unchanged", got)
	}
	if app.Truncate() {
		t.Error("Truncate() should be false at 0%")
	}
}

func TestApplicator_Patient(t *testing.T) {
	tests := []struct {
		kind  Kind
		check func(hierarchy.PatientCriteria) bool
	}{
		{SpecialChars, func(p hierarchy.PatientCriteria) bool {
			return p.Name != basePatient.Name && regexp.MustCompile(`^[^\^]+\^[^\^]+$`).MatchString(p.Name)
		}},
		{MissingIDs, func(p hierarchy.PatientCriteria) bool {
			return p.PatientID == "" && p.Key() == "Smith^John^19700101"
		}},
		{VariedIDs, func(p hierarchy.PatientCriteria) bool {
			return p.PatientID != basePatient.PatientID && p.PatientID != ""
		}},
		{PartialDates, func(p hierarchy.PatientCriteria) bool {
			return len(p.BirthDate) == 4 || len(p.BirthDate) == 6
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			app := newApplicator(100, tt.kind)
			for range 20 {
				if got := app.Patient(basePatient); !tt.check(got) {
					t.Fatalf("Patient() = %+v", got)
				}
			}
		})
	}
}

func TestApplicator_Study(t *testing.T) {
	s := hierarchy.StudyCriteria{StudyInstanceUID: "1.2.3", Date: "20240101"}
	if got := newApplicator(100, SpecialChars).Study(s); got != s {
		t.Errorf("Study() without partial-dates = %+v", got)
	}
	if got := newApplicator(100, PartialDates).Study(s); got.Date == s.Date || got.StudyInstanceUID != s.StudyInstanceUID {
		t.Errorf("Study() with partial-dates = %+v", got)
	}
}

func TestApplicator_TruncateRate(t *testing.T) {
	app := newApplicator(50, Truncated)
	applied := 0
	for range 100 {
		if app.Truncate() {
			applied++
		}
	}
	// Should be roughly 50% (allow 30-70 range for randomness)
	if applied < 30 || applied > 70 {
		t.Errorf("50%% should truncate ~50 times in 100, got %d", applied)
	}
}

func TestTruncateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IM000001")
	if err := os.WriteFile(path, make([]byte, 1024), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := TruncateFile(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != truncatedSize {
		t.Errorf("size = %d, want %d", info.Size(), truncatedSize)
	}
	if err := TruncateFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("TruncateFile() on a missing file should fail")
	}
}

func TestVariedPatientID(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		id := VariedPatientID(rng)
		if id == "" || len(id) > 64 {
			t.Fatalf("VariedPatientID() = %q", id)
		}
	}
}
