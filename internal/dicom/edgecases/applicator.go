package edgecases

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// Applicator applies the configured edge cases to synthetic records. It is
// not safe for concurrent use.
type Applicator struct {
	config Config
	rng    *rand.Rand
}

// NewApplicator creates an applicator drawing from rng.
func NewApplicator(config Config, rng *rand.Rand) *Applicator {
	return &Applicator{config: config, rng: rng}
}

func (a *Applicator) roll(k Kind) bool {
	return a.config.Has(k) && a.rng.IntN(100) < a.config.Percentage
}

// Patient returns p with patient-level edge cases applied.
func (a *Applicator) Patient(p hierarchy.PatientCriteria) hierarchy.PatientCriteria {
	if !a.config.Enabled() {
		return p
	}
	if a.roll(SpecialChars) {
		p.Name = SpecialCharName(p.Sex, a.rng)
	}
	switch {
	case a.roll(MissingIDs):
		p.PatientID = ""
	case a.roll(VariedIDs):
		p.PatientID = VariedPatientID(a.rng)
	}
	if a.roll(PartialDates) {
		p.BirthDate = PartialDate(a.rng)
	}
	return p
}

// Study returns s with study-level edge cases applied.
func (a *Applicator) Study(s hierarchy.StudyCriteria) hierarchy.StudyCriteria {
	if a.config.Enabled() && a.roll(PartialDates) {
		s.Date = PartialDate(a.rng)
	}
	return s
}

// Truncate reports whether the next file should be truncated.
func (a *Applicator) Truncate() bool {
	return a.config.Enabled() && a.roll(Truncated)
}

// truncatedSize keeps the preamble, the magic word and a few bytes of the
// first meta element.
const truncatedSize = 140

// TruncateFile cuts the file at path so that its header cannot be read.
func TruncateFile(path string) error {
	if err := os.Truncate(path, truncatedSize); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}
