// Package edgecases bends synthetic archives toward the awkward files found
// in real ones, so imports can be exercised against them.
package edgecases

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is a category of edge case.
type Kind string

const (
	// SpecialChars uses accented and apostrophised patient names.
	SpecialChars Kind = "special-chars"
	// MissingIDs leaves PatientID empty, so patients are keyed by name and
	// birth date.
	MissingIDs Kind = "missing-ids"
	// VariedIDs uses PatientIDs with dashes, spaces and letters.
	VariedIDs Kind = "varied-ids"
	// PartialDates uses YYYY and YYYYMM birth and study dates.
	PartialDates Kind = "partial-dates"
	// Truncated cuts files right after the preamble so they cannot be parsed.
	Truncated Kind = "truncated"
)

// AllKinds returns every valid kind.
func AllKinds() []Kind {
	return []Kind{SpecialChars, MissingIDs, VariedIDs, PartialDates, Truncated}
}

// ParseKinds parses a comma-separated list of kinds. "all" enables every kind.
func ParseKinds(input string) ([]Kind, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	var result []Kind
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if p == "all" {
			return AllKinds(), nil
		}
		k := Kind(p)
		if !slices.Contains(AllKinds(), k) {
			return nil, fmt.Errorf("unknown edge case %q, valid kinds: %v (or 'all')", p, AllKinds())
		}
		if !slices.Contains(result, k) {
			result = append(result, k)
		}
	}
	return result, nil
}

// Config selects which edge cases to apply and how often.
type Config struct {
	// Percentage is the chance, 0 to 100, that a record is affected.
	Percentage int
	Kinds      []Kind
}

// Validate checks the percentage range and that kinds are given when
// edge cases are requested.
func (c Config) Validate() error {
	if c.Percentage < 0 || c.Percentage > 100 {
		return fmt.Errorf("edge case percentage must be 0-100, got %d", c.Percentage)
	}
	if c.Percentage > 0 && len(c.Kinds) == 0 {
		return fmt.Errorf("edge cases enabled but no kinds specified")
	}
	return nil
}

// Enabled reports whether any edge case can be applied.
func (c Config) Enabled() bool {
	return c.Percentage > 0 && len(c.Kinds) > 0
}

// Has reports whether k is enabled.
func (c Config) Has(k Kind) bool {
	return slices.Contains(c.Kinds, k)
}
