package hierarchy

import (
	"cmp"
	"slices"
)

// Document order for children of each level. Both index implementations sort
// with these so navigation behaves identically on either store.

// SortPatients orders patients by name, then id.
func SortPatients(ps []Patient) {
	slices.SortFunc(ps, func(a, b Patient) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
}

// SortStudies orders studies by date, time, then id.
func SortStudies(ss []Study) {
	slices.SortFunc(ss, func(a, b Study) int {
		return cmp.Or(
			cmp.Compare(a.Date, b.Date),
			cmp.Compare(a.Time, b.Time),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// SortSeries orders series by number, then id.
func SortSeries(ss []Series) {
	slices.SortFunc(ss, func(a, b Series) int {
		return cmp.Or(cmp.Compare(a.Number, b.Number), cmp.Compare(a.ID, b.ID))
	})
}

// SortInstances orders instances by number, then file path.
func SortInstances(is []Instance) {
	slices.SortFunc(is, func(a, b Instance) int {
		return cmp.Or(cmp.Compare(a.Number, b.Number), cmp.Compare(a.FilePath, b.FilePath))
	})
}
