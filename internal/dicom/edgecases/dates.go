package edgecases

import (
	"fmt"
	"math/rand/v2"
)

// PartialDate returns a DICOM date reduced to YYYY or YYYYMM.
func PartialDate(rng *rand.Rand) string {
	year := 1950 + rng.IntN(50)
	if rng.IntN(2) == 0 {
		return fmt.Sprintf("%04d", year)
	}
	return fmt.Sprintf("%04d%02d", year, 1+rng.IntN(12))
}
