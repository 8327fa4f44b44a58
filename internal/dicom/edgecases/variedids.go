package edgecases

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// VariedPatientID returns a PatientID in one of the formats seen across
// sites: dashed, alternating letters and digits, spaced, or mixed.
func VariedPatientID(rng *rand.Rand) string {
	switch rng.IntN(4) {
	case 0:
		return fmt.Sprintf("%03d-%03d-%03d", rng.IntN(1000), rng.IntN(1000), rng.IntN(1000))
	case 1:
		const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		var sb strings.Builder
		for i := range 10 {
			if i%2 == 0 {
				sb.WriteByte(letters[rng.IntN(len(letters))])
			} else {
				sb.WriteByte('0' + byte(rng.IntN(10)))
			}
		}
		return sb.String()
	case 2:
		return fmt.Sprintf("PAT %05d %02d", rng.IntN(100000), rng.IntN(100))
	default:
		return fmt.Sprintf("PT-%04d-%c%c%c %03d",
			rng.IntN(10000),
			'A'+byte(rng.IntN(26)),
			'A'+byte(rng.IntN(26)),
			'A'+byte(rng.IntN(26)),
			rng.IntN(1000))
	}
}
