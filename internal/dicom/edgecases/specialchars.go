package edgecases

import "math/rand/v2"

var specialCharFirstNamesMale = []string{
	"Jean-Pierre", "François", "André", "José", "Ángel",
	"Søren", "Björn", "Łukasz", "Jürgen", "O'Brien",
}

var specialCharFirstNamesFemale = []string{
	"Marie-Claire", "Françoise", "Éléonore", "María", "Ángela",
	"Siân", "Zoë", "Renée", "Hélène", "O'Hara",
}

var specialCharLastNames = []string{
	"Müller-Schmidt", "O'Connor", "D'Agostino", "García-López",
	"Björnsson", "Østergaard", "Çelik", "Škvorecký",
	"González", "Pérez-Rodríguez",
}

// SpecialCharName returns a "Family^Given" name with non-ASCII letters,
// hyphens or apostrophes.
func SpecialCharName(sex string, rng *rand.Rand) string {
	given := specialCharFirstNamesMale
	if sex == "F" {
		given = specialCharFirstNamesFemale
	}
	return specialCharLastNames[rng.IntN(len(specialCharLastNames))] + "^" + given[rng.IntN(len(given))]
}
