// Package modalities lists the imaging modalities dicomshelf can synthesize.
package modalities

import "strings"

// Modality represents a DICOM imaging modality type.
type Modality string

const (
	MR Modality = "MR" // Magnetic Resonance
	CT Modality = "CT" // Computed Tomography
	CR Modality = "CR" // Computed Radiography
	US Modality = "US" // Ultrasound
)

var sopClasses = map[Modality]string{
	MR: "1.2.840.10008.5.1.4.1.1.4",
	CT: "1.2.840.10008.5.1.4.1.1.2",
	CR: "1.2.840.10008.5.1.4.1.1.1",
	US: "1.2.840.10008.5.1.4.1.1.6.1",
}

// AllModalities returns all supported modalities.
func AllModalities() []Modality {
	return []Modality{MR, CT, CR, US}
}

// IsValid checks if a modality string is valid.
func IsValid(m string) bool {
	_, ok := sopClasses[Modality(m)]
	return ok
}

// Parse normalizes s and returns the matching modality, defaulting to MR.
func Parse(s string) Modality {
	m := Modality(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := sopClasses[m]; ok {
		return m
	}
	return MR
}

// SOPClassUID returns the storage SOP class for images of this modality.
func (m Modality) SOPClassUID() string {
	if uid, ok := sopClasses[m]; ok {
		return uid
	}
	return sopClasses[MR]
}
