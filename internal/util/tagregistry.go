// Package util resolves the DICOM tag names users put in tags_to_precache.
package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope is the hierarchy level a tag normally describes.
type TagScope int

const (
	ScopePatient TagScope = iota
	ScopeStudy
	ScopeSeries
	ScopeImage
	// ScopeUnknown is used for tags given in numeric form.
	ScopeUnknown
)

// String returns the string representation of a TagScope.
func (s TagScope) String() string {
	switch s {
	case ScopePatient:
		return "Patient"
	case ScopeStudy:
		return "Study"
	case ScopeSeries:
		return "Series"
	case ScopeImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// TagInfo names a DICOM tag whose value can be cached in the index.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Scope TagScope
}

// precacheTags maps lowercase tag names to their TagInfo.
var precacheTags = map[string]TagInfo{
	"patientname":      {Name: "PatientName", Tag: tag.PatientName, Scope: ScopePatient},
	"patientid":        {Name: "PatientID", Tag: tag.PatientID, Scope: ScopePatient},
	"patientbirthdate": {Name: "PatientBirthDate", Tag: tag.PatientBirthDate, Scope: ScopePatient},
	"patientsex":       {Name: "PatientSex", Tag: tag.PatientSex, Scope: ScopePatient},
	"patientage":       {Name: "PatientAge", Tag: tag.PatientAge, Scope: ScopePatient},

	"studydescription":       {Name: "StudyDescription", Tag: tag.StudyDescription, Scope: ScopeStudy},
	"institutionname":        {Name: "InstitutionName", Tag: tag.InstitutionName, Scope: ScopeStudy},
	"referringphysicianname": {Name: "ReferringPhysicianName", Tag: tag.ReferringPhysicianName, Scope: ScopeStudy},
	"accessionnumber":        {Name: "AccessionNumber", Tag: tag.AccessionNumber, Scope: ScopeStudy},
	"stationname":            {Name: "StationName", Tag: tag.StationName, Scope: ScopeStudy},

	"seriesdescription":     {Name: "SeriesDescription", Tag: tag.SeriesDescription, Scope: ScopeSeries},
	"protocolname":          {Name: "ProtocolName", Tag: tag.ProtocolName, Scope: ScopeSeries},
	"bodypartexamined":      {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Scope: ScopeSeries},
	"manufacturer":          {Name: "Manufacturer", Tag: tag.Manufacturer, Scope: ScopeSeries},
	"manufacturermodelname": {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName, Scope: ScopeSeries},
	"modality":              {Name: "Modality", Tag: tag.Modality, Scope: ScopeSeries},

	"imagetype":            {Name: "ImageType", Tag: tag.ImageType, Scope: ScopeImage},
	"slicethickness":       {Name: "SliceThickness", Tag: tag.SliceThickness, Scope: ScopeImage},
	"slicelocation":        {Name: "SliceLocation", Tag: tag.SliceLocation, Scope: ScopeImage},
	"imagepositionpatient": {Name: "ImagePositionPatient", Tag: tag.ImagePositionPatient, Scope: ScopeImage},
	"pixelspacing":         {Name: "PixelSpacing", Tag: tag.PixelSpacing, Scope: ScopeImage},
	"rows":                 {Name: "Rows", Tag: tag.Rows, Scope: ScopeImage},
	"columns":              {Name: "Columns", Tag: tag.Columns, Scope: ScopeImage},
	"windowcenter":         {Name: "WindowCenter", Tag: tag.WindowCenter, Scope: ScopeImage},
	"windowwidth":          {Name: "WindowWidth", Tag: tag.WindowWidth, Scope: ScopeImage},
	"acquisitiondate":      {Name: "AcquisitionDate", Tag: tag.AcquisitionDate, Scope: ScopeImage},
}

// GetTagByName returns TagInfo for a keyword such as "SliceThickness" or a
// numeric "GGGG,EEEE" tag. Keyword lookup is case-insensitive. Unknown
// keywords produce an error suggesting the closest known name.
func GetTagByName(name string) (TagInfo, error) {
	trimmed := strings.TrimSpace(name)
	if info, ok := parseNumericTag(trimmed); ok {
		return info, nil
	}

	if info, ok := precacheTags[strings.ToLower(trimmed)]; ok {
		return info, nil
	}

	if suggestion := findClosestTagName(strings.ToLower(trimmed)); suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}
	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// ResolveTags resolves every name, dropping duplicates. The first unknown
// name aborts resolution.
func ResolveTags(names []string) ([]TagInfo, error) {
	seen := make(map[tag.Tag]bool, len(names))
	out := make([]TagInfo, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		info, err := GetTagByName(n)
		if err != nil {
			return nil, err
		}
		if seen[info.Tag] {
			continue
		}
		seen[info.Tag] = true
		out = append(out, info)
	}
	return out, nil
}

// parseNumericTag accepts "GGGG,EEEE", optionally wrapped in parentheses.
// Known tags keep their keyword as Name.
func parseNumericTag(s string) (TagInfo, bool) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	group, element, ok := strings.Cut(s, ",")
	if !ok || len(group) != 4 || len(element) != 4 {
		return TagInfo{}, false
	}
	g, err := strconv.ParseUint(group, 16, 16)
	if err != nil {
		return TagInfo{}, false
	}
	e, err := strconv.ParseUint(element, 16, 16)
	if err != nil {
		return TagInfo{}, false
	}

	t := tag.Tag{Group: uint16(g), Element: uint16(e)}
	for _, info := range precacheTags {
		if info.Tag == t {
			return info, true
		}
	}
	return TagInfo{Name: fmt.Sprintf("%04X,%04X", t.Group, t.Element), Tag: t, Scope: ScopeUnknown}, true
}

// findClosestTagName returns the registered name nearest to input, or "" if
// nothing is within an edit distance of 5.
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for key, info := range precacheTags {
		d := levenshteinDistance(input, key)
		if d < bestDistance || (d == bestDistance && info.Name < bestMatch) {
			bestDistance = d
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance is the minimum number of single-character edits that
// turn a into b. It keeps only two rows of the matrix.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
