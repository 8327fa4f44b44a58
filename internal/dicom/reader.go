// Package dicom reads the header values dicomshelf indexes and writes small
// synthetic instances for demos and tests.
package dicom

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/util"
)

// Header holds everything the import pipeline needs from a single file.
type Header struct {
	Patient  hierarchy.PatientCriteria
	Study    hierarchy.StudyCriteria
	Series   hierarchy.SeriesCriteria
	Instance hierarchy.InstanceMetadata
}

// ErrMissingUID is returned when a file parses but lacks one of the UIDs
// needed to place it in the hierarchy.
var ErrMissingUID = errors.New("missing hierarchy UID")

// ReadHeader parses the header of the file at path, skipping pixel data.
// Values of the precache tags are collected into Instance.Tags.
func ReadHeader(path string, precache []util.TagInfo) (Header, error) {
	ds, err := parseDICOMTolerant(path)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		Patient: hierarchy.PatientCriteria{
			PatientID: getStringValue(ds, tag.PatientID),
			Name:      getStringValue(ds, tag.PatientName),
			BirthDate: getStringValue(ds, tag.PatientBirthDate),
			Sex:       getStringValue(ds, tag.PatientSex),
		},
		Study: hierarchy.StudyCriteria{
			StudyInstanceUID: getStringValue(ds, tag.StudyInstanceUID),
			Date:             getStringValue(ds, tag.StudyDate),
			Time:             getStringValue(ds, tag.StudyTime),
			Description:      getStringValue(ds, tag.StudyDescription),
			AccessionNumber:  getStringValue(ds, tag.AccessionNumber),
		},
		Series: hierarchy.SeriesCriteria{
			SeriesInstanceUID: getStringValue(ds, tag.SeriesInstanceUID),
			Number:            getIntValue(ds, tag.SeriesNumber, 0),
			Modality:          getStringValue(ds, tag.Modality),
			Description:       getStringValue(ds, tag.SeriesDescription),
		},
		Instance: hierarchy.InstanceMetadata{
			SOPInstanceUID: getStringValue(ds, tag.SOPInstanceUID),
			SOPClassUID:    getStringValue(ds, tag.SOPClassUID),
			Number:         getIntValue(ds, tag.InstanceNumber, 0),
			FrameCount:     getIntValue(ds, tag.NumberOfFrames, 1),
		},
	}

	var missing []string
	if h.Study.StudyInstanceUID == "" {
		missing = append(missing, "StudyInstanceUID")
	}
	if h.Series.SeriesInstanceUID == "" {
		missing = append(missing, "SeriesInstanceUID")
	}
	if h.Instance.SOPInstanceUID == "" {
		missing = append(missing, "SOPInstanceUID")
	}
	if h.Patient.Key() == "^" {
		missing = append(missing, "PatientID")
	}
	if len(missing) > 0 {
		return Header{}, fmt.Errorf("%w: %s", ErrMissingUID, strings.Join(missing, ", "))
	}

	if len(precache) > 0 {
		h.Instance.Tags = make(map[string]string, len(precache))
		for _, info := range precache {
			if elem, err := ds.FindElementByTag(info.Tag); err == nil && elem != nil {
				h.Instance.Tags[info.Name] = elementString(elem)
			}
		}
	}

	return h, nil
}

// getStringValue safely extracts a string value from a dataset
func getStringValue(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil {
		return ""
	}
	return elementString(elem)
}

func getIntValue(ds dicom.Dataset, t tag.Tag, fallback int) int {
	s := getStringValue(ds, t)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return int(f)
	}
	return fallback
}

func elementString(elem *dicom.Element) string {
	if elem.Value == nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(elem.Value.String(), " []"))
}

// ErrNotPart10 is returned for files without the 128-byte preamble and
// "DICM" prefix.
var ErrNotPart10 = errors.New("not a DICOM part 10 file")

// checkPart10 verifies the preamble and magic word, then rewinds f.
func checkPart10(f *os.File) error {
	var head [132]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return ErrNotPart10
	}
	if string(head[128:]) != "DICM" {
		return ErrNotPart10
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// parseDICOMTolerant parses a DICOM file element-by-element, tolerating errors
// in individual elements (e.g., malformed VR lengths from vendor private tags).
// It collects all successfully parsed elements and returns them as a dataset.
func parseDICOMTolerant(path string) (dicom.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}
	if err := checkPart10(f); err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			// Stop on any error - we've collected what we can
			break
		}
		elements = append(elements, elem)
	}

	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	ds := dicom.Dataset{Elements: elements}
	// Include metadata elements from the parser
	meta := p.GetMetadata()
	ds.Elements = append(meta.Elements, ds.Elements...)

	return ds, nil
}
