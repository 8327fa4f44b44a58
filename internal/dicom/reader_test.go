package dicom

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/dicomshelf/internal/dicom/edgecases"
	"github.com/mrsinham/dicomshelf/internal/dicom/modalities"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/util"
)

func sampleSpec() InstanceSpec {
	return InstanceSpec{
		Patient: hierarchy.PatientCriteria{PatientID: "PID1", Name: "Doe^Jane", BirthDate: "19800101", Sex: "F"},
		Study: hierarchy.StudyCriteria{
			StudyInstanceUID: "1.2.3.1",
			Date:             "20240102",
			Time:             "101500",
			Description:      "Brain",
			AccessionNumber:  "ACC1",
		},
		Series:   hierarchy.SeriesCriteria{SeriesInstanceUID: "1.2.3.1.1", Number: 3, Modality: "CT", Description: "Axial"},
		Instance: hierarchy.InstanceMetadata{SOPInstanceUID: "1.2.3.1.1.7", Number: 7},
		Overlay:  "7/20",
		Size:     32,
	}
}

func TestReadHeader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IM000007")
	if err := WriteInstance(path, sampleSpec()); err != nil {
		t.Fatalf("WriteInstance() error = %v", err)
	}

	precache, err := util.ResolveTags([]string{"SliceThickness", "Rows"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := ReadHeader(path, precache)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}

	if h.Patient.PatientID != "PID1" || h.Patient.Name != "Doe^Jane" || h.Patient.Sex != "F" {
		t.Errorf("patient = %+v", h.Patient)
	}
	if h.Study.StudyInstanceUID != "1.2.3.1" || h.Study.Date != "20240102" || h.Study.Description != "Brain" {
		t.Errorf("study = %+v", h.Study)
	}
	if h.Series.SeriesInstanceUID != "1.2.3.1.1" || h.Series.Number != 3 || h.Series.Modality != "CT" {
		t.Errorf("series = %+v", h.Series)
	}
	if h.Instance.SOPInstanceUID != "1.2.3.1.1.7" || h.Instance.Number != 7 || h.Instance.FrameCount != 1 {
		t.Errorf("instance = %+v", h.Instance)
	}
	if h.Instance.SOPClassUID != modalities.CT.SOPClassUID() {
		t.Errorf("SOPClassUID = %q, want CT storage", h.Instance.SOPClassUID)
	}
	if h.Instance.Tags["SliceThickness"] != "1.0" {
		t.Errorf("precached SliceThickness = %q", h.Instance.Tags["SliceThickness"])
	}
	if h.Instance.Tags["Rows"] != "32" {
		t.Errorf("precached Rows = %q", h.Instance.Tags["Rows"])
	}
}

func TestReadHeader_MissingUID(t *testing.T) {
	spec := sampleSpec()
	spec.Series.SeriesInstanceUID = ""
	path := filepath.Join(t.TempDir(), "nouid")
	if err := WriteInstance(path, spec); err != nil {
		t.Fatalf("WriteInstance() error = %v", err)
	}

	_, err := ReadHeader(path, nil)
	if !errors.Is(err, ErrMissingUID) {
		t.Errorf("ReadHeader() error = %v, want ErrMissingUID", err)
	}
}

func TestReadHeader_NotDICOM(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	noMagic := filepath.Join(dir, "nomagic")
	if err := os.WriteFile(noMagic, make([]byte, 200), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{empty, noMagic} {
		if _, err := ReadHeader(path, nil); !errors.Is(err, ErrNotPart10) {
			t.Errorf("ReadHeader(%s) error = %v, want ErrNotPart10", filepath.Base(path), err)
		}
	}

	if _, err := ReadHeader(filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("ReadHeader() on a missing file should fail")
	}
}

func TestWriteArchive(t *testing.T) {
	dir := t.TempDir()
	layout := ArchiveLayout{Patients: []PatientLayout{
		{Studies: []StudyLayout{{Series: []int{2, 1}}}},
		{Studies: []StudyLayout{{Series: []int{1}}, {Series: []int{2}}}},
	}}

	paths, err := WriteArchive(context.Background(), dir, layout, ArchiveOptions{Seed: 42, Size: 16, Workers: 2})
	if err != nil {
		t.Fatalf("WriteArchive() error = %v", err)
	}

	_, _, _, instances := layout.Counts()
	if len(paths) != instances {
		t.Fatalf("WriteArchive() wrote %d files, want %d", len(paths), instances)
	}

	studies := map[string]bool{}
	series := map[string]bool{}
	patients := map[string]bool{}
	for _, p := range paths {
		h, err := ReadHeader(p, nil)
		if err != nil {
			t.Fatalf("ReadHeader(%s) error = %v", p, err)
		}
		patients[h.Patient.Key()] = true
		studies[h.Study.StudyInstanceUID] = true
		series[h.Series.SeriesInstanceUID] = true
	}
	if len(patients) != 2 || len(studies) != 3 || len(series) != 4 {
		t.Errorf("got %d patients, %d studies, %d series; want 2, 3, 4", len(patients), len(studies), len(series))
	}

	again, err := WriteArchive(context.Background(), t.TempDir(), layout, ArchiveOptions{Seed: 42, Size: 16})
	if err != nil {
		t.Fatal(err)
	}
	h1, _ := ReadHeader(paths[0], nil)
	h2, _ := ReadHeader(again[0], nil)
	if h1.Patient != h2.Patient || h1.Instance.SOPInstanceUID != h2.Instance.SOPInstanceUID {
		t.Error("same seed should produce the same archive")
	}
}

func TestUniformLayout(t *testing.T) {
	p, st, se, in := UniformLayout(2, 3, 2, 4).Counts()
	if p != 2 || st != 6 || se != 12 || in != 48 {
		t.Errorf("Counts() = %d, %d, %d, %d", p, st, se, in)
	}
}

func TestWriteArchive_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WriteArchive(ctx, t.TempDir(), UniformLayout(1, 1, 1, 3), ArchiveOptions{Seed: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("WriteArchive() error = %v, want context.Canceled", err)
	}
}

func TestWriteArchive_EdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		kinds []edgecases.Kind
		check func(t *testing.T, path string)
	}{
		{"truncated", []edgecases.Kind{edgecases.Truncated}, func(t *testing.T, path string) {
			if _, err := ReadHeader(path, nil); err == nil {
				t.Errorf("ReadHeader(%s) on a truncated file should fail", path)
			}
		}},
		{"missing-ids", []edgecases.Kind{edgecases.MissingIDs}, func(t *testing.T, path string) {
			h, err := ReadHeader(path, nil)
			if err != nil {
				t.Fatalf("ReadHeader(%s) error = %v", path, err)
			}
			if h.Patient.PatientID != "" || h.Patient.Key() == "^" {
				t.Errorf("Patient = %+v, want an empty PatientID keyed by name", h.Patient)
			}
		}},
		{"special-chars", []edgecases.Kind{edgecases.SpecialChars}, func(t *testing.T, path string) {
			h, err := ReadHeader(path, nil)
			if err != nil {
				t.Fatalf("ReadHeader(%s) error = %v", path, err)
			}
			if h.Patient.Name == "" || h.Patient.PatientID == "" {
				t.Errorf("Patient = %+v", h.Patient)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := WriteArchive(context.Background(), t.TempDir(), UniformLayout(1, 1, 1, 3), ArchiveOptions{
				Seed:      3,
				Size:      16,
				EdgeCases: edgecases.Config{Percentage: 100, Kinds: tt.kinds},
			})
			if err != nil {
				t.Fatalf("WriteArchive() error = %v", err)
			}
			if len(paths) != 3 {
				t.Fatalf("WriteArchive() wrote %d files, want 3", len(paths))
			}
			for _, p := range paths {
				tt.check(t, p)
			}
		})
	}

	if _, err := WriteArchive(context.Background(), t.TempDir(), UniformLayout(1, 1, 1, 1), ArchiveOptions{
		EdgeCases: edgecases.Config{Percentage: 150, Kinds: []edgecases.Kind{edgecases.Truncated}},
	}); err == nil {
		t.Error("WriteArchive() with an invalid edge case config should fail")
	}
}
