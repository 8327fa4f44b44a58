package dicom

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"

	"github.com/mrsinham/dicomshelf/internal/dicom/edgecases"
	"github.com/mrsinham/dicomshelf/internal/dicom/modalities"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	uidRoot                = "1.2.826.0.1.3680043.8.498"
	defaultImageSize       = 64
)

// InstanceSpec describes one synthetic instance.
type InstanceSpec struct {
	Patient  hierarchy.PatientCriteria
	Study    hierarchy.StudyCriteria
	Series   hierarchy.SeriesCriteria
	Instance hierarchy.InstanceMetadata
	// Overlay is burned into the pixel data. Empty means no text.
	Overlay string
	// Size is the width and height in pixels. Zero means 64.
	Size int
}

// WriteInstance writes a small monochrome Part 10 file for spec at path.
func WriteInstance(path string, spec InstanceSpec) error {
	size := spec.Size
	if size <= 0 {
		size = defaultImageSize
	}
	modality := modalities.Parse(spec.Series.Modality)
	sopClass := spec.Instance.SOPClassUID
	if sopClass == "" {
		sopClass = modality.SOPClassUID()
	}

	elements := []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{sopClass}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{spec.Instance.SOPInstanceUID}),
		mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustNewElement(tag.SOPClassUID, []string{sopClass}),
		mustNewElement(tag.SOPInstanceUID, []string{spec.Instance.SOPInstanceUID}),
		mustNewElement(tag.StudyDate, []string{spec.Study.Date}),
		mustNewElement(tag.StudyTime, []string{spec.Study.Time}),
		mustNewElement(tag.AccessionNumber, []string{spec.Study.AccessionNumber}),
		mustNewElement(tag.Modality, []string{string(modality)}),
		mustNewElement(tag.StudyDescription, []string{spec.Study.Description}),
		mustNewElement(tag.SeriesDescription, []string{spec.Series.Description}),
		mustNewElement(tag.PatientName, []string{spec.Patient.Name}),
		mustNewElement(tag.PatientID, []string{spec.Patient.PatientID}),
		mustNewElement(tag.PatientBirthDate, []string{spec.Patient.BirthDate}),
		mustNewElement(tag.PatientSex, []string{spec.Patient.Sex}),
		mustNewElement(tag.SliceThickness, []string{"1.0"}),
		mustNewElement(tag.StudyInstanceUID, []string{spec.Study.StudyInstanceUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{spec.Series.SeriesInstanceUID}),
		mustNewElement(tag.SeriesNumber, []string{strconv.Itoa(spec.Series.Number)}),
		mustNewElement(tag.InstanceNumber, []string{strconv.Itoa(spec.Instance.Number)}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.Rows, []int{size}),
		mustNewElement(tag.Columns, []int{size}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{12}),
		mustNewElement(tag.HighBit, []int{11}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
	}
	if spec.Instance.FrameCount > 1 {
		elements = append(elements, mustNewElement(tag.NumberOfFrames, []string{strconv.Itoa(spec.Instance.FrameCount)}))
	}

	nativeFrame := frame.NewNativeFrame[uint16](16, size, size, size*size, 1)
	fillGradient(nativeFrame, size, spec.Instance.Number)
	if spec.Overlay != "" {
		drawOverlay(nativeFrame, size, spec.Overlay)
	}
	elements = append(elements, mustNewElement(tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nativeFrame}},
	}))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return writeDatasetToFile(path, dicom.Dataset{Elements: elements})
}

// ArchiveLayout is the shape of a synthetic archive. Each StudyLayout lists
// the number of instances of each of its series.
type ArchiveLayout struct {
	Patients []PatientLayout
}

// PatientLayout lists the studies of one patient.
type PatientLayout struct {
	Studies []StudyLayout
}

// StudyLayout lists instance counts, one per series.
type StudyLayout struct {
	Series []int
}

// UniformLayout returns a layout where every level has the same fan-out.
func UniformLayout(patients, studies, series, instances int) ArchiveLayout {
	var l ArchiveLayout
	for range patients {
		var p PatientLayout
		for range studies {
			st := StudyLayout{Series: make([]int, series)}
			for i := range st.Series {
				st.Series[i] = instances
			}
			p.Studies = append(p.Studies, st)
		}
		l.Patients = append(l.Patients, p)
	}
	return l
}

// Counts returns the number of records at each level.
func (l ArchiveLayout) Counts() (patients, studies, series, instances int) {
	for _, p := range l.Patients {
		patients++
		for _, st := range p.Studies {
			studies++
			for _, n := range st.Series {
				series++
				instances += n
			}
		}
	}
	return patients, studies, series, instances
}

// ArchiveOptions configures WriteArchive.
type ArchiveOptions struct {
	Modality modalities.Modality
	// Seed makes names and UIDs reproducible. Zero picks one at random.
	Seed    uint64
	Size    int
	Workers int
	// EdgeCases makes some records awkward. Truncated files are still
	// returned by WriteArchive.
	EdgeCases edgecases.Config
}

// WriteArchive writes layout under dir as PTnnnnnn/STnnnnnn/SEnnnnnn/IMnnnnnn
// files and returns their paths in layout order.
func WriteArchive(ctx context.Context, dir string, layout ArchiveLayout, opts ArchiveOptions) ([]string, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = randv2.Uint64() >> 16
	}
	rng := randv2.New(randv2.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	modality := opts.Modality
	if modality == "" {
		modality = modalities.MR
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if err := opts.EdgeCases.Validate(); err != nil {
		return nil, err
	}
	quirks := edgecases.NewApplicator(opts.EdgeCases, rng)

	var (
		specs    []InstanceSpec
		paths    []string
		truncate []bool
	)
	for p, pl := range layout.Patients {
		patient := quirks.Patient(syntheticPatient(rng, p))
		for s, sl := range pl.Studies {
			study := quirks.Study(hierarchy.StudyCriteria{
				StudyInstanceUID: fmt.Sprintf("%s.%d.%d.%d", uidRoot, seed, p+1, s+1),
				Date:             fmt.Sprintf("2024%02d%02d", 1+rng.IntN(12), 1+rng.IntN(28)),
				Time:             fmt.Sprintf("%02d%02d00", 8+s%10, rng.IntN(60)),
				Description:      fmt.Sprintf("%s study %d", modality, s+1),
				AccessionNumber:  fmt.Sprintf("ACC%08d", rng.IntN(100000000)),
			})
			for se, count := range sl.Series {
				series := hierarchy.SeriesCriteria{
					SeriesInstanceUID: fmt.Sprintf("%s.%d", study.StudyInstanceUID, se+1),
					Number:            se + 1,
					Modality:          string(modality),
					Description:       fmt.Sprintf("Series %d", se+1),
				}
				for i := range count {
					specs = append(specs, InstanceSpec{
						Patient: patient,
						Study:   study,
						Series:  series,
						Instance: hierarchy.InstanceMetadata{
							SOPInstanceUID: fmt.Sprintf("%s.%d", series.SeriesInstanceUID, i+1),
							Number:         i + 1,
						},
						Overlay: fmt.Sprintf("%d/%d", i+1, count),
						Size:    opts.Size,
					})
					paths = append(paths, filepath.Join(dir,
						fmt.Sprintf("PT%06d", p), fmt.Sprintf("ST%06d", s),
						fmt.Sprintf("SE%06d", se), fmt.Sprintf("IM%06d", i+1)))
					truncate = append(truncate, quirks.Truncate())
				}
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range specs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := WriteInstance(paths[i], specs[i]); err != nil {
				return fmt.Errorf("write %s: %w", paths[i], err)
			}
			if truncate[i] {
				return edgecases.TruncateFile(paths[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

var (
	syntheticFamilyNames = []string{"Martin", "Bernard", "Smith", "Johnson", "Dubois", "Garcia", "Brown", "Moreau", "Wilson", "Laurent"}
	syntheticGivenNames  = map[string][]string{
		"M": {"James", "Louis", "Thomas", "Hugo", "Daniel", "Paul"},
		"F": {"Mary", "Emma", "Chloe", "Sarah", "Alice", "Laura"},
	}
)

func syntheticPatient(rng *randv2.Rand, index int) hierarchy.PatientCriteria {
	sex := "M"
	if rng.IntN(2) == 0 {
		sex = "F"
	}
	given := syntheticGivenNames[sex]
	return hierarchy.PatientCriteria{
		PatientID: fmt.Sprintf("PID%06d", index+1),
		Name:      syntheticFamilyNames[rng.IntN(len(syntheticFamilyNames))] + "^" + given[rng.IntN(len(given))],
		BirthDate: fmt.Sprintf("%04d%02d%02d", 1940+rng.IntN(60), 1+rng.IntN(12), 1+rng.IntN(28)),
		Sex:       sex,
	}
}

func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, ds, opts...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// fillGradient paints a radial gradient whose brightness shifts with the
// instance number, so consecutive images are visibly different.
func fillGradient(nativeFrame *frame.NativeFrame[uint16], size, number int) {
	center := float64(size) / 2
	maxDist := math.Sqrt(2) * center
	base := 600 + float64(number%16)*100
	for y := range size {
		for x := range size {
			dx, dy := float64(x)-center, float64(y)-center
			falloff := 1 - math.Sqrt(dx*dx+dy*dy)/maxDist
			nativeFrame.RawData[y*size+x] = uint16(math.Min(4095, base+falloff*2000))
		}
	}
}

// drawOverlay burns text into the centre of the frame at 12-bit full scale.
func drawOverlay(nativeFrame *frame.NativeFrame[uint16], size int, text string) {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()
	const textHeight = 13

	textImg := image.NewGray(image.Rect(0, 0, textWidth, textHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.Gray{Y: 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	scale := max(1, float64(size)*0.6/float64(textWidth))
	w, h := int(float64(textWidth)*scale), int(textHeight*scale)
	scaled := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Src, nil)

	ox, oy := (size-w)/2, (size-h)/2
	for sy := range h {
		for sx := range w {
			if scaled.GrayAt(sx, sy).Y < 128 {
				continue
			}
			x, y := ox+sx, oy+sy
			if x >= 0 && x < size && y >= 0 && y < size {
				nativeFrame.RawData[y*size+x] = 4095
			}
		}
	}
}
