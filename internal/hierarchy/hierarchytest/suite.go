// Package hierarchytest holds the behaviour every hierarchy.Index
// implementation must share.
package hierarchytest

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// Run exercises an index returned by open. open must return an empty index;
// Run upgrades its schema when needed.
func Run(t *testing.T, open func(t *testing.T) hierarchy.Index) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, idx hierarchy.Index)
	}{
		{"Empty", testEmpty},
		{"DocumentOrder", testDocumentOrder},
		{"FindOrCreate", testFindOrCreate},
		{"MissingParent", testMissingParent},
		{"UpsertInstance", testUpsertInstance},
		{"Rollback", testRollback},
		{"Remove", testRemove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := open(t)
			t.Cleanup(func() { _ = idx.Close() })
			upgrade(t, idx)
			tt.fn(t, idx)
		})
	}
}

func upgrade(t *testing.T, idx hierarchy.Index) {
	t.Helper()
	ctx := context.Background()
	v, err := idx.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v < hierarchy.CurrentSchemaVersion {
		if err := idx.UpgradeSchema(ctx, nil); err != nil {
			t.Fatalf("UpgradeSchema() error = %v", err)
		}
	}
}

// Builder writes records in a single transaction and fails the test on error.
type Builder struct {
	t  *testing.T
	tx hierarchy.Tx
}

// Begin starts a Builder on idx.
func Begin(t *testing.T, idx hierarchy.Index) *Builder {
	t.Helper()
	tx, err := idx.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	return &Builder{t: t, tx: tx}
}

func (b *Builder) Patient(id, name string) string {
	b.t.Helper()
	got, _, err := b.tx.FindOrCreatePatient(hierarchy.PatientCriteria{PatientID: id, Name: name})
	if err != nil {
		b.t.Fatalf("FindOrCreatePatient(%s) error = %v", id, err)
	}
	return got
}

func (b *Builder) Study(patientID, uid, date string) string {
	b.t.Helper()
	got, _, err := b.tx.FindOrCreateStudy(patientID, hierarchy.StudyCriteria{StudyInstanceUID: uid, Date: date})
	if err != nil {
		b.t.Fatalf("FindOrCreateStudy(%s) error = %v", uid, err)
	}
	return got
}

func (b *Builder) Series(studyID, uid string, number int) string {
	b.t.Helper()
	got, _, err := b.tx.FindOrCreateSeries(studyID, hierarchy.SeriesCriteria{SeriesInstanceUID: uid, Number: number, Modality: "MR"})
	if err != nil {
		b.t.Fatalf("FindOrCreateSeries(%s) error = %v", uid, err)
	}
	return got
}

func (b *Builder) Instance(seriesID, uid, path string, number int, tags map[string]string) bool {
	b.t.Helper()
	_, created, err := b.tx.UpsertInstance(seriesID, path, hierarchy.InstanceMetadata{
		SOPInstanceUID: uid,
		SOPClassUID:    "1.2.840.10008.5.1.4.1.1.4",
		Number:         number,
		FrameCount:     1,
		Tags:           tags,
	})
	if err != nil {
		b.t.Fatalf("UpsertInstance(%s) error = %v", uid, err)
	}
	return created
}

// Commit commits the transaction.
func (b *Builder) Commit() {
	b.t.Helper()
	if err := b.tx.Commit(); err != nil {
		b.t.Fatalf("Commit() error = %v", err)
	}
}

func children(t *testing.T, idx hierarchy.Index, node hierarchy.Node) []string {
	t.Helper()
	ids, err := idx.ChildrenOf(context.Background(), node)
	if err != nil {
		t.Fatalf("ChildrenOf(%s) error = %v", node, err)
	}
	return ids
}

func wantChildren(t *testing.T, idx hierarchy.Index, node hierarchy.Node, want ...string) {
	t.Helper()
	got := children(t, idx, node)
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !slices.Equal(got, want) {
		t.Errorf("ChildrenOf(%s) = %v, want %v", node, got, want)
	}
}

func testEmpty(t *testing.T, idx hierarchy.Index) {
	ctx := context.Background()
	wantChildren(t, idx, hierarchy.Root)
	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelPatient, ID: "nobody"})

	if _, err := idx.Patient(ctx, "nobody"); !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("Patient() error = %v, want ErrNotFound", err)
	}
	if _, err := idx.Instance(ctx, "1.2.3"); !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("Instance() error = %v, want ErrNotFound", err)
	}
	if _, ok, err := idx.CachedTag(ctx, "1.2.3", "Modality"); ok || err != nil {
		t.Errorf("CachedTag() = %v, %v", ok, err)
	}
}

func testDocumentOrder(t *testing.T, idx hierarchy.Index) {
	b := Begin(t, idx)
	zulu := b.Patient("P2", "Zulu")
	alpha := b.Patient("P1", "Alpha")
	b.Patient("P0", "Alpha")

	late := b.Study(alpha, "ST-late", "20240301")
	b.Study(alpha, "ST-early", "20190101")
	b.Study(zulu, "ST-z", "20200101")

	b.Series(late, "SE-3", 3)
	b.Series(late, "SE-1", 1)
	second := b.Series(late, "SE-2", 2)

	b.Instance(second, "I-10", "/a/10", 10, nil)
	b.Instance(second, "I-2", "/a/2", 2, nil)
	b.Instance(second, "I-2b", "/a/1", 2, nil)
	b.Commit()

	wantChildren(t, idx, hierarchy.Root, "P0", "P1", "P2")
	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelPatient, ID: alpha}, "ST-early", "ST-late")
	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelStudy, ID: late}, "SE-1", "SE-2", "SE-3")
	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelSeries, ID: second}, "I-2b", "I-2", "I-10")
	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelInstance, ID: "I-2"})

	se, err := idx.Series(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	if se.InstanceCount != 3 || se.StudyID != late || se.Number != 2 || se.Modality != "MR" {
		t.Errorf("Series() = %+v", se)
	}
}

func testFindOrCreate(t *testing.T, idx hierarchy.Index) {
	ctx := context.Background()
	tx, err := idx.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback() }()

	c := hierarchy.PatientCriteria{Name: "Doe^Jane", BirthDate: "19700101", Sex: "F"}
	id, created, err := tx.FindOrCreatePatient(c)
	if err != nil || !created || id != "Doe^Jane^19700101" {
		t.Fatalf("FindOrCreatePatient() = %q, %v, %v", id, created, err)
	}
	if again, created, err := tx.FindOrCreatePatient(c); err != nil || created || again != id {
		t.Errorf("second FindOrCreatePatient() = %q, %v, %v", again, created, err)
	}

	st := hierarchy.StudyCriteria{StudyInstanceUID: "1.2.3", Date: "20240101", Description: "Brain"}
	if _, created, _ := tx.FindOrCreateStudy(id, st); !created {
		t.Error("first FindOrCreateStudy() should create")
	}
	if _, created, _ := tx.FindOrCreateStudy(id, st); created {
		t.Error("second FindOrCreateStudy() should find")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	p, err := idx.Patient(ctx, id)
	if err != nil || p.Name != "Doe^Jane" || p.Sex != "F" || p.BirthDate != "19700101" {
		t.Errorf("Patient() = %+v, %v", p, err)
	}
	s, err := idx.Study(ctx, "1.2.3")
	if err != nil || s.PatientID != id || s.Description != "Brain" {
		t.Errorf("Study() = %+v, %v", s, err)
	}
}

func testMissingParent(t *testing.T, idx hierarchy.Index) {
	tx, err := idx.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, _, err = tx.FindOrCreateStudy("ghost", hierarchy.StudyCriteria{StudyInstanceUID: "1"})
	var perr *hierarchy.ParentLevelError
	if !errors.As(err, &perr) || perr.Level != hierarchy.LevelPatient || perr.ID != "ghost" {
		t.Errorf("FindOrCreateStudy() error = %v, want ParentLevelError", err)
	}
	if !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("ParentLevelError should match ErrNotFound")
	}
	if _, _, err := tx.FindOrCreateSeries("ghost", hierarchy.SeriesCriteria{SeriesInstanceUID: "2"}); !errors.As(err, &perr) {
		t.Errorf("FindOrCreateSeries() error = %v", err)
	}
	if _, _, err := tx.UpsertInstance("ghost", "/x", hierarchy.InstanceMetadata{SOPInstanceUID: "3"}); !errors.As(err, &perr) {
		t.Errorf("UpsertInstance() error = %v", err)
	}
}

func testUpsertInstance(t *testing.T, idx hierarchy.Index) {
	ctx := context.Background()
	b := Begin(t, idx)
	p := b.Patient("P", "Name")
	st := b.Study(p, "ST", "20240101")
	se := b.Series(st, "SE", 1)
	if !b.Instance(se, "I1", "/archive/one.dcm", 1, map[string]string{"SliceThickness": "1.0"}) {
		t.Error("first UpsertInstance() should create")
	}
	b.Commit()

	if v, ok, err := idx.CachedTag(ctx, "I1", "SliceThickness"); err != nil || !ok || v != "1.0" {
		t.Errorf("CachedTag() = %q, %v, %v", v, ok, err)
	}

	// Same path, same UID.
	b = Begin(t, idx)
	if b.Instance(se, "I1", "/archive/one.dcm", 1, map[string]string{"SliceThickness": "2.5"}) {
		t.Error("re-import of the same file should update")
	}
	// Same UID, new path.
	if b.Instance(se, "I1", "/archive/moved.dcm", 1, nil) {
		t.Error("moved file should update")
	}
	// New file over an old path.
	if b.Instance(se, "I2", "/archive/moved.dcm", 2, nil) {
		t.Error("replaced file should update")
	}
	b.Commit()

	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelSeries, ID: se}, "I2")
	inst, err := idx.Instance(ctx, "I2")
	if err != nil || inst.FilePath != "/archive/moved.dcm" || inst.SeriesID != se || inst.Number != 2 {
		t.Errorf("Instance() = %+v, %v", inst, err)
	}
	if _, ok, _ := idx.CachedTag(ctx, "I1", "SliceThickness"); ok {
		t.Error("tags of a replaced instance should be gone")
	}
}

func testRollback(t *testing.T, idx hierarchy.Index) {
	b := Begin(t, idx)
	b.Patient("P", "Name")
	if err := b.tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if err := b.tx.Rollback(); err != nil {
		t.Errorf("second Rollback() error = %v", err)
	}
	wantChildren(t, idx, hierarchy.Root)
}

func testRemove(t *testing.T, idx hierarchy.Index) {
	ctx := context.Background()
	b := Begin(t, idx)
	p := b.Patient("P", "Name")
	keep := b.Study(p, "ST-keep", "20200101")
	drop := b.Study(p, "ST-drop", "20210101")
	b.Instance(b.Series(keep, "SE-keep", 1), "I-keep", "/k", 1, nil)
	dropSeries := b.Series(drop, "SE-drop", 1)
	b.Instance(dropSeries, "I-drop", "/d", 1, map[string]string{"Modality": "MR"})
	b.Commit()

	if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelStudy, ID: drop}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	wantChildren(t, idx, hierarchy.Node{Level: hierarchy.LevelPatient, ID: p}, "ST-keep")
	if _, err := idx.Series(ctx, dropSeries); !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("Series() of removed study error = %v", err)
	}
	if _, err := idx.Instance(ctx, "I-drop"); !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("Instance() of removed study error = %v", err)
	}
	if _, ok, _ := idx.CachedTag(ctx, "I-drop", "Modality"); ok {
		t.Error("CachedTag() of removed instance still present")
	}
	if _, err := idx.Instance(ctx, "I-keep"); err != nil {
		t.Errorf("sibling instance removed: %v", err)
	}

	if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelStudy, ID: drop}); !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("second Remove() error = %v, want ErrNotFound", err)
	}
	if err := idx.Remove(ctx, hierarchy.Root); err == nil {
		t.Error("Remove(root) should fail")
	}

	if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelPatient, ID: p}); err != nil {
		t.Fatal(err)
	}
	wantChildren(t, idx, hierarchy.Root)
	if _, err := idx.Instance(ctx, "I-keep"); !errors.Is(err, hierarchy.ErrNotFound) {
		t.Errorf("Instance() after patient removal error = %v", err)
	}
}
