package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/hierarchy/hierarchytest"
)

func TestIndex_Contract(t *testing.T) {
	hierarchytest.Run(t, func(t *testing.T) hierarchy.Index {
		idx, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return idx
	})
}

func TestIndex_UpgradeSchema(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Path() != filepath.Join(dir, DatabaseFile) {
		t.Errorf("Path() = %q", idx.Path())
	}
	if v, err := idx.SchemaVersion(ctx); err != nil || v != 0 {
		t.Fatalf("SchemaVersion() on new database = %d, %v", v, err)
	}

	var progress [][2]int
	if err := idx.UpgradeSchema(ctx, func(step, total int) {
		progress = append(progress, [2]int{step, total})
	}); err != nil {
		t.Fatalf("UpgradeSchema() error = %v", err)
	}
	want := [][2]int{{1, 2}, {2, 2}}
	if len(progress) != len(want) || progress[0] != want[0] || progress[1] != want[1] {
		t.Errorf("progress = %v, want %v", progress, want)
	}

	b := hierarchytest.Begin(t, idx)
	b.Instance(b.Series(b.Study(b.Patient("P", "Name"), "ST", "20240101"), "SE", 1), "I", "/i", 1,
		map[string]string{"Rows": "64"})
	b.Commit()
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()
	if v, _ := reopened.SchemaVersion(ctx); v != hierarchy.CurrentSchemaVersion {
		t.Errorf("SchemaVersion() after reopen = %d", v)
	}
	calls := 0
	if err := reopened.UpgradeSchema(ctx, func(int, int) { calls++ }); err != nil || calls != 0 {
		t.Errorf("UpgradeSchema() on current schema = %d steps, %v", calls, err)
	}
	if v, ok, err := reopened.CachedTag(ctx, "I", "Rows"); err != nil || !ok || v != "64" {
		t.Errorf("CachedTag() after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestIndex_NewerSchema(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = idx.Close() }()
	if _, err := idx.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('schema_version', '99')`); err != nil {
		t.Fatal(err)
	}
	if err := idx.UpgradeSchema(ctx, nil); err == nil {
		t.Error("UpgradeSchema() from a newer schema should fail")
	}
}
