// Package sqlite implements hierarchy.Index on a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DatabaseFile is the file name used inside a database directory.
const DatabaseFile = "dicomshelf.db"

const tagCacheSize = 4096

// migrations[i] brings the schema from version i to version i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		birth_date TEXT NOT NULL DEFAULT '',
		sex TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS studies (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		study_date TEXT NOT NULL DEFAULT '',
		study_time TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		accession_number TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		study_id TEXT NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
		number INTEGER NOT NULL DEFAULT 0,
		modality TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		series_id TEXT NOT NULL REFERENCES series(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL UNIQUE,
		number INTEGER NOT NULL DEFAULT 0,
		frame_count INTEGER NOT NULL DEFAULT 1,
		sop_class_uid TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_studies_patient ON studies(patient_id);
	CREATE INDEX IF NOT EXISTS idx_series_study ON series(study_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS tag_cache (
		instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (instance_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_instances_series ON instances(series_id);
	`,
}

// Index is a SQLite-backed hierarchy index.
type Index struct {
	db   *sql.DB
	path string
	tags *lru.Cache[string, string]
}

var _ hierarchy.Index = (*Index)(nil)

// Open opens (or creates) the database in dir. The schema is not migrated;
// callers check SchemaVersion and run UpgradeSchema when it is outdated.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	path := filepath.Join(dir, DatabaseFile)

	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	tags, err := lru.New[string, string](tagCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tag cache: %w", err)
	}

	return &Index{db: db, path: path, tags: tags}, nil
}

// Path returns the database file path.
func (idx *Index) Path() string {
	return idx.path
}

// Close implements hierarchy.Index.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// SchemaVersion implements hierarchy.Index. A database without a recorded
// version is at version 0.
func (idx *Index) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	err := idx.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return v, nil
}

// UpgradeSchema implements hierarchy.Index. Each migration runs in its own
// transaction together with the version bump.
func (idx *Index) UpgradeSchema(ctx context.Context, progress func(step, total int)) error {
	current, err := idx.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, len(migrations))
	}

	total := len(migrations) - current
	for step, v := 1, current; v < len(migrations); step, v = step+1, v+1 {
		tx, err := idx.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", v+1, err)
		}
		if progress != nil {
			progress(step, total)
		}
	}
	return nil
}

// Begin implements hierarchy.Index.
func (idx *Index) Begin(ctx context.Context) (hierarchy.Tx, error) {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &indexTx{idx: idx, tx: tx}, nil
}

var childQueries = map[hierarchy.Level]string{
	hierarchy.LevelRoot:    `SELECT id FROM patients ORDER BY name, id`,
	hierarchy.LevelPatient: `SELECT id FROM studies WHERE patient_id = ? ORDER BY study_date, study_time, id`,
	hierarchy.LevelStudy:   `SELECT id FROM series WHERE study_id = ? ORDER BY number, id`,
	hierarchy.LevelSeries:  `SELECT id FROM instances WHERE series_id = ? ORDER BY number, file_path`,
}

// ChildrenOf implements hierarchy.Reader.
func (idx *Index) ChildrenOf(ctx context.Context, node hierarchy.Node) ([]string, error) {
	query, ok := childQueries[node.Level]
	if !ok {
		return nil, nil
	}
	var args []any
	if node.Level != hierarchy.LevelRoot {
		args = append(args, node.ID)
	}

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", node, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Patient implements hierarchy.Reader.
func (idx *Index) Patient(ctx context.Context, id string) (hierarchy.Patient, error) {
	p := hierarchy.Patient{ID: id}
	err := idx.db.QueryRowContext(ctx,
		`SELECT name, birth_date, sex FROM patients WHERE id = ?`, id,
	).Scan(&p.Name, &p.BirthDate, &p.Sex)
	return p, notFound(err, "patient", id)
}

// Study implements hierarchy.Reader.
func (idx *Index) Study(ctx context.Context, id string) (hierarchy.Study, error) {
	s := hierarchy.Study{ID: id}
	err := idx.db.QueryRowContext(ctx,
		`SELECT patient_id, study_date, study_time, description, accession_number FROM studies WHERE id = ?`, id,
	).Scan(&s.PatientID, &s.Date, &s.Time, &s.Description, &s.AccessionNumber)
	return s, notFound(err, "study", id)
}

// Series implements hierarchy.Reader.
func (idx *Index) Series(ctx context.Context, id string) (hierarchy.Series, error) {
	s := hierarchy.Series{ID: id}
	err := idx.db.QueryRowContext(ctx, `
		SELECT study_id, number, modality, description,
			(SELECT COUNT(*) FROM instances WHERE series_id = series.id)
		FROM series WHERE id = ?`, id,
	).Scan(&s.StudyID, &s.Number, &s.Modality, &s.Description, &s.InstanceCount)
	return s, notFound(err, "series", id)
}

// Instance implements hierarchy.Reader.
func (idx *Index) Instance(ctx context.Context, id string) (hierarchy.Instance, error) {
	i := hierarchy.Instance{ID: id}
	err := idx.db.QueryRowContext(ctx,
		`SELECT series_id, file_path, number, frame_count, sop_class_uid FROM instances WHERE id = ?`, id,
	).Scan(&i.SeriesID, &i.FilePath, &i.Number, &i.FrameCount, &i.SOPClassUID)
	return i, notFound(err, "instance", id)
}

// CachedTag implements hierarchy.Reader.
func (idx *Index) CachedTag(ctx context.Context, instanceID, tagName string) (string, bool, error) {
	key := instanceID + "\x00" + tagName
	if v, ok := idx.tags.Get(key); ok {
		return v, true, nil
	}
	var value string
	err := idx.db.QueryRowContext(ctx,
		`SELECT value FROM tag_cache WHERE instance_id = ? AND tag = ?`, instanceID, tagName,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cached tag: %w", err)
	}
	idx.tags.Add(key, value)
	return value, true, nil
}

// Remove implements hierarchy.Index. Children go with their parent through
// ON DELETE CASCADE.
func (idx *Index) Remove(ctx context.Context, node hierarchy.Node) error {
	var table string
	switch node.Level {
	case hierarchy.LevelPatient:
		table = "patients"
	case hierarchy.LevelStudy:
		table = "studies"
	case hierarchy.LevelSeries:
		table = "series"
	case hierarchy.LevelInstance:
		table = "instances"
	default:
		return fmt.Errorf("cannot remove %s", node)
	}

	res, err := idx.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, node.ID)
	if err != nil {
		return fmt.Errorf("remove %s: %w", node, err)
	}
	idx.tags.Purge()
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", node, hierarchy.ErrNotFound)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, hierarchy.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s %q: %w", what, id, err)
	}
	return nil
}
