// Package memindex implements hierarchy.Index on top of go-memdb.
// It is used for throwaway sessions (dicomshelf --memory) and in tests.
package memindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-memdb"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

const (
	tablePatient  = "patient"
	tableStudy    = "study"
	tableSeries   = "series"
	tableInstance = "instance"
	tableTag      = "tag"
)

type tagRecord struct {
	InstanceID string
	Name       string
	Value      string
}

func schema() *memdb.DBSchema {
	id := func(field string) *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: field}}
	}
	parent := func(field string) *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: "parent", AllowMissing: true, Indexer: &memdb.StringFieldIndex{Field: field}}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tablePatient: {
				Name:    tablePatient,
				Indexes: map[string]*memdb.IndexSchema{"id": id("ID")},
			},
			tableStudy: {
				Name:    tableStudy,
				Indexes: map[string]*memdb.IndexSchema{"id": id("ID"), "parent": parent("PatientID")},
			},
			tableSeries: {
				Name:    tableSeries,
				Indexes: map[string]*memdb.IndexSchema{"id": id("ID"), "parent": parent("StudyID")},
			},
			tableInstance: {
				Name: tableInstance,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     id("ID"),
					"parent": parent("SeriesID"),
					"path": {
						Name:    "path",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "FilePath"},
					},
				},
			},
			tableTag: {
				Name: tableTag,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "InstanceID"},
							&memdb.StringFieldIndex{Field: "Name"},
						}},
					},
					"instance": {Name: "instance", Indexer: &memdb.StringFieldIndex{Field: "InstanceID"}},
				},
			},
		},
	}
}

// Index is an in-memory hierarchy index.
type Index struct {
	db *memdb.MemDB

	mu      sync.Mutex
	version int
	closed  bool

	// upgrade, when set, replaces the default upgrade step. Tests use it to
	// simulate failing migrations.
	upgrade func(from, to int) error
}

var _ hierarchy.Index = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithSchemaVersion starts the index at an older schema version.
func WithSchemaVersion(v int) Option {
	return func(idx *Index) { idx.version = v }
}

// WithUpgradeFunc overrides the migration step run by UpgradeSchema.
func WithUpgradeFunc(fn func(from, to int) error) Option {
	return func(idx *Index) { idx.upgrade = fn }
}

// New creates an empty index at the current schema version.
func New(opts ...Option) (*Index, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	idx := &Index{db: db, version: hierarchy.CurrentSchemaVersion}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

func (idx *Index) checkOpen() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return errors.New("index is closed")
	}
	return nil
}

// SchemaVersion implements hierarchy.Index.
func (idx *Index) SchemaVersion(ctx context.Context) (int, error) {
	if err := idx.checkOpen(); err != nil {
		return 0, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.version, nil
}

// UpgradeSchema implements hierarchy.Index.
func (idx *Index) UpgradeSchema(ctx context.Context, progress func(step, total int)) error {
	if err := idx.checkOpen(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	total := hierarchy.CurrentSchemaVersion - idx.version
	for step := 1; idx.version < hierarchy.CurrentSchemaVersion; step++ {
		if idx.upgrade != nil {
			if err := idx.upgrade(idx.version, idx.version+1); err != nil {
				return fmt.Errorf("upgrade schema %d -> %d: %w", idx.version, idx.version+1, err)
			}
		}
		idx.version++
		if progress != nil {
			progress(step, total)
		}
	}
	return nil
}

// Begin implements hierarchy.Index.
func (idx *Index) Begin(ctx context.Context) (hierarchy.Tx, error) {
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	return &tx{txn: idx.db.Txn(true)}, nil
}

// Close implements hierarchy.Index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	return nil
}

// ChildrenOf implements hierarchy.Reader.
func (idx *Index) ChildrenOf(ctx context.Context, node hierarchy.Node) ([]string, error) {
	if err := idx.checkOpen(); err != nil {
		return nil, err
	}
	txn := idx.db.Txn(false)
	defer txn.Abort()

	switch node.Level {
	case hierarchy.LevelRoot:
		var ps []hierarchy.Patient
		if err := collect(txn, tablePatient, "id_prefix", []any{""}, &ps); err != nil {
			return nil, err
		}
		hierarchy.SortPatients(ps)
		return ids(ps, func(p hierarchy.Patient) string { return p.ID }), nil
	case hierarchy.LevelPatient:
		var ss []hierarchy.Study
		if err := collect(txn, tableStudy, "parent", []any{node.ID}, &ss); err != nil {
			return nil, err
		}
		hierarchy.SortStudies(ss)
		return ids(ss, func(s hierarchy.Study) string { return s.ID }), nil
	case hierarchy.LevelStudy:
		var ss []hierarchy.Series
		if err := collect(txn, tableSeries, "parent", []any{node.ID}, &ss); err != nil {
			return nil, err
		}
		hierarchy.SortSeries(ss)
		return ids(ss, func(s hierarchy.Series) string { return s.ID }), nil
	case hierarchy.LevelSeries:
		var is []hierarchy.Instance
		if err := collect(txn, tableInstance, "parent", []any{node.ID}, &is); err != nil {
			return nil, err
		}
		hierarchy.SortInstances(is)
		return ids(is, func(i hierarchy.Instance) string { return i.ID }), nil
	default:
		return nil, nil
	}
}

// Patient implements hierarchy.Reader.
func (idx *Index) Patient(ctx context.Context, id string) (hierarchy.Patient, error) {
	var p hierarchy.Patient
	err := idx.first(tablePatient, id, &p)
	return p, err
}

// Study implements hierarchy.Reader.
func (idx *Index) Study(ctx context.Context, id string) (hierarchy.Study, error) {
	var s hierarchy.Study
	err := idx.first(tableStudy, id, &s)
	return s, err
}

// Series implements hierarchy.Reader.
func (idx *Index) Series(ctx context.Context, id string) (hierarchy.Series, error) {
	var s hierarchy.Series
	if err := idx.first(tableSeries, id, &s); err != nil {
		return s, err
	}
	txn := idx.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableInstance, "parent", id)
	if err != nil {
		return s, err
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		s.InstanceCount++
	}
	return s, nil
}

// Instance implements hierarchy.Reader.
func (idx *Index) Instance(ctx context.Context, id string) (hierarchy.Instance, error) {
	var i hierarchy.Instance
	err := idx.first(tableInstance, id, &i)
	return i, err
}

// CachedTag implements hierarchy.Reader.
func (idx *Index) CachedTag(ctx context.Context, instanceID, tagName string) (string, bool, error) {
	if err := idx.checkOpen(); err != nil {
		return "", false, err
	}
	txn := idx.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(tableTag, "id", instanceID, tagName)
	if err != nil {
		return "", false, err
	}
	if obj == nil {
		return "", false, nil
	}
	return obj.(*tagRecord).Value, true, nil
}

// Remove implements hierarchy.Index.
func (idx *Index) Remove(ctx context.Context, node hierarchy.Node) error {
	if err := idx.checkOpen(); err != nil {
		return err
	}
	txn := idx.db.Txn(true)
	defer txn.Abort()
	if err := removeNode(txn, node); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (idx *Index) first(table, id string, out any) error {
	if err := idx.checkOpen(); err != nil {
		return err
	}
	txn := idx.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(table, "id", id)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("%s %q: %w", table, id, hierarchy.ErrNotFound)
	}
	assign(obj, out)
	return nil
}

func assign(obj, out any) {
	switch o := out.(type) {
	case *hierarchy.Patient:
		*o = *obj.(*hierarchy.Patient)
	case *hierarchy.Study:
		*o = *obj.(*hierarchy.Study)
	case *hierarchy.Series:
		*o = *obj.(*hierarchy.Series)
	case *hierarchy.Instance:
		*o = *obj.(*hierarchy.Instance)
	}
}

func collect[T any](txn *memdb.Txn, table, index string, args []any, out *[]T) error {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		*out = append(*out, *obj.(*T))
	}
	return nil
}

func ids[T any](items []T, key func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, key(it))
	}
	return out
}

func removeNode(txn *memdb.Txn, node hierarchy.Node) error {
	var table string
	switch node.Level {
	case hierarchy.LevelPatient:
		table = tablePatient
	case hierarchy.LevelStudy:
		table = tableStudy
	case hierarchy.LevelSeries:
		table = tableSeries
	case hierarchy.LevelInstance:
		table = tableInstance
	default:
		return fmt.Errorf("cannot remove %s", node)
	}

	obj, err := txn.First(table, "id", node.ID)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("%s: %w", node, hierarchy.ErrNotFound)
	}

	if node.Level < hierarchy.LevelInstance {
		var childTable string
		switch node.Level {
		case hierarchy.LevelPatient:
			childTable = tableStudy
		case hierarchy.LevelStudy:
			childTable = tableSeries
		case hierarchy.LevelSeries:
			childTable = tableInstance
		}
		var children []string
		it, err := txn.Get(childTable, "parent", node.ID)
		if err != nil {
			return err
		}
		for child := it.Next(); child != nil; child = it.Next() {
			children = append(children, childID(child))
		}
		for _, id := range children {
			if err := removeNode(txn, hierarchy.Node{Level: node.Level.Child(), ID: id}); err != nil {
				return err
			}
		}
	} else {
		if _, err := txn.DeleteAll(tableTag, "instance", node.ID); err != nil {
			return err
		}
	}
	return txn.Delete(table, obj)
}

func childID(obj any) string {
	switch o := obj.(type) {
	case *hierarchy.Study:
		return o.ID
	case *hierarchy.Series:
		return o.ID
	case *hierarchy.Instance:
		return o.ID
	}
	return ""
}
