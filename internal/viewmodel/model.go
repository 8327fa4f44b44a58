// Package viewmodel exposes index records as display rows and batches change
// notifications while an import rewrites the index underneath it.
package viewmodel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// DefaultThumbnailSize is the thumbnail edge length in pixels.
const DefaultThumbnailSize = 128

// ViewReset tells observers to rebuild everything they derived from the index.
type ViewReset struct{}

// EventName implements events.Event.
func (ViewReset) EventName() string { return "view_reset" }

// Row is one displayable child of a node.
type Row struct {
	Node       hierarchy.Node
	Label      string
	ChildCount int
}

// Model is safe for concurrent use.
type Model struct {
	stream *events.Stream

	mu            sync.Mutex
	reader        hierarchy.Reader
	suspended     int
	thumbnailSize int
}

// New creates a model reading from reader and publishing on stream.
func New(reader hierarchy.Reader, stream *events.Stream) *Model {
	return &Model{
		stream:        stream,
		reader:        reader,
		thumbnailSize: DefaultThumbnailSize,
	}
}

// Suspend withholds change notifications until the returned release is
// called. Suspensions nest. Calling release more than once has no effect.
// The release that brings the count back to zero publishes one ViewReset.
func (m *Model) Suspend() (release func()) {
	m.mu.Lock()
	m.suspended++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(m.release)
	}
}

func (m *Model) release() {
	m.mu.Lock()
	m.suspended--
	reset := m.suspended == 0
	m.mu.Unlock()

	if reset {
		m.stream.Publish(ViewReset{})
	}
}

// Suspended reports whether at least one suspension is active.
func (m *Model) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended > 0
}

// Invalidate announces that the index changed. While suspended the
// notification is dropped; the final release covers it.
func (m *Model) Invalidate() {
	if m.Suspended() {
		return
	}
	m.stream.Publish(ViewReset{})
}

// SetReader swaps the index the model reads from and invalidates the view.
func (m *Model) SetReader(reader hierarchy.Reader) {
	m.mu.Lock()
	m.reader = reader
	m.mu.Unlock()
	m.Invalidate()
}

// ThumbnailSize returns the thumbnail edge length in pixels.
func (m *Model) ThumbnailSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thumbnailSize
}

// SetThumbnailSize changes the thumbnail size. Non-positive values are ignored.
func (m *Model) SetThumbnailSize(size int) {
	if size <= 0 {
		return
	}
	m.mu.Lock()
	changed := m.thumbnailSize != size
	m.thumbnailSize = size
	m.mu.Unlock()
	if changed {
		m.Invalidate()
	}
}

// Rows returns the children of node in document order.
func (m *Model) Rows(ctx context.Context, node hierarchy.Node) ([]Row, error) {
	m.mu.Lock()
	reader := m.reader
	m.mu.Unlock()
	if reader == nil {
		return nil, nil
	}

	ids, err := reader.ChildrenOf(ctx, node)
	if err != nil {
		return nil, err
	}

	level := node.Level.Child()
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		row, err := buildRow(ctx, reader, hierarchy.Node{Level: level, ID: id})
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Row returns the display row of a single node.
func (m *Model) Row(ctx context.Context, node hierarchy.Node) (Row, error) {
	m.mu.Lock()
	reader := m.reader
	m.mu.Unlock()
	if reader == nil || node.Level == hierarchy.LevelRoot {
		return Row{Node: node}, nil
	}
	return buildRow(ctx, reader, node)
}

func buildRow(ctx context.Context, reader hierarchy.Reader, node hierarchy.Node) (Row, error) {
	row := Row{Node: node}
	switch node.Level {
	case hierarchy.LevelPatient:
		p, err := reader.Patient(ctx, node.ID)
		if err != nil {
			return row, err
		}
		row.Label = joinNonEmpty(displayName(p.Name), "("+p.ID+")", p.Sex, p.BirthDate)
	case hierarchy.LevelStudy:
		s, err := reader.Study(ctx, node.ID)
		if err != nil {
			return row, err
		}
		row.Label = joinNonEmpty(s.Date, s.Description)
	case hierarchy.LevelSeries:
		s, err := reader.Series(ctx, node.ID)
		if err != nil {
			return row, err
		}
		row.Label = joinNonEmpty(fmt.Sprintf("#%d", s.Number), s.Modality, s.Description)
		row.ChildCount = s.InstanceCount
		return row, nil
	case hierarchy.LevelInstance:
		i, err := reader.Instance(ctx, node.ID)
		if err != nil {
			return row, err
		}
		row.Label = fmt.Sprintf("#%d", i.Number)
		return row, nil
	}

	children, err := reader.ChildrenOf(ctx, node)
	if err != nil {
		return row, err
	}
	row.ChildCount = len(children)
	if row.Label == "" {
		row.Label = node.ID
	}
	return row, nil
}

// displayName turns "Family^Given" into "Family, Given".
func displayName(pn string) string {
	family, given, ok := strings.Cut(pn, "^")
	if !ok || given == "" {
		return strings.TrimSuffix(pn, "^")
	}
	return family + ", " + strings.ReplaceAll(given, "^", " ")
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" && p != "()" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
