// Package navigation keeps a cursor inside the Patient → Study → Series →
// Instance hierarchy and moves it in document order.
//
// A Controller is owned by a single goroutine. It performs no locking and
// never writes to the index.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// DefaultAutoPlayInterval is used when SetAutoPlay gets a non-positive interval.
const DefaultAutoPlayInterval = 200 * time.Millisecond

var (
	errEmptyPath   = errors.New("empty path")
	errGap         = errors.New("segment follows an empty segment")
	errNotChild    = errors.New("does not belong to its parent")
	errNoInstances = errors.New("no instances below")
)

// Controller is the navigation state machine.
type Controller struct {
	reader hierarchy.Reader
	stream *events.Stream
	cursor Cursor

	ticker   *time.Ticker
	interval time.Duration
}

// New creates a controller in the Empty state.
func New(reader hierarchy.Reader, stream *events.Stream) *Controller {
	return &Controller{reader: reader, stream: stream}
}

// Cursor returns the current position.
func (c *Controller) Cursor() Cursor {
	return c.cursor
}

// SetReader points the controller at another index and moves the cursor to
// its first instance, or to Empty.
func (c *Controller) SetReader(ctx context.Context, reader hierarchy.Reader) error {
	c.reader = reader
	c.cursor = Cursor{}
	_, err := c.Refresh(ctx)
	return err
}

// NextImage moves to the next instance, rolling over into the next series,
// study and patient.
func (c *Controller) NextImage(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelInstance, +1)
}

// PreviousImage moves to the previous instance. Crossing a series boundary
// lands on the last instance of the previous series.
func (c *Controller) PreviousImage(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelInstance, -1)
}

// NextSeries moves to the first instance of the next series.
func (c *Controller) NextSeries(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelSeries, +1)
}

// PreviousSeries moves to the first instance of the previous series.
func (c *Controller) PreviousSeries(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelSeries, -1)
}

// NextStudy moves to the first instance of the next study.
func (c *Controller) NextStudy(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelStudy, +1)
}

// PreviousStudy moves to the first instance of the previous study.
func (c *Controller) PreviousStudy(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelStudy, -1)
}

// NextPatient moves to the first instance of the next patient.
func (c *Controller) NextPatient(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelPatient, +1)
}

// PreviousPatient moves to the first instance of the previous patient.
func (c *Controller) PreviousPatient(ctx context.Context) (bool, error) {
	return c.step(ctx, hierarchy.LevelPatient, -1)
}

// step moves the node at level to its neighbour in direction dir. When level
// has no neighbour left the search continues one level up. Subtrees without
// instances are skipped.
func (c *Controller) step(ctx context.Context, level hierarchy.Level, dir int) (bool, error) {
	if c.cursor.Empty() {
		return false, nil
	}
	cur := c.cursor.Path

	for lvl := level; lvl >= hierarchy.LevelPatient; lvl-- {
		parent := lvl - 1
		siblings, err := c.reader.ChildrenOf(ctx, cur.Node(parent))
		if err != nil {
			return false, fmt.Errorf("list %s children: %w", cur.Node(parent), err)
		}
		pos := slices.Index(siblings, cur.at(lvl))
		if pos < 0 {
			return false, fmt.Errorf("cursor %s: %w", cur.Node(lvl), hierarchy.ErrNotFound)
		}

		for i := pos + dir; i >= 0 && i < len(siblings); i += dir {
			leaf, ok, err := c.descend(ctx, cur.with(lvl, siblings[i]), lvl, level, dir)
			if err != nil {
				return false, err
			}
			if ok {
				return true, c.moveTo(ctx, leaf)
			}
		}
	}
	return false, nil
}

// descend finds a leaf under the node p holds at lvl. Levels down to target
// are entered from the end when dir is negative; deeper levels always start
// at their first child.
func (c *Controller) descend(ctx context.Context, p Path, lvl, target hierarchy.Level, dir int) (Path, bool, error) {
	if lvl == hierarchy.LevelInstance {
		return p, true, nil
	}
	children, err := c.reader.ChildrenOf(ctx, p.Node(lvl))
	if err != nil {
		return p, false, fmt.Errorf("list %s children: %w", p.Node(lvl), err)
	}
	child := lvl + 1
	if child <= target && dir < 0 {
		slices.Reverse(children)
	}
	for _, id := range children {
		leaf, ok, err := c.descend(ctx, p.with(child, id), child, target, dir)
		if err != nil || ok {
			return leaf, ok, err
		}
	}
	return p, false, nil
}

// moveTo sets the cursor to the instance at p and publishes CursorChanged.
func (c *Controller) moveTo(ctx context.Context, p Path) error {
	siblings, err := c.reader.ChildrenOf(ctx, p.Node(hierarchy.LevelSeries))
	if err != nil {
		return fmt.Errorf("list %s children: %w", p.Node(hierarchy.LevelSeries), err)
	}
	c.cursor = Cursor{
		Path:          p,
		SequenceIndex: slices.Index(siblings, p.InstanceID),
		TotalInSeries: len(siblings),
	}
	c.publishCursor()
	return nil
}

func (c *Controller) clear() {
	c.cursor = Cursor{}
	c.publishCursor()
	c.SetAutoPlay(false, 0)
}

func (c *Controller) publishCursor() {
	c.stream.Publish(CursorChanged{
		PatientID:     c.cursor.PatientID,
		StudyID:       c.cursor.StudyID,
		SeriesID:      c.cursor.SeriesID,
		InstanceID:    c.cursor.InstanceID,
		SequenceIndex: c.cursor.SequenceIndex,
		TotalInSeries: c.cursor.TotalInSeries,
	})
}

// Select validates p against the index and moves there. Trailing empty
// segments resolve to the first child. On error the cursor is unchanged.
func (c *Controller) Select(ctx context.Context, p Path) error {
	deepest, err := c.validate(ctx, p)
	if err != nil {
		return err
	}
	leaf, ok, err := c.descend(ctx, p, deepest, hierarchy.LevelInstance, +1)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidSelectionError{Path: p, Level: deepest, Err: errNoInstances}
	}
	return c.moveTo(ctx, leaf)
}

// validate checks each non-empty segment of p and returns the deepest level
// given.
func (c *Controller) validate(ctx context.Context, p Path) (hierarchy.Level, error) {
	invalid := func(level hierarchy.Level, err error) (hierarchy.Level, error) {
		return hierarchy.LevelRoot, &InvalidSelectionError{Path: p, Level: level, Err: err}
	}

	deepest := hierarchy.LevelRoot
	for lvl := hierarchy.LevelPatient; lvl <= hierarchy.LevelInstance; lvl++ {
		id := p.at(lvl)
		if id == "" {
			continue
		}
		if deepest != lvl-1 {
			return invalid(lvl, errGap)
		}
		parent, err := c.parentOf(ctx, hierarchy.Node{Level: lvl, ID: id})
		if err != nil {
			return invalid(lvl, err)
		}
		if lvl > hierarchy.LevelPatient && parent != p.at(lvl-1) {
			return invalid(lvl, fmt.Errorf("%s %q %w %s %q", lvl, id, errNotChild, lvl-1, p.at(lvl-1)))
		}
		deepest = lvl
	}
	if deepest == hierarchy.LevelRoot {
		return invalid(hierarchy.LevelPatient, errEmptyPath)
	}
	return deepest, nil
}

// parentOf returns the parent ID stored on node's record.
func (c *Controller) parentOf(ctx context.Context, node hierarchy.Node) (string, error) {
	switch node.Level {
	case hierarchy.LevelPatient:
		_, err := c.reader.Patient(ctx, node.ID)
		return "", err
	case hierarchy.LevelStudy:
		s, err := c.reader.Study(ctx, node.ID)
		return s.PatientID, err
	case hierarchy.LevelSeries:
		s, err := c.reader.Series(ctx, node.ID)
		return s.StudyID, err
	case hierarchy.LevelInstance:
		i, err := c.reader.Instance(ctx, node.ID)
		return i.SeriesID, err
	}
	return "", fmt.Errorf("unexpected %s", node)
}

// Refresh rebuilds the cursor after the index changed. An Empty cursor
// moves to the first instance. A cursor whose records were removed moves to
// the first instance of its nearest surviving ancestor, or becomes Empty.
// It reports whether the cursor changed.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	before := c.cursor
	p := c.cursor.Path

	level := hierarchy.LevelRoot
	if !c.cursor.Empty() {
		level = c.survivingLevel(ctx, p)
	}
	for ; level >= hierarchy.LevelRoot; level-- {
		prefix := p
		if level < hierarchy.LevelInstance {
			prefix = p.with(level+1, "")
		}
		leaf, ok, err := c.descend(ctx, prefix, level, hierarchy.LevelInstance, +1)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		siblings, err := c.reader.ChildrenOf(ctx, leaf.Node(hierarchy.LevelSeries))
		if err != nil {
			return false, fmt.Errorf("list %s children: %w", leaf.Node(hierarchy.LevelSeries), err)
		}
		next := Cursor{Path: leaf, SequenceIndex: slices.Index(siblings, leaf.InstanceID), TotalInSeries: len(siblings)}
		if next == before {
			return false, nil
		}
		c.cursor = next
		c.publishCursor()
		return true, nil
	}

	if before.Empty() {
		return false, nil
	}
	c.clear()
	return true, nil
}

// survivingLevel returns the deepest level of p whose record still exists
// under the same parent.
func (c *Controller) survivingLevel(ctx context.Context, p Path) hierarchy.Level {
	for lvl := hierarchy.LevelPatient; lvl <= hierarchy.LevelInstance; lvl++ {
		parent, err := c.parentOf(ctx, p.Node(lvl))
		if err != nil || (lvl > hierarchy.LevelPatient && parent != p.at(lvl-1)) {
			return lvl - 1
		}
	}
	return hierarchy.LevelInstance
}

// SetAutoPlay arms or disarms auto-play. Arming an armed controller only
// updates the interval. AutoPlayChanged is published on actual changes.
func (c *Controller) SetAutoPlay(enabled bool, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoPlayInterval
	}
	switch {
	case enabled && c.ticker != nil:
		if interval != c.interval {
			c.interval = interval
			c.ticker.Reset(interval)
		}
	case enabled:
		c.interval = interval
		c.ticker = time.NewTicker(interval)
		c.stream.Publish(AutoPlayChanged{Enabled: true})
	case c.ticker != nil:
		c.ticker.Stop()
		c.ticker = nil
		c.stream.Publish(AutoPlayChanged{Enabled: false})
	}
}

// AutoPlayEnabled reports whether auto-play is armed.
func (c *Controller) AutoPlayEnabled() bool {
	return c.ticker != nil
}

// AutoPlayTicks returns the channel the owning loop must select on. It is
// nil while auto-play is disarmed, so a select case on it never fires.
func (c *Controller) AutoPlayTicks() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C
}

// OnAutoPlayTick advances one image. Auto-play disarms when there is no
// next image or the step fails.
func (c *Controller) OnAutoPlayTick(ctx context.Context) (bool, error) {
	if c.ticker == nil {
		return false, nil
	}
	moved, err := c.NextImage(ctx)
	if err != nil || !moved {
		c.SetAutoPlay(false, 0)
	}
	return moved, err
}

// Close stops the auto-play timer.
func (c *Controller) Close() {
	c.SetAutoPlay(false, 0)
}
