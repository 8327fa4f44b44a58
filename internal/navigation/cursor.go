package navigation

import (
	"fmt"
	"strings"

	"github.com/mrsinham/dicomshelf/internal/hierarchy"
)

// Path identifies a record by the IDs of every level down to it. Empty
// trailing segments are allowed in a Select request.
type Path struct {
	PatientID  string
	StudyID    string
	SeriesID   string
	InstanceID string
}

// String returns the non-empty segments joined by "/".
func (p Path) String() string {
	segs := p.segments()
	for i := len(segs) - 1; i >= 0 && segs[i] == ""; i-- {
		segs = segs[:i]
	}
	return strings.Join(segs, "/")
}

func (p Path) segments() []string {
	return []string{p.PatientID, p.StudyID, p.SeriesID, p.InstanceID}
}

// at returns the ID stored for level.
func (p Path) at(level hierarchy.Level) string {
	switch level {
	case hierarchy.LevelPatient:
		return p.PatientID
	case hierarchy.LevelStudy:
		return p.StudyID
	case hierarchy.LevelSeries:
		return p.SeriesID
	case hierarchy.LevelInstance:
		return p.InstanceID
	}
	return ""
}

// with returns p with level set to id and every deeper level cleared.
func (p Path) with(level hierarchy.Level, id string) Path {
	switch level {
	case hierarchy.LevelPatient:
		return Path{PatientID: id}
	case hierarchy.LevelStudy:
		return Path{PatientID: p.PatientID, StudyID: id}
	case hierarchy.LevelSeries:
		return Path{PatientID: p.PatientID, StudyID: p.StudyID, SeriesID: id}
	case hierarchy.LevelInstance:
		p.InstanceID = id
		return p
	}
	return Path{}
}

// Node returns the node p points to at level. LevelRoot yields hierarchy.Root.
func (p Path) Node(level hierarchy.Level) hierarchy.Node {
	if level == hierarchy.LevelRoot {
		return hierarchy.Root
	}
	return hierarchy.Node{Level: level, ID: p.at(level)}
}

// Cursor is the current position. The zero Cursor is the Empty state.
type Cursor struct {
	Path
	// SequenceIndex is the 0-based position of the instance in its series.
	SequenceIndex int
	TotalInSeries int
}

// Empty reports whether the cursor points nowhere.
func (c Cursor) Empty() bool {
	return c.InstanceID == ""
}

// CursorChanged is published after every successful transition. All IDs are
// empty when the cursor became Empty.
type CursorChanged struct {
	PatientID     string
	StudyID       string
	SeriesID      string
	InstanceID    string
	SequenceIndex int
	TotalInSeries int
}

// EventName implements events.Event.
func (CursorChanged) EventName() string { return "cursor_changed" }

// AutoPlayChanged is published when auto-play is armed or disarmed.
type AutoPlayChanged struct {
	Enabled bool
}

// EventName implements events.Event.
func (AutoPlayChanged) EventName() string { return "auto_play_changed" }

// InvalidSelectionError is returned by Select when a segment of the path
// does not exist or does not belong to its parent. The cursor is unchanged.
type InvalidSelectionError struct {
	Path  Path
	Level hierarchy.Level
	Err   error
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q at %s: %v", e.Path.String(), e.Level, e.Err)
}

func (e *InvalidSelectionError) Unwrap() error { return e.Err }
