package navigation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/index/memindex"
)

// buildArchive creates, in document order:
//
//	Alpha   S1 (SE1: 3 images, SE2: 2 images), S2 (SE3: empty, SE4: 2 images)
//	Bravo   S3 (SE5: 1 image)
//	Charlie S4 (no series)
//	Delta   S5 (SE6: 2 images)
func buildArchive(t *testing.T) *memindex.Index {
	t.Helper()
	ctx := context.Background()
	idx, err := memindex.New()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := idx.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}

	type series struct {
		id     string
		number int
		images int
	}
	type study struct {
		id     string
		date   string
		series []series
	}
	type patient struct {
		id, name string
		studies  []study
	}
	archive := []patient{
		{"P1", "Alpha", []study{
			{"S1", "20240101", []series{{"SE1", 1, 3}, {"SE2", 2, 2}}},
			{"S2", "20240202", []series{{"SE3", 1, 0}, {"SE4", 2, 2}}},
		}},
		{"P2", "Bravo", []study{{"S3", "20230101", []series{{"SE5", 1, 1}}}}},
		{"P3", "Charlie", []study{{"S4", "20230101", nil}}},
		{"P4", "Delta", []study{{"S5", "20230101", []series{{"SE6", 1, 2}}}}},
	}

	for _, p := range archive {
		pid, _, err := tx.FindOrCreatePatient(hierarchy.PatientCriteria{PatientID: p.id, Name: p.name})
		if err != nil {
			t.Fatal(err)
		}
		for _, st := range p.studies {
			stid, _, err := tx.FindOrCreateStudy(pid, hierarchy.StudyCriteria{StudyInstanceUID: st.id, Date: st.date})
			if err != nil {
				t.Fatal(err)
			}
			for _, se := range st.series {
				seid, _, err := tx.FindOrCreateSeries(stid, hierarchy.SeriesCriteria{SeriesInstanceUID: se.id, Number: se.number})
				if err != nil {
					t.Fatal(err)
				}
				for i := 1; i <= se.images; i++ {
					uid := fmt.Sprintf("%s.%d", se.id, i)
					if _, _, err := tx.UpsertInstance(seid, "/archive/"+uid, hierarchy.InstanceMetadata{SOPInstanceUID: uid, Number: i}); err != nil {
						t.Fatal(err)
					}
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return idx
}

func newController(t *testing.T) (*Controller, *memindex.Index, *events.Stream) {
	t.Helper()
	idx := buildArchive(t)
	stream := events.NewStream()
	c := New(idx, stream)
	t.Cleanup(c.Close)
	return c, idx, stream
}

func mustSelect(t *testing.T, c *Controller, instanceID string) {
	t.Helper()
	inst, err := c.reader.Instance(context.Background(), instanceID)
	if err != nil {
		t.Fatal(err)
	}
	se, _ := c.reader.Series(context.Background(), inst.SeriesID)
	st, _ := c.reader.Study(context.Background(), se.StudyID)
	if err := c.Select(context.Background(), Path{st.PatientID, st.ID, se.ID, inst.ID}); err != nil {
		t.Fatalf("Select(%s) error = %v", instanceID, err)
	}
}

func TestController_EmptyIsNoOp(t *testing.T) {
	stream := events.NewStream()
	sub := stream.Subscribe()
	c := New(buildArchive(t), stream)
	ctx := context.Background()

	steps := []func(context.Context) (bool, error){
		c.NextImage, c.PreviousImage, c.NextSeries, c.PreviousSeries,
		c.NextStudy, c.PreviousStudy, c.NextPatient, c.PreviousPatient,
	}
	for i, step := range steps {
		if moved, err := step(ctx); moved || err != nil {
			t.Errorf("step %d on Empty = %v, %v", i, moved, err)
		}
	}
	stream.Close()
	for ev := range sub.C() {
		t.Errorf("unexpected event %s", ev.EventName())
	}
}

func TestController_RefreshFromEmpty(t *testing.T) {
	c, _, _ := newController(t)
	moved, err := c.Refresh(context.Background())
	if err != nil || !moved {
		t.Fatalf("Refresh() = %v, %v", moved, err)
	}
	want := Cursor{Path: Path{"P1", "S1", "SE1", "SE1.1"}, SequenceIndex: 0, TotalInSeries: 3}
	if c.Cursor() != want {
		t.Errorf("Cursor() = %+v, want %+v", c.Cursor(), want)
	}
	if moved, _ := c.Refresh(context.Background()); moved {
		t.Error("second Refresh() should not move")
	}
}

func TestController_NextImageWalksDocumentOrder(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	visited := []string{c.Cursor().InstanceID}
	for {
		moved, err := c.NextImage(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !moved {
			break
		}
		visited = append(visited, c.Cursor().InstanceID)
	}

	want := []string{"SE1.1", "SE1.2", "SE1.3", "SE2.1", "SE2.2", "SE4.1", "SE4.2", "SE5.1", "SE6.1", "SE6.2"}
	if fmt.Sprint(visited) != fmt.Sprint(want) {
		t.Errorf("visited %v, want %v", visited, want)
	}

	if moved, _ := c.NextImage(ctx); moved {
		t.Error("NextImage() at the last instance should be a no-op")
	}
	if c.Cursor().InstanceID != "SE6.2" {
		t.Errorf("cursor moved to %s", c.Cursor().InstanceID)
	}
}

func TestController_Steps(t *testing.T) {
	tests := []struct {
		name  string
		from  string
		step  func(*Controller, context.Context) (bool, error)
		want  string
		moved bool
	}{
		{"previous image at first", "SE1.1", (*Controller).PreviousImage, "SE1.1", false},
		{"previous image within series", "SE1.3", (*Controller).PreviousImage, "SE1.2", true},
		{"previous image crosses series", "SE2.1", (*Controller).PreviousImage, "SE1.3", true},
		{"previous image crosses study", "SE4.1", (*Controller).PreviousImage, "SE2.2", true},
		{"previous image skips empty patient", "SE6.1", (*Controller).PreviousImage, "SE5.1", true},
		{"next series", "SE1.2", (*Controller).NextSeries, "SE2.1", true},
		{"next series skips empty series", "SE2.2", (*Controller).NextSeries, "SE4.1", true},
		{"previous series crosses study", "SE4.2", (*Controller).PreviousSeries, "SE2.1", true},
		{"previous series at first", "SE1.2", (*Controller).PreviousSeries, "SE1.2", false},
		{"next series at last", "SE6.1", (*Controller).NextSeries, "SE6.1", false},
		{"next study", "SE1.3", (*Controller).NextStudy, "SE4.1", true},
		{"next study crosses patient", "SE4.2", (*Controller).NextStudy, "SE5.1", true},
		{"next study skips empty study", "SE5.1", (*Controller).NextStudy, "SE6.1", true},
		{"previous study crosses patient", "SE5.1", (*Controller).PreviousStudy, "SE4.1", true},
		{"previous study at first", "SE2.2", (*Controller).PreviousStudy, "SE2.2", false},
		{"next patient skips empty patient", "SE5.1", (*Controller).NextPatient, "SE6.1", true},
		{"previous patient", "SE6.2", (*Controller).PreviousPatient, "SE5.1", true},
		{"previous patient at first", "SE4.1", (*Controller).PreviousPatient, "SE4.1", false},
		{"next patient at last", "SE6.1", (*Controller).NextPatient, "SE6.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newController(t)
			mustSelect(t, c, tt.from)
			moved, err := tt.step(c, context.Background())
			if err != nil {
				t.Fatalf("step error = %v", err)
			}
			if moved != tt.moved || c.Cursor().InstanceID != tt.want {
				t.Errorf("moved = %v, cursor = %s; want %v, %s", moved, c.Cursor().InstanceID, tt.moved, tt.want)
			}
		})
	}
}

func TestController_CursorChangedEvents(t *testing.T) {
	idx := buildArchive(t)
	stream := events.NewStream()
	sub := stream.Subscribe()
	c := New(idx, stream)
	ctx := context.Background()

	mustSelect(t, c, "SE1.2")
	if _, err := c.NextImage(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.NextImage(ctx); err != nil { // rolls into SE2
		t.Fatal(err)
	}
	stream.Close()

	var got []CursorChanged
	for ev := range sub.C() {
		if cc, ok := ev.(CursorChanged); ok {
			got = append(got, cc)
		}
	}
	want := []CursorChanged{
		{"P1", "S1", "SE1", "SE1.2", 1, 3},
		{"P1", "S1", "SE1", "SE1.3", 2, 3},
		{"P1", "S1", "SE2", "SE2.1", 0, 2},
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}
}

func TestController_Select(t *testing.T) {
	tests := []struct {
		name      string
		path      Path
		want      string
		wantLevel hierarchy.Level
		notFound  bool
	}{
		{name: "full path", path: Path{"P1", "S2", "SE4", "SE4.2"}, want: "SE4.2"},
		{name: "patient only", path: Path{PatientID: "P2"}, want: "SE5.1"},
		{name: "study skips empty series", path: Path{"P1", "S2", "", ""}, want: "SE4.1"},
		{name: "series of another study", path: Path{"P1", "S1", "SE4", ""}, wantLevel: hierarchy.LevelSeries},
		{name: "study of another patient", path: Path{"P2", "S1", "", ""}, wantLevel: hierarchy.LevelStudy},
		{name: "unknown instance", path: Path{"P1", "S1", "SE1", "nope"}, wantLevel: hierarchy.LevelInstance, notFound: true},
		{name: "unknown patient", path: Path{PatientID: "P9"}, wantLevel: hierarchy.LevelPatient, notFound: true},
		{name: "gap", path: Path{PatientID: "P1", SeriesID: "SE1"}, wantLevel: hierarchy.LevelSeries},
		{name: "empty", path: Path{}, wantLevel: hierarchy.LevelPatient},
		{name: "patient without instances", path: Path{PatientID: "P3"}, wantLevel: hierarchy.LevelPatient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newController(t)
			mustSelect(t, c, "SE1.2")
			before := c.Cursor()

			err := c.Select(context.Background(), tt.path)
			if tt.want != "" {
				if err != nil {
					t.Fatalf("Select() error = %v", err)
				}
				if c.Cursor().InstanceID != tt.want {
					t.Errorf("cursor = %s, want %s", c.Cursor().InstanceID, tt.want)
				}
				return
			}

			var invalid *InvalidSelectionError
			if !errors.As(err, &invalid) {
				t.Fatalf("Select() error = %v, want InvalidSelectionError", err)
			}
			if invalid.Level != tt.wantLevel {
				t.Errorf("error level = %s, want %s", invalid.Level, tt.wantLevel)
			}
			if tt.notFound && !errors.Is(err, hierarchy.ErrNotFound) {
				t.Errorf("error %v should wrap ErrNotFound", err)
			}
			if c.Cursor() != before {
				t.Errorf("cursor changed to %+v", c.Cursor())
			}
		})
	}
}

func TestController_RefreshAfterRemove(t *testing.T) {
	c, idx, _ := newController(t)
	ctx := context.Background()

	mustSelect(t, c, "SE2.2")
	if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelSeries, ID: "SE2"}); err != nil {
		t.Fatal(err)
	}
	if moved, err := c.Refresh(ctx); err != nil || !moved {
		t.Fatalf("Refresh() = %v, %v", moved, err)
	}
	if c.Cursor().InstanceID != "SE1.1" {
		t.Errorf("cursor = %s, want first instance of surviving study", c.Cursor().InstanceID)
	}

	if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelInstance, ID: "SE1.1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Cursor().InstanceID != "SE1.2" || c.Cursor().TotalInSeries != 2 {
		t.Errorf("cursor = %+v, want SE1.2 of 2", c.Cursor())
	}

	if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelPatient, ID: "P1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Cursor().InstanceID != "SE5.1" {
		t.Errorf("cursor = %s, want first instance overall", c.Cursor().InstanceID)
	}

	for _, id := range []string{"P2", "P3", "P4"} {
		if err := idx.Remove(ctx, hierarchy.Node{Level: hierarchy.LevelPatient, ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if moved, err := c.Refresh(ctx); err != nil || !moved {
		t.Fatalf("Refresh() = %v, %v", moved, err)
	}
	if !c.Cursor().Empty() {
		t.Errorf("cursor = %+v, want Empty", c.Cursor())
	}
}

func TestController_AutoPlay(t *testing.T) {
	idx := buildArchive(t)
	stream := events.NewStream()
	sub := stream.Subscribe()
	c := New(idx, stream)
	ctx := context.Background()
	mustSelect(t, c, "SE6.1")

	if c.AutoPlayTicks() != nil {
		t.Error("AutoPlayTicks() should be nil while disarmed")
	}
	c.SetAutoPlay(true, time.Hour)
	c.SetAutoPlay(true, time.Hour) // idempotent
	if !c.AutoPlayEnabled() || c.AutoPlayTicks() == nil {
		t.Fatal("auto-play should be armed")
	}

	if moved, err := c.OnAutoPlayTick(ctx); err != nil || !moved {
		t.Fatalf("first tick = %v, %v", moved, err)
	}
	if !c.AutoPlayEnabled() {
		t.Error("auto-play disarmed while images remain")
	}
	if moved, err := c.OnAutoPlayTick(ctx); err != nil || moved {
		t.Fatalf("tick at last image = %v, %v", moved, err)
	}
	if c.AutoPlayEnabled() {
		t.Error("auto-play should disarm at the last image")
	}
	if moved, _ := c.OnAutoPlayTick(ctx); moved {
		t.Error("tick while disarmed should not move")
	}
	c.SetAutoPlay(false, 0) // idempotent

	stream.Close()
	var toggles []bool
	for ev := range sub.C() {
		if ap, ok := ev.(AutoPlayChanged); ok {
			toggles = append(toggles, ap.Enabled)
		}
	}
	if fmt.Sprint(toggles) != "[true false]" {
		t.Errorf("AutoPlayChanged events = %v, want [true false]", toggles)
	}
}

func TestController_AutoPlayTicker(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	c.SetAutoPlay(true, 5*time.Millisecond)
	select {
	case <-c.AutoPlayTicks():
		if _, err := c.OnAutoPlayTick(ctx); err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no auto-play tick")
	}
	if c.Cursor().InstanceID != "SE1.2" {
		t.Errorf("cursor = %s, want SE1.2", c.Cursor().InstanceID)
	}

	c.Close()
	if c.AutoPlayEnabled() || c.AutoPlayTicks() != nil {
		t.Error("Close() should disarm auto-play")
	}
}

func TestPath_String(t *testing.T) {
	tests := map[string]Path{
		"":        {},
		"P1":      {PatientID: "P1"},
		"P1/S1":   {PatientID: "P1", StudyID: "S1"},
		"P1//SE1": {PatientID: "P1", SeriesID: "SE1"},
		"a/b/c/d": {"a", "b", "c", "d"},
	}
	for want, p := range tests {
		if got := p.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", p, got, want)
		}
	}
}
