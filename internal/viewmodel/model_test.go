package viewmodel

import (
	"context"
	"testing"

	"github.com/mrsinham/dicomshelf/internal/events"
	"github.com/mrsinham/dicomshelf/internal/hierarchy"
	"github.com/mrsinham/dicomshelf/internal/index/memindex"
)

// drain closes the stream and returns every event the subscription saw.
func drain(stream *events.Stream, sub *events.Subscription) []events.Event {
	stream.Close()
	var out []events.Event
	for ev := range sub.C() {
		out = append(out, ev)
	}
	return out
}

func countResets(evs []events.Event) int {
	n := 0
	for _, ev := range evs {
		if _, ok := ev.(ViewReset); ok {
			n++
		}
	}
	return n
}

func TestSuspend_NestedReleasePublishesOnce(t *testing.T) {
	stream := events.NewStream()
	sub := stream.Subscribe()
	m := New(nil, stream)

	outer := m.Suspend()
	inner := m.Suspend()
	m.Invalidate()
	m.Invalidate()
	inner()
	inner() // second call is a no-op
	if !m.Suspended() {
		t.Fatal("model should still be suspended after inner release")
	}
	outer()
	if m.Suspended() {
		t.Fatal("model should not be suspended after outer release")
	}

	if got := countResets(drain(stream, sub)); got != 1 {
		t.Errorf("got %d ViewReset events, want 1", got)
	}
}

func TestInvalidate_NotSuspended(t *testing.T) {
	stream := events.NewStream()
	sub := stream.Subscribe()
	m := New(nil, stream)

	m.Invalidate()
	m.SetThumbnailSize(DefaultThumbnailSize) // unchanged, no reset
	m.SetThumbnailSize(64)
	m.SetThumbnailSize(-1) // ignored

	if got := countResets(drain(stream, sub)); got != 2 {
		t.Errorf("got %d ViewReset events, want 2", got)
	}
	if m.ThumbnailSize() != 64 {
		t.Errorf("ThumbnailSize() = %d, want 64", m.ThumbnailSize())
	}
}

func TestRows(t *testing.T) {
	ctx := context.Background()
	idx, err := memindex.New()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := idx.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pid, _, _ := tx.FindOrCreatePatient(hierarchy.PatientCriteria{PatientID: "P1", Name: "Doe^Jane", Sex: "F"})
	stid, _, _ := tx.FindOrCreateStudy(pid, hierarchy.StudyCriteria{StudyInstanceUID: "1.1", Date: "20240101", Description: "Head"})
	seid, _, _ := tx.FindOrCreateSeries(stid, hierarchy.SeriesCriteria{SeriesInstanceUID: "1.1.1", Number: 2, Modality: "MR"})
	for i, uid := range []string{"1.1.1.2", "1.1.1.1"} {
		if _, _, err := tx.UpsertInstance(seid, "/a/"+uid, hierarchy.InstanceMetadata{SOPInstanceUID: uid, Number: 2 - i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	m := New(idx, events.NewStream())

	tests := []struct {
		node      hierarchy.Node
		wantLabel string
		wantCount int
		wantLen   int
	}{
		{hierarchy.Root, "Doe, Jane (P1) F", 1, 1},
		{hierarchy.Node{Level: hierarchy.LevelPatient, ID: "P1"}, "20240101 Head", 1, 1},
		{hierarchy.Node{Level: hierarchy.LevelStudy, ID: "1.1"}, "#2 MR", 2, 1},
		{hierarchy.Node{Level: hierarchy.LevelSeries, ID: "1.1.1"}, "#1", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.node.String(), func(t *testing.T) {
			rows, err := m.Rows(ctx, tt.node)
			if err != nil {
				t.Fatalf("Rows() error = %v", err)
			}
			if len(rows) != tt.wantLen {
				t.Fatalf("Rows() returned %d rows, want %d", len(rows), tt.wantLen)
			}
			if rows[0].Label != tt.wantLabel || rows[0].ChildCount != tt.wantCount {
				t.Errorf("Rows()[0] = %+v, want label %q count %d", rows[0], tt.wantLabel, tt.wantCount)
			}
			row, err := m.Row(ctx, rows[0].Node)
			if err != nil || row != rows[0] {
				t.Errorf("Row(%s) = %+v, %v, want %+v", rows[0].Node, row, err, rows[0])
			}
		})
	}

	if row, err := m.Row(ctx, hierarchy.Root); err != nil || row.Label != "" {
		t.Errorf("Row(root) = %+v, %v", row, err)
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"Doe^Jane":       "Doe, Jane",
		"Doe^Jane^Marie": "Doe, Jane Marie",
		"Anonymous":      "Anonymous",
		"Doe^":           "Doe",
		"":               "",
	}
	for in, want := range tests {
		if got := displayName(in); got != want {
			t.Errorf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}
