package store

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"reasongate/internal/bus"
	"reasongate/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemory, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return s
}

func TestRecordEventKeepsSessionRowCurrent(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	steps := []bus.Event{
		{Time: now, Kind: "session_created", SessionID: "sess-1"},
		{Time: now, Kind: "session_completing", SessionID: "sess-1", Detail: "high confidence"},
		{Time: now, Kind: "session_completed", SessionID: "sess-1"},
	}
	for _, ev := range steps {
		if err := s.RecordEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	row, err := s.Session("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Status != "completed" {
		t.Fatalf("session row = %+v, want completed", row)
	}

	trail, err := s.SessionEvents("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail has %d events, want 3", len(trail))
	}
	if trail[1].Detail != "high confidence" {
		t.Fatalf("trail[1] = %+v", trail[1])
	}
}

func TestUnknownKindRecordedWithoutSessionRow(t *testing.T) {
	s := testStore(t)
	if err := s.RecordEvent(bus.Event{Kind: "sweep_started", SessionID: "sess-9"}); err != nil {
		t.Fatal(err)
	}
	row, err := s.Session("sess-9")
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Fatalf("unexpected session row %+v for a non-lifecycle event", row)
	}
	events, err := s.RecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != "sweep_started" {
		t.Fatalf("events = %+v", events)
	}
}

func TestTailPersistsBusEvents(t *testing.T) {
	s := testStore(t)
	b := bus.New()

	// Published before Tail attaches; the subscriber backlog covers it.
	b.Publish(bus.Event{Kind: "session_created", SessionID: "sess-a"})

	stop := s.Tail(b)
	b.Publish(bus.Event{Kind: "session_abandoned", SessionID: "sess-a", Detail: "idle timeout"})
	stop()
	stop() // idempotent

	row, err := s.Session("sess-a")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Status != "abandoned" {
		t.Fatalf("session row = %+v, want abandoned", row)
	}
	trail, err := s.SessionEvents("sess-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 {
		t.Fatalf("trail has %d events, want 2", len(trail))
	}
}

func TestSaveResultRoundTrip(t *testing.T) {
	s := testStore(t)
	if err := s.RecordEvent(bus.Event{Kind: "session_created", SessionID: "sess-r"}); err != nil {
		t.Fatal(err)
	}

	want := types.AnalysisResult{
		Status:   types.StatusSuccess,
		Insights: []string{"the pool saturates at 10 connections"},
		ImmediateActions: []types.Action{
			{Priority: "high", Description: "raise the pool ceiling"},
		},
		Metadata: types.ResultMetadata{SessionID: "sess-r", TurnCount: 4},
	}
	if err := s.SaveResult("sess-r", want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Result("sess-r")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != types.StatusSuccess || len(got.Insights) != 1 {
		t.Fatalf("result = %+v", got)
	}
	if got.ImmediateActions[0].Description != "raise the pool ceiling" {
		t.Fatalf("actions = %+v", got.ImmediateActions)
	}
	if got.Metadata.TurnCount != 4 {
		t.Fatalf("metadata = %+v", got.Metadata)
	}

	if res, err := s.Result("missing"); err != nil || res != nil {
		t.Fatalf("missing result = %v, %v", res, err)
	}
}

func TestSessionsOrderedByActivity(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		ev := bus.Event{Time: base.Add(time.Duration(i) * time.Minute), Kind: "session_created", SessionID: id}
		if err := s.RecordEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.Sessions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != "s3" || rows[1].ID != "s2" {
		t.Fatalf("rows = %+v, want newest two", rows)
	}
}
