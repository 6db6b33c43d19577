package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lenslabs/chordfield/internal/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAppendAndListTelemetryEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chordfield.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []storage.TelemetryEvent{
		{Timestamp: base, EventName: "session.ready", SessionID: "s1"},
		{Timestamp: base.Add(time.Second), EventName: "progression.submitted", SessionID: "s1", ConnectionID: "c1"},
		{Timestamp: base.Add(2 * time.Second), EventName: "session.ready", SessionID: "s2"},
	}
	for _, evt := range events {
		if err := store.AppendTelemetryEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	got, err := store.ListTelemetryEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for s1, got %d", len(got))
	}
	if got[0].EventName != "session.ready" || got[1].EventName != "progression.submitted" {
		t.Fatalf("unexpected event order: %q then %q", got[0].EventName, got[1].EventName)
	}
	if got[1].ConnectionID != "c1" {
		t.Fatalf("expected connection id c1, got %q", got[1].ConnectionID)
	}

	other, err := store.ListTelemetryEvents(ctx, "s2")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("expected 1 event for s2, got %d", len(other))
	}
}

func TestLatestTelemetryEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chordfield.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []storage.TelemetryEvent{
		{Timestamp: base, EventName: "session.ready", SessionID: "s1"},
		{Timestamp: base.Add(time.Second), EventName: "session.allSubmitted", SessionID: "s1"},
	}
	for _, evt := range events {
		if err := store.AppendTelemetryEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	latest, err := store.LatestTelemetryEvent(ctx, "s1")
	if err != nil {
		t.Fatalf("latest event: %v", err)
	}
	if latest.EventName != "session.allSubmitted" {
		t.Fatalf("expected last appended event, got %q", latest.EventName)
	}

	if _, err := store.LatestTelemetryEvent(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestAppendTelemetryEventRequiresSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chordfield.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	err = store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{EventName: "x"})
	if err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestAppendTelemetryEventRespectsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chordfield.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.AppendTelemetryEvent(ctx, storage.TelemetryEvent{SessionID: "s1", EventName: "x"})
	if err == nil {
		t.Fatal("expected context error")
	}
}
