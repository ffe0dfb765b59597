package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"livehub/internal/db"
	"livehub/internal/events"
	"livehub/internal/migrate"
)

func newWriter(t *testing.T) events.Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC) }}
}

func TestAppendAndLatest(t *testing.T) {
	w := newWriter(t)
	ctx := context.Background()
	if err := w.Append(ctx, events.VoteStarted, events.TopicVote, "", "operator", events.EventPayload{"songs": 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, events.RequestSubmitted, events.TopicAI, "req-1", "anonymous", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := w.Latest(ctx, 10, events.Filter{})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(all) != 2 || all[0].Type != events.RequestSubmitted {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[0].EntityID != "req-1" || all[1].EntityID != "" {
		t.Fatalf("unexpected entity ids: %+v", all)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(all[1].Payload), &payload); err != nil || payload["songs"] != float64(3) {
		t.Fatalf("unexpected payload %q: %v", all[1].Payload, err)
	}

	voteOnly, err := w.Latest(ctx, 10, events.Filter{Topic: events.TopicVote})
	if err != nil {
		t.Fatal(err)
	}
	if len(voteOnly) != 1 || voteOnly[0].Type != events.VoteStarted {
		t.Fatalf("topic filter failed: %+v", voteOnly)
	}
}

func TestAfterCursor(t *testing.T) {
	w := newWriter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := w.Append(ctx, events.VoteCast, events.TopicVote, "", "client", nil); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := w.LatestID(ctx)
	if err != nil || latest != 3 {
		t.Fatalf("latest id: %d %v", latest, err)
	}
	after, err := w.After(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].ID != 2 || after[1].ID != 3 {
		t.Fatalf("unexpected events after cursor: %+v", after)
	}
}
