package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"livehub/internal/domain"
)

// Event types appended by the engine.
const (
	VoteStarted          = "vote.started"
	VoteClosed           = "vote.closed"
	VoteCast             = "vote.cast"
	StateUpdated         = "state.updated"
	StateReset           = "state.reset"
	RequestSubmitted     = "request.submitted"
	RequestApproved      = "request.approved"
	RequestRejected      = "request.rejected"
	SongGenerated        = "song.generated"
	SongGenerationFailed = "song.generation_failed"
	SongActivated        = "song.activated"
	SongPlayed           = "song.played"
)

// Topics group event types the same way the broadcast hub does.
const (
	TopicState = "state"
	TopicVote  = "vote"
	TopicAI    = "ai"
)

type Writer struct {
	DB  *sqlx.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, topic, entityID, actor string, payload EventPayload) error {
	if w.DB == nil {
		return nil
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, w.DB.Rebind(`INSERT INTO events(ts,type,topic,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, topic, nullable(entityID), actor, string(data))
	return err
}

// Filter narrows Latest. Empty fields match everything.
type Filter struct {
	Type     string
	Topic    string
	EntityID string
}

const eventColumns = `id,ts,type,topic,COALESCE(entity_id,'') AS entity_id,actor,payload_json`

// Latest returns up to limit events, newest first.
func (w Writer) Latest(ctx context.Context, limit int, f Filter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Topic != "" {
		clauses = append(clauses, "topic=?")
		args = append(args, f.Topic)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	var res []domain.Event
	if err := w.DB.SelectContext(ctx, &res, w.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return res, nil
}

// After returns up to limit events with id greater than cursor, oldest first.
func (w Writer) After(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, eventColumns)
	var res []domain.Event
	if err := w.DB.SelectContext(ctx, &res, w.DB.Rebind(query), cursor, limit); err != nil {
		return nil, err
	}
	return res, nil
}

func (w Writer) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := w.DB.GetContext(ctx, &id, `SELECT COALESCE(MAX(id),0) FROM events`); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
