package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"livehub/internal/config"
	"livehub/internal/domain"
	"livehub/internal/events"
	"livehub/internal/store"
)

// Generator turns an approved request into song lyrics.
type Generator interface {
	Generate(ctx context.Context, req domain.Request) (domain.Composition, error)
}

// Publisher fans state changes out to live subscribers.
type Publisher interface {
	Publish(topic string, msg any)
}

// Message is the envelope handed to the Publisher.
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

type Engine struct {
	Store     store.Store
	Events    events.Writer
	Config    *config.Config
	Generator Generator
	Hub       Publisher
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

func New(st store.Store, ev events.Writer, cfg *config.Config, gen Generator, hub Publisher) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:     st,
		Events:    ev,
		Config:    cfg,
		Generator: gen,
		Hub:       hub,
		Logger:    slog.Default(),
		Now:       time.Now,
		NewID:     func() string { return uuid.NewString() },
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowMillis() int64 {
	return domain.Millis(e.now())
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) attempts() int {
	if e.Config != nil && e.Config.Storage.CASAttempts > 0 {
		return e.Config.Storage.CASAttempts
	}
	return store.DefaultAttempts
}

func (e Engine) stateDoc() store.Document[domain.GlobalState] {
	return store.Document[domain.GlobalState]{
		Key: store.KeyState,
		Default: func() domain.GlobalState {
			return domain.GlobalState{LastUpdate: e.nowMillis()}
		},
	}
}

func (e Engine) voteDoc() store.Document[domain.VoteRecord] {
	return store.Document[domain.VoteRecord]{
		Key: store.KeyVotes,
		Default: func() domain.VoteRecord {
			return domain.VoteRecord{Songs: []string{}, Votes: map[string]domain.Ballot{}}
		},
	}
}

func (e Engine) queueDoc() store.Document[domain.AIQueue] {
	return store.Document[domain.AIQueue]{
		Key: store.KeyQueue,
		Default: func() domain.AIQueue {
			return domain.AIQueue{Requests: []domain.Request{}, Approved: []domain.Request{}, Rejected: []domain.Request{}}
		},
	}
}

func (e Engine) songsDoc() store.Document[domain.SongList] {
	return store.Document[domain.SongList]{
		Key: store.KeySongList,
		Default: func() domain.SongList {
			return domain.SongList{Songs: []domain.GeneratedSong{}}
		},
	}
}

type actorKey struct{}

// WithActor tags ctx with the identity recorded in the event log.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "anonymous"
}

// record appends to the event log after a committed change. Failures are
// logged and never undo the change.
func (e Engine) record(ctx context.Context, evtType, topic, entityID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, topic, entityID, actorFrom(ctx), payload); err != nil {
		e.logger().Warn("event append failed", "type", evtType, "error", err)
	}
}

func (e Engine) publish(topic, msgType string, data any) {
	if e.Hub == nil {
		return
	}
	e.Hub.Publish(topic, Message{Type: msgType, Timestamp: e.nowMillis(), Data: data})
}
