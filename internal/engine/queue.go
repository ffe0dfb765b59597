package engine

import (
	"context"
	"fmt"
	"strings"

	"livehub/internal/config"
	"livehub/internal/domain"
	"livehub/internal/events"
	"livehub/internal/store"
)

// SubmitOptions are the audience-provided fields of a song request.
type SubmitOptions struct {
	DedicatedTo string
	Occasion    string
	Personality []string
	Story       string
	Email       string
	UserName    string
}

// SplitPersonality turns a comma-joined trait list into its parts.
func SplitPersonality(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (e Engine) GetQueue(ctx context.Context) (domain.AIQueue, error) {
	return e.queueDoc().Read(ctx, e.Store)
}

// SubmitRequest appends a pending request. It fails with ErrAIDisabled while
// AI requests are switched off.
func (e Engine) SubmitRequest(ctx context.Context, opts SubmitOptions) (domain.Request, error) {
	var defaults config.RequestDefaults
	if e.Config != nil {
		defaults = e.Config.Requests
	}
	personality := opts.Personality
	if personality == nil {
		personality = []string{}
	}
	req := domain.Request{
		ID:          e.newID(),
		DedicatedTo: orDefault(opts.DedicatedTo, orDefault(defaults.DedicatedTo, "N/A")),
		Occasion:    orDefault(opts.Occasion, orDefault(defaults.Occasion, "N/A")),
		Personality: personality,
		Story:       opts.Story,
		Email:       opts.Email,
		UserName:    orDefault(opts.UserName, orDefault(defaults.UserName, "Anonimo")),
		Timestamp:   e.nowMillis(),
		Status:      domain.RequestPending,
	}
	var queue domain.AIQueue
	err := e.Store.Atomically(ctx, func(tx store.Tx) error {
		st, err := e.stateDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		if !st.AIEnabled {
			return ErrAIDisabled
		}
		queue, err = e.queueDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		queue.Requests = append(queue.Requests, req)
		return e.queueDoc().WriteTx(tx, queue)
	})
	if err != nil {
		return domain.Request{}, err
	}
	e.record(ctx, events.RequestSubmitted, events.TopicAI, req.ID, events.EventPayload{
		"dedicatedTo": req.DedicatedTo,
		"occasion":    req.Occasion,
	})
	e.publish(events.TopicAI, events.RequestSubmitted, queue)
	return req, nil
}

func (e Engine) ApproveRequest(ctx context.Context, id string) (domain.Request, error) {
	return e.moderate(ctx, id, domain.RequestApproved)
}

func (e Engine) RejectRequest(ctx context.Context, id string) (domain.Request, error) {
	return e.moderate(ctx, id, domain.RequestRejected)
}

// moderate moves a pending request into the approved or rejected list.
func (e Engine) moderate(ctx context.Context, id, status string) (domain.Request, error) {
	var moved domain.Request
	queue, err := e.queueDoc().Update(ctx, e.Store, e.attempts(), func(q *domain.AIQueue) error {
		idx := -1
		for i, r := range q.Requests {
			if r.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("request %q: %w", id, ErrNotFound)
		}
		moved = q.Requests[idx]
		moved.Status = status
		q.Requests = append(q.Requests[:idx:idx], q.Requests[idx+1:]...)
		if status == domain.RequestApproved {
			q.Approved = append(q.Approved, moved)
		} else {
			q.Rejected = append(q.Rejected, moved)
		}
		return nil
	})
	if err != nil {
		return domain.Request{}, err
	}
	evtType := events.RequestApproved
	if status == domain.RequestRejected {
		evtType = events.RequestRejected
	}
	e.record(ctx, evtType, events.TopicAI, moved.ID, nil)
	e.publish(events.TopicAI, evtType, queue)
	return moved, nil
}
