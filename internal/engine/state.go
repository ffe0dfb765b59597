package engine

import (
	"context"

	"livehub/internal/domain"
	"livehub/internal/events"
)

// StatePatch lists the GlobalState fields an operator may overwrite.
// The Set flags distinguish an explicit null from an absent field.
type StatePatch struct {
	VoteOpen         *bool
	AIEnabled        *bool
	SetCurrentVote   bool
	CurrentVote      *domain.VoteRecord
	SetCurrentAISong bool
	CurrentAISong    *domain.CurrentSong
}

func (p StatePatch) fields() []string {
	var out []string
	if p.VoteOpen != nil {
		out = append(out, "voteOpen")
	}
	if p.AIEnabled != nil {
		out = append(out, "aiEnabled")
	}
	if p.SetCurrentVote {
		out = append(out, "currentVote")
	}
	if p.SetCurrentAISong {
		out = append(out, "currentAISong")
	}
	return out
}

func (e Engine) GetState(ctx context.Context) (domain.GlobalState, error) {
	return e.stateDoc().Read(ctx, e.Store)
}

// MergeState applies patch onto the stored state and stamps lastUpdate.
func (e Engine) MergeState(ctx context.Context, patch StatePatch) (domain.GlobalState, error) {
	st, err := e.stateDoc().Update(ctx, e.Store, e.attempts(), func(st *domain.GlobalState) error {
		if patch.VoteOpen != nil {
			st.VoteOpen = *patch.VoteOpen
		}
		if patch.AIEnabled != nil {
			st.AIEnabled = *patch.AIEnabled
		}
		if patch.SetCurrentVote {
			st.CurrentVote = patch.CurrentVote
		}
		if patch.SetCurrentAISong {
			st.CurrentAISong = patch.CurrentAISong
		}
		st.LastUpdate = e.nowMillis()
		return nil
	})
	if err != nil {
		return domain.GlobalState{}, err
	}
	e.record(ctx, events.StateUpdated, events.TopicState, "", events.EventPayload{"fields": patch.fields()})
	e.publish(events.TopicState, events.StateUpdated, st)
	return st, nil
}

// Reset closes the vote, disables AI requests and clears the current song.
// The vote record, queue and generated songs are kept.
func (e Engine) Reset(ctx context.Context) (domain.GlobalState, error) {
	st, err := e.stateDoc().Update(ctx, e.Store, e.attempts(), func(st *domain.GlobalState) error {
		st.VoteOpen = false
		st.AIEnabled = false
		st.CurrentAISong = nil
		st.LastUpdate = e.nowMillis()
		return nil
	})
	if err != nil {
		return domain.GlobalState{}, err
	}
	e.record(ctx, events.StateReset, events.TopicState, "", nil)
	e.publish(events.TopicState, events.StateReset, st)
	return st, nil
}

// CurrentSong returns the song mirrored into the global state, or nil.
func (e Engine) CurrentSong(ctx context.Context) (*domain.CurrentSong, error) {
	st, err := e.GetState(ctx)
	if err != nil {
		return nil, err
	}
	return st.CurrentAISong, nil
}
