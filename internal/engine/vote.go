package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"livehub/internal/domain"
	"livehub/internal/events"
	"livehub/internal/store"
)

var fallbackSongs = []string{"Albachiara", "Vita Spericolata", "Sally"}

// StartVoteOptions are parameters for opening a vote.
type StartVoteOptions struct {
	// Songs nil means the configured default list; an empty list is rejected.
	Songs           []string
	DurationSeconds int
}

func (e Engine) defaultSongs() []string {
	if e.Config != nil && len(e.Config.Vote.DefaultSongs) > 0 {
		return append([]string(nil), e.Config.Vote.DefaultSongs...)
	}
	return append([]string(nil), fallbackSongs...)
}

func (e Engine) GetVote(ctx context.Context) (domain.VoteRecord, error) {
	return e.voteDoc().Read(ctx, e.Store)
}

// StartVote replaces the vote record with a fresh one and opens voting.
func (e Engine) StartVote(ctx context.Context, opts StartVoteOptions) (domain.VoteRecord, error) {
	songs := opts.Songs
	if songs == nil {
		songs = e.defaultSongs()
	}
	if len(songs) == 0 {
		return domain.VoteRecord{}, invalid("songs must not be empty")
	}
	if opts.DurationSeconds < 0 {
		return domain.VoteRecord{}, invalid("durationSeconds must be positive")
	}
	now := e.now()
	rec := domain.VoteRecord{
		Songs:      songs,
		Votes:      map[string]domain.Ballot{},
		TotalVotes: 0,
		StartTime:  domain.Millis(now),
	}
	if opts.DurationSeconds > 0 {
		rec.ClosesAt = domain.Millis(now.Add(time.Duration(opts.DurationSeconds) * time.Second))
	}
	var st domain.GlobalState
	err := e.Store.Atomically(ctx, func(tx store.Tx) error {
		if err := e.voteDoc().WriteTx(tx, rec); err != nil {
			return err
		}
		var err error
		st, err = e.stateDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		st.VoteOpen = true
		st.CurrentVote = &rec
		st.LastUpdate = domain.Millis(now)
		return e.stateDoc().WriteTx(tx, st)
	})
	if err != nil {
		return domain.VoteRecord{}, err
	}
	e.record(ctx, events.VoteStarted, events.TopicVote, "", events.EventPayload{
		"songs":    rec.Songs,
		"closesAt": rec.ClosesAt,
	})
	e.publish(events.TopicState, events.VoteStarted, st)
	e.publish(events.TopicVote, events.VoteStarted, TallyVotes(rec, now))
	return rec, nil
}

// CloseVote closes voting. Ballots are kept. Closing an already closed vote
// writes nothing and returns the stored state.
func (e Engine) CloseVote(ctx context.Context) (domain.GlobalState, error) {
	changed := false
	st, err := e.stateDoc().Update(ctx, e.Store, e.attempts(), func(st *domain.GlobalState) error {
		changed = false
		if !st.VoteOpen {
			return store.ErrUnchanged
		}
		st.VoteOpen = false
		st.LastUpdate = e.nowMillis()
		changed = true
		return nil
	})
	if err != nil {
		return domain.GlobalState{}, err
	}
	if changed {
		e.record(ctx, events.VoteClosed, events.TopicVote, "", events.EventPayload{"reason": "operator"})
		e.publish(events.TopicState, events.VoteClosed, st)
	}
	return st, nil
}

// CloseExpiredVote closes an open vote whose deadline has passed. It reports
// whether a vote was closed.
func (e Engine) CloseExpiredVote(ctx context.Context) (bool, error) {
	var (
		st     domain.GlobalState
		closed bool
	)
	err := e.Store.Atomically(ctx, func(tx store.Tx) error {
		closed = false
		var err error
		st, err = e.stateDoc().ReadTx(tx)
		if err != nil || !st.VoteOpen {
			return err
		}
		rec, err := e.voteDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		now := e.nowMillis()
		if rec.ClosesAt == 0 || now < rec.ClosesAt {
			return nil
		}
		st.VoteOpen = false
		st.LastUpdate = now
		closed = true
		return e.stateDoc().WriteTx(tx, st)
	})
	if err != nil || !closed {
		return false, err
	}
	e.record(ctx, events.VoteClosed, events.TopicVote, "", events.EventPayload{"reason": "expired"})
	e.publish(events.TopicState, events.VoteClosed, st)
	return true, nil
}

// CastVote records one ballot per client and returns the fresh tally.
func (e Engine) CastVote(ctx context.Context, clientID string, songIndex int) (domain.Tally, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.Tally{}, invalid("clientId is required")
	}
	var rec domain.VoteRecord
	err := e.Store.Atomically(ctx, func(tx store.Tx) error {
		st, err := e.stateDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		if !st.VoteOpen {
			return ErrVotingClosed
		}
		rec, err = e.voteDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		now := e.nowMillis()
		if rec.ClosesAt > 0 && now >= rec.ClosesAt {
			return ErrVotingClosed
		}
		if songIndex < 0 || songIndex >= len(rec.Songs) {
			return invalid("songIndex %d out of range [0,%d)", songIndex, len(rec.Songs))
		}
		if prev, ok := rec.Votes[clientID]; ok {
			return &AlreadyVotedError{Previous: prev}
		}
		if rec.Votes == nil {
			rec.Votes = map[string]domain.Ballot{}
		}
		rec.Votes[clientID] = domain.Ballot{SongIndex: songIndex, Timestamp: now}
		rec.TotalVotes = len(rec.Votes)
		return e.voteDoc().WriteTx(tx, rec)
	})
	if err != nil {
		return domain.Tally{}, err
	}
	tally := TallyVotes(rec, e.now())
	e.record(ctx, events.VoteCast, events.TopicVote, clientID, events.EventPayload{
		"songIndex":  songIndex,
		"totalVotes": rec.TotalVotes,
	})
	e.publish(events.TopicVote, events.VoteCast, tally)
	return tally, nil
}

// Tally summarizes the stored vote record.
func (e Engine) Tally(ctx context.Context) (domain.Tally, error) {
	rec, err := e.GetVote(ctx)
	if err != nil {
		return domain.Tally{}, err
	}
	return TallyVotes(rec, e.now()), nil
}

// TallyVotes counts ballots per song in the order songs were listed.
// Ballots pointing outside the song list are ignored.
func TallyVotes(rec domain.VoteRecord, now time.Time) domain.Tally {
	counts := make([]int, len(rec.Songs))
	for _, b := range rec.Votes {
		if b.SongIndex >= 0 && b.SongIndex < len(counts) {
			counts[b.SongIndex]++
		}
	}
	results := make([]domain.SongTally, 0, len(rec.Songs))
	for i, name := range rec.Songs {
		pct := 0
		if rec.TotalVotes > 0 {
			pct = int(math.Round(float64(counts[i]) / float64(rec.TotalVotes) * 100))
		}
		results = append(results, domain.SongTally{Name: name, Votes: counts[i], Percentage: pct})
	}
	return domain.Tally{
		Results:    results,
		TotalVotes: rec.TotalVotes,
		LastUpdate: domain.Millis(now),
	}
}

