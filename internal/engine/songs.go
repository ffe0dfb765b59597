package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"livehub/internal/domain"
	"livehub/internal/events"
	"livehub/internal/store"
)

// ValidateComposition checks the generator output before it is stored: a
// title and five non-empty sections. Line counts are not enforced.
func ValidateComposition(c domain.Composition) error {
	if strings.TrimSpace(c.Lyrics.Title) == "" {
		return errors.New("lyrics.title is empty")
	}
	sections := []struct {
		name  string
		lines []string
	}{
		{"verse1", c.Lyrics.Verse1},
		{"chorus", c.Lyrics.Chorus},
		{"verse2", c.Lyrics.Verse2},
		{"bridge", c.Lyrics.Bridge},
		{"finalChorus", c.Lyrics.FinalChorus},
	}
	for _, s := range sections {
		if len(s.lines) == 0 {
			return fmt.Errorf("lyrics.%s is empty", s.name)
		}
	}
	return nil
}

func (e Engine) findApproved(ctx context.Context, requestID string) (domain.Request, error) {
	queue, err := e.GetQueue(ctx)
	if err != nil {
		return domain.Request{}, err
	}
	for _, r := range queue.Approved {
		if r.ID == requestID {
			return r, nil
		}
	}
	return domain.Request{}, fmt.Errorf("approved request %q: %w", requestID, ErrNotFound)
}

// GenerateSong asks the generator for lyrics for an approved request and
// stores the result with status generated. A failed generation stores nothing
// and can be retried.
func (e Engine) GenerateSong(ctx context.Context, requestID string) (domain.GeneratedSong, error) {
	req, err := e.findApproved(ctx, requestID)
	if err != nil {
		return domain.GeneratedSong{}, err
	}
	comp, err := e.generate(ctx, req)
	if err != nil {
		e.record(ctx, events.SongGenerationFailed, events.TopicAI, req.ID, events.EventPayload{"error": err.Error()})
		return domain.GeneratedSong{}, &GenerationError{Err: err}
	}
	song := domain.GeneratedSong{
		ID:          e.newID(),
		RequestID:   req.ID,
		GeneratedAt: e.nowMillis(),
		Status:      domain.SongGenerated,
		DedicatedTo: req.DedicatedTo,
		Occasion:    req.Occasion,
		Lyrics:      comp.Lyrics,
		Genre:       comp.Genre,
		Mood:        comp.Mood,
	}
	list, err := e.songsDoc().Update(ctx, e.Store, e.attempts(), func(l *domain.SongList) error {
		l.Songs = append(l.Songs, song)
		return nil
	})
	if err != nil {
		return domain.GeneratedSong{}, err
	}
	e.record(ctx, events.SongGenerated, events.TopicAI, song.ID, events.EventPayload{
		"requestId": req.ID,
		"title":     song.Lyrics.Title,
	})
	e.publish(events.TopicAI, events.SongGenerated, list)
	return song, nil
}

func (e Engine) generate(ctx context.Context, req domain.Request) (domain.Composition, error) {
	if e.Generator == nil {
		return domain.Composition{}, errors.New("no lyric generator configured")
	}
	comp, err := e.Generator.Generate(ctx, req)
	if err != nil {
		return domain.Composition{}, err
	}
	if err := ValidateComposition(comp); err != nil {
		return domain.Composition{}, fmt.Errorf("invalid generator output: %w", err)
	}
	return comp, nil
}

func findSong(songs []domain.GeneratedSong, id string) int {
	for i, s := range songs {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func summarize(s domain.GeneratedSong) *domain.CurrentSong {
	return &domain.CurrentSong{
		ID:          s.ID,
		Title:       s.Lyrics.Title,
		DedicatedTo: s.DedicatedTo,
		Lyrics:      s.Lyrics,
	}
}

// SetCurrentSong makes songID the only active song and mirrors it into the
// global state.
func (e Engine) SetCurrentSong(ctx context.Context, songID string) (domain.CurrentSong, error) {
	var (
		current *domain.CurrentSong
		st      domain.GlobalState
		list    domain.SongList
	)
	err := e.Store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		list, err = e.songsDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		idx := findSong(list.Songs, songID)
		if idx < 0 {
			return fmt.Errorf("song %q: %w", songID, ErrNotFound)
		}
		for i := range list.Songs {
			if i != idx && list.Songs[i].Status == domain.SongActive {
				list.Songs[i].Status = domain.SongGenerated
			}
		}
		list.Songs[idx].Status = domain.SongActive
		if err := e.songsDoc().WriteTx(tx, list); err != nil {
			return err
		}
		st, err = e.stateDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		current = summarize(list.Songs[idx])
		st.CurrentAISong = current
		st.LastUpdate = e.nowMillis()
		return e.stateDoc().WriteTx(tx, st)
	})
	if err != nil {
		return domain.CurrentSong{}, err
	}
	e.record(ctx, events.SongActivated, events.TopicAI, songID, events.EventPayload{"title": current.Title})
	e.publish(events.TopicState, events.SongActivated, st)
	e.publish(events.TopicAI, events.SongActivated, list)
	return *current, nil
}

// MarkPlayed retires a song. The current-song pointer is cleared only when it
// references this song.
func (e Engine) MarkPlayed(ctx context.Context, songID string) (domain.GeneratedSong, error) {
	var (
		song    domain.GeneratedSong
		st      domain.GlobalState
		list    domain.SongList
		cleared bool
	)
	err := e.Store.Atomically(ctx, func(tx store.Tx) error {
		cleared = false
		var err error
		list, err = e.songsDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		idx := findSong(list.Songs, songID)
		if idx < 0 {
			return fmt.Errorf("song %q: %w", songID, ErrNotFound)
		}
		list.Songs[idx].Status = domain.SongPlayed
		list.Songs[idx].PlayedAt = e.nowMillis()
		song = list.Songs[idx]
		if err := e.songsDoc().WriteTx(tx, list); err != nil {
			return err
		}
		st, err = e.stateDoc().ReadTx(tx)
		if err != nil {
			return err
		}
		if st.CurrentAISong == nil || st.CurrentAISong.ID != songID {
			return nil
		}
		st.CurrentAISong = nil
		st.LastUpdate = e.nowMillis()
		cleared = true
		return e.stateDoc().WriteTx(tx, st)
	})
	if err != nil {
		return domain.GeneratedSong{}, err
	}
	e.record(ctx, events.SongPlayed, events.TopicAI, songID, events.EventPayload{"clearedCurrent": cleared})
	if cleared {
		e.publish(events.TopicState, events.SongPlayed, st)
	}
	e.publish(events.TopicAI, events.SongPlayed, list)
	return song, nil
}

// ListSongs returns every generated song, played ones included.
func (e Engine) ListSongs(ctx context.Context) ([]domain.GeneratedSong, error) {
	list, err := e.songsDoc().Read(ctx, e.Store)
	if err != nil {
		return nil, err
	}
	if list.Songs == nil {
		return []domain.GeneratedSong{}, nil
	}
	return list.Songs, nil
}
