package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"livehub/internal/config"
	"livehub/internal/db"
	"livehub/internal/domain"
	"livehub/internal/engine"
	"livehub/internal/events"
	"livehub/internal/migrate"
	"livehub/internal/store"
)

type fakeGenerator struct {
	mu    sync.Mutex
	comp  domain.Composition
	err   error
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, req domain.Request) (domain.Composition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return domain.Composition{}, g.err
	}
	comp := g.comp
	if comp.Lyrics.Title == "" {
		comp = sampleComposition("Canzone per " + req.DedicatedTo)
	}
	return comp, nil
}

type published struct {
	topic string
	msg   engine.Message
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []published
}

func (h *fakeHub) Publish(topic string, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, published{topic: topic, msg: msg.(engine.Message)})
}

func (h *fakeHub) types(topic string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		if m.topic == topic {
			out = append(out, m.msg.Type)
		}
	}
	return out
}

func sampleComposition(title string) domain.Composition {
	four := []string{"uno", "due", "tre", "quattro"}
	return domain.Composition{
		Lyrics: domain.Lyrics{
			Title:       title,
			Verse1:      four,
			Chorus:      four,
			Verse2:      four,
			Bridge:      four,
			FinalChorus: four,
		},
		Genre: "rock-italiano",
		Mood:  "divertente",
	}
}

type testEnv struct {
	Engine engine.Engine
	Store  *store.SQLStore
	Events events.Writer
	Gen    *fakeGenerator
	Hub    *fakeHub
	Ctx    context.Context
	clock  *time.Time
}

func (env *testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.NewSQL(conn, 0)
	t.Cleanup(func() { st.Close() })

	clock := time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	ev := events.Writer{DB: conn, Now: now}
	gen := &fakeGenerator{}
	hub := &fakeHub{}
	eng := engine.New(st, ev, config.Default(), gen, hub)
	eng.Now = now
	seq := 0
	var mu sync.Mutex
	eng.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return &testEnv{Engine: eng, Store: st, Events: ev, Gen: gen, Hub: hub, Ctx: context.Background(), clock: &clock}
}

func (env *testEnv) enableAI(t *testing.T) {
	t.Helper()
	on := true
	if _, err := env.Engine.MergeState(env.Ctx, engine.StatePatch{AIEnabled: &on}); err != nil {
		t.Fatalf("enable ai: %v", err)
	}
}

func (env *testEnv) approvedRequest(t *testing.T, name string) domain.Request {
	t.Helper()
	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{DedicatedTo: name})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req, err = env.Engine.ApproveRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return req
}

func TestTallyAfterThreeVotes(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A", "B", "C"}}); err != nil {
		t.Fatalf("start vote: %v", err)
	}
	for client, idx := range map[string]int{"1": 0, "2": 0, "3": 1} {
		if _, err := env.Engine.CastVote(env.Ctx, client, idx); err != nil {
			t.Fatalf("vote %s: %v", client, err)
		}
	}
	tally, err := env.Engine.Tally(env.Ctx)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	want := []domain.SongTally{{Name: "A", Votes: 2, Percentage: 67}, {Name: "B", Votes: 1, Percentage: 33}, {Name: "C", Votes: 0, Percentage: 0}}
	if tally.TotalVotes != 3 {
		t.Fatalf("expected 3 votes, got %d", tally.TotalVotes)
	}
	for i, w := range want {
		if tally.Results[i] != w {
			t.Fatalf("result %d: expected %+v, got %+v", i, w, tally.Results[i])
		}
	}
}

func TestDuplicateVoteIsRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A", "B"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "client-1", 1); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CastVote(env.Ctx, "client-1", 0)
	var av *engine.AlreadyVotedError
	if !errors.As(err, &av) {
		t.Fatalf("expected already voted, got %v", err)
	}
	if av.Previous.SongIndex != 1 {
		t.Fatalf("expected previous ballot for song 1, got %+v", av.Previous)
	}
	rec, _ := env.Engine.GetVote(env.Ctx)
	if rec.TotalVotes != 1 || len(rec.Votes) != 1 {
		t.Fatalf("duplicate vote changed the record: %+v", rec)
	}
}

func TestVoteWhileClosed(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CastVote(env.Ctx, "client-1", 0); !errors.Is(err, engine.ErrVotingClosed) {
		t.Fatalf("expected voting closed before any vote, got %v", err)
	}
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CloseVote(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "client-1", 0); !errors.Is(err, engine.ErrVotingClosed) {
		t.Fatalf("expected voting closed, got %v", err)
	}
	rec, _ := env.Engine.GetVote(env.Ctx)
	if len(rec.Songs) != 3 || rec.Songs[0] != "Albachiara" {
		t.Fatalf("expected default songs, got %v", rec.Songs)
	}
}

func TestTallyWithoutVotesIsZero(t *testing.T) {
	tally := engine.TallyVotes(domain.VoteRecord{Songs: []string{"A", "B"}}, time.Unix(0, 0))
	for _, r := range tally.Results {
		if r.Percentage != 0 || r.Votes != 0 {
			t.Fatalf("expected zero result, got %+v", r)
		}
	}
	// stray ballots never match a bucket
	tally = engine.TallyVotes(domain.VoteRecord{
		Songs:      []string{"A"},
		Votes:      map[string]domain.Ballot{"x": {SongIndex: 7}, "y": {SongIndex: 0}},
		TotalVotes: 2,
	}, time.Unix(0, 0))
	if tally.Results[0].Votes != 1 || tally.Results[0].Percentage != 50 {
		t.Fatalf("unexpected tally %+v", tally.Results)
	}
}

func TestVoteInputValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{}}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("empty songs: expected invalid input, got %v", err)
	}
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A"}, DurationSeconds: -5}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("negative duration: expected invalid input, got %v", err)
	}
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A", "B"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "c", 2); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("out of range: expected invalid input, got %v", err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "c", -1); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("negative index: expected invalid input, got %v", err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "  ", 0); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("blank client: expected invalid input, got %v", err)
	}
}

func TestStartVoteMirrorsIntoState(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "c1", 0); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"X", "Y"}})
	if err != nil {
		t.Fatal(err)
	}
	if rec.TotalVotes != 0 || len(rec.Votes) != 0 {
		t.Fatalf("restart must clear ballots: %+v", rec)
	}
	st, err := env.Engine.GetState(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.VoteOpen || st.CurrentVote == nil || len(st.CurrentVote.Songs) != 2 {
		t.Fatalf("state not updated: %+v", st)
	}
	if st.CurrentVote.StartTime != domain.Millis(*env.clock) {
		t.Fatalf("unexpected start time %d", st.CurrentVote.StartTime)
	}
}

func TestCloseVoteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A"}}); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.CloseVote(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := env.Store.Get(env.Ctx, store.KeyState)
	env.advance(time.Minute)
	second, err := env.Engine.CloseVote(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := env.Store.Get(env.Ctx, store.KeyState)
	if before.Version != after.Version {
		t.Fatalf("second close wrote the state: %d -> %d", before.Version, after.Version)
	}
	if first.LastUpdate != second.LastUpdate || second.VoteOpen {
		t.Fatalf("expected identical state, got %+v vs %+v", first, second)
	}
	rec, _ := env.Engine.GetVote(env.Ctx)
	if len(rec.Songs) != 1 {
		t.Fatalf("close must keep the vote record")
	}
}

func TestTimedVoteExpires(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A", "B"}, DurationSeconds: 30})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClosesAt != domain.Millis(env.clock.Add(30*time.Second)) {
		t.Fatalf("unexpected closesAt %d", rec.ClosesAt)
	}
	closed, err := env.Engine.CloseExpiredVote(env.Ctx)
	if err != nil || closed {
		t.Fatalf("vote closed too early: %v %v", closed, err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "early", 0); err != nil {
		t.Fatal(err)
	}
	env.advance(31 * time.Second)
	if _, err := env.Engine.CastVote(env.Ctx, "late", 0); !errors.Is(err, engine.ErrVotingClosed) {
		t.Fatalf("expected voting closed after deadline, got %v", err)
	}
	closed, err = env.Engine.CloseExpiredVote(env.Ctx)
	if err != nil || !closed {
		t.Fatalf("expected sweep to close the vote: %v %v", closed, err)
	}
	st, _ := env.Engine.GetState(env.Ctx)
	if st.VoteOpen {
		t.Fatalf("vote still open after sweep")
	}
	closed, _ = env.Engine.CloseExpiredVote(env.Ctx)
	if closed {
		t.Fatalf("second sweep must be a no-op")
	}
}

func TestConcurrentVotesAreAllCounted(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartVote(env.Ctx, engine.StartVoteOptions{Songs: []string{"A", "B"}}); err != nil {
		t.Fatal(err)
	}
	const voters = 25
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.CastVote(env.Ctx, fmt.Sprintf("client-%d", i), i%2)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	rec, _ := env.Engine.GetVote(env.Ctx)
	if rec.TotalVotes != voters || len(rec.Votes) != voters {
		t.Fatalf("lost votes: total=%d ballots=%d", rec.TotalVotes, len(rec.Votes))
	}
}

func TestSubmitRequiresAIEnabled(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{DedicatedTo: "Marco"}); !errors.Is(err, engine.ErrAIDisabled) {
		t.Fatalf("expected ai disabled, got %v", err)
	}
	env.enableAI(t)
	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{Personality: engine.SplitPersonality("allegro, testardo,, ")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != domain.RequestPending || req.DedicatedTo != "N/A" || req.Occasion != "N/A" || req.UserName != "Anonimo" {
		t.Fatalf("unexpected defaults: %+v", req)
	}
	if len(req.Personality) != 2 || req.Personality[1] != "testardo" {
		t.Fatalf("unexpected personality %v", req.Personality)
	}
	queue, _ := env.Engine.GetQueue(env.Ctx)
	if len(queue.Requests) != 1 || queue.Requests[0].ID != req.ID {
		t.Fatalf("request not queued: %+v", queue)
	}
}

func TestModerationMovesRequests(t *testing.T) {
	env := newTestEnv(t)
	env.enableAI(t)
	a, _ := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{DedicatedTo: "A"})
	b, _ := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{DedicatedTo: "B"})

	approved, err := env.Engine.ApproveRequest(env.Ctx, a.ID)
	if err != nil || approved.Status != domain.RequestApproved {
		t.Fatalf("approve: %+v %v", approved, err)
	}
	rejected, err := env.Engine.RejectRequest(env.Ctx, b.ID)
	if err != nil || rejected.Status != domain.RequestRejected {
		t.Fatalf("reject: %+v %v", rejected, err)
	}
	queue, _ := env.Engine.GetQueue(env.Ctx)
	if len(queue.Requests) != 0 || len(queue.Approved) != 1 || len(queue.Rejected) != 1 {
		t.Fatalf("unexpected queue %+v", queue)
	}
	if _, err := env.Engine.ApproveRequest(env.Ctx, a.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("approved request cannot be moderated again, got %v", err)
	}
	if _, err := env.Engine.RejectRequest(env.Ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateSongOnlyFromApproved(t *testing.T) {
	env := newTestEnv(t)
	env.enableAI(t)
	pending, _ := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{DedicatedTo: "P"})
	if _, err := env.Engine.GenerateSong(env.Ctx, pending.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("pending request: expected not found, got %v", err)
	}
	if _, err := env.Engine.RejectRequest(env.Ctx, pending.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GenerateSong(env.Ctx, pending.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("rejected request: expected not found, got %v", err)
	}

	req := env.approvedRequest(t, "Giulia")
	song, err := env.Engine.GenerateSong(env.Ctx, req.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if song.Status != domain.SongGenerated || song.RequestID != req.ID || song.DedicatedTo != "Giulia" {
		t.Fatalf("unexpected song %+v", song)
	}
	if song.Lyrics.Title != "Canzone per Giulia" || song.Genre != "rock-italiano" {
		t.Fatalf("composition not copied: %+v", song)
	}
	songs, _ := env.Engine.ListSongs(env.Ctx)
	if len(songs) != 1 {
		t.Fatalf("expected one stored song, got %d", len(songs))
	}
}

func TestGenerateSongFailures(t *testing.T) {
	env := newTestEnv(t)
	env.enableAI(t)
	req := env.approvedRequest(t, "Luca")

	env.Gen.err = errors.New("Gemini API error: 500")
	_, err := env.Engine.GenerateSong(env.Ctx, req.ID)
	var ge *engine.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected generation error, got %v", err)
	}

	env.Gen.err = nil
	bad := sampleComposition("Senza ponte")
	bad.Lyrics.Bridge = nil
	env.Gen.comp = bad
	if _, err := env.Engine.GenerateSong(env.Ctx, req.ID); !errors.As(err, &ge) {
		t.Fatalf("expected schema violation to fail generation, got %v", err)
	}
	songs, _ := env.Engine.ListSongs(env.Ctx)
	if len(songs) != 0 {
		t.Fatalf("failed generation must not store songs")
	}

	// request stays approved and can be retried
	env.Gen.comp = domain.Composition{}
	if _, err := env.Engine.GenerateSong(env.Ctx, req.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	failures, err := env.Events.Latest(env.Ctx, 10, events.Filter{Type: events.SongGenerationFailed})
	if err != nil || len(failures) != 2 {
		t.Fatalf("expected two failure events, got %d %v", len(failures), err)
	}
}

func TestSetCurrentSongKeepsOneActive(t *testing.T) {
	env := newTestEnv(t)
	env.enableAI(t)
	req := env.approvedRequest(t, "Sara")
	first, _ := env.Engine.GenerateSong(env.Ctx, req.ID)
	second, _ := env.Engine.GenerateSong(env.Ctx, req.ID)

	if _, err := env.Engine.SetCurrentSong(env.Ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	cur, err := env.Engine.SetCurrentSong(env.Ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.ID != second.ID || cur.Title != second.Lyrics.Title || cur.DedicatedTo != "Sara" {
		t.Fatalf("unexpected current song %+v", cur)
	}
	songs, _ := env.Engine.ListSongs(env.Ctx)
	active := 0
	for _, s := range songs {
		if s.Status == domain.SongActive {
			active++
			if s.ID != second.ID {
				t.Fatalf("wrong song active: %s", s.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active song, got %d", active)
	}
	got, _ := env.Engine.CurrentSong(env.Ctx)
	if got == nil || got.ID != second.ID {
		t.Fatalf("state not mirrored: %+v", got)
	}
	if _, err := env.Engine.SetCurrentSong(env.Ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkPlayedClearsOnlyMatchingCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.enableAI(t)
	req := env.approvedRequest(t, "Anna")
	live, _ := env.Engine.GenerateSong(env.Ctx, req.ID)
	other, _ := env.Engine.GenerateSong(env.Ctx, req.ID)
	if _, err := env.Engine.SetCurrentSong(env.Ctx, live.ID); err != nil {
		t.Fatal(err)
	}

	played, err := env.Engine.MarkPlayed(env.Ctx, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if played.Status != domain.SongPlayed || played.PlayedAt == 0 {
		t.Fatalf("unexpected played song %+v", played)
	}
	cur, _ := env.Engine.CurrentSong(env.Ctx)
	if cur == nil || cur.ID != live.ID {
		t.Fatalf("current song must be untouched, got %+v", cur)
	}

	if _, err := env.Engine.MarkPlayed(env.Ctx, live.ID); err != nil {
		t.Fatal(err)
	}
	cur, _ = env.Engine.CurrentSong(env.Ctx)
	if cur != nil {
		t.Fatalf("current song must be cleared, got %+v", cur)
	}
	songs, _ := env.Engine.ListSongs(env.Ctx)
	if len(songs) != 2 {
		t.Fatalf("played songs stay listed, got %d", len(songs))
	}
	if _, err := env.Engine.MarkPlayed(env.Ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMergeStateAndReset(t *testing.T) {
	env := newTestEnv(t)
	on := true
	st, err := env.Engine.MergeState(env.Ctx, engine.StatePatch{AIEnabled: &on, VoteOpen: &on})
	if err != nil {
		t.Fatal(err)
	}
	if !st.AIEnabled || !st.VoteOpen || st.LastUpdate != domain.Millis(*env.clock) {
		t.Fatalf("merge failed: %+v", st)
	}
	req := env.approvedRequest(t, "Reset")
	song, _ := env.Engine.GenerateSong(env.Ctx, req.ID)
	if _, err := env.Engine.SetCurrentSong(env.Ctx, song.ID); err != nil {
		t.Fatal(err)
	}

	st, err = env.Engine.Reset(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.AIEnabled || st.VoteOpen || st.CurrentAISong != nil {
		t.Fatalf("reset failed: %+v", st)
	}
	queue, _ := env.Engine.GetQueue(env.Ctx)
	songs, _ := env.Engine.ListSongs(env.Ctx)
	if len(queue.Approved) != 1 || len(songs) != 1 {
		t.Fatalf("reset must keep queue and songs")
	}

	st, err = env.Engine.MergeState(env.Ctx, engine.StatePatch{SetCurrentAISong: true, CurrentAISong: &domain.CurrentSong{ID: "manual", Title: "Manuale"}})
	if err != nil || st.CurrentAISong == nil || st.CurrentAISong.ID != "manual" {
		t.Fatalf("explicit current song not stored: %+v %v", st, err)
	}
	st, err = env.Engine.MergeState(env.Ctx, engine.StatePatch{SetCurrentAISong: true})
	if err != nil || st.CurrentAISong != nil {
		t.Fatalf("explicit null must clear the current song: %+v %v", st, err)
	}
}

func TestEventsAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	ctx := engine.WithActor(env.Ctx, "operator")
	if _, err := env.Engine.StartVote(ctx, engine.StartVoteOptions{Songs: []string{"A"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, "client-9", 0); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Events.Latest(env.Ctx, 10, events.Filter{Topic: events.TopicVote})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != events.VoteCast || evts[0].EntityID != "client-9" || evts[0].Actor != "anonymous" {
		t.Fatalf("unexpected vote events %+v", evts)
	}
	if evts[1].Type != events.VoteStarted || evts[1].Actor != "operator" {
		t.Fatalf("unexpected start event %+v", evts[1])
	}
	if got := env.Hub.types(events.TopicVote); len(got) != 2 || got[1] != events.VoteCast {
		t.Fatalf("unexpected vote broadcasts %v", got)
	}
	if got := env.Hub.types(events.TopicState); len(got) != 1 || got[0] != events.VoteStarted {
		t.Fatalf("unexpected state broadcasts %v", got)
	}
}
