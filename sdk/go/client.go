// Package livehubsdk is a Go client for the livehub control panel API.
package livehubsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a livehub server. BearerToken is only needed for
// operator actions when the server has auth enabled.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Song generation can take as long
// as the generator timeout, so the default is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 90 * time.Second,
	}
}

type State struct {
	VoteOpen      bool         `json:"voteOpen"`
	AIEnabled     bool         `json:"aiEnabled"`
	CurrentVote   *VoteRecord  `json:"currentVote"`
	CurrentAISong *CurrentSong `json:"currentAISong"`
	LastUpdate    int64        `json:"lastUpdate"`
}

type Ballot struct {
	SongIndex int   `json:"songIndex"`
	Timestamp int64 `json:"timestamp"`
}

type VoteRecord struct {
	Songs      []string          `json:"songs"`
	Votes      map[string]Ballot `json:"votes"`
	TotalVotes int               `json:"totalVotes"`
	StartTime  int64             `json:"startTime,omitempty"`
	ClosesAt   int64             `json:"closesAt,omitempty"`
}

type SongTally struct {
	Name       string `json:"name"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

type Tally struct {
	Results    []SongTally `json:"results"`
	TotalVotes int         `json:"totalVotes"`
	LastUpdate int64       `json:"lastUpdate"`
}

type Request struct {
	ID          string   `json:"id"`
	DedicatedTo string   `json:"dedicatedTo"`
	Occasion    string   `json:"occasion"`
	Personality []string `json:"personality"`
	Story       string   `json:"story"`
	Email       string   `json:"email"`
	UserName    string   `json:"userName"`
	Timestamp   int64    `json:"timestamp"`
	Status      string   `json:"status"`
}

type Queue struct {
	Requests []Request `json:"requests"`
	Approved []Request `json:"approved"`
	Rejected []Request `json:"rejected"`
}

type Lyrics struct {
	Title       string   `json:"title"`
	Verse1      []string `json:"verse1"`
	Chorus      []string `json:"chorus"`
	Verse2      []string `json:"verse2"`
	Bridge      []string `json:"bridge"`
	FinalChorus []string `json:"finalChorus"`
}

type Song struct {
	ID          string `json:"id"`
	RequestID   string `json:"requestId"`
	GeneratedAt int64  `json:"generatedAt"`
	Status      string `json:"status"`
	DedicatedTo string `json:"dedicatedTo"`
	Occasion    string `json:"occasion"`
	Lyrics      Lyrics `json:"lyrics"`
	Genre       string `json:"genre"`
	Mood        string `json:"mood"`
	PlayedAt    int64  `json:"playedAt,omitempty"`
}

type CurrentSong struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DedicatedTo string `json:"dedicatedTo"`
	Lyrics      Lyrics `json:"lyrics"`
}

// StatePatch is the body of a state merge. Nil fields are left out.
type StatePatch struct {
	VoteOpen  *bool `json:"voteOpen,omitempty"`
	AIEnabled *bool `json:"aiEnabled,omitempty"`
}

// SongRequest is what an audience member submits.
type SongRequest struct {
	DedicatedTo string   `json:"dedicatedTo,omitempty"`
	Occasion    string   `json:"occasion,omitempty"`
	Personality []string `json:"personality,omitempty"`
	Story       string   `json:"story,omitempty"`
	Email       string   `json:"email,omitempty"`
	UserName    string   `json:"userName,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// State returns the global state.
func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, "api/state", nil, &resp)
	return resp, err
}

// MergeState patches voteOpen and aiEnabled.
func (c *Client) MergeState(ctx context.Context, patch StatePatch) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodPost, "api/state", patch, &resp)
	return resp, err
}

// ClearCurrentSong sets currentAISong to null.
func (c *Client) ClearCurrentSong(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodPost, "api/state", map[string]any{"currentAISong": nil}, &resp)
	return resp, err
}

// Reset closes voting, disables requests and clears the current song.
func (c *Client) Reset(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodPost, "api/state/reset", nil, &resp)
	return resp, err
}

// Vote returns the vote record.
func (c *Client) Vote(ctx context.Context) (VoteRecord, error) {
	var resp VoteRecord
	err := c.do(ctx, http.MethodGet, "api/vote", nil, &resp)
	return resp, err
}

// StartVote opens a vote. Nil songs uses the server's default list; a
// positive duration closes the vote automatically.
func (c *Client) StartVote(ctx context.Context, songs []string, durationSeconds int) (VoteRecord, error) {
	body := map[string]any{"action": "start_vote"}
	if songs != nil {
		body["songs"] = songs
	}
	if durationSeconds > 0 {
		body["durationSeconds"] = durationSeconds
	}
	var resp struct {
		Vote VoteRecord `json:"vote"`
	}
	err := c.do(ctx, http.MethodPost, "api/vote", body, &resp)
	return resp.Vote, err
}

func (c *Client) CloseVote(ctx context.Context) (State, error) {
	var resp struct {
		State State `json:"state"`
	}
	err := c.do(ctx, http.MethodPost, "api/vote", map[string]any{"action": "close_vote"}, &resp)
	return resp.State, err
}

// CastVote records one ballot and returns the updated tally.
func (c *Client) CastVote(ctx context.Context, clientID string, songIndex int) (Tally, error) {
	body := map[string]any{"action": "vote", "clientId": clientID, "songIndex": songIndex}
	var resp struct {
		Results Tally `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "api/vote", body, &resp)
	return resp.Results, err
}

// Queue returns pending, approved and rejected requests.
func (c *Client) Queue(ctx context.Context) (Queue, error) {
	var resp Queue
	err := c.do(ctx, http.MethodGet, "api/ai", nil, &resp)
	return resp, err
}

func (c *Client) SubmitRequest(ctx context.Context, in SongRequest) (Request, error) {
	body := map[string]any{
		"action":      "submit_request",
		"dedicatedTo": in.DedicatedTo,
		"occasion":    in.Occasion,
		"personality": in.Personality,
		"story":       in.Story,
		"email":       in.Email,
		"userName":    in.UserName,
	}
	return c.requestAction(ctx, body)
}

func (c *Client) ApproveRequest(ctx context.Context, requestID string) (Request, error) {
	return c.requestAction(ctx, map[string]any{"action": "approve_request", "requestId": requestID})
}

func (c *Client) RejectRequest(ctx context.Context, requestID string) (Request, error) {
	return c.requestAction(ctx, map[string]any{"action": "reject_request", "requestId": requestID})
}

func (c *Client) requestAction(ctx context.Context, body map[string]any) (Request, error) {
	var resp struct {
		Request Request `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "api/ai", body, &resp)
	return resp.Request, err
}

// GenerateSong turns an approved request into lyrics.
func (c *Client) GenerateSong(ctx context.Context, requestID string) (Song, error) {
	return c.songAction(ctx, map[string]any{"action": "generate_song", "requestId": requestID})
}

func (c *Client) MarkPlayed(ctx context.Context, songID string) (Song, error) {
	return c.songAction(ctx, map[string]any{"action": "mark_played", "songId": songID})
}

func (c *Client) songAction(ctx context.Context, body map[string]any) (Song, error) {
	var resp struct {
		Song Song `json:"song"`
	}
	err := c.do(ctx, http.MethodPost, "api/ai", body, &resp)
	return resp.Song, err
}

// SetCurrentSong makes songID the one shown to the audience.
func (c *Client) SetCurrentSong(ctx context.Context, songID string) (CurrentSong, error) {
	var resp struct {
		CurrentSong CurrentSong `json:"currentSong"`
	}
	err := c.do(ctx, http.MethodPost, "api/ai", map[string]any{"action": "set_current_song", "songId": songID}, &resp)
	return resp.CurrentSong, err
}

func (c *Client) Songs(ctx context.Context) ([]Song, error) {
	var resp struct {
		Songs []Song `json:"songs"`
	}
	err := c.do(ctx, http.MethodPost, "api/ai", map[string]any{"action": "list_generated_songs"}, &resp)
	return resp.Songs, err
}

// CurrentSong returns nil when no song is active.
func (c *Client) CurrentSong(ctx context.Context) (*CurrentSong, error) {
	var resp struct {
		CurrentSong *CurrentSong `json:"currentSong"`
	}
	err := c.do(ctx, http.MethodGet, "api/ai/current", nil, &resp)
	return resp.CurrentSong, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
