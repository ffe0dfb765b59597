package server

import (
	"livehub/internal/domain"
)

// Vote actions.
const (
	ActionStartVote = "start_vote"
	ActionCloseVote = "close_vote"
	ActionVote      = "vote"
)

// AI queue actions.
const (
	ActionSubmitRequest      = "submit_request"
	ActionApproveRequest     = "approve_request"
	ActionRejectRequest      = "reject_request"
	ActionGenerateSong       = "generate_song"
	ActionSetCurrentSong     = "set_current_song"
	ActionMarkPlayed         = "mark_played"
	ActionListGeneratedSongs = "list_generated_songs"
)

// Request payloads

// StatePatchRequest merges into the global state. currentVote and
// currentAISong accept null to clear them.
type StatePatchRequest struct {
	_             struct{} `json:"-" additionalProperties:"true"`
	VoteOpen      *bool    `json:"voteOpen,omitempty"`
	AIEnabled     *bool    `json:"aiEnabled,omitempty"`
	CurrentVote   any      `json:"currentVote,omitempty" doc:"VoteRecord or null"`
	CurrentAISong any      `json:"currentAISong,omitempty" doc:"{id,title,dedicatedTo,lyrics} or null"`
}

type VoteActionRequest struct {
	_               struct{} `json:"-" additionalProperties:"true"`
	Action          string   `json:"action,omitempty" doc:"start_vote, close_vote or vote"`
	Songs           []string `json:"songs,omitempty"`
	DurationSeconds int      `json:"durationSeconds,omitempty" minimum:"0"`
	SongIndex       *int     `json:"songIndex,omitempty"`
	ClientID        string   `json:"clientId,omitempty"`
}

type AIActionRequest struct {
	_           struct{} `json:"-" additionalProperties:"true"`
	Action      string   `json:"action,omitempty" doc:"submit_request, approve_request, reject_request, generate_song, set_current_song, mark_played or list_generated_songs"`
	DedicatedTo string   `json:"dedicatedTo,omitempty"`
	Occasion    string   `json:"occasion,omitempty"`
	Personality any      `json:"personality,omitempty" doc:"list of traits or a comma-separated string"`
	Story       string   `json:"story,omitempty"`
	Email       string   `json:"email,omitempty"`
	UserName    string   `json:"userName,omitempty"`
	RequestID   string   `json:"requestId,omitempty"`
	SongID      string   `json:"songId,omitempty"`
}

// Response payloads

type VoteActionResponse struct {
	Success bool                `json:"success"`
	Vote    *domain.VoteRecord  `json:"vote,omitempty"`
	State   *domain.GlobalState `json:"state,omitempty"`
	Results *domain.Tally       `json:"results,omitempty"`
}

type AIActionResponse struct {
	Success     bool                    `json:"success"`
	Request     *domain.Request         `json:"request,omitempty"`
	Song        *domain.GeneratedSong   `json:"song,omitempty"`
	CurrentSong *domain.CurrentSong     `json:"currentSong,omitempty"`
	Songs       *[]domain.GeneratedSong `json:"songs,omitempty"`
}

type CurrentSongResponse struct {
	CurrentSong *domain.CurrentSong `json:"currentSong"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// apiErrorDoc documents the error envelope in the OpenAPI output.
type apiErrorDoc struct {
	Error   string `json:"error" example:"VOTING_CLOSED"`
	Message string `json:"message" example:"voting is closed"`
}
