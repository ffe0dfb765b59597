package domain

import "time"

// Request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// Generated song statuses.
const (
	SongGenerated = "generated"
	SongActive    = "active"
	SongPlayed    = "played"
)

// Millis converts t to the millisecond epoch used on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

type GlobalState struct {
	VoteOpen      bool         `json:"voteOpen"`
	AIEnabled     bool         `json:"aiEnabled"`
	CurrentVote   *VoteRecord  `json:"currentVote"`
	CurrentAISong *CurrentSong `json:"currentAISong"`
	LastUpdate    int64        `json:"lastUpdate"`
}

type VoteRecord struct {
	Songs      []string          `json:"songs"`
	Votes      map[string]Ballot `json:"votes"`
	TotalVotes int               `json:"totalVotes"`
	StartTime  int64             `json:"startTime,omitempty"`
	ClosesAt   int64             `json:"closesAt,omitempty"`
}

type Ballot struct {
	SongIndex int   `json:"songIndex"`
	Timestamp int64 `json:"timestamp"`
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

type AIQueue struct {
	Requests []Request `json:"requests"`
	Approved []Request `json:"approved"`
	Rejected []Request `json:"rejected"`
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
	Status      string   `json:"status" enum:"pending,approved,rejected"`
}

// Lyrics is the five-section song body returned by the generator.
type Lyrics struct {
	Title       string   `json:"title"`
	Verse1      []string `json:"verse1"`
	Chorus      []string `json:"chorus"`
	Verse2      []string `json:"verse2"`
	Bridge      []string `json:"bridge"`
	FinalChorus []string `json:"finalChorus"`
}

// Composition is the raw generator output before it is wrapped into a GeneratedSong.
type Composition struct {
	Lyrics Lyrics `json:"lyrics"`
	Genre  string `json:"genre"`
	Mood   string `json:"mood"`
}

type GeneratedSong struct {
	ID          string `json:"id"`
	RequestID   string `json:"requestId"`
	GeneratedAt int64  `json:"generatedAt"`
	Status      string `json:"status" enum:"generated,active,played"`
	DedicatedTo string `json:"dedicatedTo"`
	Occasion    string `json:"occasion"`
	Lyrics      Lyrics `json:"lyrics"`
	Genre       string `json:"genre"`
	Mood        string `json:"mood"`
	PlayedAt    int64  `json:"playedAt,omitempty"`
}

type SongList struct {
	Songs []GeneratedSong `json:"songs"`
}

// CurrentSong is the summary of the active song mirrored into GlobalState.
type CurrentSong struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DedicatedTo string `json:"dedicatedTo"`
	Lyrics      Lyrics `json:"lyrics"`
}

type Event struct {
	ID       int64  `json:"id" db:"id"`
	TS       string `json:"ts" db:"ts" format:"date-time"`
	Type     string `json:"type" db:"type"`
	Topic    string `json:"topic" db:"topic"`
	EntityID string `json:"entity_id,omitempty" db:"entity_id"`
	Actor    string `json:"actor" db:"actor"`
	Payload  string `json:"payload_json" db:"payload_json"`
}
