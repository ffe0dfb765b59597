package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"livehub/internal/domain"
	"livehub/internal/engine"
	livehubsdk "livehub/sdk/go"
)

func stateCmd() *cobra.Command {
	st := &cobra.Command{Use: "state", Short: "Global show state"}
	st.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the global state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().State(cmd.Context())
			if err != nil {
				return err
			}
			return printState(s)
		},
	})

	var voteOpen, aiEnabled, clearSong bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Toggle voting or AI requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var patch livehubsdk.StatePatch
			if cmd.Flags().Changed("vote-open") {
				patch.VoteOpen = &voteOpen
			}
			if cmd.Flags().Changed("ai-enabled") {
				patch.AIEnabled = &aiEnabled
			}
			if patch.VoteOpen == nil && patch.AIEnabled == nil && !clearSong {
				return fmt.Errorf("nothing to change; use --vote-open, --ai-enabled or --clear-current-song")
			}
			var s livehubsdk.State
			var err error
			if patch.VoteOpen != nil || patch.AIEnabled != nil {
				if s, err = c.MergeState(cmd.Context(), patch); err != nil {
					return err
				}
			}
			if clearSong {
				if s, err = c.ClearCurrentSong(cmd.Context()); err != nil {
					return err
				}
			}
			return printState(s)
		},
	}
	set.Flags().BoolVar(&voteOpen, "vote-open", false, "open or close voting")
	set.Flags().BoolVar(&aiEnabled, "ai-enabled", false, "accept song requests")
	set.Flags().BoolVar(&clearSong, "clear-current-song", false, "remove the song shown to the audience")
	st.AddCommand(set)

	st.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Emergency stop: close voting, disable requests, clear the current song",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().Reset(cmd.Context())
			if err != nil {
				return err
			}
			return printState(s)
		},
	})
	return st
}

func printState(s livehubsdk.State) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	tw := newTable()
	tw.AppendHeader(tableRow("Field", "Value"))
	tw.AppendRow(tableRow("Voting open", s.VoteOpen))
	tw.AppendRow(tableRow("AI requests", s.AIEnabled))
	if s.CurrentVote != nil {
		tw.AppendRow(tableRow("Vote songs", strings.Join(s.CurrentVote.Songs, ", ")))
		tw.AppendRow(tableRow("Ballots", s.CurrentVote.TotalVotes))
	}
	if s.CurrentAISong != nil {
		tw.AppendRow(tableRow("Current song", fmt.Sprintf("%s (for %s)", s.CurrentAISong.Title, s.CurrentAISong.DedicatedTo)))
	}
	tw.AppendRow(tableRow("Updated", ago(s.LastUpdate)))
	tw.Render()
	return nil
}

func voteCmd() *cobra.Command {
	v := &cobra.Command{Use: "vote", Short: "Audience vote"}

	var songs []string
	var duration int
	start := &cobra.Command{
		Use:   "start",
		Short: "Open a vote (default songs from livehub.yml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []string
			if cmd.Flags().Changed("songs") {
				list = songs
				if list == nil {
					list = []string{}
				}
			}
			rec, err := newClient().StartVote(cmd.Context(), list, duration)
			if err != nil {
				return err
			}
			return printTally(rec)
		},
	}
	start.Flags().StringSliceVar(&songs, "songs", nil, "comma-separated song titles")
	start.Flags().IntVar(&duration, "duration", 0, "close automatically after this many seconds")
	v.AddCommand(start)

	v.AddCommand(&cobra.Command{
		Use:   "close",
		Short: "Close the vote",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newClient().CloseVote(cmd.Context())
			if err != nil {
				return err
			}
			return printState(s)
		},
	})

	v.AddCommand(&cobra.Command{
		Use:   "results",
		Short: "Show the tally",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := newClient().Vote(cmd.Context())
			if err != nil {
				return err
			}
			return printTally(rec)
		},
	})

	cast := &cobra.Command{
		Use:   "cast CLIENT_ID SONG_INDEX",
		Short: "Cast a ballot as an audience client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("song index: %w", err)
			}
			t, err := newClient().CastVote(cmd.Context(), args[0], idx)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(t)
			}
			fmt.Printf("ballot recorded, %d total\n", t.TotalVotes)
			return nil
		},
	}
	v.AddCommand(cast)
	return v
}

// printTally renders the vote with the same percentages the server reports.
func printTally(rec livehubsdk.VoteRecord) error {
	votes := make(map[string]domain.Ballot, len(rec.Votes))
	for id, b := range rec.Votes {
		votes[id] = domain.Ballot{SongIndex: b.SongIndex, Timestamp: b.Timestamp}
	}
	tally := engine.TallyVotes(domain.VoteRecord{Songs: rec.Songs, Votes: votes, TotalVotes: rec.TotalVotes}, time.Now())
	if viper.GetBool("json") {
		return printJSON(tally)
	}
	tw := newTable()
	tw.AppendHeader(tableRow("#", "Song", "Votes", "%"))
	for i, r := range tally.Results {
		tw.AppendRow(tableRow(i, r.Name, r.Votes, fmt.Sprintf("%d%%", r.Percentage)))
	}
	footer := fmt.Sprintf("%d ballots", tally.TotalVotes)
	if rec.ClosesAt > 0 {
		footer += ", closes " + ago(rec.ClosesAt)
	}
	tw.AppendFooter(tableRow("", footer, "", ""))
	tw.Render()
	return nil
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Song request queue"}
	q.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending, approved and rejected requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := newClient().Queue(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(queue)
			}
			tw := newTable()
			tw.AppendHeader(tableRow("ID", "Status", "For", "Occasion", "From", "Submitted"))
			for _, list := range [][]livehubsdk.Request{queue.Requests, queue.Approved, queue.Rejected} {
				for _, r := range list {
					tw.AppendRow(tableRow(r.ID, r.Status, r.DedicatedTo, r.Occasion, r.UserName, ago(r.Timestamp)))
				}
			}
			tw.Render()
			return nil
		},
	})
	q.AddCommand(requestActionCmd("approve", "Approve a pending request", (*livehubsdk.Client).ApproveRequest))
	q.AddCommand(requestActionCmd("reject", "Reject a pending request", (*livehubsdk.Client).RejectRequest))

	var in livehubsdk.SongRequest
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a song request as the audience would",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newClient().SubmitRequest(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSONOrTable(r)
		},
	}
	submit.Flags().StringVar(&in.DedicatedTo, "dedicated-to", "", "who the song is for")
	submit.Flags().StringVar(&in.Occasion, "occasion", "", "occasion")
	submit.Flags().StringSliceVar(&in.Personality, "personality", nil, "comma-separated traits")
	submit.Flags().StringVar(&in.Story, "story", "", "a short story to weave in")
	submit.Flags().StringVar(&in.Email, "email", "", "contact email")
	submit.Flags().StringVar(&in.UserName, "user-name", "", "submitter name")
	q.AddCommand(submit)
	return q
}

type requestFunc func(*livehubsdk.Client, context.Context, string) (livehubsdk.Request, error)

func requestActionCmd(use, short string, fn requestFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " REQUEST_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := fn(newClient(), cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(r)
		},
	}
}

func songsCmd() *cobra.Command {
	s := &cobra.Command{Use: "songs", Short: "Generated songs"}
	s.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List generated songs",
		RunE: func(cmd *cobra.Command, args []string) error {
			songs, err := newClient().Songs(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(songs)
			}
			tw := newTable()
			tw.AppendHeader(tableRow("ID", "Title", "For", "Status", "Genre", "Generated"))
			for _, song := range songs {
				tw.AppendRow(tableRow(song.ID, truncate(song.Lyrics.Title, 40), song.DedicatedTo, song.Status, song.Genre, ago(song.GeneratedAt)))
			}
			tw.Render()
			return nil
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "generate REQUEST_ID",
		Short: "Write lyrics for an approved request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			song, err := newClient().GenerateSong(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSong(song.Lyrics, song.DedicatedTo, song)
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the song on screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := newClient().CurrentSong(cmd.Context())
			if err != nil {
				return err
			}
			if cur == nil {
				if viper.GetBool("json") {
					return printJSON(map[string]any{"currentSong": nil})
				}
				fmt.Println("no current song")
				return nil
			}
			return printSong(cur.Lyrics, cur.DedicatedTo, cur)
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "activate SONG_ID",
		Short: "Put a song on screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := newClient().SetCurrentSong(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSong(cur.Lyrics, cur.DedicatedTo, cur)
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "played SONG_ID",
		Short: "Mark a song as played",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			song, err := newClient().MarkPlayed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(song)
		},
	})
	return s
}

// printSong prints lyrics section by section, or raw as JSON.
func printSong(l livehubsdk.Lyrics, dedicatedTo string, raw any) error {
	if viper.GetBool("json") {
		return printJSON(raw)
	}
	fmt.Printf("%s (per %s)\n", l.Title, dedicatedTo)
	for _, sec := range []struct {
		name  string
		lines []string
	}{
		{"Strofa 1", l.Verse1},
		{"Ritornello", l.Chorus},
		{"Strofa 2", l.Verse2},
		{"Ponte", l.Bridge},
		{"Ritornello finale", l.FinalChorus},
	} {
		fmt.Printf("\n[%s]\n%s\n", sec.name, strings.Join(sec.lines, "\n"))
	}
	return nil
}
