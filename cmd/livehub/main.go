package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	livehubsdk "livehub/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "livehub",
	Short: "Livehub live-event control panel",
	Long: `Livehub runs the backend of a live show: an audience vote, a moderated
queue of song requests and AI-written songs dedicated to people in the room.
- serve: start the HTTP API (and /ws push feed) for dashboards and audience pages.
- state, vote, queue, songs: operate a running server from the terminal.
- log tail: read the local event log.
Settings come from flags or LIVEHUB_* environment variables; show settings
live in livehub.yml inside the workspace.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LIVEHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "livehub server URL for console commands")
	rootCmd.PersistentFlags().String("token", "", "operator bearer token for console commands")
	rootCmd.PersistentFlags().String("storage-url", "", "storage URL (overrides storage.url)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "server", "token", "storage-url", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(songsCmd())
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newClient() *livehubsdk.Client {
	c := livehubsdk.New(viper.GetString("server"))
	c.BearerToken = viper.GetString("token")
	return c
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

// ago renders a millisecond timestamp as "3 minutes ago".
func ago(ms int64) string {
	if ms == 0 {
		return ""
	}
	return humanize.Time(time.UnixMilli(ms))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func tableRow(cells ...any) table.Row {
	return table.Row(cells)
}
