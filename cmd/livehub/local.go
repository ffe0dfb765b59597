package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"livehub/internal/app"
	"livehub/internal/config"
	"livehub/internal/events"
	"livehub/internal/migrate"
	"livehub/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			rt, err := app.Open(app.Options{
				Workspace:  viper.GetString("workspace"),
				StorageURL: viper.GetString("storage-url"),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg := rt.Config
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:         rt.Engine,
				Hub:            rt.Hub,
				BasePath:       basePath,
				StaticRedirect: cfg.Server.StaticRedirect,
				AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
				Auth:           server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: logger},
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				logger.Info("serving livehub", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", basePath+"/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return server.RunVoteSweeper(ctx, rt.Engine, cfg.SweepInterval(), logger)
			})
			g.Go(func() error {
				return server.NewWebhookDispatcher(rt.Events, cfg.Webhooks, logger).Run(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (default from livehub.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from livehub.yml)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := app.LoadConfig(workspace)
			if err != nil {
				return err
			}
			conn, err := app.OpenDB(workspace, storageURL(cfg))
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"version": v})
			}
			fmt.Printf("schema at version %d\n", v)
			return nil
		},
	}
}

func storageURL(cfg *config.Config) string {
	if u := viper.GetString("storage-url"); u != "" {
		return u
	}
	return cfg.Storage.URL
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect show config",
		Long:  "livehub.yml holds the show settings: default songs, request placeholders, the lyric generator and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate livehub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default livehub.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Operator tokens"}
	var subject string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an operator token with LIVEHUB_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.IssueToken(viper.GetString("jwt-secret"), subject, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "operator", "operator name recorded in the event log")
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for none)")
	tok.AddCommand(issue)
	return tok
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var f events.Filter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := app.LoadConfig(workspace)
			if err != nil {
				return err
			}
			conn, err := app.OpenDB(workspace, storageURL(cfg))
			if err != nil {
				return err
			}
			defer conn.Close()
			evts, err := events.Writer{DB: conn}.Latest(cmd.Context(), n, f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(evts)
			}
			tw := newTable()
			tw.AppendHeader(tableRow("ID", "When", "Type", "Entity", "Actor", "Payload"))
			for _, e := range evts {
				when := e.TS
				if ts, err := time.Parse(time.RFC3339, e.TS); err == nil {
					when = ago(ts.UnixMilli())
				}
				tw.AppendRow(tableRow(e.ID, when, e.Type, e.EntityID, e.Actor, truncate(strings.TrimSpace(e.Payload), 60)))
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.Topic, "topic", "", "topic filter (state, vote, ai)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}
