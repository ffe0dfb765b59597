package server

import (
	"context"
	"log/slog"
	"time"

	"livehub/internal/engine"
)

// RunVoteSweeper closes timed votes once their closesAt has passed, so a
// vote ends even when no console is watching. It returns when ctx is done.
func RunVoteSweeper(ctx context.Context, e engine.Engine, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		closed, err := e.CloseExpiredVote(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("vote sweep failed", "error", err)
			continue
		}
		if closed {
			logger.Info("timed vote closed")
		}
	}
}
