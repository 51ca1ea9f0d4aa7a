package cache

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor purges expired entries every interval until ctx is cancelled.
// Backends that do not implement Purger are left alone.
func RunJanitor(ctx context.Context, backend Backend, interval time.Duration) {
	purger, ok := backend.(Purger)
	if !ok {
		slog.Debug("Cache janitor disabled: backend expires entries itself")
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				slog.Error("Cache janitor purge failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Cache janitor purged expired entries", "count", n)
			}
		}
	}
}
