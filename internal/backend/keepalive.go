package backend

import (
	"context"
	"log/slog"
	"time"
)

// KeepAlive pings the backend health endpoint every interval until ctx is
// done, keeping a scale-to-zero host warm. A non-positive interval disables it.
func KeepAlive(ctx context.Context, api API, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := api.Health(ctx); err != nil {
				logger.WarnContext(ctx, "backend keep-alive ping failed", "error", err)
				continue
			}
			logger.DebugContext(ctx, "backend keep-alive ping ok")
		}
	}
}
