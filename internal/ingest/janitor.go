package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor sweeps on every tick until ctx is done. A non-positive interval
// disables it.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("scheduled retention sweep failed", zap.Error(err))
			}
		}
	}
}
