package cycle

import (
	"context"
	"time"

	"viewcheck/logger"
)

// Every runs a cycle immediately and then once per interval until ctx ends.
// Cycle failures are reported through the sinks and do not stop the loop.
func (r *Runner) Every(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
			if IsSeedFailure(err) {
				logger.Error("scheduled cycle could not seed the source", err)
			} else {
				logger.Warn("scheduled cycle did not pass", err, logger.FieldKV("interval", interval.String()))
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start runs Every in the background. The returned stop cancels the loop and
// blocks until the in-flight cycle, including its sink deliveries, has returned.
func (r *Runner) Start(ctx context.Context, interval time.Duration) (stop func()) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Every(loopCtx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}
