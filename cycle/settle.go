package cycle

import (
	"context"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"viewcheck/logger"
)

// ProbeFunc reports whether the pipeline output is complete.
type ProbeFunc func(ctx context.Context) (bool, error)

type SettleOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	// Fixed sleeps the whole Timeout and probes once, like an unconditional delay.
	Fixed bool
	// Progress, when set, receives a spinner while waiting.
	Progress io.Writer
}

type Convergence struct {
	Converged bool          `json:"converged"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Fixed     bool          `json:"fixed"`
}

// Settle waits for probe to report convergence or for the timeout to elapse.
// Running out of time is reported through Convergence, not as an error;
// errors come from the probe or from ctx.
func Settle(ctx context.Context, probe ProbeFunc, opts SettleOptions) (Convergence, error) {
	start := time.Now()
	conv := Convergence{Fixed: opts.Fixed}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("waiting for pipeline"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
	}

	logger.Info("waiting for stream processors",
		logger.FieldKV("timeout", opts.Timeout.String()),
		logger.FieldKV("interval", opts.Interval.String()),
		logger.FieldKV("fixed", opts.Fixed))

	if opts.Fixed {
		if err := sleep(ctx, opts.Timeout); err != nil {
			conv.Elapsed = time.Since(start)
			return conv, err
		}
		conv.Attempts = 1
		done, err := probe(ctx)
		conv.Converged = done
		conv.Elapsed = time.Since(start)
		return conv, err
	}

	deadline := start.Add(opts.Timeout)
	for {
		conv.Attempts++
		if bar != nil {
			_ = bar.Add(1)
		}
		done, err := probe(ctx)
		if err != nil {
			conv.Elapsed = time.Since(start)
			return conv, err
		}
		if done {
			conv.Converged = true
			conv.Elapsed = time.Since(start)
			return conv, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			conv.Elapsed = time.Since(start)
			return conv, nil
		}
		wait := opts.Interval
		if wait > remaining {
			wait = remaining
		}
		logger.Debug("pipeline not converged yet", logger.FieldKV("attempt", conv.Attempts))
		if err := sleep(ctx, wait); err != nil {
			conv.Elapsed = time.Since(start)
			return conv, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
