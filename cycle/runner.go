package cycle

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"viewcheck/fixture"
	"viewcheck/logger"
	"viewcheck/metrics"
	"viewcheck/models"
	"viewcheck/schema"
	"viewcheck/store"
)

// Report is the structured result of one cycle. Phases that did not run are zero.
type Report struct {
	RunID        string        `json:"run_id"`
	Tag          string        `json:"tag"`
	AccountID    int64         `json:"account_id"`
	CustomerID   string        `json:"customer_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Cleanup      CleanupResult `json:"cleanup"`
	Seed         SeedResult    `json:"seed"`
	Settle       Convergence   `json:"settle"`
	Verification Verification  `json:"verification"`
	Error        string        `json:"error,omitempty"`
}

// Passed is true when every phase ran and every view is ok.
func (r Report) Passed() bool {
	return r.Error == "" && len(r.Verification.Views) > 0 && r.Verification.Err() == nil
}

// Sink receives every finished report (Kafka, history, websocket hub).
type Sink interface {
	Deliver(ctx context.Context, r Report) error
}

type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) Deliver(ctx context.Context, r Report) error { return f(ctx, r) }

// Runner owns the phase order: Clean → Seed → Settle → Verify.
type Runner struct {
	Store     Store
	Validator *schema.Validator
	Identity  fixture.Identity
	Settle    SettleOptions
	Verify    VerifyOptions
	Sinks     []Sink
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// NewRun captures the clock and draws fresh identifiers for one cycle.
func (r *Runner) NewRun() fixture.Run {
	return fixture.NewRun(r.Identity, r.now())
}

func (r *Runner) expectations(run fixture.Run) []Expectation {
	return DefaultExpectations(run, r.Verify)
}

// Run executes one full cycle. The returned error is nil only when the report passed.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	metrics.IncCycle()
	run := r.NewRun()
	rep := Report{
		RunID:      run.ID,
		Tag:        run.Tag,
		AccountID:  run.AccountID,
		CustomerID: run.CustomerID.Hex(),
		StartedAt:  r.now(),
	}
	logger.Info("cycle started", logger.FieldKV("run_id", run.ID), logger.FieldKV("account_id", run.AccountID))

	rep.Cleanup = Clean(ctx, r.Store, run)
	metrics.AddCleanupDiagnostics(len(rep.Cleanup.Diagnostics))

	seed, err := Seed(ctx, r.Store, r.Validator, run)
	rep.Seed = seed
	if err != nil {
		metrics.IncSeedFailure()
		return r.finish(ctx, rep, err)
	}

	exps := r.expectations(run)
	conv, err := Settle(ctx, func(ctx context.Context) (bool, error) {
		v, err := Verify(ctx, r.Store, r.Validator, exps)
		if err != nil {
			return false, err
		}
		return !v.Pending(), nil
	}, r.Settle)
	rep.Settle = conv
	metrics.ObserveSettle(conv.Attempts, conv.Converged)
	if err != nil {
		return r.finish(ctx, rep, err)
	}

	ver, err := Verify(ctx, r.Store, r.Validator, exps)
	rep.Verification = ver
	if err != nil {
		return r.finish(ctx, rep, err)
	}
	return r.finish(ctx, rep, ver.Err())
}

// VerifyOnly checks the views for the configured identity without touching the
// source. The stats window is anchored at the burst found in the source, not at
// the current clock; with no seeded burst the window check is skipped.
func (r *Runner) VerifyOnly(ctx context.Context) (Verification, error) {
	run := r.NewRun()
	t0, found, err := seededBurstStart(ctx, r.Store, run)
	if err != nil {
		return Verification{}, err
	}
	exps := r.expectations(run)
	for i := range exps {
		if exps[i].View != models.MinuteStatsColl {
			continue
		}
		if found {
			exps[i].RecentSince = t0.Truncate(r.Verify.withDefaults().StatsWindow)
		} else {
			exps[i].MinRecentCount = 0
		}
	}
	return Verify(ctx, r.Store, r.Validator, exps)
}

// seededBurstStart returns the start of the newest burst bucket tagged for run.
func seededBurstStart(ctx context.Context, st Store, run fixture.Run) (time.Time, bool, error) {
	filter := bson.M{"account_id": run.AccountID, "meta.tag": run.Tag}
	docs, err := st.Find(ctx, store.Source, models.TransactionsColl, store.Query{
		Filter: filter,
		Sort:   bson.D{{Key: "bucket_start_date", Value: -1}},
		Limit:  2,
	})
	if err != nil {
		return time.Time{}, false, newPhaseError("verify", store.Source, models.TransactionsColl, filter, err)
	}
	historical := float64(fixture.HistoricalStart.UnixMilli())
	for _, d := range docs {
		ms, ok := sortKey(d["bucket_start_date"])
		if ok && ms != historical {
			return time.UnixMilli(int64(ms)).UTC(), true, nil
		}
	}
	return time.Time{}, false, nil
}

func (r *Runner) finish(ctx context.Context, rep Report, err error) (Report, error) {
	rep.FinishedAt = r.now()
	metrics.ObserveCycle(rep.FinishedAt.Sub(rep.StartedAt))
	if err != nil {
		rep.Error = err.Error()
		metrics.IncCycleFailure()
		logger.Error("cycle failed", err, logger.FieldKV("run_id", rep.RunID))
	} else {
		logger.Info("cycle passed", logger.FieldKV("run_id", rep.RunID),
			logger.FieldKV("attempts", rep.Settle.Attempts))
	}
	for _, s := range r.Sinks {
		// Sinks still get the report when ctx was cancelled mid-cycle.
		if serr := s.Deliver(context.WithoutCancel(ctx), rep); serr != nil {
			logger.Error("report delivery failed", serr, logger.FieldKV("run_id", rep.RunID))
		}
	}
	return rep, err
}

// IsSeedFailure reports whether err aborted the cycle before the settle phase.
func IsSeedFailure(err error) bool {
	var perr *PhaseError
	return errors.As(err, &perr) && perr.Phase == "seed"
}
