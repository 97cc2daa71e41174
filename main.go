package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"viewcheck/config"
	"viewcheck/cycle"
	"viewcheck/fixture"
	"viewcheck/history"
	"viewcheck/kafka"
	"viewcheck/logger"
	"viewcheck/models"
	"viewcheck/schema"
	"viewcheck/store"
)

var (
	cfgFile  string
	logLevel string
	jsonOut  bool
	cfg      *config.Config

	rootCmd = &cobra.Command{
		Use:   "viewcheck",
		Short: "Seed, settle and verify streaming materialized views in MongoDB",
		Long: `viewcheck inserts a tagged fixture (customer, account, two transaction
buckets) into the source collections, waits for the stream processor to
materialize its views, and checks the views hold what the fixture implies.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (env VIEWCHECK_* overrides)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print reports as JSON")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cleanCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(watchCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	logger.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	logger.SetLevel(c.LogLevel)
	logger.Debug("configuration loaded", logger.FieldKV("config", c.String()))
	cfg = c
	return nil
}

func openStore(ctx context.Context) (*store.Mongo, error) {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	st, err := store.Connect(cctx, cfg.MongoURI, cfg.SourceDB, cfg.SinkDB)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cycle.ErrConnectivity, err)
	}
	if cfg.EnsureIndexes {
		if err := st.EnsureIndexes(cctx, []string{models.CustomersColl, models.AccountsColl, models.TransactionsColl}); err != nil {
			logger.Warn("index creation failed", err)
		}
	}
	return st, nil
}

func closeStore(st *store.Mongo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		logger.Error("mongo disconnect failed", err)
	}
}

func newRunner(st cycle.Store, sinks []cycle.Sink, progress io.Writer) *cycle.Runner {
	return &cycle.Runner{
		Store:     st,
		Validator: schema.NewValidator(),
		Identity:  fixture.IdentityFromConfig(cfg),
		Settle: cycle.SettleOptions{
			Timeout:  cfg.SettleTimeout,
			Interval: cfg.SettleInterval,
			Fixed:    cfg.SettleFixed,
			Progress: progress,
		},
		Verify: cycle.VerifyOptions{
			Limit:           cfg.VerifyLimit,
			StatsCountField: cfg.StatsCountField,
			StatsWindow:     cfg.StatsWindow,
		},
		Sinks: sinks,
	}
}

// reportSinks opens the configured Kafka and history sinks. The returned func closes them.
func reportSinks() ([]cycle.Sink, *history.Store, func(), error) {
	var (
		sinks   []cycle.Sink
		closers []func() error
		hist    *history.Store
	)
	if cfg.KafkaBroker != "" {
		p := kafka.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		sinks = append(sinks, p)
		closers = append(closers, p.Close)
	}
	if cfg.HistoryPath != "" {
		h, err := history.Open(cfg.HistoryPath)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, nil, err
		}
		hist = h
		sinks = append(sinks, h)
		closers = append(closers, h.Close)
	}
	closeAll := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			logger.Error("closing report sinks failed", err)
		}
	}
	return sinks, hist, closeAll, nil
}
