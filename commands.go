package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"viewcheck/api"
	"viewcheck/cycle"
	"viewcheck/history"
	"viewcheck/kafka"
	"viewcheck/logger"
	oidcutil "viewcheck/oidc"
	"viewcheck/report"
	"viewcheck/schema"
)

func progressWriter() io.Writer {
	if cfg.Progress && !jsonOut {
		return os.Stderr
	}
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Clean, seed, settle and verify once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(st)

			sinks, _, closeSinks, err := reportSinks()
			if err != nil {
				return err
			}
			defer closeSinks()

			rep, runErr := newRunner(st, sinks, progressWriter()).Run(ctx)
			if err := printReport(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("cycle %s failed", rep.RunID)
			}
			return nil
		},
	}
}

func printReport(w io.Writer, rep cycle.Report) error {
	if jsonOut {
		return report.JSON(w, rep)
	}
	return report.Console(w, rep)
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove fixture documents from source collections and views",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(st)

			res := cycle.Clean(ctx, st, newRunner(st, nil, nil).NewRun())
			return printCleanup(cmd.OutOrStdout(), res)
		},
	}
}

func printCleanup(w io.Writer, res cycle.CleanupResult) error {
	if jsonOut {
		return report.JSON(w, res)
	}
	rows := make([][]string, 0, len(res.Deletions)+len(res.Diagnostics))
	for _, d := range res.Deletions {
		rows = append(rows, []string{string(d.Target), d.Collection, fmt.Sprint(d.Deleted), ""})
	}
	for _, d := range res.Diagnostics {
		rows = append(rows, []string{string(d.Target), d.Collection, "-", d.Message})
	}
	report.Table(w, []string{"Target", "Collection", "Deleted", "Error"}, rows)
	return nil
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Clean, then insert the fixture without waiting or verifying",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(st)

			run := newRunner(st, nil, nil).NewRun()
			res := cycle.Clean(ctx, st, run)
			if err := printCleanup(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			seeded, err := cycle.Seed(ctx, st, schema.NewValidator(), run)
			if jsonOut {
				if perr := report.JSON(cmd.OutOrStdout(), seeded); perr != nil {
					return perr
				}
			} else {
				for _, in := range seeded.Inserted {
					fmt.Fprintf(cmd.OutOrStdout(), "inserted %s into %s\n", in.Kind, in.Collection)
				}
			}
			return err
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the materialized views for the configured fixture without seeding",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(st)

			ver, err := newRunner(st, nil, nil).VerifyOnly(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				err = report.JSON(cmd.OutOrStdout(), ver)
			} else {
				err = report.Verification(cmd.OutOrStdout(), ver)
			}
			if err != nil {
				return err
			}
			return ver.Err()
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run cycles on an interval and serve health, metrics and reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore(st)

			sinks, hist, closeSinks, err := reportSinks()
			if err != nil {
				return err
			}
			defer closeSinks()

			var verifier oidcutil.TokenVerifier
			if cfg.OIDCIssuer != "" {
				v, err := oidcutil.Init(ctx, oidcutil.Options{
					Issuer:     cfg.OIDCIssuer,
					ClientID:   cfg.OIDCClientID,
					CACertFile: cfg.OIDCCAFile,
				})
				if err != nil {
					return err
				}
				verifier = v
			}
			var lister api.HistoryLister
			if hist != nil {
				lister = hist
			}
			srv := api.NewServer(st, verifier, lister)
			sinks = append(sinks, srv)

			httpSrv := &http.Server{Addr: cfg.ServeAddr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", logger.FieldKV("addr", cfg.ServeAddr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			stopCycles := newRunner(st, sinks, nil).Start(ctx, cfg.ServeInterval)

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-errCh:
				stopCycles()
				return fmt.Errorf("http server: %w", err)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = httpSrv.Shutdown(shutdownCtx)
			// Sinks and the store are closed by the defers; the last report must land first.
			stopCycles()
			return err
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded cycles from the local history database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.HistoryPath == "" {
				return fmt.Errorf("history.path is not configured")
			}
			h, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer h.Close()

			list, err := h.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return report.JSON(cmd.OutOrStdout(), list)
			}
			rows := make([][]string, 0, len(list))
			for _, e := range list {
				result := "pass"
				if !e.Passed {
					result = "fail"
				}
				rows = append(rows, []string{
					e.FinishedAt.Local().Format(time.RFC3339),
					e.RunID,
					result,
					fmt.Sprint(e.Attempts),
					e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond).String(),
					e.Error,
				})
			}
			report.Table(cmd.OutOrStdout(), []string{"Finished", "Run", "Result", "Attempts", "Duration", "Error"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of cycles to list")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print reports published to the Kafka topic as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.KafkaBroker == "" {
				return fmt.Errorf("kafka.broker is not configured")
			}
			ctx := cmd.Context()
			reports := make(chan cycle.Report)
			errCh := make(chan error, 1)
			go func() { errCh <- kafka.NewSubscriber(cfg.KafkaBroker, cfg.KafkaTopic).Run(ctx, reports) }()
			for rep := range reports {
				if err := printReport(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			return <-errCh
		},
	}
}
