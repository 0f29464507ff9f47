package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/alberthnahas/sentinel-no2-daily/internal/config"
	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
	httpHandler "github.com/alberthnahas/sentinel-no2-daily/internal/http"
	"github.com/alberthnahas/sentinel-no2-daily/internal/usecase"
)

const fetchRetryInterval = 5 * time.Second

func newRunCommand(v *viper.Viper) *cobra.Command {
	var dateStr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for one date",
		Example: "  no2-daily run --date 2024-01-31\n" +
			"  NO2_FETCH_SOURCE=http NO2_FETCH_URL_TEMPLATE='https://…/{tile}?date={date}' no2-daily run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			date := time.Now().UTC()
			if dateStr != "" {
				d, err := time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid --date (expected YYYY-MM-DD): %w", err)
				}
				date = d
			}

			a, err := newApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := a.pipeline.Run(ctx, date)
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), report.Summary())
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&dateStr, "date", "", "date to process, YYYY-MM-DD (default: today, UTC)")
	f.String("source", "local", "tile source (local, http)")
	f.String("tiles-dir", "./data/tiles", "directory tiles are read from or downloaded to")
	f.String("output-dir", "./data/output", "directory artifacts are written to")
	f.Int("workers", 4, "concurrent tile fetches")
	_ = v.BindPFlag("fetch.source", f.Lookup("source"))
	_ = v.BindPFlag("fetch.dir", f.Lookup("tiles-dir"))
	_ = v.BindPFlag("output.dir", f.Lookup("output-dir"))
	_ = v.BindPFlag("fetch.workers", f.Lookup("workers"))
	return cmd
}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operations API (trigger runs, run status, artifacts, metrics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := usecase.NewRunner(ctx, a.pipeline, 100)
			var runs httpHandler.RunCatalog
			if a.catalog != nil {
				runs = a.catalog
			}
			handler := httpHandler.NewHandler(a.pipeline, runner, runs, a.logger.Named("http"))
			router := httpHandler.SetupRouter(handler, a.cfg.Server.CORSAllowedOrigins, a.metrics.Handler())

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			a.logger.Info("server listening",
				zap.String("addr", srv.Addr),
				zap.Strings("endpoints", []string{
					"GET /health", "GET /metrics", "GET /v1/tiles",
					"POST /v1/runs", "GET /v1/runs", "GET /v1/runs/:id", "GET /v1/artifacts",
				}))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("graceful shutdown failed", zap.Error(err))
				}
			}
			runner.Wait()
			return nil
		},
	}

	f := cmd.Flags()
	f.Int("port", 8080, "listen port")
	_ = v.BindPFlag("server.port", f.Lookup("port"))
	return cmd
}

func newTilesCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "tiles",
		Short: "Print the tile partition of the configured extent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			tiles, err := domain.Partition(cfg.Extent, cfg.Divisions)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TILE\tWEST\tEAST\tSOUTH\tNORTH")
			for _, t := range tiles {
				fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\n",
					t.Name, t.Extent.West, t.Extent.East, t.Extent.South, t.Extent.North)
			}
			return w.Flush()
		},
	}
}
