package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semsync/connector"
	"github.com/c360studio/semsync/messaging"
	"github.com/c360studio/semsync/tokens"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion platform",
		Long: `Serve consumes connector lifecycle events, runs sync tasks through
the transform pipeline and exposes Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := newApp(cfg, logger)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop()

			app.registerCredentials(ctx)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return app.dispatcher.Run(gctx)
			})

			g.Go(func() error {
				return app.connTokens.Run(gctx)
			})
			g.Go(func() error {
				return app.toolTokens.Run(gctx)
			})
			g.Go(func() error {
				return watchToolsetCredentials(gctx, app.credStore, app.toolTokens, logger)
			})

			// Credential refresh outcomes feed the token metrics.
			g.Go(func() error {
				return app.broker.Subscribe(gctx, messaging.TopicCredentialEvents, func(_ context.Context, msg messaging.Message) bool {
					var ev tokens.CredentialEvent
					if err := json.Unmarshal(msg.Value, &ev); err != nil {
						logger.Warn("Dropping malformed credential event", "error", err)
						return true
					}
					var refreshErr error
					if ev.Status != tokens.StatusActive {
						refreshErr = errors.New(ev.Reason)
					}
					app.metrics.ObserveTokenRefresh(ev.Service, refreshErr)
					return true
				})
			})

			// Sync reports feed the run metrics.
			g.Go(func() error {
				return app.broker.Subscribe(gctx, messaging.TopicReconciliation, func(_ context.Context, msg messaging.Message) bool {
					var report connector.Report
					if err := json.Unmarshal(msg.Value, &report); err != nil {
						logger.Warn("Dropping malformed sync report", "error", err)
						return true
					}
					app.metrics.ObserveReport(&report)
					return true
				})
			})

			g.Go(func() error {
				return serveMetrics(gctx, metricsAddr, app)
			})

			logger.Info("Semsync serving", "metrics", metricsAddr)
			err = g.Wait()
			if ctx.Err() != nil {
				logger.Info("Shutdown complete")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics listen address")
	return cmd
}

// serveMetrics exposes /metrics and /healthz until ctx is done.
func serveMetrics(ctx context.Context, addr string, app *App) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":        "ok",
			"running_syncs": app.tasks.Len(),
			"cache_health":  app.caches.Health(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
