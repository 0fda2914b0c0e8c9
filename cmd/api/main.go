package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/prior-auth-rag/internal/adapters/http"
	"github.com/kirillkom/prior-auth-rag/internal/bootstrap"
	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/observability/logging"
	"github.com/kirillkom/prior-auth-rag/internal/observability/metrics"
)

const serviceName = "prior-auth-api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Registerer: httpMetrics.Registry(),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.Evaluations, app.Ingestor, app.Ingestor,
		httpadapter.WithMetrics(httpMetrics),
	)
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// With NATS dispatch the worker owns the sweep.
	if cfg.EvalDispatch == bootstrap.DispatchInProcess {
		go app.SweepStaleEvaluations(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "port", cfg.APIPort, "dispatch", cfg.EvalDispatch)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("api_server_failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("evaluations_shutdown_failed", "error", err)
	}
	slog.Info("api_stopped")
}
