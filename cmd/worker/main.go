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

	"github.com/kirillkom/prior-auth-rag/internal/bootstrap"
	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/observability/logging"
	"github.com/kirillkom/prior-auth-rag/internal/observability/metrics"
)

const serviceName = "prior-auth-worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	if cfg.EvalDispatch != bootstrap.DispatchNATS {
		slog.Error("worker_requires_nats_dispatch", "eval_dispatch", cfg.EvalDispatch)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Registerer: workerMetrics.Registry(),
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go app.SweepStaleEvaluations(ctx)

	slog.Info("worker_subscribed", "subject", cfg.NATSEvalSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeEvaluations(ctx, func(handlerCtx context.Context, requestID string) error {
		workerMetrics.StartMessage()
		started := time.Now()
		runErr := app.Pipeline.RunEvaluation(handlerCtx, requestID)
		workerMetrics.FinishMessage(serviceName, time.Since(started), runErr)
		return runErr
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker_stopped")
}
