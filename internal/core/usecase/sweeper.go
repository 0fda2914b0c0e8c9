package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const staleSweepBatch = 100

// RedispatchStale hands pending requests untouched for longer than staleAfter back to the
// dispatcher. It covers messages lost while no worker was subscribed and runs interrupted
// by a crash. A request that cannot be dispatched again is marked failed.
func (uc *EvaluationUseCase) RedispatchStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := uc.now().UTC().Add(-staleAfter)
	ids, err := uc.repo.ClaimStalePending(ctx, cutoff, staleSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("claim stale evaluations: %w", err)
	}

	redispatched := 0
	for _, id := range ids {
		if err := uc.dispatcher.DispatchEvaluation(ctx, id); err != nil {
			slog.Warn("evaluation_redispatch_failed", "request_id", id, "error", err.Error())
			if failErr := markFailed(ctx, uc.repo, id, fmt.Errorf("redispatch stale evaluation: %w", err)); failErr != nil {
				slog.Error("evaluation_mark_failed_failed", "request_id", id, "error", failErr.Error())
			}
			continue
		}
		redispatched++
	}
	if len(ids) > 0 {
		slog.Info("evaluation_stale_redispatched", "claimed", len(ids), "redispatched", redispatched)
	}
	return redispatched, nil
}

// SweepStale runs RedispatchStale immediately and then every interval until ctx is done.
func (uc *EvaluationUseCase) SweepStale(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 || staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := uc.RedispatchStale(ctx, staleAfter); err != nil && ctx.Err() == nil {
			slog.Error("evaluation_stale_sweep_failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
