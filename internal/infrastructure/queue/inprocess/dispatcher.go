// Package inprocess runs evaluations on goroutines inside the API process.
package inprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

type Dispatcher struct {
	runner ports.EvaluationRunner
	sem    chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New bounds concurrent evaluations to maxConcurrent; queued ones wait on the semaphore.
func New(runner ports.EvaluationRunner, maxConcurrent int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		sem:     make(chan struct{}, maxConcurrent),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// DispatchEvaluation never blocks on the runner. The request context is not inherited:
// the HTTP request that triggered the evaluation ends long before the run does.
func (d *Dispatcher) DispatchEvaluation(_ context.Context, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatch %s: %w", requestID, ErrDispatcherClosed)
	}

	d.wg.Add(1)
	go d.run(requestID)
	return nil
}

func (d *Dispatcher) run(requestID string) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
	case <-d.baseCtx.Done():
		// Cancelled while queued: the runner still records the error status.
		_ = d.runner.RunEvaluation(d.baseCtx, requestID)
		return
	}
	defer func() { <-d.sem }()

	if err := d.runner.RunEvaluation(d.baseCtx, requestID); err != nil {
		slog.Debug("inprocess_evaluation_returned_error", "request_id", requestID, "error", err)
	}
}

// Shutdown stops accepting work and waits for running evaluations. When ctx expires first,
// in-flight runs are cancelled and Shutdown still waits for them to record their status.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("inprocess shutdown: %w", ctx.Err())
	}
}
