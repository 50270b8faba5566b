package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Loop is a background job that runs until ctx is cancelled.
type Loop func(ctx context.Context) error

// Runner supervises background loops and restarts the ones that fail.
type Runner struct {
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sleep  func(context.Context, time.Duration) bool
}

// NewRunner builds a runner whose loops stop when parent is cancelled or Stop is called.
func NewRunner(parent context.Context, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Runner{logger: logger, ctx: ctx, cancel: cancel, sleep: sleepCtx}
}

// Go starts loop in its own goroutine. A loop returning an error is restarted
// with exponential backoff; a loop returning nil is done.
func (r *Runner) Go(name string, loop Loop) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		backoff := minBackoff
		for {
			err := r.run(name, loop)
			if err == nil || r.ctx.Err() != nil {
				r.logger.Info("worker stopped", zap.String("worker", name))
				return
			}
			r.logger.Error("worker failed", zap.String("worker", name), zap.Duration("retry_in", backoff), zap.Error(err))
			if !r.sleep(r.ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

// Stop cancels every loop and waits for them to return or ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(name string, loop Loop) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("worker panicked", zap.String("worker", name), zap.Any("panic", rec))
			err = errPanic
		}
	}()
	r.logger.Info("worker started", zap.String("worker", name))
	return loop(r.ctx)
}

var errPanic = errors.New("worker panicked")

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
