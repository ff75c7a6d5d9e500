package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner schedules work that must outlive the HTTP request that triggered
// it. The ingestion coordinator depends on this interface; tests substitute
// an inline runner.
type Runner interface {
	Submit(name string, task func(ctx context.Context))
}

// Pool is a supervised background task pool. Tasks run on a context owned
// by the pool, not by any request, so they survive the handler returning.
// Shutdown drains in-flight tasks before the process exits.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a pool running at most maxConcurrent tasks at once.
func NewPool(maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Submit schedules a task. Panics are recovered and logged so one bad task
// never takes the process down.
func (p *Pool) Submit(name string, task func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("task", name).
					Msg("Background task panicked")
			}
		}()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.ctx.Done():
			log.Warn().Str("task", name).Msg("Pool shut down before task started")
			return
		}

		start := time.Now()
		task(p.ctx)
		log.Debug().
			Str("task", name).
			Dur("duration_ms", time.Since(start)).
			Msg("Background task finished")
	}()
}

// Shutdown waits for in-flight tasks to drain, then cancels the pool
// context. Returns the deadline error if tasks did not finish in time.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
