// Package dispatch hands translation requests to the engine on a bounded pool.
//
// At most MaxConcurrent translations run at once and at most MaxQueued
// requests wait for a slot; anything beyond that is refused with
// SERVICE_BUSY. Each translation runs on its own goroutine under a deadline
// derived from the caller's context, so a slow engine never blocks the
// HTTP handlers that serve cheap endpoints.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"pdf-translate-api/internal/engine"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/models"
	"pdf-translate-api/internal/types"
)

// Options bounds the dispatcher.
type Options struct {
	MaxConcurrent int
	// MaxQueued is the number of requests allowed to wait for a slot.
	// Zero refuses any request that cannot start immediately.
	MaxQueued int
	// Timeout is the per-request deadline. Zero disables it.
	Timeout time.Duration
}

// Stats is a snapshot of the dispatcher load.
type Stats struct {
	InFlight      int64 `json:"in_flight"`
	Queued        int64 `json:"queued"`
	MaxConcurrent int   `json:"max_concurrent"`
	MaxQueued     int   `json:"max_queued"`
}

type outcome struct {
	result *types.TranslationResult
	err    error
}

// Dispatcher runs translations on a bounded set of slots.
type Dispatcher struct {
	engine engine.Engine
	model  *models.Runtime
	opts   Options
	log    logger.Logger

	slots    *semaphore.Weighted
	inFlight atomic.Int64
	queued   atomic.Int64
}

// New creates a dispatcher. model is read by every request and never
// modified; nil means no layout model is available.
func New(eng engine.Engine, model *models.Runtime, opts Options, log logger.Logger) *Dispatcher {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxQueued < 0 {
		opts.MaxQueued = 0
	}
	if model == nil {
		model = models.Unavailable(nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		engine: eng,
		model:  model,
		opts:   opts,
		log:    log,
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// EngineName reports the configured engine.
func (d *Dispatcher) EngineName() string { return d.engine.Name() }

// ModelAvailable reports whether the layout model was loaded.
func (d *Dispatcher) ModelAvailable() bool { return d.model.Available() }

func (d *Dispatcher) Stats() Stats {
	return Stats{
		InFlight:      d.inFlight.Load(),
		Queued:        d.queued.Load(),
		MaxConcurrent: d.opts.MaxConcurrent,
		MaxQueued:     d.opts.MaxQueued,
	}
}

// Dispatch translates req exactly once. It returns both artifacts or an
// *types.AppError: SERVICE_BUSY when the queue is full, TRANSLATION_FAILED
// for any engine failure, panic, deadline or cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.TranslationRequest) (*types.TranslationResult, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
	}
	defer cancel()

	params := engine.BuildParams(req, d.model)
	done := make(chan outcome, 1)
	start := time.Now()

	d.inFlight.Add(1)
	go func() {
		// The slot is held until the engine returns, even if the caller
		// has already given up.
		defer func() {
			d.inFlight.Add(-1)
			d.slots.Release(1)
		}()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("engine panicked", fmt.Errorf("%v", r),
					logger.String("stack", string(debug.Stack())))
				done <- outcome{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		res, err := d.engine.Translate(runCtx, req.FileBytes, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return d.finish(runCtx, req, out, time.Since(start))
	case <-runCtx.Done():
		err := d.contextError(runCtx)
		d.log.Warn("translation abandoned",
			logger.String("file", req.FileName),
			logger.Duration("after", time.Since(start)),
			logger.Err(err))
		return nil, types.NewTranslationFailed(err)
	}
}

func (d *Dispatcher) acquire(ctx context.Context) error {
	if d.slots.TryAcquire(1) {
		return nil
	}
	if d.queued.Add(1) > int64(d.opts.MaxQueued) {
		d.queued.Add(-1)
		return types.NewAppError(types.ErrServiceBusy,
			"Service busy: too many translations in progress, retry later", nil)
	}
	defer d.queued.Add(-1)
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return types.NewTranslationFailed(fmt.Errorf("cancelled while queued: %w", err))
	}
	return nil
}

func (d *Dispatcher) finish(ctx context.Context, req *types.TranslationRequest, out outcome, took time.Duration) (*types.TranslationResult, error) {
	if out.err != nil {
		err := out.err
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", d.contextError(ctx), out.err)
		}
		d.log.Error("translation failed", err,
			logger.String("file", req.FileName),
			logger.String("service", req.Service),
			logger.Duration("took", took))
		return nil, types.NewTranslationFailed(err)
	}
	if !out.result.Complete() {
		err := errors.New("engine returned an incomplete result")
		d.log.Error("translation failed", err, logger.String("file", req.FileName))
		return nil, types.NewTranslationFailed(err)
	}
	d.log.Info("translation finished",
		logger.String("file", req.FileName),
		logger.String("engine", d.engine.Name()),
		logger.Duration("took", took))
	return out.result, nil
}

func (d *Dispatcher) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && d.opts.Timeout > 0 {
		return fmt.Errorf("translation timed out after %s: %w", d.opts.Timeout, ctx.Err())
	}
	return ctx.Err()
}
