// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
)

// ErrGoexit is the error an offloaded function's completion callback
// observes if the function's goroutine exited via runtime.Goexit rather
// than returning normally.
var ErrGoexit = errors.New("eventloop: offloaded function exited via runtime.Goexit")

// OffloadFunc is blocking work handed to the external pool.
type OffloadFunc func(ctx context.Context) (any, error)

// OffloadResultFunc receives the result of an OffloadFunc, invoked on the
// loop's own goroutine via RunInLoop — never from the pool goroutine.
type OffloadResultFunc func(result any, err error)

// offloader runs blocking or CPU-bound work that would otherwise stall
// the loop's single goroutine, and marshals its result back onto the
// loop thread via RunInLoop. Backed by a bounded
// github.com/panjf2000/ants/v2 pool rather than a fresh goroutine per
// call.
type offloader struct {
	loop *Loop
	pool *ants.Pool
}

func newOffloader(l *Loop, size int) (*offloader, error) {
	if size <= 0 {
		size = DefaultOffloadPoolSize
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &offloader{loop: l, pool: pool}, nil
}

// Offload submits fn to the external pool and delivers its outcome to
// done via the loop's RunInLoop, so done always runs on the loop
// goroutine regardless of which pool worker ran fn. If ctx is already
// cancelled when a pool worker picks the job up, fn is not run and done
// observes ctx.Err(). Once fn has started, done receives fn's own result
// and error; a cancellation during fn is seen only through what fn
// returns.
func (l *Loop) Offload(ctx context.Context, fn OffloadFunc, done OffloadResultFunc) error {
	return l.offload.submit(ctx, fn, done)
}

func (o *offloader) submit(ctx context.Context, fn OffloadFunc, done OffloadResultFunc) error {
	if o.loop.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}

	deliver := func(result any, err error) {
		if qerr := o.loop.QueueInLoop(func() { done(result, err) }); qerr != nil {
			// Loop already terminated; there is no thread left to run
			// done on, so the result is simply dropped. In-flight
			// offloaded work is not awaited on shutdown.
			return
		}
	}

	return o.pool.Submit(func() {
		completed := false

		select {
		case <-ctx.Done():
			deliver(nil, ctx.Err())
			return
		default:
		}

		defer func() {
			if r := recover(); r != nil {
				deliver(nil, &PanicError{Value: r})
			} else if !completed {
				deliver(nil, ErrGoexit)
			}
		}()

		result, err := fn(ctx)
		completed = true
		deliver(result, err)
	})
}

// close releases the pool. In-flight work is allowed to finish; their
// results are delivered if the loop is still accepting tasks, dropped
// otherwise.
func (o *offloader) close() {
	o.pool.Release()
}

// OffloadWithTimeout is a convenience wrapper combining context.WithTimeout
// with Offload.
func (l *Loop) OffloadWithTimeout(parent context.Context, timeout time.Duration, fn OffloadFunc, done OffloadResultFunc) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	wrapped := func(ctx context.Context) (any, error) {
		defer cancel()
		return fn(ctx)
	}
	return l.Offload(ctx, wrapped, done)
}
