// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a closure with no arguments and no return value. After
// QueueInLoop returns, a matching wake is delivered unless the enqueuer
// is the loop's own thread and the loop is not mid-task-drain.
type Task func()

// maxReadyEvents bounds the ready-event scratch buffer filled by a single
// poller.Wait call.
const maxReadyEvents = 1024

var loopIDSeq atomic.Int64

// Loop is the scheduling core of the reactor: it owns a map of live
// handles keyed by descriptor, a pending-updates map, a queued-task
// list, and the wake object, and runs the poll/dispatch/run-tasks cycle
// on each iteration of Run. A Loop is bound to exactly one goroutine for
// its lifetime, identified the first time Run is called.
type Loop struct {
	id int64

	state           *FastState
	loopGoroutineID atomic.Uint64

	poller Poller
	waker  *waker

	// mu guards pending, tasks, tasksSpare, and quit — the only state
	// shared across threads.
	mu         sync.Mutex
	pending    map[int]*Handle
	tasks      []Task
	tasksSpare []Task
	quit       bool

	// live is mutated only from the owning goroutine (apply-updates) and
	// read only from the owning goroutine (dispatch).
	live map[int]*Handle

	// draining is true for the duration of the run-tasks phase, so a
	// same-loop task enqueued from within a running task still gets a
	// wake rather than waiting a full poll cycle.
	draining atomic.Bool

	pollTimeout time.Duration
	ready       []Event

	metrics        *Metrics
	metricsEnabled bool
	tps            *TPSCounter
	log            Log

	offload *offloader

	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewLoop constructs a Loop and its poller/wake backends but does not
// start it; call Run to begin the poll/dispatch/run-tasks cycle.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	p := newPoller()
	if err := p.Init(); err != nil {
		return nil, fmt.Errorf("eventloop: init poller: %w", err)
	}

	wk, err := newWaker()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("eventloop: init waker: %w", err)
	}

	log := cfg.logger
	if log == nil {
		log = noopLog()
	}

	l := &Loop{
		id:             loopIDSeq.Add(1),
		state:          NewFastState(),
		poller:         p,
		waker:          wk,
		pending:        make(map[int]*Handle),
		live:           make(map[int]*Handle),
		pollTimeout:    cfg.pollTimeout,
		ready:          make([]Event, maxReadyEvents),
		log:            log,
		metricsEnabled: cfg.metricsEnabled,
		doneCh:         make(chan struct{}),
	}
	if cfg.metricsEnabled {
		l.metrics = &Metrics{}
		l.tps = NewTPSCounter(10*time.Second, 100*time.Millisecond)
	}

	// The wake handle is wired directly into the live map rather than
	// through AddHandle/phase 1, since the loop hasn't started and the
	// invariant "always present in the live-handle map with READABLE
	// interest" must hold from construction, not from the first tick.
	wakeHandle := NewHandle(l, wk.readFd, EventRead)
	wakeHandle.SetOnRead(func(time.Time) { wk.drain() })
	wakeHandle.state = HandleLoop
	if err := p.Add(wk.event()); err != nil {
		_ = wk.close()
		_ = p.Close()
		return nil, fmt.Errorf("eventloop: register wake fd: %w", err)
	}
	l.live[wk.readFd] = wakeHandle

	offload, err := newOffloader(l, cfg.offloadPoolSize)
	if err != nil {
		_ = wk.close()
		_ = p.Close()
		return nil, fmt.Errorf("eventloop: init offload pool: %w", err)
	}
	l.offload = offload

	return l, nil
}

// ID returns a process-unique, diagnostics-only loop identifier, handed
// out by a plain atomic counter.
func (l *Loop) ID() int64 { return l.id }

// State returns the loop's own run state (distinct from a Handle's
// lifecycle state).
func (l *Loop) State() LoopState { return l.state.Load() }

// Metrics returns a snapshot of the loop's runtime metrics. Only
// meaningful if WithLoopMetrics(true) was passed to NewLoop.
func (l *Loop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	l.metrics.Latency.Sample()
	tps := 0.0
	if l.tps != nil {
		tps = l.tps.TPS()
	}
	return Metrics{
		Latency: l.metrics.Latency.snapshot(),
		Queue:   l.metrics.Queue.snapshot(),
		TPS:     tps,
	}
}

// Run executes the poll/dispatch/run-tasks cycle until ctx is cancelled
// or Quit is called, returning after the current iteration completes.
// Run must be called exactly once per Loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		return fmt.Errorf("eventloop: Run called on loop in state %s", l.state.Load())
	}
	l.loopGoroutineID.Store(getGoroutineID())
	defer close(l.doneCh)
	defer l.state.Store(StateTerminated)

	timeoutMs := int(l.pollTimeout / time.Millisecond)
	if timeoutMs <= 0 {
		timeoutMs = 1
	}

	for {
		if ctx.Err() != nil {
			l.Quit()
		}

		start := time.Now()
		if err := l.tick(timeoutMs); err != nil {
			l.log.Err().Err(err).Log("eventloop: fatal poller error, loop exiting")
			return fmt.Errorf("eventloop: fatal poller error: %w", err)
		}
		if l.metricsEnabled && l.metrics != nil {
			l.metrics.Latency.Record(time.Since(start))
		}

		l.mu.Lock()
		quit := l.quit
		l.mu.Unlock()
		if quit {
			return nil
		}
	}
}

// tick runs one iteration of the loop's apply/wait/dispatch/run-tasks
// cycle.
func (l *Loop) tick(timeoutMs int) error {
	// Phase 1: apply pending updates.
	l.applyPendingUpdates()

	// Phase 2: clear ready-event scratch (reusing the backing array).
	ready := l.ready[:cap(l.ready)]

	// Phase 3: wait for readiness. Mark the loop Sleeping for the
	// duration of the blocking call so State() reflects reality.
	l.state.TryTransition(StateRunning, StateSleeping)
	n, ts, err := l.poller.Wait(ready, timeoutMs)
	l.state.TryTransition(StateSleeping, StateRunning)
	if err != nil {
		return err
	}

	// Phase 4: dispatch.
	for i := 0; i < n; i++ {
		ev := ready[i]
		h, ok := l.live[ev.Fd]
		if !ok || h.state != HandleLoop {
			// Racing removal or deregistration; skip it.
			continue
		}
		l.safeDispatch(h, ev.Revents, ts)
		if l.metricsEnabled && l.tps != nil {
			l.tps.Increment()
		}
	}

	// Phase 5: run tasks (swap-then-drain).
	l.runTasks()

	return nil
}

// applyPendingUpdates is the first phase of each tick: it moves
// pending handle insertions/modifications/removals into the poller and
// the live-handle map.
func (l *Loop) applyPendingUpdates() {
	l.mu.Lock()
	pending := l.pending
	if l.metricsEnabled && l.metrics != nil {
		l.metrics.Queue.UpdatePending(len(pending))
	}
	if len(pending) == 0 {
		l.mu.Unlock()
		return
	}
	l.pending = make(map[int]*Handle)
	l.mu.Unlock()

	for fd, h := range pending {
		switch h.state {
		case HandleAdd:
			if err := l.poller.Add(Event{Fd: fd, Interest: h.interest}); err != nil {
				l.log.Err().Err(err).Int("fd", fd).Log("eventloop: poller add failed")
				continue
			}
			l.live[fd] = h
			h.state = HandleLoop
		case HandleMod:
			if err := l.poller.Modify(Event{Fd: fd, Interest: h.interest}); err != nil {
				l.log.Err().Err(err).Int("fd", fd).Log("eventloop: poller modify failed")
				continue
			}
			h.state = HandleLoop
		case HandleDel:
			_ = l.poller.Remove(fd)
			delete(l.live, fd)
		default:
			panic(newInvariantViolation(fmt.Sprintf("applyPendingUpdates: fd %d has unexpected state %s", fd, h.state)))
		}
	}
}

// safeDispatch invokes h.handleEvent, catching panics so the loop never
// propagates an error upward from a callback. A
// ProgrammingInvariantViolation is re-panicked, aborting the process
// after logging; any other panic is logged and treated as a fatal I/O
// condition for that handle alone.
func (l *Loop) safeDispatch(h *Handle, revents IOEvents, ts time.Time) {
	defer func() {
		if r := recover(); r != nil {
			if iv, ok := r.(*ProgrammingInvariantViolation); ok {
				l.log.Err().Str("reason", iv.Message).Log("eventloop: aborting after invariant violation")
				panic(iv)
			}
			l.log.Err().Int("fd", h.fd).Log("eventloop: recovered panic from handle callback, closing")
			h.fireClose()
			h.Remove()
		}
	}()
	h.handleEvent(revents, ts)
}

// runTasks swaps the task queue under the mutex to a local list, sets
// the draining flag, invokes each task in order, then clears the flag.
func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = l.tasksSpare
	l.mu.Unlock()

	if l.metricsEnabled && l.metrics != nil {
		l.metrics.Queue.UpdateTasks(len(tasks))
	}

	if len(tasks) == 0 {
		l.tasksSpare = tasks
		return
	}

	l.draining.Store(true)
	for _, t := range tasks {
		l.safeRunTask(t)
	}
	l.draining.Store(false)

	l.tasksSpare = tasks[:0]
}

func (l *Loop) safeRunTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			if iv, ok := r.(*ProgrammingInvariantViolation); ok {
				l.log.Err().Str("reason", iv.Message).Log("eventloop: aborting after invariant violation")
				panic(iv)
			}
			l.log.Err().Interface("panic", r).Log("eventloop: recovered panic from task")
		}
	}()
	t()
}

// RunInLoop executes task synchronously if the caller is the loop's
// owning goroutine, otherwise behaves exactly as QueueInLoop.
func (l *Loop) RunInLoop(task Task) {
	if l.isLoopThread() {
		task()
		return
	}
	_ = l.QueueInLoop(task)
}

// QueueInLoop appends task to the task queue under the mutex, then wakes
// the loop iff (a) the caller is not the owning thread, or (b) the
// owning thread is currently inside the task-drain phase. This is the
// invariant that avoids lost wake-ups.
func (l *Loop) QueueInLoop(task Task) error {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.tasks = append(l.tasks, task)
	needWake := !l.isLoopThread() || l.draining.Load()
	l.mu.Unlock()

	if needWake {
		return l.waker.wake()
	}
	return nil
}

// enqueueUpdate inserts h into the pending-updates map keyed by its
// descriptor (last-writer-wins) and wakes the loop under the same
// condition as QueueInLoop.
func (l *Loop) enqueueUpdate(h *Handle) {
	l.mu.Lock()
	l.pending[h.fd] = h
	needWake := !l.isLoopThread() || l.draining.Load()
	l.mu.Unlock()

	if needWake {
		if err := l.waker.wake(); err != nil {
			l.log.Err().Err(err).Log("eventloop: wake failed")
		}
	}
}

// AddHandle asserts h is in state NEW, transitions it to ADD, and
// enqueues it for kernel-level insertion on the next apply-updates
// phase.
func (l *Loop) AddHandle(h *Handle) error {
	if h.loop != l {
		return newInvariantViolation("AddHandle: handle bound to a different loop")
	}
	if h.state != HandleNew {
		return newInvariantViolation(fmt.Sprintf("AddHandle: fd %d not in state NEW (got %s)", h.fd, h.state))
	}
	h.state = HandleAdd
	l.enqueueUpdate(h)
	return nil
}

// ModHandle asserts the descriptor is already live, transitions it to
// MOD, and enqueues it for an interest-change on the next phase 1.
// Callers ordinarily use Handle.EnableRead/EnableWrite/DisableWrite
// instead, which make the same MOD transition themselves.
func (l *Loop) ModHandle(h *Handle) error {
	if h.state != HandleLoop && h.state != HandleMod {
		return newInvariantViolation(fmt.Sprintf("ModHandle: fd %d not live (state %s)", h.fd, h.state))
	}
	h.state = HandleMod
	l.enqueueUpdate(h)
	return nil
}

// DelHandle enqueues h for removal on the next phase 1. Equivalent to
// Handle.Remove.
func (l *Loop) DelHandle(h *Handle) error {
	h.Remove()
	return nil
}

// Quit sets the quit flag and, if called from a non-owning thread, wakes
// the loop so the current iteration completes promptly.
func (l *Loop) Quit() {
	l.mu.Lock()
	already := l.quit
	l.quit = true
	l.mu.Unlock()
	if already {
		return
	}
	if !l.isLoopThread() {
		_ = l.waker.wake()
	}
}

// Shutdown calls Quit and blocks until Run has returned (or ctx is
// cancelled first), then releases the poller and wake descriptors.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.Quit()
	select {
	case <-l.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.Close()
}

// Close releases the poller, wake, and offload resources. Idempotent;
// safe to call even if Run was never invoked.
func (l *Loop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.poller.Close()
		if werr := l.waker.close(); werr != nil && err == nil {
			err = werr
		}
		if l.offload != nil {
			l.offload.close()
		}
	})
	return err
}

// isLoopThread reports whether the calling goroutine is the loop's
// owning goroutine, captured at Run's entry. Identity is determined by
// parsing runtime.Stack rather than requiring runtime.LockOSThread, since
// no OS-thread-local resource is involved.
func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
