// Package eventloop implements a single-host, event-driven I/O reactor:
// a readiness-poller-backed Loop dispatching to per-descriptor Handles,
// a Connection abstraction over accepted TCP sockets, and a Listener
// that distributes accepted connections round-robin across a pool of
// worker loops.
//
// # Architecture
//
// A [Loop] owns exactly one readiness [Poller] (epoll on Linux, kqueue
// on Darwin, both via golang.org/x/sys/unix) and runs a strict six-phase
// cycle on its own goroutine: apply pending [Handle] updates, clear the
// ready-event scratch, wait for readiness, dispatch ready events, drain
// the queued task list, then repeat until told to quit. Every [Handle]
// is bound to exactly one Loop for its life; state transitions
// (NEW/ADD/LOOP/MOD/DEL) flow through a pending-updates map guarded by
// the loop's mutex so kernel-level registration only ever happens on the
// owning goroutine.
//
// [Connection] layers input/output byte buffering, a streaming-source
// abstraction for large payloads, and close-path bookkeeping on top of a
// Handle with READ (and conditionally WRITE) interest. [Listener] binds
// a listening socket to one loop for accept dispatch and hands each
// accepted Connection to a worker loop chosen round-robin.
//
// # Cross-thread coordination
//
// [Loop.RunInLoop] and [Loop.QueueInLoop] run work on a loop from outside
// its own goroutine, and the Handle registration methods listed under
// Thread safety queue handle updates; all of them route through the
// pending-updates/task-queue mutex and a cross-thread wake descriptor
// (eventfd on Linux, a self-pipe on Darwin) so a non-owning caller's
// effects are guaranteed visible no later than the loop's next poll
// return. [Loop.Offload] hands blocking or CPU-bound work to a bounded
// external goroutine pool and marshals the result back via
// [Loop.RunInLoop].
//
// # Platform support
//
// I/O polling uses platform-native readiness facilities: epoll on
// Linux, kqueue on Darwin. No other platform is supported.
//
// # Thread safety
//
// A single Loop's own goroutine is the only thread permitted to read or
// mutate its live-handle map, invoke poller operations, or run Handle
// callbacks; no two callbacks on the same loop ever run concurrently.
// [Loop.RunInLoop], [Loop.QueueInLoop], [Loop.AddHandle],
// [Loop.ModHandle], and [Loop.DelHandle] are safe to call from any
// goroutine.
//
// # Error types
//
// Errors fall into a small taxonomy:
// [TransientIO] (absorbed internally, never surfaced), [PeerClosed]
// (orderly shutdown), [FatalIO] (unexpected syscall failure on a
// registered descriptor), [ProtocolError] (malformed input at the HTTP
// boundary), and [ProgrammingInvariantViolation] (a condition that
// should be impossible under the reactor's own invariants — fatal,
// aborts the process after logging). [PanicError] wraps a panic value
// recovered from a callback or offloaded function.
package eventloop
