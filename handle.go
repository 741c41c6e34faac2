package eventloop

import (
	"fmt"
	"time"
)

// HandleState is a Handle's lifecycle state.
//
//	NEW  -> ADD  (AddHandle)
//	ADD  -> LOOP (poller.Add succeeds)
//	LOOP -> MOD  (ModHandle) -> LOOP (poller.Modify succeeds)
//	LOOP -> DEL  (DelHandle) -> (erased from live-handle map)
type HandleState uint8

const (
	// HandleNew is the state immediately after construction; not yet visible to the poller.
	HandleNew HandleState = iota
	// HandleAdd is queued for kernel-level insertion in the next phase 1.
	HandleAdd
	// HandleLoop is registered and eligible for dispatch.
	HandleLoop
	// HandleMod is queued for an interest change in the next phase 1.
	HandleMod
	// HandleDel is queued for removal in the next phase 1.
	HandleDel
)

func (s HandleState) String() string {
	switch s {
	case HandleNew:
		return "NEW"
	case HandleAdd:
		return "ADD"
	case HandleLoop:
		return "LOOP"
	case HandleMod:
		return "MOD"
	case HandleDel:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// OnReadFunc is invoked when a handle's descriptor reports readability.
type OnReadFunc func(ts time.Time)

// OnWriteFunc is invoked when a handle's descriptor reports writability.
type OnWriteFunc func(ts time.Time)

// OnCloseFunc is invoked once when a handle is torn down, whether due to a
// peer close, a fatal I/O error, or an explicit Remove.
type OnCloseFunc func()

// Handle is the per-descriptor dispatch object: it pairs a file descriptor
// with the read/write/close callbacks the owning Loop invokes on readiness.
// A Handle is bound to exactly one Loop for its entire life and must only be
// read or have its callback slots mutated from that loop's owning goroutine,
// except for lifecycle transitions, which go through the pending-updates map
// under the loop's mutex.
type Handle struct {
	fd       int
	loop     *Loop
	interest IOEvents
	state    HandleState

	onRead  OnReadFunc
	onWrite OnWriteFunc
	onClose OnCloseFunc

	closed bool // true once onClose has fired; guards against double-fire
}

// NewHandle constructs a Handle bound to loop for descriptor fd with the
// given initial interest. The handle starts in state NEW; it becomes live
// only once passed to Loop.AddHandle.
func NewHandle(loop *Loop, fd int, interest IOEvents) *Handle {
	return &Handle{
		fd:       fd,
		loop:     loop,
		interest: interest,
		state:    HandleNew,
	}
}

// Fd returns the handle's descriptor.
func (h *Handle) Fd() int { return h.fd }

// Loop returns the loop this handle is bound to.
func (h *Handle) Loop() *Loop { return h.loop }

// State returns the handle's current lifecycle state. Only meaningful when
// read from the owning loop's goroutine (or while holding the loop's mutex
// for a handle that is in the pending-updates map).
func (h *Handle) State() HandleState { return h.state }

// Interest returns the handle's current interest bitmask.
func (h *Handle) Interest() IOEvents { return h.interest }

// SetOnRead installs the read callback. Must be called before AddHandle or
// from the owning loop's goroutine thereafter.
func (h *Handle) SetOnRead(cb OnReadFunc) { h.onRead = cb }

// SetOnWrite installs the write callback.
func (h *Handle) SetOnWrite(cb OnWriteFunc) { h.onWrite = cb }

// SetOnClose installs the close callback.
func (h *Handle) SetOnClose(cb OnCloseFunc) { h.onClose = cb }

// EnableRead sets the READABLE interest bit and enqueues a MOD update.
func (h *Handle) EnableRead() { h.setInterest(h.interest | EventRead) }

// EnableWrite sets the WRITABLE interest bit and enqueues a MOD update.
func (h *Handle) EnableWrite() { h.setInterest(h.interest | EventWrite) }

// DisableWrite clears the WRITABLE interest bit and enqueues a MOD update.
func (h *Handle) DisableWrite() { h.setInterest(h.interest &^ EventWrite) }

// setInterest updates the interest bitmask and, if the handle is already
// live, queues a MOD so the change is applied on the next iteration rather
// than mid-dispatch. A back-to-back DisableWrite then EnableWrite collapses
// to a single pending MOD, since the pending-updates map is keyed by fd and
// last writer wins.
func (h *Handle) setInterest(interest IOEvents) {
	h.interest = interest
	switch h.state {
	case HandleLoop, HandleMod:
		h.state = HandleMod
		h.loop.enqueueUpdate(h)
	case HandleNew, HandleAdd:
		// Not yet live; the pending ADD will pick up the latest interest
		// when phase 1 applies it.
	case HandleDel:
		// Already scheduled for removal; do nothing (DEL wins).
	}
}

// Remove enqueues a DEL update for this handle. Safe to call more than
// once; subsequent calls are no-ops once DEL is pending or applied.
func (h *Handle) Remove() {
	switch h.state {
	case HandleDel:
		return
	default:
		h.state = HandleDel
		h.loop.enqueueUpdate(h)
	}
}

// fireClose invokes the close callback exactly once.
func (h *Handle) fireClose() {
	if h.closed {
		return
	}
	h.closed = true
	if h.onClose != nil {
		h.onClose()
	}
}

// handleEvent fans out a dispatch to the installed callbacks in order:
// error/hang-up, then read, then write. It is invoked only by the owning
// Loop during its dispatch step, never concurrently with another dispatch
// on the same loop.
func (h *Handle) handleEvent(revents IOEvents, ts time.Time) {
	if h.state != HandleLoop {
		// Programming invariant violation: dispatch against a handle not
		// currently registered. The loop guards against reaching here for
		// ordinary races (absent/DEL'd handles are filtered in phase 4);
		// this is a defensive double-check.
		panic(newInvariantViolation(fmt.Sprintf("handleEvent: fd %d not in state LOOP (got %s)", h.fd, h.state)))
	}

	if revents&(EventError|EventHangup) != 0 {
		h.fireClose()
		h.Remove()
		return
	}
	if revents&EventRead != 0 && h.onRead != nil {
		h.onRead(ts)
	}
	if revents&EventWrite != 0 && h.onWrite != nil {
		h.onWrite(ts)
	}
}
