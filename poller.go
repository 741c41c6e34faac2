package eventloop

import "time"

// Poller is the readiness-multiplexing backend a Loop polls for I/O
// events. A concrete implementation wraps the host's native readiness
// facility (epoll on Linux, kqueue on Darwin). The Loop is the only
// caller, and only from its owning goroutine.
//
// See poller_linux.go and poller_darwin.go for the platform-specific
// implementations.
type Poller interface {
	// Init prepares the underlying kernel object. Called once before any
	// other method.
	Init() error

	// Add registers ev.Fd for the interests in ev.Interest. Returns
	// ErrFDAlreadyRegistered if the descriptor already has a live
	// registration.
	Add(ev Event) error

	// Modify changes the interests for an already-registered descriptor.
	// Returns ErrFDNotRegistered if it has none.
	Modify(ev Event) error

	// Remove deregisters fd. Returns ErrFDNotRegistered if it has no live
	// registration.
	Remove(fd int) error

	// Wait blocks up to timeoutMs (a negative value blocks indefinitely)
	// for at least one registered descriptor to become ready, or until a
	// signal interrupts the call. out is reused across calls; Wait
	// returns the number of ready events written into out[:n] and the
	// monotonic timestamp at which it returned. A value of n == 0 with a
	// nil error means the wait timed out or was interrupted.
	Wait(out []Event, timeoutMs int) (n int, ts time.Time, err error)

	// Close releases the underlying kernel object. Idempotent.
	Close() error
}
