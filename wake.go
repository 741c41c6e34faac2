package eventloop

import "fmt"

// wakeToken is the fixed-size value written to the wake descriptor. A
// partial write is a hard error rather than something to retry.
var wakeToken = [8]byte{1, 0, 0, 0, 0, 0, 0, 0}

// waker is the cross-thread wake mechanism: a dedicated descriptor
// registered in its loop with READABLE interest, whose readability is
// triggered by any other thread to force the poller to return early.
// Platform-specific construction lives in wakeup_linux.go (eventfd) and
// wakeup_darwin.go (a self-pipe).
type waker struct {
	readFd  int
	writeFd int
}

func newWaker() (*waker, error) {
	r, w, err := createWakeFd(0, EFD_NONBLOCK|EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: create wake fd: %w", err)
	}
	return &waker{readFd: r, writeFd: w}, nil
}

// wake writes the fixed-size token. A short write is promoted to a
// ProgrammingInvariantViolation, since it would otherwise silently risk
// a lost wake-up.
func (w *waker) wake() error {
	n, err := writeFD(w.writeFd, wakeToken[:])
	if err != nil {
		// EAGAIN means a token is already pending (level-triggered: the
		// loop hasn't drained the previous one yet), which is fine — the
		// poller is already guaranteed to observe readability.
		if isEAGAIN(err) {
			return nil
		}
		return err
	}
	if n != len(wakeToken) {
		return newInvariantViolation(fmt.Sprintf("wake: partial write of %d/%d bytes", n, len(wakeToken)))
	}
	return nil
}

// drain reads and discards any pending token(s), re-arming
// level-triggered poll semantics.
func (w *waker) drain() {
	var buf [64]byte
	for {
		n, err := readFD(w.readFd, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

func (w *waker) event() Event {
	return Event{Fd: w.readFd, Interest: EventRead}
}

func (w *waker) close() error {
	if err := closeFD(w.writeFd); err != nil {
		return err
	}
	if w.writeFd != w.readFd {
		return closeFD(w.readFd)
	}
	return nil
}
