//go:build linux

package eventloop

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// maxFDs bounds the direct-indexed registration table.
const maxFDs = 65536

// epollPoller implements Poller using Linux epoll. It keeps a direct-
// indexed table of which descriptors are registered (for the
// already-registered/not-registered error checks) separate from the
// kernel's own interest set, since epoll itself doesn't expose a way to
// query it.
type epollPoller struct {
	epfd     int
	eventBuf []unix.EpollEvent
	fdMu     sync.RWMutex
	active   [maxFDs]bool
	closed   bool
}

// newPoller constructs the platform Poller implementation.
func newPoller() Poller {
	return &epollPoller{eventBuf: make([]unix.EpollEvent, 256)}
}

func (p *epollPoller) Init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = fd
	return nil
}

func (p *epollPoller) Add(ev Event) error {
	if ev.Fd < 0 || ev.Fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if p.active[ev.Fd] {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.active[ev.Fd] = true
	p.fdMu.Unlock()

	kev := unix.EpollEvent{Events: eventsToEpoll(ev.Interest), Fd: int32(ev.Fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, ev.Fd, &kev); err != nil {
		p.fdMu.Lock()
		p.active[ev.Fd] = false
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) Modify(ev Event) error {
	if ev.Fd < 0 || ev.Fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.RLock()
	active := p.active[ev.Fd]
	p.fdMu.RUnlock()
	if !active {
		return ErrFDNotRegistered
	}
	kev := unix.EpollEvent{Events: eventsToEpoll(ev.Interest), Fd: int32(ev.Fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, ev.Fd, &kev)
}

func (p *epollPoller) Remove(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.active[fd] {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.active[fd] = false
	p.fdMu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(out []Event, timeoutMs int) (int, time.Time, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
	ts := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return 0, ts, nil
		}
		return 0, ts, err
	}
	for i := 0; i < n && i < len(out); i++ {
		out[i] = Event{
			Fd:      int(p.eventBuf[i].Fd),
			Revents: epollToEvents(p.eventBuf[i].Events),
		}
	}
	if n > len(out) {
		n = len(out)
	}
	return n, ts, nil
}

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		events |= EventHangup
	}
	return events
}
