//go:build darwin

package eventloop

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements Poller using Darwin/BSD kqueue. Each fd's
// interest is tracked so Modify can compute the add/delete kevent delta,
// since kqueue has no single "replace interest" call.
type kqueuePoller struct {
	kq       int
	eventBuf []unix.Kevent_t
	fdMu     sync.RWMutex
	interest map[int]IOEvents
	closed   bool
}

func newPoller() Poller {
	return &kqueuePoller{
		eventBuf: make([]unix.Kevent_t, 256),
		interest: make(map[int]IOEvents),
	}
}

func (p *kqueuePoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	return nil
}

func (p *kqueuePoller) Add(ev Event) error {
	if ev.Fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if _, ok := p.interest[ev.Fd]; ok {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.interest[ev.Fd] = ev.Interest
	p.fdMu.Unlock()

	kevents := eventsToKevents(ev.Fd, ev.Interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			p.fdMu.Lock()
			delete(p.interest, ev.Fd)
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) Modify(ev Event) error {
	p.fdMu.Lock()
	old, ok := p.interest[ev.Fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.interest[ev.Fd] = ev.Interest
	p.fdMu.Unlock()

	if removed := old &^ ev.Interest; removed != 0 {
		if kevs := eventsToKevents(ev.Fd, removed, unix.EV_DELETE); len(kevs) > 0 {
			_, _ = unix.Kevent(p.kq, kevs, nil, nil)
		}
	}
	if added := ev.Interest &^ old; added != 0 {
		if kevs := eventsToKevents(ev.Fd, added, unix.EV_ADD|unix.EV_ENABLE); len(kevs) > 0 {
			if _, err := unix.Kevent(p.kq, kevs, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueuePoller) Remove(fd int) error {
	p.fdMu.Lock()
	old, ok := p.interest[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.interest, fd)
	p.fdMu.Unlock()

	if kevs := eventsToKevents(fd, old, unix.EV_DELETE); len(kevs) > 0 {
		_, _ = unix.Kevent(p.kq, kevs, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) Wait(out []Event, timeoutMs int) (int, time.Time, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return 0, now, nil
		}
		return 0, now, err
	}

	// kqueue reports read and write readiness as separate events; merge
	// same-fd entries so the Loop sees one Event per descriptor, carrying
	// a single combined bitmask of revents.
	merged := make(map[int]IOEvents, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if _, seen := merged[fd]; !seen {
			order = append(order, fd)
		}
		merged[fd] |= keventToEvents(&p.eventBuf[i])
	}
	count := 0
	for _, fd := range order {
		if count >= len(out) {
			break
		}
		out[count] = Event{Fd: fd, Revents: merged[fd]}
		count++
	}
	return count, now, nil
}

func (p *kqueuePoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.kq)
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
