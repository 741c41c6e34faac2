// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"
)

// OnConnectionFunc receives a newly accepted Connection, already bound
// to (but not yet necessarily dispatching on) one of the listener's
// worker loops.
type OnConnectionFunc func(conn *Connection)

// OnConnectionRemovedFunc receives a Connection's former registry key
// (its descriptor) once the loop has completed its teardown.
type OnConnectionRemovedFunc func(connKey int)

// Listener accepts inbound TCP connections and distributes them across a
// pool of worker loops. The listening socket itself is registered on one
// loop (the "accept loop"); each accepted connection is assigned
// round-robin across a pool of worker loops, which may include the
// accept loop itself when the pool has a single member.
type Listener struct {
	acceptLoop *Loop
	workers    []*Loop
	nextWorker atomic.Uint64

	address string
	backlog int

	chunkSize int
	reuse     bool

	netLn net.Listener
	file  *os.File
	fd    int
	handle *Handle

	onConnection        OnConnectionFunc
	onConnectionRemoved OnConnectionRemovedFunc

	registry *connRegistry
	log      Log
}

// ListenerOption configures a Listener at construction.
type ListenerOption interface {
	applyListener(*Listener)
}

type listenerOptionFunc func(*Listener)

func (f listenerOptionFunc) applyListener(l *Listener) { f(l) }

// WithLoopPool assigns accepted connections round-robin across workers
// instead of always onto the accept loop. The accept loop passed to
// NewListener need not be a member of workers.
func WithLoopPool(workers []*Loop) ListenerOption {
	return listenerOptionFunc(func(l *Listener) {
		if len(workers) > 0 {
			l.workers = workers
		}
	})
}

// WithListenerChunkSize sets the per-Connection streaming chunk size for
// connections accepted by this listener.
func WithListenerChunkSize(n int) ListenerOption {
	return listenerOptionFunc(func(l *Listener) {
		if n > 0 {
			l.chunkSize = n
		}
	})
}

// WithListenerReusePort enables SO_REUSEADDR/SO_REUSEPORT via
// github.com/libp2p/go-reuseport on the listening socket.
func WithListenerReusePort(enabled bool) ListenerOption {
	return listenerOptionFunc(func(l *Listener) { l.reuse = enabled })
}

// WithListenerLogger attaches a structured logger.
func WithListenerLogger(log Log) ListenerOption {
	return listenerOptionFunc(func(l *Listener) {
		if log != nil {
			l.log = log
		}
	})
}

// NewListener constructs a Listener bound to loop for accept dispatch.
// Start must be called to actually bind and register the listening
// socket; SetOnConnection/SetOnConnectionRemoved may be called either
// before or after Start.
func NewListener(loop *Loop, address string, backlog int, opts ...ListenerOption) *Listener {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	l := &Listener{
		acceptLoop: loop,
		workers:    []*Loop{loop},
		address:    address,
		backlog:    backlog,
		chunkSize:  DefaultStreamChunkSize,
		registry:   newConnRegistry(),
		log:        noopLog(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyListener(l)
		}
	}
	return l
}

// SetOnConnection installs the accept callback.
func (l *Listener) SetOnConnection(fn OnConnectionFunc) { l.onConnection = fn }

// SetOnConnectionRemoved installs the post-teardown callback.
func (l *Listener) SetOnConnectionRemoved(fn OnConnectionRemovedFunc) { l.onConnectionRemoved = fn }

// Registry exposes the listener's connection registry (e.g. for
// diagnostics or broadcast).
func (l *Listener) Registry() *connRegistry { return l.registry }

// Start binds the listening socket (honoring ReusePort), arms it
// nonblocking, and registers it on the accept loop with READABLE
// interest.
func (l *Listener) Start() error {
	var netLn net.Listener
	var err error
	if l.reuse {
		netLn, err = reuseport.Listen("tcp", l.address)
	} else {
		netLn, err = net.Listen("tcp", l.address)
	}
	if err != nil {
		return fmt.Errorf("eventloop: listen on %s: %w", l.address, err)
	}

	tcpLn, ok := netLn.(*net.TCPListener)
	if !ok {
		_ = netLn.Close()
		return fmt.Errorf("eventloop: listener for %s is not a *net.TCPListener", l.address)
	}

	// Detach the raw descriptor from Go's runtime netpoller, per the
	// evio-style pattern: File() duplicates the fd, after which the
	// original net.Listener is closed and the duplicate is driven
	// directly by this reactor's own poller.
	file, err := tcpLn.File()
	if err != nil {
		_ = netLn.Close()
		return fmt.Errorf("eventloop: extract fd for %s: %w", l.address, err)
	}
	_ = netLn.Close()

	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = file.Close()
		return fmt.Errorf("eventloop: set nonblocking on listener fd: %w", err)
	}
	unix.CloseOnExec(fd)

	l.file = file
	l.fd = fd
	l.handle = NewHandle(l.acceptLoop, fd, EventRead)
	l.handle.SetOnRead(l.onAcceptable)
	l.handle.SetOnClose(func() {
		l.log.Err().Int("fd", fd).Log("eventloop: listener socket closed")
	})

	return l.acceptLoop.AddHandle(l.handle)
}

// Close tears down the listening socket.
func (l *Listener) Close() error {
	if l.handle != nil {
		l.handle.Remove()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// onAcceptable drains the accept backlog on every readable edge, using
// the same "drain in a bounded loop until EAGAIN" discipline as
// Connection's read algorithm.
func (l *Listener) onAcceptable(time.Time) {
	for {
		fd, err := acceptConn(l.fd)
		if err != nil {
			if isEAGAIN(err) {
				return
			}
			if err == unix.ECONNABORTED || err == unix.EINTR {
				continue
			}
			l.log.Err().Err(err).Log("eventloop: accept failed")
			return
		}
		l.dispatch(fd)
	}
}

func (l *Listener) dispatch(fd int) {
	n := l.nextWorker.Add(1) - 1
	worker := l.workers[int(n%uint64(len(l.workers)))]

	worker.RunInLoop(func() {
		conn := NewConnection(worker, fd, l.chunkSize, l.log)

		conn.SetOnClose(func(c *Connection) {
			l.registry.Remove(c.ConnKey())
			if l.onConnectionRemoved != nil {
				l.onConnectionRemoved(c.ConnKey())
			}
		})

		if err := worker.AddHandle(conn.Handle()); err != nil {
			l.log.Err().Err(err).Int("fd", fd).Log("eventloop: register accepted connection failed")
			_ = closeFD(fd)
			return
		}

		l.registry.Add(conn)

		if l.onConnection != nil {
			l.onConnection(conn)
		}
	})
}
