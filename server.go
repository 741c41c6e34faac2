// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"context"
	"fmt"
	"sync"
)

// ConnectionHandlerFunc configures a freshly accepted Connection, e.g.
// by installing SetOnMessage/SetOnWriteDrained/SetOnClose callbacks. It
// runs on the connection's own worker loop, before the connection is
// registered for readiness dispatch.
type ConnectionHandlerFunc func(conn *Connection)

// Server ties a ServerOptions record, a pool of worker Loops, and a
// Listener together. It carries no application-protocol knowledge; a
// ConnectionHandlerFunc installed via SetConnectionHandler is solely
// responsible for wiring a Connection's callbacks (for HTTP, such a
// handler installs the httpd package's Dispatcher.OnMessage).
type Server struct {
	opts     *ServerOptions
	loops    []*Loop
	listener *Listener
	handler  ConnectionHandlerFunc
	log      Log
}

// NewServer constructs the worker-loop pool and listener described by
// opts. It does not bind the listening socket or run any loop; call Run
// to do both.
func NewServer(opts *ServerOptions, log Log) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("eventloop: NewServer: nil options")
	}
	if log == nil {
		log = noopLog()
	}

	n := opts.WorkerLoops
	if n <= 0 {
		n = DefaultWorkerLoops
	}

	loops := make([]*Loop, n)
	for i := range loops {
		loop, err := NewLoop(
			WithPollTimeout(opts.PollTimeout),
			WithLoopMetrics(opts.MetricsEnabled),
			WithLoopLogger(log),
		)
		if err != nil {
			for _, l := range loops[:i] {
				_ = l.Close()
			}
			return nil, fmt.Errorf("eventloop: construct worker loop %d: %w", i, err)
		}
		loops[i] = loop
	}

	listener := NewListener(loops[0], opts.ListenAddress, opts.Backlog,
		WithLoopPool(loops),
		WithListenerChunkSize(opts.StreamChunkSize),
		WithListenerReusePort(opts.ReusePort),
		WithListenerLogger(log),
	)

	return &Server{opts: opts, loops: loops, listener: listener, log: log}, nil
}

// SetConnectionHandler installs the callback invoked once per accepted
// Connection.
func (s *Server) SetConnectionHandler(fn ConnectionHandlerFunc) {
	s.handler = fn
	s.listener.SetOnConnection(func(conn *Connection) {
		if s.handler != nil {
			s.handler(conn)
		}
	})
}

// Listener exposes the underlying Listener (e.g. for Registry access).
func (s *Server) Listener() *Listener { return s.listener }

// Loops exposes the worker-loop pool; loops[0] is always the accept
// loop.
func (s *Server) Loops() []*Loop { return s.loops }

// Run binds the listening socket, then runs every worker loop until ctx
// is cancelled or Shutdown is called, returning the first non-nil error
// any loop's Run produced.
func (s *Server) Run(ctx context.Context) error {
	if err := s.listener.Start(); err != nil {
		return err
	}

	errs := make(chan error, len(s.loops))
	var wg sync.WaitGroup
	for _, loop := range s.loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			errs <- l.Run(ctx)
		}(loop)
	}

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Shutdown closes the listener and requests an orderly stop of every
// worker loop, returning the first non-nil error encountered.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.listener.Close()
	var first error
	for _, l := range s.loops {
		if err := l.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
