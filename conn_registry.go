// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import "sync"

// connRegistry is a plain fd-keyed connection registry: connections are
// explicitly added on accept and explicitly removed on close, so there
// is nothing to garbage-collect.
//
// connRegistry is safe for concurrent use. A Listener's registry is
// shared by every worker loop in its pool: each connection is added and
// removed on its own worker loop's goroutine, so with more than one
// worker the mutations come from several goroutines. Lookup may also be
// called from any goroutine (e.g. a metrics endpoint).
type connRegistry struct {
	mu    sync.RWMutex
	conns map[int]*Connection
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[int]*Connection)}
}

// Add registers a connection under its descriptor.
func (r *connRegistry) Add(c *Connection) {
	r.mu.Lock()
	r.conns[c.Fd()] = c
	r.mu.Unlock()
}

// Remove deregisters the connection for fd, if present.
func (r *connRegistry) Remove(fd int) {
	r.mu.Lock()
	delete(r.conns, fd)
	r.mu.Unlock()
}

// Lookup returns the connection registered for fd, if any.
func (r *connRegistry) Lookup(fd int) (*Connection, bool) {
	r.mu.RLock()
	c, ok := r.conns[fd]
	r.mu.RUnlock()
	return c, ok
}

// Len returns the number of currently registered connections.
func (r *connRegistry) Len() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}

// Each calls fn for every registered connection. fn must not mutate the
// registry.
func (r *connRegistry) Each(fn func(*Connection)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		fn(c)
	}
}
