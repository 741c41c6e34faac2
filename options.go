// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"time"
)

// Default configuration values.
const (
	// DefaultPollTimeout bounds how long a single Wait call blocks.
	DefaultPollTimeout = 1 * time.Second

	// DefaultStreamChunkSize is the default per-writable-edge cap for
	// streaming-source reads.
	DefaultStreamChunkSize = 64 * 1024

	// DefaultWorkerLoops is the default size of a Listener's loop pool.
	DefaultWorkerLoops = 1

	// DefaultBacklog is the default TCP listen backlog.
	DefaultBacklog = 1024

	// DefaultDocumentRoot is used by the HTTP collaborator when unset.
	DefaultDocumentRoot = "."

	// DefaultOffloadPoolSize bounds the external goroutine pool used for
	// offloaded blocking work.
	DefaultOffloadPoolSize = 256
)

// loopOptions holds configuration resolved for a single Loop.
type loopOptions struct {
	pollTimeout     time.Duration
	metricsEnabled  bool
	logger          Log
	offloadPoolSize int
}

// LoopOption configures a Loop instance, using the functional options
// idiom (applyLoop).
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionFunc func(*loopOptions) error

func (f loopOptionFunc) applyLoop(o *loopOptions) error { return f(o) }

// WithPollTimeout sets the maximum duration a single poll.Wait may block.
func WithPollTimeout(d time.Duration) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.pollTimeout = d
		return nil
	})
}

// WithLoopMetrics enables tick-latency and queue-depth metrics collection.
func WithLoopMetrics(enabled bool) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.metricsEnabled = enabled
		return nil
	})
}

// WithLoopLogger attaches a structured logger to the loop. Defaults to a
// disabled logiface.Logger (all calls no-op) if never set.
func WithLoopLogger(logger Log) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.logger = logger
		return nil
	})
}

// WithOffloadPoolSize sets the size of the ants/v2 goroutine pool backing
// Loop.Offload.
func WithOffloadPoolSize(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.offloadPoolSize = n
		return nil
	})
}

func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		pollTimeout:     DefaultPollTimeout,
		offloadPoolSize: DefaultOffloadPoolSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ServerOptions bundles the worker-loop count, listen address, poll
// timeout, chunk size, and document root for the HTTP collaborator.
type ServerOptions struct {
	// WorkerLoops is the number of loops in the listener's pool.
	WorkerLoops int
	// ListenAddress is the TCP address to bind, e.g. "0.0.0.0:8080".
	ListenAddress string
	// Backlog is the listen(2) backlog.
	Backlog int
	// PollTimeout bounds each worker loop's poll.Wait.
	PollTimeout time.Duration
	// StreamChunkSize bounds bytes pulled from a streaming source per
	// writable edge.
	StreamChunkSize int
	// DocumentRoot is the root directory served by the HTTP collaborator.
	DocumentRoot string
	// ReusePort enables SO_REUSEPORT/SO_REUSEADDR on the listening socket
	// via github.com/libp2p/go-reuseport, allowing multiple processes (or
	// listeners) to share ListenAddress.
	ReusePort bool
	// MetricsEnabled propagates to every worker loop's WithLoopMetrics.
	MetricsEnabled bool
}

// ServerOption configures a ServerOptions record.
type ServerOption interface {
	applyServer(*ServerOptions) error
}

type serverOptionFunc func(*ServerOptions) error

func (f serverOptionFunc) applyServer(o *ServerOptions) error { return f(o) }

// WithWorkerLoops sets the loop-pool size.
func WithWorkerLoops(n int) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.WorkerLoops = n
		return nil
	})
}

// WithListenAddress sets the TCP listen address.
func WithListenAddress(addr string) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.ListenAddress = addr
		return nil
	})
}

// WithBacklog sets the listen backlog.
func WithBacklog(n int) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.Backlog = n
		return nil
	})
}

// WithServerPollTimeout sets the per-loop poll timeout.
func WithServerPollTimeout(d time.Duration) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.PollTimeout = d
		return nil
	})
}

// WithStreamChunkSize sets the streaming-source chunk size.
func WithStreamChunkSize(n int) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.StreamChunkSize = n
		return nil
	})
}

// WithDocumentRoot sets the HTTP collaborator's document root.
func WithDocumentRoot(root string) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.DocumentRoot = root
		return nil
	})
}

// WithReusePort enables SO_REUSEPORT/SO_REUSEADDR on the listening socket.
func WithReusePort(enabled bool) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.ReusePort = enabled
		return nil
	})
}

// WithServerMetrics enables metrics collection on every worker loop.
func WithServerMetrics(enabled bool) ServerOption {
	return serverOptionFunc(func(o *ServerOptions) error {
		o.MetricsEnabled = enabled
		return nil
	})
}

// NewServerOptions builds a ServerOptions record from documented defaults,
// then applies opts in order.
func NewServerOptions(opts ...ServerOption) (*ServerOptions, error) {
	cfg := &ServerOptions{
		WorkerLoops:     DefaultWorkerLoops,
		ListenAddress:   "127.0.0.1:0",
		Backlog:         DefaultBacklog,
		PollTimeout:     DefaultPollTimeout,
		StreamChunkSize: DefaultStreamChunkSize,
		DocumentRoot:    DefaultDocumentRoot,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyServer(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
