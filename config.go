package eventloop

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileServerOptions is the on-disk shape loaded by LoadServerOptions. It
// mirrors ServerOptions field-for-field but uses plain types toml can
// decode directly (a time.Duration is decoded from its string form, e.g.
// "1s"), matching the spec's instruction that configuration loading is a
// named collaborator rather than part of the reactor kernel.
type fileServerOptions struct {
	WorkerLoops     int    `toml:"worker_loops"`
	ListenAddress   string `toml:"listen_address"`
	Backlog         int    `toml:"backlog"`
	PollTimeout     string `toml:"poll_timeout"`
	StreamChunkSize int    `toml:"stream_chunk_size"`
	DocumentRoot    string `toml:"document_root"`
	ReusePort       bool   `toml:"reuse_port"`
	MetricsEnabled  bool   `toml:"metrics_enabled"`
}

// LoadServerOptions reads a TOML configuration file and produces a
// ServerOptions record, applying any extra functional options on top of
// the file's values. Fields absent from the file keep NewServerOptions's
// documented defaults.
func LoadServerOptions(path string, extra ...ServerOption) (*ServerOptions, error) {
	cfg, err := NewServerOptions()
	if err != nil {
		return nil, err
	}

	var fileCfg fileServerOptions
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return nil, fmt.Errorf("eventloop: load server options from %s: %w", path, err)
	}

	if fileCfg.WorkerLoops > 0 {
		cfg.WorkerLoops = fileCfg.WorkerLoops
	}
	if fileCfg.ListenAddress != "" {
		cfg.ListenAddress = fileCfg.ListenAddress
	}
	if fileCfg.Backlog > 0 {
		cfg.Backlog = fileCfg.Backlog
	}
	if fileCfg.PollTimeout != "" {
		d, err := time.ParseDuration(fileCfg.PollTimeout)
		if err != nil {
			return nil, fmt.Errorf("eventloop: parse poll_timeout: %w", err)
		}
		cfg.PollTimeout = d
	}
	if fileCfg.StreamChunkSize > 0 {
		cfg.StreamChunkSize = fileCfg.StreamChunkSize
	}
	if fileCfg.DocumentRoot != "" {
		cfg.DocumentRoot = fileCfg.DocumentRoot
	}
	cfg.ReusePort = fileCfg.ReusePort
	cfg.MetricsEnabled = fileCfg.MetricsEnabled

	for _, opt := range extra {
		if opt == nil {
			continue
		}
		if err := opt.applyServer(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
