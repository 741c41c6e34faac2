// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package httpd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem resolves a request path to an open, readable file.
// httpFileSystem is the default implementation, resolving paths relative
// to a fixed document root.
type FileSystem interface {
	// Open resolves path against the collaborator's root and returns an
	// open *os.File and its size. The caller owns the returned file.
	Open(path string) (file *os.File, size int64, err error)
}

// httpFileSystem resolves request paths against a fixed document root,
// rejecting any path that would escape it.
type httpFileSystem struct {
	root string
}

// NewFileSystem constructs the default document-root-relative
// FileSystem collaborator.
func NewFileSystem(root string) FileSystem {
	return &httpFileSystem{root: root}
}

func (fs *httpFileSystem) Open(reqPath string) (*os.File, int64, error) {
	clean := filepath.Clean("/" + reqPath)
	if clean == "/" {
		clean = "/index.html"
	}

	full := filepath.Join(fs.root, clean)

	rootAbs, err := filepath.Abs(fs.root)
	if err != nil {
		return nil, 0, fmt.Errorf("httpd: resolve document root: %w", err)
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return nil, 0, fmt.Errorf("httpd: resolve request path: %w", err)
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return nil, 0, os.ErrPermission
	}

	f, err := os.Open(fullAbs)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, os.ErrNotExist
	}
	return f, info.Size(), nil
}
