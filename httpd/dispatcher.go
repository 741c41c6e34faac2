// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package httpd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	eventloop "github.com/joeycumines/fasgo"
)

// methods is the closed set of HTTP methods this dispatcher handles.
var methods = []string{"GET", "PUT", "POST", "TRACE", "HEAD", "DELETE", "OPTIONS"}

// Dispatcher is the HTTP boundary collaborator: installed as a
// Connection's on-message callback, it incrementally parses requests
// from the input buffer and invokes one handler per method. A Dispatcher
// holds no per-connection state — the same instance may be shared across
// every accepted Connection.
type Dispatcher struct {
	fs  FileSystem
	log eventloop.Log
}

// NewDispatcher constructs a Dispatcher serving files from fs.
func NewDispatcher(fs FileSystem, log eventloop.Log) *Dispatcher {
	if log == nil {
		log = eventloop.NewNopLogger()
	}
	return &Dispatcher{fs: fs, log: log}
}

// OnMessage has the signature of eventloop.OnMessageFunc; install it via
// conn.SetOnMessage(dispatcher.OnMessage). It drains every complete
// request present in buffer (handling pipelined requests in one read),
// leaving a trailing partial request, if any, unconsumed.
func (d *Dispatcher) OnMessage(conn *eventloop.Connection, buffer []byte, _ time.Time) {
	total := 0
	for {
		remaining := buffer[total:]
		req, n, err := parseRequest(remaining)
		if err != nil {
			conn.Consume(total + len(remaining))
			d.writeError(conn, 400)
			return
		}
		if req == nil {
			break
		}
		total += n
		d.handle(conn, req)
	}
	conn.Consume(total)
}

func (d *Dispatcher) handle(conn *eventloop.Connection, req *Request) {
	switch req.Method {
	case "GET":
		d.handleGet(conn, req, true)
	case "HEAD":
		d.handleGet(conn, req, false)
	case "PUT":
		d.handlePut(conn, req)
	case "POST":
		d.handlePost(conn, req)
	case "DELETE":
		d.handleDelete(conn, req)
	case "TRACE":
		d.handleTrace(conn, req)
	case "OPTIONS":
		d.handleOptions(conn, req)
	default:
		d.writeError(conn, 405)
	}
}

// handleGet serves req.Path from the document root. When includeBody is
// false (a HEAD request), only the response line and headers are sent.
func (d *Dispatcher) handleGet(conn *eventloop.Connection, req *Request, includeBody bool) {
	f, size, err := d.fs.Open(req.Path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			d.writeError(conn, 404)
		case os.IsPermission(err):
			d.writeError(conn, 400)
		default:
			d.log.Err().Err(err).Str("path", req.Path).Log("httpd: open failed")
			d.writeError(conn, 500)
		}
		return
	}

	conn.Send(buildHeaderOnlyResponse(200, []string{"Content-Type: application/octet-stream"}, size))

	if !includeBody || size == 0 {
		_ = f.Close()
		return
	}

	// The streaming source owns its own descriptor independent of f's
	// finalizer, so dup before closing f.
	dupFd, derr := unix.Dup(int(f.Fd()))
	_ = f.Close()
	if derr != nil {
		d.log.Err().Err(derr).Log("httpd: dup streaming source fd failed")
		return
	}
	if err := conn.AttachStreamingSource(dupFd, size, 0); err != nil {
		_ = unix.Close(dupFd)
		d.log.Err().Err(err).Log("httpd: attach streaming source failed")
	}
}

func (d *Dispatcher) handlePut(conn *eventloop.Connection, req *Request) {
	d.acknowledge(conn, "PUT", req)
}

func (d *Dispatcher) handlePost(conn *eventloop.Connection, req *Request) {
	d.acknowledge(conn, "POST", req)
}

func (d *Dispatcher) acknowledge(conn *eventloop.Connection, method string, req *Request) {
	body := []byte(fmt.Sprintf("%s accepted %d bytes for %s\n", method, len(req.Body), req.Path))
	conn.Send(buildResponse(200, []string{"Content-Type: text/plain"}, body))
}

func (d *Dispatcher) handleDelete(conn *eventloop.Connection, _ *Request) {
	d.writeError(conn, 501)
}

func (d *Dispatcher) handleTrace(conn *eventloop.Connection, req *Request) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, req.Path, req.Proto)
	for k, v := range req.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	conn.Send(buildResponse(200, []string{"Content-Type: message/http"}, buf.Bytes()))
}

func (d *Dispatcher) handleOptions(conn *eventloop.Connection, _ *Request) {
	allow := "Allow: " + fmt.Sprint(joinMethods())
	conn.Send(buildResponse(204, []string{allow}, nil))
}

func joinMethods() string {
	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

func (d *Dispatcher) writeError(conn *eventloop.Connection, status int) {
	body := []byte(fmt.Sprintf("%d %s\n", status, statusText[status]))
	conn.Send(buildResponse(status, []string{"Content-Type: text/plain"}, body))
}
