package httpd_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	eventloop "github.com/joeycumines/fasgo"
	"github.com/joeycumines/fasgo/httpd"
)

// dispatcherFixture wires a Dispatcher onto a live Connection backed by a
// socketpair, with the loop actually running, so requests written to the
// peer descriptor are parsed and dispatched exactly as they would be over
// a real accepted TCP socket.
type dispatcherFixture struct {
	loop *eventloop.Loop
	peer *os.File
}

func newDispatcherFixture(t *testing.T, root string) *dispatcherFixture {
	t.Helper()

	loop, err := eventloop.NewLoop(eventloop.WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })

	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(pair[0], true))

	conn := eventloop.NewConnection(loop, pair[0], eventloop.DefaultStreamChunkSize, nil)
	dispatcher := httpd.NewDispatcher(httpd.NewFileSystem(root), nil)
	conn.SetOnMessage(dispatcher.OnMessage)
	require.NoError(t, loop.AddHandle(conn.Handle()))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-runErr
	})

	// The peer end must be nonblocking for os.NewFile to hand it to the
	// runtime poller; only then do roundTrip's read deadlines take effect.
	require.NoError(t, unix.SetNonblock(pair[1], true))
	peer := os.NewFile(uintptr(pair[1]), "httpd-test-peer")
	t.Cleanup(func() { _ = peer.Close() })

	return &dispatcherFixture{loop: loop, peer: peer}
}

// roundTrip writes request to the peer end and reads back everything the
// dispatcher sends in response. A response may arrive across more than
// one underlying write (e.g. a streamed file body follows its header on
// a later writable edge), so this accumulates reads until a short idle
// gap, rather than assuming one Read call returns the whole response.
func (f *dispatcherFixture) roundTrip(t *testing.T, request string) string {
	t.Helper()
	_, err := f.peer.Write([]byte(request))
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	var out []byte
	buf := make([]byte, 8192)
	for time.Now().Before(deadline) {
		_ = f.peer.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
		n, err := f.peer.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if len(out) > 0 {
				break
			}
			continue
		}
	}
	require.NotEmpty(t, out, "no response received")
	return string(out)
}

func TestDispatcher_GetServesFileContents(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "GET /hello.txt HTTP/1.1\r\n\r\n")

	assert.Contains(t, resp, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, resp, "Content-Length: 11\r\n")
	assert.Contains(t, resp, "hello world")
}

func TestDispatcher_GetMissingFileReturns404(t *testing.T) {
	root := t.TempDir()

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "GET /nope.txt HTTP/1.1\r\n\r\n")

	assert.Contains(t, resp, "HTTP/1.1 404 Not Found\r\n")
}

func TestDispatcher_HeadOmitsBody(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "HEAD /hello.txt HTTP/1.1\r\n\r\n")

	assert.Contains(t, resp, "Content-Length: 11\r\n")
	assert.NotContains(t, resp, "hello world")
}

func TestDispatcher_PostAcknowledgesBody(t *testing.T) {
	root := t.TempDir()

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")

	assert.Contains(t, resp, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, resp, "POST accepted 5 bytes for /submit")
}

func TestDispatcher_DeleteReturnsNotImplemented(t *testing.T) {
	root := t.TempDir()

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "DELETE /hello.txt HTTP/1.1\r\n\r\n")

	assert.Contains(t, resp, "HTTP/1.1 501 Not Implemented\r\n")
}

func TestDispatcher_OptionsListsAllowedMethods(t *testing.T) {
	root := t.TempDir()

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "OPTIONS / HTTP/1.1\r\n\r\n")

	assert.Contains(t, resp, "HTTP/1.1 204 No Content\r\n")
	assert.Contains(t, resp, "Allow: GET, PUT, POST, TRACE, HEAD, DELETE, OPTIONS")
}

func TestDispatcher_TraceEchoesRequest(t *testing.T) {
	root := t.TempDir()

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "TRACE /diag HTTP/1.1\r\nX-Test: yes\r\n\r\n")

	assert.Contains(t, resp, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, resp, "TRACE /diag HTTP/1.1\r\n")
	assert.Contains(t, resp, "x-test: yes\r\n")
}

func TestDispatcher_MalformedRequestReturns400(t *testing.T) {
	root := t.TempDir()

	f := newDispatcherFixture(t, root)
	resp := f.roundTrip(t, "BOGUS\r\n\r\n")

	assert.Contains(t, resp, "HTTP/1.1 400 Bad Request\r\n")
}
