package eventloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	loop, err := NewLoop()
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })
	return loop
}

// newTestPipeFD returns the read end of an os.Pipe as a plain fd, a real,
// open, pollable descriptor suitable for registering with a Loop's poller.
// The caller owns the fd; the write end is closed immediately since
// nothing in these tests needs to write to it.
func newTestPipeFD(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	t.Cleanup(func() { _ = r.Close() })
	return int(r.Fd())
}

func TestHandle_Lifecycle(t *testing.T) {
	loop := newTestLoop(t)

	fd := newTestPipeFD(t)
	h := NewHandle(loop, fd, EventRead)
	require.Equal(t, HandleNew, h.State())
	require.Equal(t, fd, h.Fd())
	require.Same(t, loop, h.Loop())

	require.NoError(t, loop.AddHandle(h))
	require.Equal(t, HandleAdd, h.State())

	loop.applyPendingUpdates()
	require.Equal(t, HandleLoop, h.State())

	h.Remove()
	require.Equal(t, HandleDel, h.State())

	// Remove is idempotent once DEL is already pending.
	h.Remove()
	require.Equal(t, HandleDel, h.State())
}

func TestHandle_SetInterestCollapsesBackToBack(t *testing.T) {
	loop := newTestLoop(t)

	h := NewHandle(loop, newTestPipeFD(t), EventRead)
	require.NoError(t, loop.AddHandle(h))
	loop.applyPendingUpdates()
	require.Equal(t, HandleLoop, h.State())

	h.DisableWrite()
	h.EnableWrite()

	require.Equal(t, HandleMod, h.State())
	require.Equal(t, EventRead|EventWrite, h.Interest())

	loop.mu.Lock()
	pendingCount := len(loop.pending)
	loop.mu.Unlock()
	require.Equal(t, 1, pendingCount, "back-to-back interest changes must collapse to one pending update")
}

func TestHandle_FireCloseOnce(t *testing.T) {
	loop := newTestLoop(t)
	h := NewHandle(loop, 3, EventRead)

	calls := 0
	h.SetOnClose(func() { calls++ })

	h.fireClose()
	h.fireClose()

	require.Equal(t, 1, calls)
}

func TestHandle_HandleEventErrorClosesAndRemoves(t *testing.T) {
	loop := newTestLoop(t)
	h := NewHandle(loop, newTestPipeFD(t), EventRead)
	require.NoError(t, loop.AddHandle(h))
	loop.applyPendingUpdates()

	closed := false
	h.SetOnClose(func() { closed = true })

	h.handleEvent(EventHangup, time.Now())

	require.True(t, closed)
	require.Equal(t, HandleDel, h.State())
}

func TestHandle_HandleEventPanicsOnInvariantViolation(t *testing.T) {
	loop := newTestLoop(t)
	h := NewHandle(loop, 11, EventRead)
	// Never added: still in state NEW.

	require.Panics(t, func() { h.handleEvent(EventRead, time.Now()) })
}
