// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"
	"time"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

// OnMessageFunc is invoked after each successful read that appended data
// to the Connection's input buffer. buffer is the full unconsumed input;
// the callback consumes as much as it can parse by calling conn.Consume,
// leaving the remainder for the next read.
type OnMessageFunc func(conn *Connection, buffer []byte, ts time.Time)

// OnWriteDrainedFunc is invoked when the output buffer has just fully
// drained and no streaming source remains attached. Also used by a
// mass-data sender to learn when it is safe to attach or continue a
// streaming source.
type OnWriteDrainedFunc func(conn *Connection)

// OnConnCloseFunc is invoked exactly once when a Connection tears down.
type OnConnCloseFunc func(conn *Connection)

// readScratchSize bounds each individual read(2) call in the bounded
// read loop below; readiness may represent more bytes than this, so the
// loop repeats until EAGAIN.
const readScratchSize = 64 * 1024

// StreamingSource is a large-payload source: a fixed descriptor and
// byte range pulled in bounded chunks on each writable edge. The source
// owns fd and closes it on exhaustion or Connection teardown.
type StreamingSource struct {
	fd        int
	length    int64
	offset    int64
	remaining int64
}

// Connection is the per-accepted-socket object: an owning Handle with
// READ (and conditionally WRITE) interest, a grow-only input buffer, an
// output buffer with a head offset, user callbacks, and an optional
// streaming source. Input/output storage is drawn from
// github.com/valyala/bytebufferpool, so repeated accept/read/write
// cycles reuse backing arrays instead of allocating fresh ones.
type Connection struct {
	handle *Handle
	loop   *Loop
	fd     int

	chunkSize int

	input    *bytebufferpool.ByteBuffer
	consumed int

	output     *bytebufferpool.ByteBuffer
	outputHead int

	streaming *StreamingSource

	onMessage      OnMessageFunc
	onWriteDrained OnWriteDrainedFunc
	onClose        OnConnCloseFunc

	log Log
}

// NewConnection constructs a Connection over an already-accepted,
// nonblocking socket fd, binds its Handle to loop with initial READABLE
// interest, but does not register it — call loop.AddHandle(conn.Handle())
// to make it live.
func NewConnection(loop *Loop, fd int, chunkSize int, log Log) *Connection {
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunkSize
	}
	if log == nil {
		log = noopLog()
	}
	c := &Connection{
		loop:      loop,
		fd:        fd,
		chunkSize: chunkSize,
		input:     bytebufferpool.Get(),
		output:    bytebufferpool.Get(),
		log:       log,
	}
	c.handle = NewHandle(loop, fd, EventRead)
	c.handle.SetOnRead(c.onReadable)
	c.handle.SetOnWrite(c.onWritable)
	c.handle.SetOnClose(c.teardown)
	return c
}

// Handle returns the Connection's owning Handle.
func (c *Connection) Handle() *Handle { return c.handle }

// ConnKey returns the connection's descriptor, its registry key.
func (c *Connection) ConnKey() int { return c.fd }

// Fd returns the connection's descriptor.
func (c *Connection) Fd() int { return c.fd }

// SetOnMessage installs the message callback.
func (c *Connection) SetOnMessage(fn OnMessageFunc) { c.onMessage = fn }

// SetOnWriteDrained installs the write-drained callback.
func (c *Connection) SetOnWriteDrained(fn OnWriteDrainedFunc) { c.onWriteDrained = fn }

// SetOnClose installs the close callback.
func (c *Connection) SetOnClose(fn OnConnCloseFunc) { c.onClose = fn }

// Consume tells the Connection that the application consumed the first n
// bytes of the buffer most recently passed to OnMessageFunc. Must be
// called only from within (or synchronously after, on the loop thread)
// the OnMessageFunc invocation it applies to.
func (c *Connection) Consume(n int) {
	if n <= 0 {
		return
	}
	c.consumed += n
}

// Send appends b to the output buffer and enables write interest if it
// was not already enabled.
func (c *Connection) Send(b []byte) {
	if len(b) == 0 {
		return
	}
	c.output.Write(b)
	c.enableWriteIfNeeded()
}

// AttachStreamingSource installs a streaming source over fd covering
// [startOffset, startOffset+length). The Connection takes ownership of
// fd and will close it once the source is exhausted or the Connection
// tears down. startOffset+length must not exceed the descriptor's
// current size.
func (c *Connection) AttachStreamingSource(fd int, length, startOffset int64) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("eventloop: stat streaming source fd %d: %w", fd, err)
	}
	if startOffset < 0 || length < 0 || startOffset+length > st.Size {
		return newInvariantViolation(fmt.Sprintf(
			"AttachStreamingSource: range [%d, %d) exceeds size %d of fd %d",
			startOffset, startOffset+length, st.Size, fd))
	}
	c.streaming = &StreamingSource{fd: fd, length: length, offset: startOffset, remaining: length}
	c.enableWriteIfNeeded()
	return nil
}

func (c *Connection) enableWriteIfNeeded() {
	if c.handle.Interest()&EventWrite == 0 {
		c.handle.EnableWrite()
	}
}

// onReadable reads in a bounded loop until EAGAIN, peer-close, or a
// hard error; dispatches onMessage over whatever was appended; folds
// back any unconsumed remainder.
func (c *Connection) onReadable(ts time.Time) {
	var scratch [readScratchSize]byte
	for {
		n, err := readFD(c.fd, scratch[:])
		if n > 0 {
			c.input.Write(scratch[:n])
		}
		if err != nil {
			if isEAGAIN(err) {
				break
			}
			c.log.Err().Err(err).Int("fd", c.fd).Log("eventloop: connection read failed")
			c.close()
			return
		}
		if n == 0 {
			// Orderly shutdown: a zero-length read with no error.
			c.close()
			return
		}
		if n < len(scratch) {
			// Readiness satisfied with fewer bytes than the scratch
			// buffer; further reads would very likely return EAGAIN.
			break
		}
	}

	if c.input.Len() == 0 || c.onMessage == nil {
		return
	}

	c.consumed = 0
	c.onMessage(c, c.input.B, ts)
	if c.consumed > 0 {
		if c.consumed >= c.input.Len() {
			c.input.Reset()
		} else {
			remainder := append([]byte(nil), c.input.B[c.consumed:]...)
			c.input.Reset()
			c.input.Write(remainder)
		}
		c.consumed = 0
	}
}

// onWritable flushes as much of the output buffer as possible, pulls
// the next streaming chunk on a full drain, and toggles write interest
// off only once both the output buffer and the streaming source are
// empty.
func (c *Connection) onWritable(time.Time) {
	if !c.flushOutput() {
		return
	}

	if c.streaming != nil {
		c.pullStreamingChunk()
	}

	if c.output.Len() == 0 && c.streaming == nil {
		c.handle.DisableWrite()
		if c.onWriteDrained != nil {
			c.onWriteDrained(c)
		}
	}
}

// flushOutput writes as much of the pending output as the descriptor
// will currently accept. Returns true iff the buffer fully drained this
// call (false on EAGAIN, a short write with nothing further to do this
// edge, or a fatal error that already closed the connection).
func (c *Connection) flushOutput() bool {
	for c.outputHead < c.output.Len() {
		n, err := writeFD(c.fd, c.output.B[c.outputHead:])
		if n > 0 {
			c.outputHead += n
		}
		if err != nil {
			if isEAGAIN(err) {
				return false
			}
			c.log.Err().Err(err).Int("fd", c.fd).Log("eventloop: connection write failed")
			c.close()
			return false
		}
		if n == 0 {
			return false
		}
	}
	c.output.Reset()
	c.outputHead = 0
	return true
}

// pullStreamingChunk reads up to one chunk from the attached streaming
// source at its current offset and appends it to the output buffer,
// closing the source once remaining reaches zero.
func (c *Connection) pullStreamingChunk() {
	s := c.streaming
	chunk := c.chunkSize
	if int64(chunk) > s.remaining {
		chunk = int(s.remaining)
	}
	if chunk <= 0 {
		c.closeStreamingSource()
		return
	}

	buf := make([]byte, chunk)
	n, err := unix.Pread(s.fd, buf, s.offset)
	if err != nil {
		c.log.Err().Err(err).Int("fd", s.fd).Log("eventloop: streaming source read failed")
		c.closeStreamingSource()
		c.close()
		return
	}
	if n == 0 {
		c.closeStreamingSource()
		return
	}

	c.output.Write(buf[:n])
	s.offset += int64(n)
	s.remaining -= int64(n)
	if s.remaining <= 0 {
		c.closeStreamingSource()
	}
}

func (c *Connection) closeStreamingSource() {
	if c.streaming == nil {
		return
	}
	_ = closeFD(c.streaming.fd)
	c.streaming = nil
}

// close drives the Connection through the same teardown path regardless
// of whether it was triggered by a read/write failure, an orderly
// shutdown, or an ERROR/HUP revent dispatched by the Handle itself: fire
// the close callback exactly once, then request handle removal.
func (c *Connection) close() {
	c.handle.fireClose()
	c.handle.Remove()
}

// teardown is installed as the Handle's onClose callback; it runs
// exactly once regardless of which path triggered the close.
func (c *Connection) teardown() {
	c.closeStreamingSource()
	if c.onClose != nil {
		c.onClose(c)
	}
	bytebufferpool.Put(c.input)
	bytebufferpool.Put(c.output)
}
