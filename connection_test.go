package eventloop

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_SendEnablesWriteInterest(t *testing.T) {
	loop := newTestLoop(t)
	conn := NewConnection(loop, 123, DefaultStreamChunkSize, noopLog())

	require.Equal(t, IOEvents(0), conn.Handle().Interest()&EventWrite)

	conn.Send([]byte("hello"))

	assert.NotZero(t, conn.Handle().Interest()&EventWrite)
}

func TestConnection_ConsumeIgnoresNonPositive(t *testing.T) {
	loop := newTestLoop(t)
	conn := NewConnection(loop, 124, DefaultStreamChunkSize, noopLog())

	conn.Consume(0)
	conn.Consume(-5)
	assert.Equal(t, 0, conn.consumed)

	conn.Consume(3)
	assert.Equal(t, 3, conn.consumed)
}

func TestConnection_AttachStreamingSourceRejectsOutOfRange(t *testing.T) {
	loop := newTestLoop(t)
	conn := NewConnection(loop, 125, DefaultStreamChunkSize, noopLog())

	f, err := os.CreateTemp(t.TempDir(), "stream-src")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	fd := int(f.Fd())

	err = conn.AttachStreamingSource(fd, 100, 0)
	assert.Error(t, err, "length exceeding file size must be rejected")

	err = conn.AttachStreamingSource(fd, 5, 0)
	assert.NoError(t, err)
	assert.NotZero(t, conn.Handle().Interest()&EventWrite)
}

func TestConnection_FdAndConnKey(t *testing.T) {
	loop := newTestLoop(t)
	conn := NewConnection(loop, 77, DefaultStreamChunkSize, noopLog())

	assert.Equal(t, 77, conn.Fd())
	assert.Equal(t, 77, conn.ConnKey())
}
