package eventloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnRegistry_AddLookupRemove(t *testing.T) {
	reg := newConnRegistry()
	loop := newTestLoop(t)

	conn := NewConnection(loop, 55, DefaultStreamChunkSize, noopLog())
	reg.Add(conn)

	got, ok := reg.Lookup(55)
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, reg.Len())

	reg.Remove(55)
	_, ok = reg.Lookup(55)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestConnRegistry_Each(t *testing.T) {
	reg := newConnRegistry()
	loop := newTestLoop(t)

	reg.Add(NewConnection(loop, 1, DefaultStreamChunkSize, noopLog()))
	reg.Add(NewConnection(loop, 2, DefaultStreamChunkSize, noopLog()))

	seen := map[int]bool{}
	reg.Each(func(c *Connection) { seen[c.Fd()] = true })

	assert.Len(t, seen, 2)
	assert.True(t, seen[1])
	assert.True(t, seen[2])
}
