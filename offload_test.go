package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_OffloadDeliversResultOnLoopThread(t *testing.T) {
	loop, err := NewLoop(WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	type outcome struct {
		result   any
		err      error
		loopGoID uint64
	}
	done := make(chan outcome, 1)

	err = loop.Offload(context.Background(), func(context.Context) (any, error) {
		return "ok", nil
	}, func(result any, err error) {
		done <- outcome{result: result, err: err, loopGoID: getGoroutineID()}
	})
	require.NoError(t, err)

	select {
	case oc := <-done:
		assert.NoError(t, oc.err)
		assert.Equal(t, "ok", oc.result)
		assert.Equal(t, loop.loopGoroutineID.Load(), oc.loopGoID, "done callback must run on the loop goroutine")
	case <-time.After(5 * time.Second):
		t.Fatal("offload result not delivered in time")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_OffloadRecoversPanic(t *testing.T) {
	loop, err := NewLoop(WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	done := make(chan error, 1)
	err = loop.Offload(context.Background(), func(context.Context) (any, error) {
		panic("boom")
	}, func(result any, err error) {
		done <- err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		var panicErr *PanicError
		require.True(t, errors.As(err, &panicErr))
		assert.Equal(t, "boom", panicErr.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("panic result not delivered in time")
	}

	cancel()
	<-runErr
}
