package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gammadia/dockyard/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureSettlesOnce(t *testing.T) {
	f := NewFuture[int]()
	assert.False(t, f.Ready())

	assert.True(t, f.Resolve(42))
	assert.False(t, f.Resolve(43))
	assert.False(t, f.Reject(errors.New("too late")))
	assert.True(t, f.Ready())

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFutureReject(t *testing.T) {
	f := NewFuture[string]()
	failure := errors.New("boom")
	assert.True(t, f.Reject(failure))

	<-f.Done()
	_, err := f.Get(context.Background())
	assert.ErrorIs(t, err, failure)
}

func TestFutureGetHonorsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Ready())
}

func TestPlannedNodeStages(t *testing.T) {
	n := NewPlannedNode("Image of alpine", 1)
	assert.Equal(t, StagePlanned, n.Stage())
	assert.NotEmpty(t, n.ID)

	n.Launched()
	assert.Equal(t, StageLaunched, n.Stage())
	assert.False(t, n.Future.Ready(), "a launched node is not complete")

	a := &agent.Agent{Name: "abc"}
	n.Connected(a)
	assert.Equal(t, StageConnected, n.Stage())

	got, err := n.Future.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, got)

	n.Failed(errors.New("late failure"))
	assert.Equal(t, StageConnected, n.Stage())
}

func TestPlannedNodeFailure(t *testing.T) {
	n := NewPlannedNode("Image of alpine", 1)
	n.Failed(errors.New("engine unreachable"))
	assert.Equal(t, StageFailed, n.Stage())
	assert.False(t, n.Stage().Pending())

	n.Launched()
	assert.Equal(t, StageFailed, n.Stage())
}
