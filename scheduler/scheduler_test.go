package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/label"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock cloud ---

type mockCloud struct {
	name   string
	labels label.Set
	// capacity limits the nodes planned per call (-1 = unlimited)
	capacity int

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	mu       sync.Mutex
	requests []int
	ctxs     []context.Context
	planned  []*PlannedNode
}

func newMockCloud(name string, labels ...string) *mockCloud {
	return &mockCloud{
		name:       name,
		labels:     label.NewSet(labels...),
		capacity:   -1,
		shutdownCh: make(chan struct{}),
	}
}

func (c *mockCloud) Name() string { return c.name }

func (c *mockCloud) CanProvision(expr label.Expression) bool {
	return label.Matches(expr, c.labels)
}

func (c *mockCloud) Provision(ctx context.Context, _ label.Expression, excessWorkload int) []*PlannedNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, excessWorkload)
	c.ctxs = append(c.ctxs, ctx)

	n := excessWorkload
	if c.capacity >= 0 {
		n = min(n, c.capacity)
	}
	var nodes []*PlannedNode
	for i := 0; i < n; i++ {
		nodes = append(nodes, NewPlannedNode("Image of "+c.name, 1))
	}
	c.planned = append(c.planned, nodes...)
	return nodes
}

func (c *mockCloud) Shutdown() {
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
}

func (c *mockCloud) Wait() {
	<-c.shutdownCh
}

func (c *mockCloud) getRequests() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.requests...)
}

func (c *mockCloud) getPlanned() []*PlannedNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*PlannedNode(nil), c.planned...)
}

// --- Helpers ---

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestScheduler(clouds ...Cloud) *Scheduler {
	return New(clouds, Config{Logger: silentLogger})
}

func startScheduler(t *testing.T, s *Scheduler) <-chan Event {
	t.Helper()
	events, unsub := s.Subscribe()
	go s.Run()
	t.Cleanup(func() {
		s.Shutdown()
		s.Wait()
		unsub()
	})
	return events
}

func waitForEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-time.After(5 * time.Second):
			var zero T
			t.Fatalf("timed out waiting for event %T", zero)
			return zero
		}
	}
}

// --- Tests ---

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Config{}))
	assert.EqualError(t, Validate(Config{MaxPendingExecutors: -1}), "max-pending-executors must not be negative")
	assert.EqualError(t, Validate(Config{FailedNodeRetention: -time.Second}), "failed-node-retention must not be negative")
	assert.EqualError(t, Validate(Config{ConnectedNodeRetention: -time.Second}), "connected-node-retention must not be negative")
}

func TestDemandPlansNodes(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux", "docker")
	s := newTestScheduler(cloud)
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 3))

	for i := 0; i < 3; i++ {
		ev := waitForEvent[EventNodePlanned](t, events)
		assert.Equal(t, "docker-test", ev.Cloud)
		assert.Equal(t, "linux", ev.Label)
		assert.Equal(t, 1, ev.Executors)
	}
	assert.Equal(t, []int{3}, cloud.getRequests())

	nodes := s.Nodes()
	require.Len(t, nodes, 3)
	for _, n := range nodes {
		assert.Equal(t, "planned", n.Stage)
	}
}

func TestNodeComesOnlineOnlyWhenConnected(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := New([]Cloud{cloud}, Config{Logger: silentLogger, ConnectedNodeRetention: time.Hour})
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 1))
	planned := waitForEvent[EventNodePlanned](t, events)

	node := cloud.getPlanned()[0]
	node.Launched()
	assert.Equal(t, "launched", s.Nodes()[0].Stage)

	node.Connected(&agent.Agent{Name: "0123456789abcdef"})
	online := waitForEvent[EventNodeOnline](t, events)
	assert.Equal(t, planned.Node, online.Node)
	assert.Equal(t, "0123456789abcdef", online.Agent)

	nodes := s.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "connected", nodes[0].Stage)
	assert.Equal(t, "0123456789abcdef", nodes[0].Agent)
}

func TestPendingNodesAnswerRepeatedDemand(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := newTestScheduler(cloud)
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 3))
	for i := 0; i < 3; i++ {
		waitForEvent[EventNodePlanned](t, events)
	}

	require.NoError(t, s.Demand("linux", 5))
	for i := 0; i < 2; i++ {
		waitForEvent[EventNodePlanned](t, events)
	}
	assert.Equal(t, []int{3, 2}, cloud.getRequests())

	// Fully covered: the cloud is not asked again
	require.NoError(t, s.Demand("linux", 5))
	assert.Len(t, s.Nodes(), 5)
	assert.Equal(t, []int{3, 2}, cloud.getRequests())
}

func TestMaxPendingExecutors(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux", "mac")
	s := New([]Cloud{cloud}, Config{Logger: silentLogger, MaxPendingExecutors: 4})
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 3))
	for i := 0; i < 3; i++ {
		waitForEvent[EventNodePlanned](t, events)
	}

	require.NoError(t, s.Demand("mac", 3))
	waitForEvent[EventNodePlanned](t, events)
	assert.Equal(t, []int{3, 1}, cloud.getRequests())
}

func TestFirstMatchingCloudIsAsked(t *testing.T) {
	windows := newMockCloud("docker-windows", "windows")
	linux := newMockCloud("docker-linux", "linux")
	other := newMockCloud("docker-other", "linux")
	s := newTestScheduler(windows, linux, other)
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 1))
	ev := waitForEvent[EventNodePlanned](t, events)

	assert.Equal(t, "docker-linux", ev.Cloud)
	assert.Empty(t, windows.getRequests())
	assert.Empty(t, other.getRequests())
}

func TestDemandWithoutMatchingCloud(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := newTestScheduler(cloud)
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("windows", 2))
	ev := waitForEvent[EventDemandUnsatisfiable](t, events)

	assert.Equal(t, "windows", ev.Label)
	assert.Equal(t, "no matching template", ev.Reason)
	assert.Empty(t, cloud.getRequests())
}

func TestDemandWithoutCapacity(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	cloud.capacity = 0
	s := newTestScheduler(cloud)
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 2))
	ev := waitForEvent[EventDemandUnsatisfiable](t, events)

	assert.Equal(t, "no capacity", ev.Reason)
	assert.Equal(t, []int{2}, cloud.getRequests())
	assert.Empty(t, s.Nodes())
}

func TestFailedNodeIsForgotten(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := newTestScheduler(cloud)
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 1))
	waitForEvent[EventNodePlanned](t, events)

	cloud.getPlanned()[0].Failed(errors.New("failed to start container"))
	ev := waitForEvent[EventNodeFailed](t, events)
	assert.Equal(t, "failed to start container", ev.Error)

	assert.Eventually(t, func() bool {
		return len(s.Nodes()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The failed node no longer answers the demand
	require.NoError(t, s.Demand("linux", 1))
	waitForEvent[EventNodePlanned](t, events)
	assert.Equal(t, []int{1, 1}, cloud.getRequests())
}

func TestOnlineNodesAreForgotten(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := newTestScheduler(cloud)
	events := startScheduler(t, s)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Demand("linux", 1))
		waitForEvent[EventNodePlanned](t, events)

		cloud.getPlanned()[i].Connected(&agent.Agent{Name: fmt.Sprintf("agent-%d", i)})
		waitForEvent[EventNodeOnline](t, events)
	}

	assert.Eventually(t, func() bool {
		return len(s.Nodes()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, cloud.getRequests(), 50)
}

func TestOnlineNodeIsRetained(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := New([]Cloud{cloud}, Config{Logger: silentLogger, ConnectedNodeRetention: time.Hour})
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 1))
	waitForEvent[EventNodePlanned](t, events)

	cloud.getPlanned()[0].Connected(&agent.Agent{Name: "0123456789abcdef"})
	waitForEvent[EventNodeOnline](t, events)

	nodes := s.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "connected", nodes[0].Stage)
}

func TestFailedNodeIsRetained(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := New([]Cloud{cloud}, Config{Logger: silentLogger, FailedNodeRetention: time.Hour})
	events := startScheduler(t, s)

	require.NoError(t, s.Demand("linux", 1))
	waitForEvent[EventNodePlanned](t, events)

	cloud.getPlanned()[0].Failed(errors.New("remote connect timed out"))
	waitForEvent[EventNodeFailed](t, events)

	nodes := s.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "failed", nodes[0].Stage)
	assert.Equal(t, "remote connect timed out", nodes[0].Error)
}

func TestInvalidExpression(t *testing.T) {
	s := newTestScheduler(newMockCloud("docker-test", "linux"))
	startScheduler(t, s)

	assert.Error(t, s.Demand("linux &&", 1))
}

func TestShutdownCancelsProvisioning(t *testing.T) {
	cloud := newMockCloud("docker-test", "linux")
	s := newTestScheduler(cloud)
	events, unsub := s.Subscribe()
	defer unsub()
	go s.Run()

	require.NoError(t, s.Demand("linux", 1))
	waitForEvent[EventNodePlanned](t, events)

	s.Shutdown()
	s.Wait()

	cloud.mu.Lock()
	ctx := cloud.ctxs[0]
	cloud.mu.Unlock()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	select {
	case <-cloud.shutdownCh:
	default:
		t.Fatal("cloud was not shut down")
	}

	// The subscription is closed once the scheduler stopped
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestDemandAfterShutdown(t *testing.T) {
	s := newTestScheduler(newMockCloud("docker-test", "linux"))
	go s.Run()

	s.Shutdown()
	s.Wait()

	done := make(chan error)
	go func() { done <- s.Demand("linux", 1) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Demand() deadlocked after shutdown")
	}
	assert.Nil(t, s.Nodes())
}
