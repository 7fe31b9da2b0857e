package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/namegen"
)

type Stage int32

const (
	// StagePlanned nodes have been promised but no container exists yet.
	StagePlanned Stage = iota
	// StageLaunched nodes have a running container whose agent is not connected yet.
	StageLaunched
	StageConnected
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePlanned:
		return "planned"
	case StageLaunched:
		return "launched"
	case StageConnected:
		return "connected"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pending reports whether the node may still come online.
func (s Stage) Pending() bool {
	return s == StagePlanned || s == StageLaunched
}

// PlannedNode is the handle a cloud returns for every agent it starts provisioning.
// Future only settles once the agent is connected, or once provisioning failed;
// settle it through Connected or Failed so Stage stays consistent.
type PlannedNode struct {
	ID          namegen.ID
	DisplayName string
	Executors   int
	Future      *Future[*agent.Agent]

	mu    sync.Mutex
	stage atomic.Int32
}

func NewPlannedNode(displayName string, executors int) *PlannedNode {
	return &PlannedNode{
		ID:          namegen.Get(),
		DisplayName: displayName,
		Executors:   executors,
		Future:      NewFuture[*agent.Agent](),
	}
}

func (n *PlannedNode) Stage() Stage {
	return Stage(n.stage.Load())
}

// Launched records that the container runs.
func (n *PlannedNode) Launched() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stage.CompareAndSwap(int32(StagePlanned), int32(StageLaunched))
}

// Connected resolves the node with its connected agent.
func (n *PlannedNode) Connected(a *agent.Agent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.Future.Ready() {
		n.stage.Store(int32(StageConnected))
		n.Future.Resolve(a)
	}
}

// Failed rejects the node.
func (n *PlannedNode) Failed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.Future.Ready() {
		n.stage.Store(int32(StageFailed))
		n.Future.Reject(err)
	}
}
