package agent

import (
	"context"
	"time"

	"github.com/gammadia/dockyard/label"
)

type Mode string

const (
	// ModeNormal agents accept any work their labels allow.
	ModeNormal Mode = "normal"
	// ModeExclusive agents only accept work explicitly asking for one of their labels.
	ModeExclusive Mode = "exclusive"
)

// Launcher brings an agent online: it reaches the remote end and starts the agent process.
// Launch returns once the agent can accept work.
type Launcher interface {
	Launch(ctx context.Context, agent *Agent) error
}

// RetentionStrategy names the policy applied to the agent once it is registered.
// Enforcing it is up to the registry owner.
type RetentionStrategy struct {
	Kind        string        `json:"kind"`
	IdleTimeout time.Duration `json:"idleTimeout,omitempty"`
}

// ContainerRetention releases the agent (and its container) once it goes idle.
var ContainerRetention = RetentionStrategy{Kind: "container"}

type Agent struct {
	// Name is the engine-assigned container id
	Name        string            `json:"name"`
	ShortName   string            `json:"shortName"`
	Description string            `json:"description"`
	RemoteFS    string            `json:"remoteFs"`
	Executors   int               `json:"executors"`
	Mode        Mode              `json:"mode"`
	LabelString string            `json:"labels"`
	Cloud       string            `json:"cloud"`
	Image       string            `json:"image"`
	Retention   RetentionStrategy `json:"retention"`

	TagOnCompletion bool `json:"tagOnCompletion,omitempty"`

	Labels   label.Set `json:"-"`
	Launcher Launcher  `json:"-"`
}
