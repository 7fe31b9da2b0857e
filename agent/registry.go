// Package agent describes the agents produced by the provisioner and the registry
// they are handed to once their container is running.
package agent

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentExists   = errors.New("agent already exists")
	ErrNoLauncher    = errors.New("agent has no launcher")
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusFailed  Status = "failed"
)

// Entry is the registry's view of an agent.
type Entry struct {
	Agent        *Agent    `json:"agent"`
	Status       Status    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
	ConnectedAt  time.Time `json:"connectedAt,omitzero"`
	Error        string    `json:"error,omitempty"`
}

// Registry is where provisioned agents are registered and brought online.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Register adds an offline agent. Returns ErrAgentExists if the name is taken.
	Register(ctx context.Context, agent *Agent) error

	// Connect launches the agent and blocks until it is online, the launch fails,
	// or ctx is done. Returns ErrAgentNotFound for unknown agents.
	Connect(ctx context.Context, name string) error

	// Remove forgets an agent. Returns ErrAgentNotFound for unknown agents.
	Remove(ctx context.Context, name string) error

	// List returns all registered agents, ordered by registration time.
	List(ctx context.Context) ([]Entry, error)
}
