package scheduler

import (
	"context"

	"github.com/gammadia/dockyard/label"
)

type Cloud interface {
	Name() string
	// CanProvision reports whether one of the cloud templates matches expr.
	CanProvision(expr label.Expression) bool
	// Provision plans nodes for up to excessWorkload executors and returns immediately.
	// Provisioning carries on in the background; it returns nil when nothing can be planned.
	Provision(ctx context.Context, expr label.Expression, excessWorkload int) []*PlannedNode
	// Shutdown cancels in-flight provisioning.
	Shutdown()
	// Wait blocks until the cloud has fully shut down.
	// It must not return before Shutdown has been called.
	Wait()
}
