package main

import (
	schedulerpkg "github.com/gammadia/dockyard/scheduler"
	"github.com/gammadia/dockyard/server/log"
)

// listenEvents reports scheduler events in the server log.
// It exits when the scheduler stops and closes the channel.
func listenEvents(c <-chan schedulerpkg.Event) {
	for event := range c {
		switch event := event.(type) {
		case schedulerpkg.EventNodePlanned:
			log.Info("Node planned", "node", event.Node, "cloud", event.Cloud, "label", event.Label, "executors", event.Executors)
		case schedulerpkg.EventNodeOnline:
			log.Info("Node online", "node", event.Node, "cloud", event.Cloud, "label", event.Label, "agent", event.Agent)
		case schedulerpkg.EventNodeFailed:
			log.Warn("Node failed", "node", event.Node, "cloud", event.Cloud, "label", event.Label, "error", event.Error)
		case schedulerpkg.EventDemandUnsatisfiable:
			log.Warn("Demand cannot be satisfied", "label", event.Label, "workload", event.Workload, "reason", event.Reason)
		default:
			log.Debug("Unhandled scheduler event", "event", event)
		}
	}
}
