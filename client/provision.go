package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/client/ui"
	"github.com/gammadia/dockyard/provisioner/dockercloud"
	schedulerpkg "github.com/gammadia/dockyard/scheduler"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const pollInterval = 250 * time.Millisecond

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision agents for a label expression",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		expression := lo.Must(cmd.Flags().GetString("label"))
		workload := lo.Must(cmd.Flags().GetInt("workload"))
		wait := lo.Must(cmd.Flags().GetBool("wait"))
		if workload < 1 {
			return fmt.Errorf("workload must be at least 1")
		}

		clouds, err := createClouds(cmd, agent.NewMemoryRegistry())
		if err != nil {
			return err
		}

		scheduler := schedulerpkg.New(lo.Map(clouds, func(c *dockercloud.Cloud, _ int) schedulerpkg.Cloud {
			return c
		}), schedulerpkg.Config{
			Logger:                 newLogger(cmd),
			FailedNodeRetention:    time.Hour,
			ConnectedNodeRetention: time.Hour,
		})
		go scheduler.Run()
		defer func() {
			scheduler.Shutdown()
			scheduler.Wait()
		}()

		events, unsubscribe := scheduler.Subscribe()
		defer unsubscribe()

		ctx := cmd.Context()
		if timeout := lo.Must(cmd.Flags().GetDuration("timeout")); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		spinner := ui.NewSpinner(fmt.Sprintf("Provisioning %d executors for '%s'", workload, lo.Ternary(expression != "", expression, "any label")))
		if err := scheduler.Demand(expression, workload); err != nil {
			spinner.Fail()
			return err
		}

		nodes, err := awaitNodes(ctx, scheduler, events, wait, spinner)
		if err != nil {
			spinner.Fail()
			return err
		}

		failed := lo.CountBy(nodes, func(n schedulerpkg.NodeInfo) bool { return n.Stage == schedulerpkg.StageFailed.String() })
		if failed > 0 {
			spinner.Warn(fmt.Sprintf("%d of %d nodes failed", failed, len(nodes)))
		} else {
			spinner.Success(fmt.Sprintf("%d nodes %s", len(nodes), lo.Ternary(wait, "online", "launched")))
		}
		printNodes(cmd.OutOrStdout(), nodes)

		if failed > 0 {
			return fmt.Errorf("failed to provision %d of %d nodes", failed, len(nodes))
		}
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringP("label", "l", "", "label expression the agents must satisfy")
	provisionCmd.Flags().IntP("workload", "w", 1, "number of executors to provision")
	provisionCmd.Flags().Bool("wait", false, "wait for the agents to come online")
	provisionCmd.Flags().Duration("timeout", 10*time.Minute, "how long to wait for the nodes (0 = no limit)")
}

// awaitNodes follows the demand until every planned node has settled. Without wait, a node
// settles once its container runs; with wait, once its agent is online or it failed.
func awaitNodes(ctx context.Context, scheduler *schedulerpkg.Scheduler, events <-chan schedulerpkg.Event, wait bool, spinner *ui.Spinner) ([]schedulerpkg.NodeInfo, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	online := 0
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil, schedulerpkg.ErrStopped
			}
			switch event := event.(type) {
			case schedulerpkg.EventDemandUnsatisfiable:
				return nil, fmt.Errorf("cannot provision for '%s': %s", event.Label, event.Reason)
			case schedulerpkg.EventNodeOnline:
				online++
				spinner.UpdateMessage(fmt.Sprintf("%d nodes online", online))
			}

		case <-ticker.C:
			nodes := scheduler.Nodes()
			if settled(nodes, wait) {
				return nodes, nil
			}

		case <-ctx.Done():
			return nil, fmt.Errorf("nodes did not settle in time: %w", ctx.Err())
		}
	}
}

func settled(nodes []schedulerpkg.NodeInfo, wait bool) bool {
	if len(nodes) == 0 {
		return false
	}
	return lo.EveryBy(nodes, func(n schedulerpkg.NodeInfo) bool {
		if wait {
			return n.Stage == schedulerpkg.StageConnected.String() || n.Stage == schedulerpkg.StageFailed.String()
		}
		return n.Stage != schedulerpkg.StagePlanned.String()
	})
}

func printNodes(w io.Writer, nodes []schedulerpkg.NodeInfo) {
	for _, n := range nodes {
		fmt.Fprintf(w, "%-24s  %s  %s  %s\n",
			ui.NameColor.Sprint(n.ID),
			ui.StageColor(n.Stage).Sprintf("%-9s", n.Stage),
			n.Cloud,
			lo.Ternary(n.Error != "", n.Error, lo.Substring(n.Agent, 0, 12)),
		)
	}
}
