package main

import (
	"fmt"

	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/client/ui"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping [CLOUD...]",
	Short: "Check the docker engines of the clouds answer",

	RunE: func(cmd *cobra.Command, args []string) error {
		clouds, err := createClouds(cmd, agent.NewMemoryRegistry(), args...)
		if err != nil {
			return err
		}
		defer shutdownClouds(clouds)

		failed := 0
		for _, cloud := range clouds {
			spinner := ui.NewSpinner(fmt.Sprintf("Pinging %s", cloud.Name()))
			info, err := cloud.Ping(cmd.Context())
			if err != nil {
				failed++
				spinner.Fail(fmt.Sprintf("%s: %s", cloud.Name(), err))
				continue
			}
			spinner.Success(fmt.Sprintf("%s: %s (docker %s, %d running containers)", cloud.Name(), info.Name, info.ServerVersion, info.ContainersRunning))
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d clouds are unreachable", failed, len(clouds))
		}
		return nil
	},
}
