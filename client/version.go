package main

import (
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number of Dockyard",
	Args:  cobra.NoArgs,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("dockyard version %s (%s)\n", version, lo.Substring(commit, 0, 7))
		return nil
	},
}
