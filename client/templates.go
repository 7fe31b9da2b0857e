package main

import (
	"fmt"
	"io"

	"github.com/gammadia/dockyard/client/ui"
	"github.com/gammadia/dockyard/config"
	"github.com/gammadia/dockyard/provisioner/dockercloud"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var templatesCmd = &cobra.Command{
	Use:   "templates [CLOUD...]",
	Short: "List the clouds and their agent templates",

	RunE: func(cmd *cobra.Command, args []string) error {
		clouds := lo.Filter(cloudFile.Clouds, func(c config.Cloud, _ int) bool {
			return selected(c, args)
		})
		if len(clouds) == 0 {
			return fmt.Errorf("no matching cloud")
		}

		if lo.Must(cmd.Flags().GetBool("yaml")) {
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(clouds)
		}
		printTemplates(cmd.OutOrStdout(), clouds)
		return nil
	},
}

func init() {
	templatesCmd.Flags().Bool("yaml", false, "print the evaluated cloud file")
}

func printTemplates(w io.Writer, clouds []config.Cloud) {
	for i, c := range clouds {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, ui.SectionHeaderColor.Sprintf("  %s  ", cloudID(c.Name)))
		fmt.Fprintf(w, "engine: %s\n", lo.Ternary(c.ServerURL != "", c.ServerURL, "local"))

		for _, t := range c.Templates {
			instanceCap := lo.Ternary(t.InstanceCap.IsUnbounded() || t.InstanceCap == 0, "unbounded", t.InstanceCap.String())
			fmt.Fprintf(w, "  %s  labels: %s  cap: %s  remoteFs: %s\n",
				ui.NameColor.Sprint(t.Image),
				lo.Ternary(t.Labels != "", t.Labels, "-"),
				instanceCap,
				lo.Ternary(t.RemoteFS != "", t.RemoteFS, dockercloud.DefaultRemoteFS),
			)
		}
	}
}
