package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:       "completion bash|zsh|fish",
	Short:     "Generate shell completion scripts",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bash", "zsh", "fish"},

	// Completion does not need the cloud file
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return dockyardCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return dockyardCmd.GenZshCompletion(out)
		case "fish":
			return dockyardCmd.GenFishCompletion(out, true)
		default:
			return fmt.Errorf("unsupported shell '%s'", args[0])
		}
	},
}
