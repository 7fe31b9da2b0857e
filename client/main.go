package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/config"
	"github.com/gammadia/dockyard/provisioner/dockercloud"
	"github.com/gammadia/dockyard/provisioner/launcher"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var cloudFile *config.File

var verbose bool

var dockyardCmd = &cobra.Command{
	Use:   "dockyard",
	Short: "Dockyard provisions build agents on Docker engines.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		file := lo.Must(cmd.Flags().GetString("cloud-file"))
		if cloudFile, err = config.Read(file, config.ReadOptions{
			Params: parseParams(lo.Must(cmd.Flags().GetStringArray("param"))),
		}); err != nil {
			var e config.UnmarshalError
			if errors.As(err, &e) && verbose {
				cmd.PrintErrln(e.Source)
			}
			return fmt.Errorf("failed to read clouds from '%s': %w", file, err)
		}
		return nil
	},
}

func init() {
	dockyardCmd.AddCommand(completionCmd)
	dockyardCmd.AddCommand(pingCmd)
	dockyardCmd.AddCommand(provisionCmd)
	dockyardCmd.AddCommand(templatesCmd)
	dockyardCmd.AddCommand(versionCmd)

	dockyardCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	dockyardCmd.PersistentFlags().StringP("cloud-file", "f", lo.Must(lo.Coalesce(os.Getenv("DOCKYARD_CLOUD_FILE"), "clouds.yaml")), "file declaring the docker clouds and their templates")
	dockyardCmd.PersistentFlags().StringArrayP("param", "p", nil, "parameter made available to the cloud file as .Params (key=value)")
	dockyardCmd.PersistentFlags().String("credentials-dir", lo.Must(lo.Coalesce(os.Getenv("DOCKYARD_CREDENTIALS_DIR"), "/etc/dockyard/credentials")), "directory holding the private keys named by template credentials ids")
	dockyardCmd.PersistentFlags().String("credentials-username", "jenkins", "ssh username used when a credential does not name one")
}

func parseParams(params []string) map[string]string {
	return lo.SliceToMap(params, func(item string) (key, value string) {
		key, value, _ = strings.Cut(item, "=")
		return
	})
}

// newLogger returns the logger of in-process components, silent unless verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(lo.Ternary[io.Writer](verbose, cmd.ErrOrStderr(), io.Discard), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// createClouds instantiates the clouds of the cloud file, optionally restricted to the given names.
// Agents are registered in a registry local to the process.
func createClouds(cmd *cobra.Command, registry agent.Registry, names ...string) ([]*dockercloud.Cloud, error) {
	logger := newLogger(cmd)
	credentials := &launcher.FileCredentials{
		Root:            lo.Must(cmd.Flags().GetString("credentials-dir")),
		DefaultUsername: lo.Must(cmd.Flags().GetString("credentials-username")),
	}

	var clouds []*dockercloud.Cloud
	for _, c := range cloudFile.Clouds {
		if !selected(c, names) {
			continue
		}

		cloudConfig := c.Config
		cloudConfig.Registry = registry
		cloudConfig.Credentials = credentials
		cloudConfig.Logger = logger

		cloud, err := dockercloud.New(cloudConfig)
		if err != nil {
			shutdownClouds(clouds)
			return nil, fmt.Errorf("failed to create cloud '%s': %w", c.Name, err)
		}
		clouds = append(clouds, cloud)
	}

	if len(clouds) == 0 {
		return nil, fmt.Errorf("no cloud named %s", strings.Join(names, ", "))
	}
	return clouds, nil
}

// cloudID is the name a cloud runs under.
func cloudID(name string) string {
	if strings.HasPrefix(name, dockercloud.IDPrefix) {
		return name
	}
	return dockercloud.IDPrefix + name
}

// selected reports whether c is named by names, by file name or cloud id. No names select every cloud.
func selected(c config.Cloud, names []string) bool {
	return len(names) == 0 || lo.Contains(names, c.Name) || lo.Contains(names, cloudID(c.Name))
}

func shutdownClouds(clouds []*dockercloud.Cloud) {
	for _, cloud := range clouds {
		cloud.Shutdown()
	}
	for _, cloud := range clouds {
		cloud.Wait()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dockyardCmd.SetOut(os.Stdout)
	if err := dockyardCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
