package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"
	Port      = "port"

	CloudFile   = "cloud-file"
	CloudParams = "cloud-param"

	Registry      = "registry"
	RedisAddr     = "redis-addr"
	RedisPassword = "redis-password"
	RedisDB       = "redis-db"

	CredentialsDir      = "credentials-dir"
	CredentialsUsername = "credentials-username"

	MaxPendingExecutors    = "max-pending-executors"
	FailedNodeRetention    = "failed-node-retention"
	ConnectedNodeRetention = "connected-node-retention"
	ShutdownTimeout        = "shutdown-timeout"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Server
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.Int(Port, 25373, "HTTP listening port")
	flags.Duration(ShutdownTimeout, 30*time.Second, "how long in-flight HTTP requests may take to complete on shutdown")

	// Clouds
	flags.String(CloudFile, "clouds.yaml", "file declaring the docker clouds and their templates")
	flags.StringToString(CloudParams, nil, "parameters made available to the cloud file as .Params")

	// Agent registry
	flags.String(Registry, "memory", "agent registry to use (memory, redis)")
	flags.String(RedisAddr, "127.0.0.1:6379", "redis address for the redis registry")
	flags.String(RedisPassword, "", "redis password for the redis registry")
	flags.Int(RedisDB, 0, "redis database for the redis registry")

	// Credentials
	flags.String(CredentialsDir, "/etc/dockyard/credentials", "directory holding the private keys named by template credentials ids")
	flags.String(CredentialsUsername, "jenkins", "ssh username used when a credential does not name one")

	// Scheduler
	flags.Int(MaxPendingExecutors, 0, "maximum number of executors pending across all clouds (0 = no limit)")
	flags.Duration(FailedNodeRetention, 10*time.Minute, "how long failed nodes stay listed")
	flags.Duration(ConnectedNodeRetention, 1*time.Minute, "how long online nodes stay listed")

	// Init
	if err := flags.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("dockyard")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
