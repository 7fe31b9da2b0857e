package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/config"
	"github.com/gammadia/dockyard/provisioner/dockercloud"
	"github.com/gammadia/dockyard/provisioner/launcher"
	schedulerpkg "github.com/gammadia/dockyard/scheduler"
	"github.com/gammadia/dockyard/server/flags"
	"github.com/gammadia/dockyard/server/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var scheduler *schedulerpkg.Scheduler
var clouds []*dockercloud.Cloud
var registry agent.Registry

func createScheduler() error {
	var err error
	if registry, err = createRegistry(); err != nil {
		return fmt.Errorf("unable to create agent registry '%s': %w", viper.GetString(flags.Registry), err)
	}

	file, err := config.Read(viper.GetString(flags.CloudFile), config.ReadOptions{
		Params: viper.GetStringMapString(flags.CloudParams),
	})
	if err != nil {
		return fmt.Errorf("unable to read cloud file: %w", err)
	}

	credentials := &launcher.FileCredentials{
		Root:            viper.GetString(flags.CredentialsDir),
		DefaultUsername: viper.GetString(flags.CredentialsUsername),
	}

	for _, c := range file.Clouds {
		cloud, err := createCloud(c, credentials)
		if err != nil {
			return fmt.Errorf("unable to create cloud '%s': %w", c.Name, err)
		}
		clouds = append(clouds, cloud)
	}

	config := schedulerpkg.Config{
		Logger:                 log.Base.With("component", "scheduler"),
		MaxPendingExecutors:    viper.GetInt(flags.MaxPendingExecutors),
		FailedNodeRetention:    viper.GetDuration(flags.FailedNodeRetention),
		ConnectedNodeRetention: viper.GetDuration(flags.ConnectedNodeRetention),
	}
	if err := schedulerpkg.Validate(config); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}

	scheduler = schedulerpkg.New(lo.Map(clouds, func(c *dockercloud.Cloud, _ int) schedulerpkg.Cloud {
		return c
	}), config)
	return nil
}

func createRegistry() (agent.Registry, error) {
	switch r := viper.GetString(flags.Registry); r {
	case "memory":
		return agent.NewMemoryRegistry(), nil
	case "redis":
		log.Debug("Connecting to redis", "address", viper.GetString(flags.RedisAddr))
		return agent.NewRedisRegistry(agent.RedisConfig{
			Addr:     viper.GetString(flags.RedisAddr),
			Password: viper.GetString(flags.RedisPassword),
			DB:       viper.GetInt(flags.RedisDB),
		})
	default:
		return nil, fmt.Errorf("unknown registry")
	}
}

func createCloud(c config.Cloud, credentials launcher.Credentials) (*dockercloud.Cloud, error) {
	logger := log.Base.With("component", "provisioner")
	switch c.Type {
	case config.CloudTypeDocker:
		cloudConfig := c.Config
		cloudConfig.Registry = registry
		cloudConfig.Credentials = credentials
		cloudConfig.Logger = logger

		cloud, err := dockercloud.New(cloudConfig)
		if err != nil {
			return nil, err
		}
		logger.Debug("Cloud config", "cloud", cloud.Name(), "config", string(lo.Must(json.Marshal(cloud.Config()))))
		return cloud, nil
	default:
		return nil, fmt.Errorf("unknown cloud type '%s'", c.Type)
	}
}

func closeRegistry() {
	if closer, ok := registry.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn("Failed to close agent registry", "error", err)
		}
	}
}
