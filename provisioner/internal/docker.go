package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1" // for DockerClient interface
)

// DockerClient abstracts the Docker SDK methods used to provision agents,
// enabling mock-based testing without a real Docker daemon.
type DockerClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Info(ctx context.Context) (system.Info, error)
	Close() error
}

// *client.Client implements DockerClient
var _ DockerClient = (*client.Client)(nil)

type Dialer func() (DockerClient, error)

// DialDocker returns a Dialer for the engine at host, or for the environment's
// engine (DOCKER_HOST and friends) when host is empty.
func DialDocker(host string) Dialer {
	return func() (DockerClient, error) {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if host != "" {
			opts = append(opts, client.WithHost(host))
		}

		docker, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to init docker client: %w", err)
		}
		return docker, nil
	}
}

// Connection is an engine client shared by everything provisioning through one cloud.
// The client is dialed on first use and then reused until Close.
type Connection struct {
	dial Dialer

	mu     sync.Mutex
	docker DockerClient
	closed bool
}

func NewConnection(dial Dialer) *Connection {
	return &Connection{dial: dial}
}

// Get returns the shared client, dialing it if needed.
// A failed dial is not cached: the next call dials again.
func (c *Connection) Get() (DockerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("docker connection is closed")
	}
	if c.docker == nil {
		docker, err := c.dial()
		if err != nil {
			return nil, err
		}
		c.docker = docker
	}
	return c.docker, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.docker == nil {
		return nil
	}
	err := c.docker.Close()
	c.docker = nil
	return err
}
