package dockercloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/go-connections/nat"
	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/provisioner/internal"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock Docker Client ---

type mockDocker struct {
	mu sync.Mutex

	// Running containers returned by ContainerList
	running []container.Summary

	// Track calls for assertions
	listCalls         int
	listOptions       []container.ListOptions
	containersCreated []string
	createConfigs     []*container.Config
	hostConfigs       []*container.HostConfig
	containersStarted []string
	containersRemoved []string
	closed            int

	// Control behavior
	listErr    error
	createErr  error
	startErr   error
	inspectErr error
	infoErr    error
	// failCreateAt and failStartAt fail only the nth call (1-based, 0 = never) with callErr
	failCreateAt int
	failStartAt  int
	callErr      error
	createCalls  int
	startCalls   int
	// hostPort is bound to 22/tcp on inspect, none when empty
	hostPort string
}

var _ internal.DockerClient = (*mockDocker)(nil)

func newMockDocker() *mockDocker {
	return &mockDocker{hostPort: "32768"}
}

func (m *mockDocker) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	m.listOptions = append(m.listOptions, options)
	if m.listErr != nil {
		return nil, m.listErr
	}

	ancestors := options.Filters.Get("ancestor")
	if len(ancestors) == 0 {
		return m.running, nil
	}
	var result []container.Summary
	for _, c := range m.running {
		for _, image := range ancestors {
			if c.Image == image {
				result = append(result, c)
			}
		}
	}
	return result, nil
}

func (m *mockDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return container.CreateResponse{}, m.createErr
	}
	m.createCalls++
	if m.createCalls == m.failCreateAt {
		return container.CreateResponse{}, m.callErr
	}
	m.containersCreated = append(m.containersCreated, containerName)
	m.createConfigs = append(m.createConfigs, config)
	m.hostConfigs = append(m.hostConfigs, hostConfig)
	return container.CreateResponse{ID: containerID(len(m.containersCreated))}, nil
}

func (m *mockDocker) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.startCalls++
	if m.startCalls == m.failStartAt {
		return m.callErr
	}
	m.containersStarted = append(m.containersStarted, containerID)
	return nil
}

func (m *mockDocker) ContainerInspect(_ context.Context, containerID string) (container.InspectResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inspectErr != nil {
		return container.InspectResponse{}, m.inspectErr
	}

	ports := nat.PortMap{}
	if m.hostPort != "" {
		ports[sshPort] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: m.hostPort}}
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{ID: containerID},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{Ports: ports},
		},
	}, nil
}

func (m *mockDocker) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containersRemoved = append(m.containersRemoved, containerID)
	return nil
}

func (m *mockDocker) Info(context.Context) (system.Info, error) {
	if m.infoErr != nil {
		return system.Info{}, m.infoErr
	}
	return system.Info{Name: "docker-host", ServerVersion: "28.5.2", ContainersRunning: len(m.running)}, nil
}

func (m *mockDocker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockDocker) getCreated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.containersCreated...)
}

func (m *mockDocker) getRemoved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.containersRemoved...)
}

func (m *mockDocker) getListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func containerID(n int) string {
	return fmt.Sprintf("%02d", n) + strings.Repeat("f", 62)
}

func runningContainers(image string, n int) []container.Summary {
	var result []container.Summary
	for i := 0; i < n; i++ {
		result = append(result, container.Summary{ID: fmt.Sprintf("running-%s-%d", image, i), Image: image, State: "running"})
	}
	return result
}

// --- Mock registry ---

type mockRegistry struct {
	mu         sync.Mutex
	registered []*agent.Agent
	connected  []string

	registerErr error
	// connectFunc decides the outcome of Connect, success when nil
	connectFunc func(ctx context.Context, name string) error
}

var _ agent.Registry = (*mockRegistry)(nil)

func (r *mockRegistry) Register(_ context.Context, a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered = append(r.registered, a)
	return nil
}

func (r *mockRegistry) Connect(ctx context.Context, name string) error {
	if r.connectFunc != nil {
		if err := r.connectFunc(ctx, name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, name)
	return nil
}

func (r *mockRegistry) Remove(context.Context, string) error {
	return errors.New("not implemented")
}

func (r *mockRegistry) List(context.Context) ([]agent.Entry, error) {
	return nil, nil
}

func (r *mockRegistry) getRegistered() []*agent.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*agent.Agent(nil), r.registered...)
}

// neverConnect blocks until the context ends, like an agent that never comes online.
func neverConnect(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// --- Helpers ---

type testCloud struct {
	*Cloud
	docker   *mockDocker
	registry *mockRegistry
	dials    *atomic.Int32
}

func newTestCloud(t *testing.T, config Config) *testCloud {
	t.Helper()

	docker := newMockDocker()
	registry := &mockRegistry{}
	dials := &atomic.Int32{}

	if config.Name == "" {
		config.Name = "test"
	}
	config.Registry = registry
	config.Logger = silentLogger
	config.Dialer = func() (internal.DockerClient, error) {
		dials.Add(1)
		return docker, nil
	}

	c, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Shutdown()
		c.Wait()
	})

	return &testCloud{Cloud: c, docker: docker, registry: registry, dials: dials}
}

func templateOf(image, labels string, instanceCap InstanceCap) TemplateConfig {
	return TemplateConfig{Image: image, Labels: labels, CredentialsID: "agent-key", InstanceCap: instanceCap}
}
