// Package dockercloud provisions agents as containers of a Docker engine.
package dockercloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/system"
	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/label"
	"github.com/gammadia/dockyard/metrics"
	"github.com/gammadia/dockyard/provisioner/internal"
	"github.com/gammadia/dockyard/provisioner/launcher"
	"github.com/gammadia/dockyard/scheduler"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

// IDPrefix starts the name of every docker cloud.
const IDPrefix = "docker-"

const localhost = "127.0.0.1"

type Config struct {
	Name      string `yaml:"name" json:"name"`
	ServerURL string `yaml:"serverUrl,omitempty" json:"serverUrl,omitempty"`
	// AgentHost is the address agents are reached at, derived from ServerURL when empty
	AgentHost     string        `yaml:"agentHost,omitempty" json:"agentHost,omitempty"`
	CapacityScope CapacityScope `yaml:"capacityScope,omitempty" json:"capacityScope,omitempty"`
	// MaxConcurrentProvisions bounds the containers being launched at once (0 = no bound)
	MaxConcurrentProvisions int `yaml:"maxConcurrentProvisions,omitempty" json:"maxConcurrentProvisions,omitempty"`
	// ConnectTimeout bounds the wait for an agent to come online (0 = wait forever)
	ConnectTimeout time.Duration    `yaml:"connectTimeout,omitempty" json:"connectTimeout,omitempty"`
	Templates      []TemplateConfig `yaml:"templates" json:"templates"`

	Registry    agent.Registry       `yaml:"-" json:"-"`
	Credentials launcher.Credentials `yaml:"-" json:"-"`
	Logger      *slog.Logger         `yaml:"-" json:"-"`
	// Dialer overrides how the engine client is created
	Dialer internal.Dialer `yaml:"-" json:"-"`
}

type Cloud struct {
	name      string
	config    Config
	templates []*Template
	scope     CapacityScope

	conn        *internal.Connection
	registry    agent.Registry
	credentials launcher.Credentials
	sem         *semaphore.Weighted
	log         *slog.Logger

	// mu orders spawning tasks against Shutdown so that wg.Add never races wg.Wait
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Cloud implements scheduler.Cloud
var _ scheduler.Cloud = (*Cloud)(nil)

func New(config Config) (*Cloud, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("cloud name is required")
	}
	if !strings.HasPrefix(config.Name, IDPrefix) {
		config.Name = IDPrefix + config.Name
	}
	if config.CapacityScope == "" {
		config.CapacityScope = ScopePool
	}
	if err := config.CapacityScope.validate(); err != nil {
		return nil, fmt.Errorf("cloud '%s': %w", config.Name, err)
	}
	if config.MaxConcurrentProvisions < 0 {
		return nil, fmt.Errorf("cloud '%s': max-concurrent-provisions must not be negative", config.Name)
	}
	if config.ConnectTimeout < 0 {
		return nil, fmt.Errorf("cloud '%s': connect-timeout must not be negative", config.Name)
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("cloud '%s': an agent registry is required", config.Name)
	}

	dial := config.Dialer
	if dial == nil {
		dial = internal.DialDocker(config.ServerURL)
	}
	logger := lo.Ternary(config.Logger != nil, config.Logger, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	c := &Cloud{
		name:   config.Name,
		config: config,
		scope:  config.CapacityScope,

		conn:        internal.NewConnection(dial),
		registry:    config.Registry,
		credentials: config.Credentials,
		log:         logger.With("component", "cloud", "cloud", config.Name),

		ctx:    ctx,
		cancel: cancel,
	}
	if config.MaxConcurrentProvisions > 0 {
		c.sem = semaphore.NewWeighted(int64(config.MaxConcurrentProvisions))
	}

	for i, templateConfig := range config.Templates {
		t, err := NewTemplate(templateConfig)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("cloud '%s', template %d: %w", config.Name, i, err)
		}
		t.cloud = c
		c.templates = append(c.templates, t)
	}

	return c, nil
}

func (c *Cloud) Name() string {
	return c.name
}

func (c *Cloud) Templates() []*Template {
	return c.templates
}

// Config returns the persisted form of the cloud, templates included.
func (c *Cloud) Config() Config {
	config := c.config
	config.Templates = lo.Map(c.templates, func(t *Template, _ int) TemplateConfig {
		return t.Config()
	})
	config.Registry, config.Credentials, config.Logger, config.Dialer = nil, nil, nil, nil
	return config
}

// Template returns the first template, in declared order, whose labels match expr.
// A nil expression matches any template.
func (c *Cloud) Template(expr label.Expression) *Template {
	t, _ := lo.Find(c.templates, func(t *Template) bool {
		return label.Matches(expr, t.Labels())
	})
	return t
}

func (c *Cloud) TemplateByImage(image string) *Template {
	t, _ := lo.Find(c.templates, func(t *Template) bool {
		return t.Image() == image
	})
	return t
}

func (c *Cloud) CanProvision(expr label.Expression) bool {
	return c.Template(expr) != nil
}

// Provision plans agents for up to excessWorkload executors, within the instance cap
// of the matching template. Each planned node is launched in the background and
// completes once its agent is connected.
// Engine errors abort the whole cycle: nothing is planned and the error is only logged.
func (c *Cloud) Provision(ctx context.Context, expr label.Expression, excessWorkload int) []*scheduler.PlannedNode {
	log := c.log.With("label", label.String(expr), "excess", excessWorkload)

	if c.ctx.Err() != nil {
		log.Warn("Cloud is shutting down, not provisioning")
		return nil
	}

	t := c.Template(expr)
	if t == nil {
		log.Warn("Cannot provision", "error", ErrTemplateNotFound)
		return nil
	}
	log = log.With("image", t.Image())

	var planned []*scheduler.PlannedNode
	live := -1
	for excessWorkload > 0 {
		admitted, err := c.addProvisionedAgent(ctx, t, len(planned), &live)
		if err != nil {
			log.Error("Aborting provisioning cycle", "error", err)
			metrics.CycleAborts.WithLabelValues(c.name, failureReason(err)).Inc()
			return nil
		}
		if !admitted {
			log.Info("Instance cap reached", "cap", int(t.InstanceCap()), "planned", len(planned))
			metrics.CapacityDenials.WithLabelValues(c.name, t.Image()).Inc()
			break
		}

		planned = append(planned, scheduler.NewPlannedNode(t.DisplayName(), t.NumExecutors()))
		excessWorkload -= t.NumExecutors()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		log.Warn("Cloud shut down while planning, dropping planned nodes", "planned", len(planned))
		return nil
	}

	for _, node := range planned {
		log.Info("Planned node", "node", node.ID)
		metrics.NodesPlanned.WithLabelValues(c.name, t.Image()).Inc()

		c.wg.Add(1)
		go c.runTask(node, t)
	}
	return planned
}

// runTask drives a planned node until its agent is connected or provisioning failed.
func (c *Cloud) runTask(node *scheduler.PlannedNode, t *Template) {
	defer c.wg.Done()

	started := time.Now()
	inFlight := metrics.ProvisioningInFlight.WithLabelValues(c.name)
	inFlight.Inc()
	defer inFlight.Dec()

	a, err := c.provisionNode(node, t)
	if err != nil {
		log := c.log.With("node", node.ID, "image", t.Image())
		var provisionErr *ProvisionError
		if errors.As(err, &provisionErr) && provisionErr.ContainerID != "" {
			log = log.With("container", shortID(provisionErr.ContainerID))
		}
		log.Error("Provisioning failed", "error", err)

		metrics.ProvisionFailures.WithLabelValues(c.name, failureReason(err)).Inc()
		metrics.ProvisionDuration.WithLabelValues(c.name, "failed").Observe(time.Since(started).Seconds())
		node.Failed(err)
		return
	}

	c.log.Info("Agent is online", "node", node.ID, "image", t.Image(), "agent", a.ShortName)
	metrics.NodesConnected.WithLabelValues(c.name, t.Image()).Inc()
	metrics.ProvisionDuration.WithLabelValues(c.name, "connected").Observe(time.Since(started).Seconds())
	node.Connected(a)
}

func (c *Cloud) provisionNode(node *scheduler.PlannedNode, t *Template) (*agent.Agent, error) {
	a, err := c.launch(t)
	if err != nil {
		return nil, err
	}
	node.Launched()

	if err := c.registry.Register(c.ctx, a); err != nil {
		return nil, t.provisionError(a.Name, ErrRemoteConnect, fmt.Errorf("failed to register agent: %w", err))
	}

	ctx := c.ctx
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	// Unreachable agents stay registered and their container keeps running
	if err := c.registry.Connect(ctx, a.Name); err != nil {
		kind := ErrRemoteConnect
		if errors.Is(err, context.DeadlineExceeded) && c.ctx.Err() == nil {
			kind = ErrRemoteConnectTimeout
		}
		return nil, t.provisionError(a.Name, kind, err)
	}
	return a, nil
}

// launch runs the template launch sequence, bounded by MaxConcurrentProvisions.
func (c *Cloud) launch(t *Template) (*agent.Agent, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			return nil, fmt.Errorf("provisioning cancelled: %w", err)
		}
		defer c.sem.Release(1)
	}
	return t.Provision(c.ctx)
}

// Ping checks the engine answers, returning its description.
func (c *Cloud) Ping(ctx context.Context) (system.Info, error) {
	docker, err := c.conn.Get()
	if err != nil {
		return system.Info{}, fmt.Errorf("%w: %w", ErrEngineUnreachable, err)
	}

	info, err := docker.Info(ctx)
	if err != nil {
		return system.Info{}, fmt.Errorf("%w: %w", ErrEngineUnreachable, err)
	}
	return info, nil
}

// agentHost is the address agents are reached at: the engine host, or the local host
// for engines reached through a socket.
func (c *Cloud) agentHost() string {
	if c.config.AgentHost != "" {
		return c.config.AgentHost
	}
	if c.config.ServerURL == "" {
		return localhost
	}

	u, err := url.Parse(c.config.ServerURL)
	if err != nil || u.Hostname() == "" || u.Scheme == "unix" || u.Scheme == "npipe" {
		return localhost
	}
	return u.Hostname()
}

// Shutdown cancels in-flight provisioning.
func (c *Cloud) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
}

// Wait blocks until Shutdown was called and in-flight provisioning returned,
// then closes the engine connection.
func (c *Cloud) Wait() {
	<-c.ctx.Done()
	c.wg.Wait()
	if err := c.conn.Close(); err != nil {
		c.log.Warn("Failed to close docker connection", "error", err)
	}
}
