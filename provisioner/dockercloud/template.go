package dockercloud

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/gammadia/dockyard/agent"
	"github.com/gammadia/dockyard/label"
	"github.com/gammadia/dockyard/namegen"
	"github.com/gammadia/dockyard/provisioner/launcher"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRemoteFS = "/home/jenkins"

	// Container labels identifying provisioned agents
	LabelCloud = "dockyard.cloud"
	LabelImage = "dockyard.image"

	shortIDLength = 12
)

var (
	sshPort     = nat.Port("22/tcp")
	sshdCommand = []string{"/usr/sbin/sshd", "-D"}
)

// TemplateConfig is the persisted form of a Template.
type TemplateConfig struct {
	Image           string      `yaml:"image" json:"image"`
	Labels          string      `yaml:"labels" json:"labels"`
	RemoteFS        string      `yaml:"remoteFs,omitempty" json:"remoteFs,omitempty"`
	CredentialsID   string      `yaml:"credentialsId" json:"credentialsId"`
	JVMOptions      string      `yaml:"jvmOptions,omitempty" json:"jvmOptions,omitempty"`
	JavaPath        string      `yaml:"javaPath,omitempty" json:"javaPath,omitempty"`
	PrefixStartCmd  string      `yaml:"prefixStartCmd,omitempty" json:"prefixStartCmd,omitempty"`
	SuffixStartCmd  string      `yaml:"suffixStartCmd,omitempty" json:"suffixStartCmd,omitempty"`
	TagOnCompletion bool        `yaml:"tagOnCompletion,omitempty" json:"tagOnCompletion,omitempty"`
	InstanceCap     InstanceCap `yaml:"instanceCap" json:"instanceCap"`
}

// UnmarshalYAML leaves the instance cap Unbounded when the document omits it.
func (c *TemplateConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain TemplateConfig
	config := plain{InstanceCap: Unbounded}
	if err := value.Decode(&config); err != nil {
		return err
	}
	*c = TemplateConfig(config)
	return nil
}

// Template describes the agents a cloud provisions for the labels it matches.
type Template struct {
	config TemplateConfig
	labels label.Set

	cloud *Cloud
}

// NewTemplate validates config. The label set is derived from the label string
// on every construction and never persisted.
func NewTemplate(config TemplateConfig) (*Template, error) {
	if config.Image == "" {
		return nil, fmt.Errorf("template image is required")
	}
	if config.RemoteFS == "" {
		config.RemoteFS = DefaultRemoteFS
	}

	return &Template{
		config: config,
		labels: label.ParseSet(config.Labels),
	}, nil
}

func (t *Template) Image() string            { return t.config.Image }
func (t *Template) LabelString() string      { return t.config.Labels }
func (t *Template) Labels() label.Set        { return t.labels }
func (t *Template) RemoteFS() string         { return t.config.RemoteFS }
func (t *Template) InstanceCap() InstanceCap { return t.config.InstanceCap }
func (t *Template) Config() TemplateConfig   { return t.config }

func (t *Template) DisplayName() string {
	return "Image of " + t.config.Image
}

// NumExecutors is the number of executors of every agent of this template.
func (*Template) NumExecutors() int {
	return 1
}

func (t *Template) provisionError(containerID string, kind, err error) error {
	cloud := lo.TernaryF(t.cloud != nil, func() string { return t.cloud.name }, func() string { return "" })
	return &ProvisionError{Cloud: cloud, Image: t.config.Image, ContainerID: containerID, Kind: kind, Err: err}
}

// Provision starts an sshd container from the template image and describes the agent
// to run in it. The agent is neither registered nor connected yet.
// Containers failing after creation are removed.
func (t *Template) Provision(ctx context.Context) (*agent.Agent, error) {
	c := t.cloud
	log := c.log.With("image", t.config.Image)

	docker, err := c.conn.Get()
	if err != nil {
		return nil, t.provisionError("", ErrEngineUnreachable, err)
	}

	name := namegen.Get().ContainerName(c.name)
	resp, err := docker.ContainerCreate(ctx,
		&container.Config{
			Image:        t.config.Image,
			Cmd:          sshdCommand,
			ExposedPorts: nat.PortSet{sshPort: struct{}{}},
			Labels: map[string]string{
				LabelCloud: c.name,
				LabelImage: t.config.Image,
			},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				sshPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}},
			},
		},
		nil, nil, name,
	)
	if err != nil {
		return nil, t.provisionError("", ErrContainerCreate, err)
	}
	id := resp.ID
	log = log.With("container", shortID(id))
	log.Debug("Created container", "name", name)

	// tryTo is a best-effort cleanup helper: logs errors but doesn't mask the original one
	tryTo := func(what string, thunk func() error) {
		if err := thunk(); err != nil {
			log.Error("Failed to "+what, "error", err)
		}
	}
	removeContainer := func() error {
		// Uses context.Background() so cleanup isn't skipped if ctx is already cancelled
		return docker.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}

	if err := docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		tryTo("remove container", removeContainer)
		return nil, t.provisionError(id, ErrContainerStart, err)
	}

	inspect, err := docker.ContainerInspect(ctx, id)
	if err != nil {
		tryTo("remove container", removeContainer)
		return nil, t.provisionError(id, ErrContainerInspect, err)
	}
	port, err := boundPort(inspect, sshPort)
	if err != nil {
		tryTo("remove container", removeContainer)
		return nil, t.provisionError(id, ErrContainerInspect, err)
	}

	host := c.agentHost()
	log.Info("Started container", "name", name, "host", host, "port", port)

	return &agent.Agent{
		Name:            id,
		ShortName:       shortID(id),
		Description:     "Docker Node",
		RemoteFS:        t.config.RemoteFS,
		Executors:       t.NumExecutors(),
		Mode:            agent.ModeExclusive,
		LabelString:     t.config.Labels,
		Labels:          t.labels,
		Cloud:           c.name,
		Image:           t.config.Image,
		Retention:       agent.ContainerRetention,
		TagOnCompletion: t.config.TagOnCompletion,
		Launcher: &launcher.SSH{
			Host:           host,
			Port:           port,
			CredentialsID:  t.config.CredentialsID,
			JVMOptions:     t.config.JVMOptions,
			JavaPath:       t.config.JavaPath,
			PrefixStartCmd: t.config.PrefixStartCmd,
			SuffixStartCmd: t.config.SuffixStartCmd,
			Credentials:    c.credentials,
			Logger:         log,
		},
	}, nil
}

// boundPort returns the host port the engine bound to the container port.
func boundPort(inspect container.InspectResponse, port nat.Port) (int, error) {
	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("container has no network settings")
	}

	binding, ok := lo.Find(inspect.NetworkSettings.Ports[port], func(b nat.PortBinding) bool {
		return b.HostPort != ""
	})
	if !ok {
		return 0, fmt.Errorf("no host port bound to %s", port)
	}

	n, err := strconv.Atoi(binding.HostPort)
	if err != nil {
		return 0, fmt.Errorf("invalid host port '%s': %w", binding.HostPort, err)
	}
	return n, nil
}

func shortID(id string) string {
	return lo.Substring(id, 0, shortIDLength)
}
