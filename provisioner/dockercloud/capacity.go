package dockercloud

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"gopkg.in/yaml.v3"
)

// InstanceCap is the maximum number of running containers a template may provision.
type InstanceCap int

const Unbounded InstanceCap = -1

// ParseInstanceCap reads a persisted cap: the empty string is Unbounded.
func ParseInstanceCap(s string) (InstanceCap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unbounded, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid instance cap '%s': %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid instance cap '%s': must not be negative", s)
	}
	return InstanceCap(n), nil
}

func (c InstanceCap) IsUnbounded() bool {
	return c < 0
}

func (c InstanceCap) String() string {
	if c.IsUnbounded() {
		return ""
	}
	return strconv.Itoa(int(c))
}

func (c InstanceCap) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *InstanceCap) UnmarshalText(text []byte) (err error) {
	*c, err = ParseInstanceCap(string(text))
	return
}

func (c InstanceCap) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *InstanceCap) UnmarshalYAML(value *yaml.Node) error {
	if value.ShortTag() == "!!null" {
		*c = Unbounded
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: instance cap must be a scalar", value.Line)
	}
	return c.UnmarshalText([]byte(value.Value))
}

// admit reports whether one more container fits under limit with live containers running.
// A zero limit enforces nothing.
func admit(limit InstanceCap, live int) bool {
	if limit.IsUnbounded() || limit == 0 {
		return true
	}
	return live < int(limit)
}

// CapacityScope selects the containers counted against a template's cap.
type CapacityScope string

const (
	// ScopePool counts every running container visible on the engine.
	ScopePool CapacityScope = "pool"
	// ScopeImage only counts running containers created from the template image.
	ScopeImage CapacityScope = "image"
)

func (s CapacityScope) validate() error {
	switch s {
	case ScopePool, ScopeImage:
		return nil
	default:
		return fmt.Errorf("unknown capacity scope '%s'", s)
	}
}

// countRunning returns the number of running containers counted against t's cap.
func (c *Cloud) countRunning(ctx context.Context, t *Template) (int, error) {
	docker, err := c.conn.Get()
	if err != nil {
		return 0, t.provisionError("", ErrEngineUnreachable, err)
	}

	options := container.ListOptions{All: false}
	if c.scope == ScopeImage {
		options.Filters = filters.NewArgs(filters.Arg("ancestor", t.Image()))
	}

	containers, err := docker.ContainerList(ctx, options)
	if err != nil {
		return 0, t.provisionError("", ErrEngineUnreachable, fmt.Errorf("failed to list containers: %w", err))
	}
	return len(containers), nil
}

// addProvisionedAgent is the capacity guard: it reports whether t may provision one more
// container once plannedInCycle nodes are already planned in the current cycle.
// live caches the running container count for the cycle (negative until counted).
func (c *Cloud) addProvisionedAgent(ctx context.Context, t *Template, plannedInCycle int, live *int) (bool, error) {
	limit := t.InstanceCap()
	if limit.IsUnbounded() || limit == 0 {
		return true, nil
	}

	if *live < 0 {
		n, err := c.countRunning(ctx, t)
		if err != nil {
			return false, err
		}
		*live = n
		c.log.Debug("Counted running containers", "image", t.Image(), "scope", c.scope, "running", n, "cap", int(limit))
	}

	return admit(limit, *live+plannedInCycle), nil
}
