package dockercloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEngineUnreachable    = errors.New("container engine unreachable")
	ErrContainerCreate      = errors.New("failed to create container")
	ErrContainerStart       = errors.New("failed to start container")
	ErrContainerInspect     = errors.New("failed to inspect container")
	ErrRemoteConnect        = errors.New("failed to connect agent")
	ErrRemoteConnectTimeout = errors.New("timed out connecting agent")
	ErrTemplateNotFound     = errors.New("no template matches label")
)

// ProvisionError is the error of a provisioning attempt.
// It unwraps to both its Kind (one of the sentinels above) and its cause.
type ProvisionError struct {
	Cloud       string
	Image       string
	ContainerID string
	Kind        error
	Err         error
}

func (e *ProvisionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cloud '%s', image '%s'", e.Cloud, e.Image)
	if e.ContainerID != "" {
		fmt.Fprintf(&b, ", container '%s'", shortID(e.ContainerID))
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	return b.String()
}

func (e *ProvisionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// failureReason is the metrics label of err.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEngineUnreachable):
		return "engine_unreachable"
	case errors.Is(err, ErrContainerCreate):
		return "container_create"
	case errors.Is(err, ErrContainerStart):
		return "container_start"
	case errors.Is(err, ErrContainerInspect):
		return "container_inspect"
	case errors.Is(err, ErrRemoteConnectTimeout):
		return "remote_connect_timeout"
	case errors.Is(err, ErrRemoteConnect):
		return "remote_connect"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}
