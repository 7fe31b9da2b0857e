package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MemoryRegistry keeps agents in process memory.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// MemoryRegistry implements Registry
var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*Entry)}
}

func (r *MemoryRegistry) Register(_ context.Context, agent *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[agent.Name]; ok {
		return fmt.Errorf("%w: %s", ErrAgentExists, agent.Name)
	}
	r.entries[agent.Name] = &Entry{
		Agent:        agent,
		Status:       StatusOffline,
		RegisteredAt: time.Now().UTC(),
	}
	return nil
}

func (r *MemoryRegistry) Connect(ctx context.Context, name string) error {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	err := launch(ctx, entry.Agent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		entry.Status, entry.Error = StatusFailed, err.Error()
		return err
	}
	entry.Status, entry.Error, entry.ConnectedAt = StatusOnline, "", time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) Remove(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	delete(r.entries, name)
	return nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := lo.MapToSlice(r.entries, func(_ string, e *Entry) Entry { return *e })
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RegisteredAt.Before(entries[j].RegisteredAt)
	})
	return entries, nil
}

// launch runs the agent's launcher, honoring ctx even if the launcher does not.
func launch(ctx context.Context, agent *Agent) error {
	if agent.Launcher == nil {
		return fmt.Errorf("%w: %s", ErrNoLauncher, agent.Name)
	}

	done := make(chan error, 1)
	go func() {
		done <- agent.Launcher.Launch(ctx, agent)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
