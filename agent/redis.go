package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	agentKeyPrefix = "dockyard:agent:"
	agentIndexKey  = "dockyard:agents"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisRegistry persists agent entries in Redis so that every dockyard process
// sharing the instance sees them. Launchers cannot be serialized: only the process
// that registered an agent can connect it.
type RedisRegistry struct {
	client *redis.Client

	mu        sync.Mutex
	launchers map[string]*Agent
}

// RedisRegistry implements Registry
var _ Registry = (*RedisRegistry)(nil)

func NewRedisRegistry(config RedisConfig) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at '%s': %w", config.Addr, err)
	}

	return NewRedisRegistryFromClient(client), nil
}

func NewRedisRegistryFromClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{
		client:    client,
		launchers: make(map[string]*Agent),
	}
}

func agentKey(name string) string {
	return agentKeyPrefix + name
}

func (r *RedisRegistry) Register(ctx context.Context, agent *Agent) error {
	data, err := json.Marshal(Entry{
		Agent:        agent,
		Status:       StatusOffline,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal agent '%s': %w", agent.Name, err)
	}

	created, err := r.client.SetNX(ctx, agentKey(agent.Name), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store agent '%s': %w", agent.Name, err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrAgentExists, agent.Name)
	}
	if err := r.client.SAdd(ctx, agentIndexKey, agent.Name).Err(); err != nil {
		return fmt.Errorf("failed to index agent '%s': %w", agent.Name, err)
	}

	r.mu.Lock()
	r.launchers[agent.Name] = agent
	r.mu.Unlock()
	return nil
}

func (r *RedisRegistry) Connect(ctx context.Context, name string) error {
	r.mu.Lock()
	agent, ok := r.launchers[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	launchErr := launch(ctx, agent)

	// The launch outcome is recorded even if ctx is already done.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.update(updateCtx, name, func(entry *Entry) {
		if launchErr != nil {
			entry.Status, entry.Error = StatusFailed, launchErr.Error()
		} else {
			entry.Status, entry.Error, entry.ConnectedAt = StatusOnline, "", time.Now().UTC()
		}
	}); err != nil && launchErr == nil {
		return err
	}
	return launchErr
}

func (r *RedisRegistry) update(ctx context.Context, name string, mutate func(*Entry)) error {
	entry, err := r.get(ctx, name)
	if err != nil {
		return err
	}
	mutate(entry)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal agent '%s': %w", name, err)
	}
	if err := r.client.Set(ctx, agentKey(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store agent '%s': %w", name, err)
	}
	return nil
}

func (r *RedisRegistry) get(ctx context.Context, name string) (*Entry, error) {
	data, err := r.client.Get(ctx, agentKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load agent '%s': %w", name, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent '%s': %w", name, err)
	}
	return &entry, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, name string) error {
	deleted, err := r.client.Del(ctx, agentKey(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove agent '%s': %w", name, err)
	}
	unindexErr := r.client.SRem(ctx, agentIndexKey, name).Err()

	r.mu.Lock()
	delete(r.launchers, name)
	r.mu.Unlock()

	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	if unindexErr != nil {
		return fmt.Errorf("failed to unindex agent '%s': %w", name, unindexErr)
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]Entry, error) {
	names, err := r.client.SMembers(ctx, agentIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entry, err := r.get(ctx, name)
		if errors.Is(err, ErrAgentNotFound) {
			// Removed between SMEMBERS and GET
			continue
		} else if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RegisteredAt.Before(entries[j].RegisteredAt)
	})
	return entries, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
