package scheduler

import (
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	Logger *slog.Logger `json:"-"`
	// MaxPendingExecutors bounds the executors of not yet connected nodes across all labels (0 = no bound)
	MaxPendingExecutors int `json:"max-pending-executors"`
	// FailedNodeRetention is how long failed nodes stay listed before being forgotten
	FailedNodeRetention time.Duration `json:"failed-node-retention"`
	// ConnectedNodeRetention is how long online nodes stay listed before being forgotten
	ConnectedNodeRetention time.Duration `json:"connected-node-retention"`
}

func Validate(config Config) error {
	if config.MaxPendingExecutors < 0 {
		return fmt.Errorf("max-pending-executors must not be negative")
	}
	if config.FailedNodeRetention < 0 {
		return fmt.Errorf("failed-node-retention must not be negative")
	}
	if config.ConnectedNodeRetention < 0 {
		return fmt.Errorf("connected-node-retention must not be negative")
	}
	return nil
}
