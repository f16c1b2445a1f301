package state

import (
	"context"
	"fmt"

	"github.com/stratus-io/stratus/internal/ir"
)

// DefaultStatePath is where the local backend keeps its snapshot when the
// configuration names no other location.
const DefaultStatePath = ".stratus/state.json"

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `yaml:"type" json:"type"` // "local" or "s3"
	Config map[string]string `yaml:"config" json:"config"`
}

// NewBackend creates a state backend from configuration. A nil config
// means the default local backend.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return NewManager(DefaultStatePath), nil
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = DefaultStatePath
		}
		return NewManager(path), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
