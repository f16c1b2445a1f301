package provider

import (
	"fmt"
	"sync"

	"github.com/stratus-io/stratus/pkg/provider"
	"github.com/stratus-io/stratus/providers/aws"
	"github.com/stratus-io/stratus/providers/docker"
	"github.com/stratus-io/stratus/providers/task"
)

// Registry manages the lifecycle of providers. Providers are built in and
// instantiated once on first use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
	}
}

// LoadProvider initializes and registers the provider with the given key.
// Loading an already registered provider is a no-op.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p provider.Provider
	switch name {
	case "aws":
		p = aws.New()
	case "docker":
		p = docker.New()
	case "task":
		p = task.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// Register installs a provider under the given key, replacing any existing
// registration. Tests use this to inject fakes.
func (r *Registry) Register(name string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}
