package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Client is a provider that supports both batch and synchronous generation.
type Client interface {
	BatchProvider
	Generator
}

// New creates a client for cfg.Type.
func New(cfg Config) (Client, error) {
	switch cfg.Type {
	case OpenAIName:
		return NewOpenAIBatchClient(cfg), nil
	case AnthropicName:
		return NewAnthropicBatchClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}

// Registry holds provider clients keyed by configured name.
// It supports config-driven instantiation and hot-reload, and provides thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	configs map[string]Config
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		configs: make(map[string]Config),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a client by name, replacing any existing one.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("registered provider", "name", name)
	}
}

// Unregister removes a client by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("unregistered provider", "name", name)
	}
}

// Get returns a client by name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return client, nil
}

// Has checks if a client is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// List returns registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig maps provider names to client configs with resolved API keys.
// Entries without an API key are skipped.
type RegistryConfig struct {
	Providers map[string]Config
}

// NewRegistryFromConfig creates a registry with the configured providers.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry from new configuration.
// Providers that are no longer configured are unregistered and
// providers with changed settings are re-created.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.Providers {
		if provCfg.APIKey == "" {
			continue
		}
		if provCfg.Type == "" {
			provCfg.Type = name
		}

		existing, hasExisting := r.configs[name]
		if hasExisting && existing == provCfg {
			want[name] = true
			continue
		}

		client, err := New(provCfg)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping provider", "name", name, "error", err)
			}
			continue
		}
		want[name] = true
		r.clients[name] = client
		r.configs[name] = provCfg
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated provider", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered provider", "name", name, "type", provCfg.Type)
			}
		}
	}

	for name := range r.configs {
		if !want[name] {
			delete(r.clients, name)
			delete(r.configs, name)
			if r.logger != nil {
				r.logger.Info("unregistered provider", "name", name)
			}
		}
	}
}
