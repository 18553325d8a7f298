package brokers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"queue-router/internal/common/errors"
	"queue-router/internal/config"
)

// Factory opens connections for one broker type
type Factory interface {
	Type() string
	Connect(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (Connection, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc struct {
	BrokerType string
	Fn         func(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (Connection, error)
}

func (f FactoryFunc) Type() string { return f.BrokerType }

func (f FactoryFunc) Connect(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (Connection, error) {
	return f.Fn(ctx, cfg, creds)
}

type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Type()] = factory
}

// Connect opens a connection with the factory registered for cfg.Type
func (r *Registry) Connect(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (Connection, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.ConfigError(fmt.Sprintf("broker type %s not registered", cfg.Type), nil).
			WithContext("available", strings.Join(r.AvailableTypes(), ","))
	}

	return factory.Connect(ctx, cfg, creds)
}

func (r *Registry) AvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for brokerType := range r.factories {
		types = append(types, brokerType)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) IsRegistered(brokerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[brokerType]
	return exists
}

var DefaultRegistry = NewRegistry()

func Register(factory Factory) {
	DefaultRegistry.Register(factory)
}

func Connect(ctx context.Context, cfg config.BrokerConfig, creds *config.Credentials) (Connection, error) {
	return DefaultRegistry.Connect(ctx, cfg, creds)
}

func AvailableTypes() []string {
	return DefaultRegistry.AvailableTypes()
}
