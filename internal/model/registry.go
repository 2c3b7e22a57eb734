// Package model hosts ModelPort implementations and the registry the
// runtime uses to construct the validator model from configuration.
package model

import (
	"fmt"
	"sort"
	"sync"

	"overseer/internal/config"
	"overseer/internal/types"
)

// Factory builds a ModelPort from the model config section.
type Factory func(cfg config.ModelConfig) (types.ModelPort, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named factory. Duplicate names panic.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("model: duplicate registration for %q", name))
	}
	registry[name] = f
}

// New constructs the model named by cfg.Type.
func New(cfg config.ModelConfig) (types.ModelPort, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model type %q (registered: %v)", cfg.Type, Names())
	}
	return f(cfg)
}

// Names lists the registered model types, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
