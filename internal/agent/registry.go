// Package agent hosts AgentPort implementations and the registry the
// runtime uses to construct them from configuration. Transports live
// behind the port contract; the core never inspects how a prompt
// reaches the implementer.
package agent

import (
	"fmt"
	"sort"
	"sync"

	"overseer/internal/config"
	"overseer/internal/types"
)

// Factory builds an AgentPort from the agent config section.
type Factory func(cfg config.AgentConfig) (types.AgentPort, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named factory. Called from init functions at startup;
// duplicate names panic because they are programmer errors.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("agent: duplicate registration for %q", name))
	}
	registry[name] = f
}

// New constructs the agent named by cfg.Type.
func New(cfg config.AgentConfig) (types.AgentPort, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q (registered: %v)", cfg.Type, Names())
	}
	return f(cfg)
}

// Names lists the registered agent types, sorted.
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
