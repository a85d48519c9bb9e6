package session

import (
	"fmt"
	"sort"
	"sync"

	"cellsim.ai/internal/sim/rules/briansbrain"
	"cellsim.ai/internal/sim/rules/life"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register(life.Name, RuleOf[life.Cell]())
	Register(briansbrain.Name, RuleOf[briansbrain.Cell]())
}

// Register makes a rule available by name. Registering a name twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("session: rule %q registered twice", name))
	}
	registry[name] = f
}

// Rules lists the registered rule names in sorted order.
func Rules() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Factory, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown rule %q (known: %v)", name, Rules())
	}
	return f, nil
}
