package pipeline

import (
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"

	"github.com/mensylisir/sshdeploy/config"
)

// PhaseFactory builds a phase for one run.
type PhaseFactory func(cfg config.Config, localFS billy.Filesystem) Phase

var (
	// DefaultRegistry holds the registered phase factories.
	DefaultRegistry = make(map[string]PhaseFactory)
	registryMutex   = &sync.RWMutex{}
)

// Register adds a phase factory to the DefaultRegistry.
// It returns an error if a phase with the same name is already registered.
func Register(name string, factory PhaseFactory) error {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := DefaultRegistry[name]; exists {
		return errors.Errorf("phase with name '%s' already registered", name)
	}
	DefaultRegistry[name] = factory
	return nil
}

// NewPhase builds the named phase from its registered factory.
func NewPhase(name string, cfg config.Config, localFS billy.Filesystem) (Phase, error) {
	registryMutex.RLock()
	factory, exists := DefaultRegistry[name]
	registryMutex.RUnlock()

	if !exists {
		return nil, errors.Errorf("phase with name '%s' not found in registry", name)
	}
	return factory(cfg, localFS), nil
}

func mustRegister(name string, factory PhaseFactory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}
