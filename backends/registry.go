package backends

import "sync"

// BackendFactory creates a backend instance with optional configuration
type BackendFactory func(config any) (Backend, error)

var (
	registryMu         sync.RWMutex
	registeredBackends = make(map[string]BackendFactory)
)

// Register registers a backend factory function under a unique name.
// Backend packages call this from init.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registeredBackends[name] = factory
}

// Create creates a backend instance by registered name.
func Create(name string, config any) (Backend, error) {
	registryMu.RLock()
	factory, ok := registeredBackends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrBackendNotFound
	}
	return factory(config)
}
