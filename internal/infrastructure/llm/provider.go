package llm

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Client + RegisterFactory("type", New).

// ProviderFactory creates a Client from config. It may return an error
// (Provider A rejects a model allow-list it can't validate at
// construction, per spec §4.E).
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) (Client, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (llm/providera, llm/providerb).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Client using the registered factory for typeName.
func CreateProvider(typeName string, cfg ProviderConfig, logger *zap.Logger) (Client, error) {
	factoryMu.RLock()
	factory, ok := factories[typeName]
	factoryMu.RUnlock()

	if !ok {
		available := make([]string, 0, len(factories))
		factoryMu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", typeName, available)
	}

	return factory(cfg, logger)
}
