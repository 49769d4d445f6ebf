package connector

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/models"
)

// ConnectorInfo describes a registered connector type.
type ConnectorInfo struct {
	Type        models.ConnectorType `json:"type"`
	DisplayName string               `json:"displayName"`
	Description string               `json:"description"`
}

// Timeouts bound the external calls made by a strategy.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// DefaultTimeouts is used when the dispatcher has no timeouts for a type.
var DefaultTimeouts = Timeouts{Connect: 10 * time.Second, Read: 30 * time.Second}

// Deps are handed to a strategy factory.
type Deps struct {
	Timeouts   Timeouts
	ConnMgr    *ConnectionManager // nil means every call opens its own connection
	HTTPClient *http.Client       // nil means the strategy builds one from Timeouts
	Logger     *zap.Logger
}

// Factory creates a strategy for one connector type.
type Factory func(deps Deps) Strategy

// Registration is what a connector package hands to Register.
type Registration struct {
	Info    ConnectorInfo
	Factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.ConnectorType]Registration)
)

// Register adds a connector to the registry.
// Called from init() in each connector package.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if reg.Factory == nil {
		panic("connector: Register factory is nil for " + string(reg.Info.Type))
	}
	if _, dup := registry[reg.Info.Type]; dup {
		panic("connector: Register called twice for " + string(reg.Info.Type))
	}
	registry[reg.Info.Type] = reg
}

// RegisteredConnectors returns info for all registered connectors, sorted by type.
func RegisteredConnectors() []ConnectorInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(registry))
	for _, reg := range registry {
		infos = append(infos, reg.Info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// IsRegistered checks if a connector type is registered.
func IsRegistered(t models.ConnectorType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}

func lookup(t models.ConnectorType) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[t]
	return reg, ok
}
