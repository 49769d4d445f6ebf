package connector

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
)

// Dispatcher routes connector operations to the strategy registered for a type.
type Dispatcher interface {
	Resolve(t models.ConnectorType) (Strategy, error)
	TestConnection(ctx context.Context, t models.ConnectorType, cfg map[string]any) models.TestResult
	FetchSchemas(ctx context.Context, t models.ConnectorType, cfg map[string]any, sel models.SchemaSelector) ([]models.SchemaElement, error)
	PushData(ctx context.Context, t models.ConnectorType, cfg map[string]any, payload *Payload) (*PushResult, error)
	GetPrograms(ctx context.Context, t models.ConnectorType, cfg map[string]any, page Page) (*CatalogPage, error)
	GetDatasets(ctx context.Context, t models.ConnectorType, cfg map[string]any, page Page) (*CatalogPage, error)
	GetOrgUnits(ctx context.Context, t models.ConnectorType, cfg map[string]any, sel models.SchemaSelector) ([]OrgUnit, error)
	Connectors() []ConnectorInfo
}

// DispatcherConfig wires the shared dependencies handed to every strategy.
type DispatcherConfig struct {
	// Timeouts per connector type. Types without an entry use DefaultTimeouts.
	Timeouts   map[models.ConnectorType]Timeouts
	ConnMgr    *ConnectionManager
	HTTPClient *http.Client
	Metrics    *Metrics
	Logger     *zap.Logger
}

type dispatcher struct {
	cfg    DispatcherConfig
	logger *zap.Logger

	mu         sync.Mutex
	strategies map[models.ConnectorType]Strategy
}

var _ Dispatcher = (*dispatcher)(nil)

// NewDispatcher creates a dispatcher over the global registry.
func NewDispatcher(cfg DispatcherConfig) Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dispatcher{
		cfg:        cfg,
		logger:     logger.Named("dispatcher"),
		strategies: make(map[models.ConnectorType]Strategy),
	}
}

// Resolve returns the strategy for t, building it on first use.
// Aliases such as "postgresql" or "sqlite3" resolve to their canonical type.
func (d *dispatcher) Resolve(t models.ConnectorType) (Strategy, error) {
	t = models.ParseConnectorType(string(t))

	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.strategies[t]; ok {
		return s, nil
	}

	reg, ok := lookup(t)
	if !ok {
		return nil, apperrors.Unsupported(string(t))
	}

	timeouts, ok := d.cfg.Timeouts[t]
	if !ok {
		timeouts = DefaultTimeouts
	}
	s := reg.Factory(Deps{
		Timeouts:   timeouts,
		ConnMgr:    d.cfg.ConnMgr,
		HTTPClient: d.cfg.HTTPClient,
		Logger:     d.logger.With(zap.String("type", string(t))),
	})
	d.strategies[t] = s
	return s, nil
}

func (d *dispatcher) TestConnection(ctx context.Context, t models.ConnectorType, cfg map[string]any) (result models.TestResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("connector panicked during test",
				zap.String("type", string(t)),
				zap.Any("panic", r),
			)
			result = models.TestResult{
				Success:   false,
				Message:   "Connection test failed: internal connector error",
				LatencyMs: time.Since(start).Milliseconds(),
				Category:  "internal",
				TestedAt:  time.Now().UTC(),
			}
		}
		d.cfg.Metrics.observe(string(t), "test", result.Success, time.Since(start))
	}()

	s, err := d.Resolve(t)
	if err != nil {
		return models.TestResult{
			Success:  false,
			Message:  apperrors.Message(err),
			Category: "unsupported",
			TestedAt: time.Now().UTC(),
		}
	}

	result = s.TestConnection(ctx, cfg)
	if result.TestedAt.IsZero() {
		result.TestedAt = time.Now().UTC()
	}
	return result
}

func (d *dispatcher) FetchSchemas(ctx context.Context, t models.ConnectorType, cfg map[string]any, sel models.SchemaSelector) (elements []models.SchemaElement, err error) {
	defer d.track(t, "fetch_schemas", time.Now(), &err)

	s, err := d.Resolve(t)
	if err != nil {
		return nil, err
	}
	return s.FetchSchemas(ctx, cfg, sel)
}

func (d *dispatcher) PushData(ctx context.Context, t models.ConnectorType, cfg map[string]any, payload *Payload) (result *PushResult, err error) {
	defer d.track(t, "push", time.Now(), &err)

	s, err := d.Resolve(t)
	if err != nil {
		return nil, err
	}
	return s.PushData(ctx, cfg, payload)
}

func (d *dispatcher) GetPrograms(ctx context.Context, t models.ConnectorType, cfg map[string]any, page Page) (result *CatalogPage, err error) {
	defer d.track(t, "programs", time.Now(), &err)

	catalog, err := d.catalog(t, "programs")
	if err != nil {
		return nil, err
	}
	return catalog.GetPrograms(ctx, cfg, page.Normalize())
}

func (d *dispatcher) GetDatasets(ctx context.Context, t models.ConnectorType, cfg map[string]any, page Page) (result *CatalogPage, err error) {
	defer d.track(t, "datasets", time.Now(), &err)

	catalog, err := d.catalog(t, "datasets")
	if err != nil {
		return nil, err
	}
	return catalog.GetDatasets(ctx, cfg, page.Normalize())
}

func (d *dispatcher) GetOrgUnits(ctx context.Context, t models.ConnectorType, cfg map[string]any, sel models.SchemaSelector) (units []OrgUnit, err error) {
	defer d.track(t, "org_units", time.Now(), &err)

	catalog, err := d.catalog(t, "organisation units")
	if err != nil {
		return nil, err
	}
	return catalog.GetOrgUnits(ctx, cfg, sel)
}

func (d *dispatcher) Connectors() []ConnectorInfo {
	return RegisteredConnectors()
}

func (d *dispatcher) catalog(t models.ConnectorType, what string) (ProgramCatalog, error) {
	s, err := d.Resolve(t)
	if err != nil {
		return nil, err
	}
	catalog, ok := s.(ProgramCatalog)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not support %s", apperrors.ErrUnsupportedConnector, t, what)
	}
	return catalog, nil
}

// track records metrics and converts a strategy panic into an error.
func (d *dispatcher) track(t models.ConnectorType, operation string, start time.Time, errp *error) {
	if r := recover(); r != nil {
		d.logger.Error("connector panicked",
			zap.String("type", string(t)),
			zap.String("operation", operation),
			zap.Any("panic", r),
		)
		*errp = fmt.Errorf("connector %s failed during %s: internal error", t, operation)
	}
	d.cfg.Metrics.observe(string(t), operation, *errp == nil, time.Since(start))
}
