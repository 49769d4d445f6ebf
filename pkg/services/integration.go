package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/cache"
	"github.com/healthsync/connector-engine/pkg/models"
)

// IntegrationService runs connector operations against stored connections.
type IntegrationService interface {
	// TestConnection tests a stored connection and records the result on it.
	// Inactive connections may still be tested.
	TestConnection(ctx context.Context, connectionID uuid.UUID) (models.TestResult, error)

	// TestConfiguration tests a configuration that has not been saved.
	TestConfiguration(ctx context.Context, connectorType string, cfg map[string]any) (models.TestResult, error)

	FetchSchemas(ctx context.Context, connectionID uuid.UUID, sel models.SchemaSelector) ([]models.SchemaElement, error)
	GetPrograms(ctx context.Context, connectionID uuid.UUID, page connector.Page) (*connector.CatalogPage, error)
	GetDatasets(ctx context.Context, connectionID uuid.UUID, page connector.Page) (*connector.CatalogPage, error)
	// GetOrgUnits lists the organisation units assigned to a DHIS2 program or
	// data set.
	GetOrgUnits(ctx context.Context, connectionID uuid.UUID, sel models.SchemaSelector) ([]connector.OrgUnit, error)
}

type integrationService struct {
	connections ConnectionService
	dispatcher  connector.Dispatcher
	schemas     cache.SchemaCache
	logger      *zap.Logger
}

var _ IntegrationService = (*integrationService)(nil)

// NewIntegrationService creates an integration service. A nil schema cache disables caching.
func NewIntegrationService(
	connections ConnectionService,
	dispatcher connector.Dispatcher,
	schemas cache.SchemaCache,
	logger *zap.Logger,
) IntegrationService {
	if schemas == nil {
		schemas = cache.NoopSchemaCache{}
	}
	return &integrationService{
		connections: connections,
		dispatcher:  dispatcher,
		schemas:     schemas,
		logger:      logger.Named("integration"),
	}
}

func (s *integrationService) TestConnection(ctx context.Context, connectionID uuid.UUID) (models.TestResult, error) {
	conn, err := s.connections.FindOne(ctx, connectionID)
	if err != nil {
		return models.TestResult{}, err
	}

	result := s.dispatcher.TestConnection(ctx, conn.Type, conn.Config)
	if err := s.connections.RecordTestResult(ctx, connectionID, result); err != nil {
		s.logger.Warn("Failed to record connection test result",
			zap.String("connection_id", connectionID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("Tested connection",
		zap.String("connection_id", connectionID.String()),
		zap.String("type", string(conn.Type)),
		zap.Bool("success", result.Success),
		zap.Int64("latency_ms", result.LatencyMs),
	)
	return result, nil
}

func (s *integrationService) TestConfiguration(ctx context.Context, connectorType string, cfg map[string]any) (models.TestResult, error) {
	if strings.TrimSpace(connectorType) == "" {
		return models.TestResult{}, apperrors.BadRequest("type is required")
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return s.dispatcher.TestConnection(ctx, models.ParseConnectorType(connectorType), cfg), nil
}

func (s *integrationService) FetchSchemas(ctx context.Context, connectionID uuid.UUID, sel models.SchemaSelector) ([]models.SchemaElement, error) {
	conn, err := s.activeConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	key := connectionID.String()
	if elements, ok := s.schemas.Get(ctx, key, sel); ok {
		return elements, nil
	}

	elements, err := s.dispatcher.FetchSchemas(ctx, conn.Type, conn.Config, sel)
	if err != nil {
		return nil, err
	}
	s.schemas.Set(ctx, key, sel, elements)
	return elements, nil
}

func (s *integrationService) GetPrograms(ctx context.Context, connectionID uuid.UUID, page connector.Page) (*connector.CatalogPage, error) {
	conn, err := s.activeConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.GetPrograms(ctx, conn.Type, conn.Config, page)
}

func (s *integrationService) GetDatasets(ctx context.Context, connectionID uuid.UUID, page connector.Page) (*connector.CatalogPage, error) {
	conn, err := s.activeConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.GetDatasets(ctx, conn.Type, conn.Config, page)
}

func (s *integrationService) GetOrgUnits(ctx context.Context, connectionID uuid.UUID, sel models.SchemaSelector) ([]connector.OrgUnit, error) {
	conn, err := s.activeConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.GetOrgUnits(ctx, conn.Type, conn.Config, sel)
}

func (s *integrationService) activeConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	conn, err := s.connections.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, apperrors.BadRequest("connection is inactive")
	}
	return conn, nil
}
