package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/cache"
	"github.com/healthsync/connector-engine/pkg/crypto"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
)

// CreateConnectionRequest is the input of ConnectionService.Create.
type CreateConnectionRequest struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Configuration map[string]any `json:"configuration"`
	CreatedBy     string         `json:"createdBy,omitempty"`
}

// UpdateConnectionRequest carries the fields to change. Nil fields are left
// untouched and configuration keys are merged into the stored configuration.
type UpdateConnectionRequest struct {
	Name          *string        `json:"name,omitempty"`
	Type          *string        `json:"type,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
	IsActive      *bool          `json:"isActive,omitempty"`
}

// ConnectionService manages stored connections. Configurations are returned
// decrypted; callers mask secrets before they leave the process.
type ConnectionService interface {
	Create(ctx context.Context, req CreateConnectionRequest) (*models.Connection, error)
	FindAll(ctx context.Context) ([]*models.Connection, error)
	FindOne(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateConnectionRequest) (*models.Connection, error)

	// Remove deletes a connection unless an active workflow configuration uses it.
	Remove(ctx context.Context, id uuid.UUID) error

	// RecordTestResult stores the outcome of the latest connectivity test.
	RecordTestResult(ctx context.Context, id uuid.UUID, result models.TestResult) error
}

type connectionService struct {
	store     repositories.Transactor
	encryptor *crypto.CredentialEncryptor
	schemas   cache.SchemaCache
	logger    *zap.Logger
}

var _ ConnectionService = (*connectionService)(nil)

// NewConnectionService creates a connection service. A nil schema cache disables caching.
func NewConnectionService(
	store repositories.Transactor,
	encryptor *crypto.CredentialEncryptor,
	schemas cache.SchemaCache,
	logger *zap.Logger,
) ConnectionService {
	if schemas == nil {
		schemas = cache.NoopSchemaCache{}
	}
	return &connectionService{
		store:     store,
		encryptor: encryptor,
		schemas:   schemas,
		logger:    logger.Named("connections"),
	}
}

func (s *connectionService) Create(ctx context.Context, req CreateConnectionRequest) (*models.Connection, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.BadRequest("name is required")
	}
	t, err := registeredType(req.Type)
	if err != nil {
		return nil, err
	}

	config := req.Configuration
	if config == nil {
		config = map[string]any{}
	}
	// The ID is fixed before sealing because the ciphertext is bound to it.
	id := uuid.New()
	sealed, err := s.encryptor.Seal(id, config)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt configuration: %w", err)
	}

	conn := &models.Connection{
		ID:        id,
		Name:      name,
		Type:      t,
		Config:    config,
		IsActive:  true,
		CreatedBy: req.CreatedBy,
	}
	if err := s.store.Repos().Connections.Create(ctx, conn, sealed); err != nil {
		return nil, err
	}

	s.logger.Info("Created connection",
		zap.String("connection_id", conn.ID.String()),
		zap.String("name", conn.Name),
		zap.String("type", string(conn.Type)),
	)
	return conn, nil
}

func (s *connectionService) FindAll(ctx context.Context) ([]*models.Connection, error) {
	conns, sealed, err := s.store.Repos().Connections.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, conn := range conns {
		if conn.Config, err = s.open(conn.ID, sealed[i]); err != nil {
			return nil, err
		}
	}
	return conns, nil
}

func (s *connectionService) FindOne(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	return s.load(ctx, s.store.Repos(), id)
}

func (s *connectionService) Update(ctx context.Context, id uuid.UUID, req UpdateConnectionRequest) (*models.Connection, error) {
	var conn *models.Connection
	err := s.store.InTx(ctx, func(repos *repositories.Repos) error {
		var err error
		if conn, err = s.load(ctx, repos, id); err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperrors.BadRequest("name cannot be empty")
			}
			conn.Name = name
		}
		if req.Type != nil {
			t, err := registeredType(*req.Type)
			if err != nil {
				return err
			}
			if t != conn.Type {
				// Bound configurations were checked against the old type.
				bound, err := repos.Configurations.CountByConnection(ctx, id)
				if err != nil {
					return err
				}
				if bound > 0 {
					return apperrors.Conflict("cannot change type of a connection used by %d workflow configuration(s)", bound)
				}
			}
			conn.Type = t
		}
		if req.IsActive != nil {
			conn.IsActive = *req.IsActive
		}
		conn.Config = mergeConfig(conn.Config, req.Configuration)

		sealed, err := s.encryptor.Seal(conn.ID, conn.Config)
		if err != nil {
			return fmt.Errorf("failed to encrypt configuration: %w", err)
		}
		return repos.Connections.Update(ctx, conn, sealed)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.logger.Info("Updated connection",
		zap.String("connection_id", id.String()),
		zap.String("type", string(conn.Type)),
		zap.Bool("active", conn.IsActive),
	)
	return conn, nil
}

func (s *connectionService) Remove(ctx context.Context, id uuid.UUID) error {
	err := s.store.InTx(ctx, func(repos *repositories.Repos) error {
		if _, _, err := repos.Connections.Get(ctx, id); err != nil {
			return err
		}
		active, err := repos.Configurations.CountActiveByConnection(ctx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperrors.Conflict("connection is used by %d active workflow configuration(s)", active)
		}
		if err := repos.Configurations.DetachConnection(ctx, id); err != nil {
			return err
		}
		return repos.Connections.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.logger.Info("Removed connection", zap.String("connection_id", id.String()))
	return nil
}

func (s *connectionService) RecordTestResult(ctx context.Context, id uuid.UUID, result models.TestResult) error {
	return s.store.Repos().Connections.RecordTestResult(ctx, id, result)
}

func (s *connectionService) load(ctx context.Context, repos *repositories.Repos, id uuid.UUID) (*models.Connection, error) {
	conn, sealed, err := repos.Connections.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.Config, err = s.open(id, sealed); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *connectionService) open(id uuid.UUID, sealed string) (map[string]any, error) {
	config, err := s.encryptor.Open(id, sealed)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, fmt.Errorf("%w: connection %s", apperrors.ErrCredentialsKeyMismatch, id)
		}
		return nil, fmt.Errorf("failed to decrypt configuration of connection %s: %w", id, err)
	}
	return config, nil
}

func (s *connectionService) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.schemas.Invalidate(ctx, id.String()); err != nil {
		s.logger.Warn("Failed to invalidate cached schemas",
			zap.String("connection_id", id.String()),
			zap.Error(err),
		)
	}
}

// registeredType parses a connector type name and checks a strategy exists for it.
func registeredType(name string) (models.ConnectorType, error) {
	if strings.TrimSpace(name) == "" {
		return "", apperrors.BadRequest("type is required")
	}
	t := models.ParseConnectorType(name)
	if !connector.IsRegistered(t) {
		return "", apperrors.Unsupported(name)
	}
	return t, nil
}

// mergeConfig overlays patch onto base key by key. A masked secret in the
// patch keeps the stored value.
func mergeConfig(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		if models.IsSecretConfigKey(k) && v == models.MaskedSecret {
			continue
		}
		merged[k] = v
	}
	return merged
}
