package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
)

// WorkflowConfigurationInput is one item of UpsertWorkflowConfigurations.
// Items are matched to existing configurations by workflow and type.
type WorkflowConfigurationInput struct {
	Type                 string         `json:"type"`
	ExternalConnectionID *uuid.UUID     `json:"externalConnectionId,omitempty"`
	Configuration        map[string]any `json:"configuration"`
	IsActive             *bool          `json:"isActive,omitempty"`
}

// WorkflowConfigurationService binds workflows to connections.
type WorkflowConfigurationService interface {
	GetWorkflowConfigurations(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowConfiguration, error)
	UpsertWorkflowConfigurations(ctx context.Context, workflowID uuid.UUID, items []WorkflowConfigurationInput) ([]*models.WorkflowConfiguration, error)
	RemoveWorkflowConfiguration(ctx context.Context, configID uuid.UUID) error
}

type workflowConfigurationService struct {
	store  repositories.Transactor
	logger *zap.Logger
}

var _ WorkflowConfigurationService = (*workflowConfigurationService)(nil)

// NewWorkflowConfigurationService creates a workflow configuration service.
func NewWorkflowConfigurationService(store repositories.Transactor, logger *zap.Logger) WorkflowConfigurationService {
	return &workflowConfigurationService{store: store, logger: logger.Named("workflow-configurations")}
}

func (s *workflowConfigurationService) GetWorkflowConfigurations(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowConfiguration, error) {
	repos := s.store.Repos()
	if err := requireWorkflow(ctx, repos, workflowID); err != nil {
		return nil, err
	}
	return repos.Configurations.ListByWorkflow(ctx, workflowID)
}

func (s *workflowConfigurationService) UpsertWorkflowConfigurations(ctx context.Context, workflowID uuid.UUID, items []WorkflowConfigurationInput) ([]*models.WorkflowConfiguration, error) {
	if len(items) == 0 {
		return nil, apperrors.BadRequest("workflow configurations cannot be empty")
	}

	saved := make([]*models.WorkflowConfiguration, len(items))
	err := s.store.InTx(ctx, func(repos *repositories.Repos) error {
		if err := requireWorkflow(ctx, repos, workflowID); err != nil {
			return err
		}
		if err := validateConfigurations(items); err != nil {
			return err
		}
		if err := checkConnections(ctx, repos, items); err != nil {
			return err
		}

		for i, item := range items {
			t := models.ParseConnectorType(item.Type)
			existing, err := repos.Configurations.FindByType(ctx, workflowID, t)
			if err != nil {
				return err
			}

			if existing != nil {
				existing.Configuration = mergeConfig(existing.Configuration, item.Configuration)
				if item.IsActive != nil {
					existing.IsActive = *item.IsActive
				}
				if item.ExternalConnectionID != nil {
					existing.ExternalConnectionID = item.ExternalConnectionID
				}
				if err := repos.Configurations.Update(ctx, existing); err != nil {
					return err
				}
				saved[i] = existing
				continue
			}

			c := &models.WorkflowConfiguration{
				WorkflowID:           workflowID,
				Type:                 t,
				ExternalConnectionID: item.ExternalConnectionID,
				Configuration:        item.Configuration,
				IsActive:             true,
			}
			if item.IsActive != nil {
				c.IsActive = *item.IsActive
			}
			if err := repos.Configurations.Create(ctx, c); err != nil {
				return err
			}
			saved[i] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Saved workflow configurations",
		zap.String("workflow_id", workflowID.String()),
		zap.Int("count", len(saved)),
	)
	return saved, nil
}

func (s *workflowConfigurationService) RemoveWorkflowConfiguration(ctx context.Context, configID uuid.UUID) error {
	if err := s.store.Repos().Configurations.Delete(ctx, configID); err != nil {
		return err
	}
	s.logger.Info("Removed workflow configuration", zap.String("configuration_id", configID.String()))
	return nil
}

func validateConfigurations(items []WorkflowConfigurationInput) error {
	var problems []apperrors.ItemError
	seen := make(map[models.ConnectorType]int, len(items))

	for i, item := range items {
		t := models.ParseConnectorType(item.Type)
		if !t.Known() {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "type",
				Message: fmt.Sprintf("type %s is not supported", quoteOrEmpty(item.Type)),
			})
			continue
		}
		if len(item.Configuration) == 0 {
			problems = append(problems, apperrors.ItemError{Index: i, Field: "configuration", Message: "Configuration cannot be an empty object"})
		}
		if first, dup := seen[t]; dup {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "type",
				Message: fmt.Sprintf("duplicate %s configuration (first at item %d)", t.Label(), first),
			})
		} else {
			seen[t] = i
		}
	}

	if len(problems) > 0 {
		return &apperrors.ValidationError{Items: problems}
	}
	return nil
}

// checkConnections verifies referenced connections exist and are of the
// configuration's type. Missing connections are reported together.
func checkConnections(ctx context.Context, repos *repositories.Repos, items []WorkflowConfigurationInput) error {
	var (
		ids      []uuid.UUID
		conns    = make(map[uuid.UUID]*models.Connection)
		problems []apperrors.ItemError
	)
	for _, item := range items {
		if item.ExternalConnectionID == nil {
			continue
		}
		id := *item.ExternalConnectionID
		ids = append(ids, id)
		if _, done := conns[id]; done {
			continue
		}
		conn, _, err := repos.Connections.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		conns[id] = conn
	}
	if missing := missingIDs(ids, conns); len(missing) > 0 {
		return apperrors.NotFound("Connection", missing...)
	}

	for i, item := range items {
		if item.ExternalConnectionID == nil {
			continue
		}
		conn := conns[*item.ExternalConnectionID]
		if t := models.ParseConnectorType(item.Type); conn.Type != t {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "externalConnectionId",
				Message: fmt.Sprintf("connection %s is a %s connection and cannot serve a %s configuration", conn.ID, conn.Type.Label(), t.Label()),
			})
		}
	}
	if len(problems) > 0 {
		return &apperrors.ValidationError{Items: problems}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
