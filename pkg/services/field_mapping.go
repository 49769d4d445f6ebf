package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/audit"
	"github.com/healthsync/connector-engine/pkg/auth"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
)

// FieldMappingInput is one item of UpsertFieldMappings.
type FieldMappingInput struct {
	WorkflowFieldID uuid.UUID      `json:"workflowFieldId"`
	TargetType      string         `json:"targetType"`
	Target          map[string]any `json:"target"`
}

// FieldMappingService maintains the mapping between workflow fields and
// external schema elements.
type FieldMappingService interface {
	GetWorkflowFieldMappings(ctx context.Context, workflowID uuid.UUID) ([]*models.FieldMapping, error)

	// UpsertFieldMappings validates the whole batch before writing anything and
	// saves it in one transaction. Results are returned in input order.
	UpsertFieldMappings(ctx context.Context, workflowID uuid.UUID, items []FieldMappingInput) ([]*models.FieldMapping, error)

	DeleteFieldMapping(ctx context.Context, workflowID, mappingID uuid.UUID) error
}

type fieldMappingService struct {
	store   repositories.Transactor
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

var _ FieldMappingService = (*fieldMappingService)(nil)

// NewFieldMappingService creates a field mapping service.
func NewFieldMappingService(store repositories.Transactor, logger *zap.Logger) FieldMappingService {
	return &fieldMappingService{
		store:   store,
		auditor: audit.NewSecurityAuditor(logger),
		logger:  logger.Named("field-mappings"),
	}
}

func (s *fieldMappingService) GetWorkflowFieldMappings(ctx context.Context, workflowID uuid.UUID) ([]*models.FieldMapping, error) {
	repos := s.store.Repos()
	if err := requireWorkflow(ctx, repos, workflowID); err != nil {
		return nil, err
	}
	return repos.Mappings.ListByWorkflow(ctx, workflowID)
}

func (s *fieldMappingService) UpsertFieldMappings(ctx context.Context, workflowID uuid.UUID, items []FieldMappingInput) ([]*models.FieldMapping, error) {
	if len(items) == 0 {
		return nil, apperrors.BadRequest("field mappings cannot be empty")
	}
	items = normalizeMappingInputs(items)

	if err := s.validate(ctx, s.store.Repos(), workflowID, items); err != nil {
		var ve *apperrors.ValidationError
		if errors.As(err, &ve) {
			for _, d := range unsafeIdentifiers(items) {
				s.auditor.LogIdentifierRejected(workflowID, auth.GetSubject(ctx), d)
			}
		}
		return nil, err
	}

	saved := make([]*models.FieldMapping, len(items))
	err := s.store.InTx(ctx, func(repos *repositories.Repos) error {
		// A concurrent writer may have taken a target since the check above.
		if err := s.validate(ctx, repos, workflowID, items); err != nil {
			return err
		}

		for i, item := range items {
			t := models.ParseConnectorType(item.TargetType)
			existing, err := repos.Mappings.FindByKey(ctx, workflowID, item.WorkflowFieldID, t)
			if err != nil {
				return err
			}
			if existing != nil {
				existing.Target = item.Target
				if err := repos.Mappings.UpdateTarget(ctx, existing); err != nil {
					return err
				}
				saved[i] = existing
				continue
			}

			m := &models.FieldMapping{
				WorkflowFieldID: item.WorkflowFieldID,
				WorkflowID:      workflowID,
				TargetType:      t,
				Target:          item.Target,
			}
			if err := repos.Mappings.Create(ctx, m); err != nil {
				return err
			}
			saved[i] = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Saved field mappings",
		zap.String("workflow_id", workflowID.String()),
		zap.Int("count", len(saved)),
	)
	return saved, nil
}

// validate runs every read-only check of an upsert against repos: workflow,
// then fields, then the items themselves against the stored mappings.
func (s *fieldMappingService) validate(ctx context.Context, repos *repositories.Repos, workflowID uuid.UUID, items []FieldMappingInput) error {
	if err := requireWorkflow(ctx, repos, workflowID); err != nil {
		return err
	}
	if err := checkFieldsExist(ctx, repoFieldProvider{fields: repos.Fields}, workflowID, items); err != nil {
		return err
	}
	configured, err := configuredTypes(ctx, repos, workflowID)
	if err != nil {
		return err
	}
	stored, err := repos.Mappings.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	return validateMappings(items, configured, stored)
}

func (s *fieldMappingService) DeleteFieldMapping(ctx context.Context, workflowID, mappingID uuid.UUID) error {
	if err := s.store.Repos().Mappings.Delete(ctx, workflowID, mappingID); err != nil {
		return err
	}
	s.logger.Info("Removed field mapping",
		zap.String("workflow_id", workflowID.String()),
		zap.String("mapping_id", mappingID.String()),
	)
	return nil
}

// checkFieldsExist reports every referenced field that is not part of the
// workflow in a single NotFound error.
func checkFieldsExist(ctx context.Context, fields WorkflowFieldProvider, workflowID uuid.UUID, items []FieldMappingInput) error {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.WorkflowFieldID)
	}
	found, err := fields.Find(ctx, ids, workflowID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]bool, len(found))
	for _, f := range found {
		byID[f.ID] = true
	}
	if missing := missingIDs(ids, byID); len(missing) > 0 {
		return apperrors.NotFound("Field", missing...)
	}
	return nil
}

func configuredTypes(ctx context.Context, repos *repositories.Repos, workflowID uuid.UUID) (map[models.ConnectorType]bool, error) {
	configs, err := repos.Configurations.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	types := make(map[models.ConnectorType]bool, len(configs))
	for _, c := range configs {
		types[c.Type] = true
	}
	return types, nil
}
