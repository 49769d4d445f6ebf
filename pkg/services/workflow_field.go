package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
	"github.com/healthsync/connector-engine/pkg/repositories"
)

// WorkflowFieldProvider looks up fields of a workflow by id. Ids that do not
// belong to the workflow are simply absent from the result.
type WorkflowFieldProvider interface {
	Find(ctx context.Context, ids []uuid.UUID, workflowID uuid.UUID) ([]*models.WorkflowField, error)
}

// WorkflowFieldInput is one item of UpsertWorkflowFields. Items with an ID
// update that field; items without one are inserted.
type WorkflowFieldInput struct {
	ID           *uuid.UUID `json:"id,omitempty"`
	FieldName    string     `json:"fieldName"`
	Label        string     `json:"label"`
	FieldType    string     `json:"fieldType"`
	IsRequired   bool       `json:"isRequired"`
	DisplayOrder *int       `json:"displayOrder,omitempty"`
}

// WorkflowFieldService owns workflows and their fields.
type WorkflowFieldService interface {
	WorkflowFieldProvider

	CreateWorkflow(ctx context.Context, name string) (*models.Workflow, error)
	GetWorkflowFields(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowField, error)
	UpsertWorkflowFields(ctx context.Context, workflowID uuid.UUID, items []WorkflowFieldInput) ([]*models.WorkflowField, error)

	// RemoveWorkflowField deletes a field together with its mappings.
	RemoveWorkflowField(ctx context.Context, workflowID, fieldID uuid.UUID) error
}

type workflowFieldService struct {
	store  repositories.Transactor
	logger *zap.Logger
}

var _ WorkflowFieldService = (*workflowFieldService)(nil)

// NewWorkflowFieldService creates a workflow field service.
func NewWorkflowFieldService(store repositories.Transactor, logger *zap.Logger) WorkflowFieldService {
	return &workflowFieldService{store: store, logger: logger.Named("workflow-fields")}
}

// repoFieldProvider serves Find from a repository so it can run inside a unit of work.
type repoFieldProvider struct {
	fields repositories.WorkflowFieldRepository
}

func (p repoFieldProvider) Find(ctx context.Context, ids []uuid.UUID, workflowID uuid.UUID) ([]*models.WorkflowField, error) {
	if len(ids) == 0 {
		return []*models.WorkflowField{}, nil
	}
	return p.fields.FindByIDs(ctx, workflowID, ids)
}

func (s *workflowFieldService) Find(ctx context.Context, ids []uuid.UUID, workflowID uuid.UUID) ([]*models.WorkflowField, error) {
	return repoFieldProvider{fields: s.store.Repos().Fields}.Find(ctx, ids, workflowID)
}

func (s *workflowFieldService) CreateWorkflow(ctx context.Context, name string) (*models.Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.BadRequest("workflow name is required")
	}
	w := &models.Workflow{Name: name}
	if err := s.store.Repos().Workflows.Create(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("Created workflow", zap.String("workflow_id", w.ID.String()), zap.String("name", name))
	return w, nil
}

func (s *workflowFieldService) GetWorkflowFields(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowField, error) {
	repos := s.store.Repos()
	if err := requireWorkflow(ctx, repos, workflowID); err != nil {
		return nil, err
	}
	return repos.Fields.ListByWorkflow(ctx, workflowID)
}

func (s *workflowFieldService) UpsertWorkflowFields(ctx context.Context, workflowID uuid.UUID, items []WorkflowFieldInput) ([]*models.WorkflowField, error) {
	if len(items) == 0 {
		return nil, apperrors.BadRequest("workflow fields cannot be empty")
	}

	saved := make([]*models.WorkflowField, len(items))
	err := s.store.InTx(ctx, func(repos *repositories.Repos) error {
		if err := requireWorkflow(ctx, repos, workflowID); err != nil {
			return err
		}

		existing, err := s.existingFields(ctx, repos, workflowID, items)
		if err != nil {
			return err
		}
		if err := validateWorkflowFields(items); err != nil {
			return err
		}

		for i, item := range items {
			f := &models.WorkflowField{
				WorkflowID: workflowID,
				FieldName:  strings.TrimSpace(item.FieldName),
				Label:      strings.TrimSpace(item.Label),
				FieldType:  models.FieldType(item.FieldType),
				IsRequired: item.IsRequired,
			}
			if item.ID == nil {
				f.DisplayOrder = i
				if item.DisplayOrder != nil {
					f.DisplayOrder = *item.DisplayOrder
				}
				if err := repos.Fields.Create(ctx, f); err != nil {
					return err
				}
			} else {
				prev := existing[*item.ID]
				f.ID = prev.ID
				f.DisplayOrder = prev.DisplayOrder
				if item.DisplayOrder != nil {
					f.DisplayOrder = *item.DisplayOrder
				}
				if err := repos.Fields.Update(ctx, f); err != nil {
					return err
				}
			}
			saved[i] = f
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Saved workflow fields",
		zap.String("workflow_id", workflowID.String()),
		zap.Int("count", len(saved)),
	)
	return saved, nil
}

// existingFields loads the fields addressed by id and reports every unknown id at once.
func (s *workflowFieldService) existingFields(ctx context.Context, repos *repositories.Repos, workflowID uuid.UUID, items []WorkflowFieldInput) (map[uuid.UUID]*models.WorkflowField, error) {
	var ids []uuid.UUID
	for _, item := range items {
		if item.ID != nil {
			ids = append(ids, *item.ID)
		}
	}
	found, err := repoFieldProvider{fields: repos.Fields}.Find(ctx, ids, workflowID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.WorkflowField, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	if missing := missingIDs(ids, byID); len(missing) > 0 {
		return nil, apperrors.NotFound("Field", missing...)
	}
	return byID, nil
}

func validateWorkflowFields(items []WorkflowFieldInput) error {
	var problems []apperrors.ItemError
	for i, item := range items {
		if strings.TrimSpace(item.FieldName) == "" {
			problems = append(problems, apperrors.ItemError{Index: i, Field: "fieldName", Message: "fieldName is required"})
		}
		if strings.TrimSpace(item.Label) == "" {
			problems = append(problems, apperrors.ItemError{Index: i, Field: "label", Message: "label is required"})
		}
		if !models.FieldType(item.FieldType).Valid() {
			problems = append(problems, apperrors.ItemError{
				Index:   i,
				Field:   "fieldType",
				Message: "fieldType " + quoteOrEmpty(item.FieldType) + " is not supported",
			})
		}
	}
	if len(problems) > 0 {
		return &apperrors.ValidationError{Items: problems}
	}
	return nil
}

func (s *workflowFieldService) RemoveWorkflowField(ctx context.Context, workflowID, fieldID uuid.UUID) error {
	if err := s.store.Repos().Fields.Delete(ctx, workflowID, fieldID); err != nil {
		return err
	}
	s.logger.Info("Removed workflow field",
		zap.String("workflow_id", workflowID.String()),
		zap.String("field_id", fieldID.String()),
	)
	return nil
}

func requireWorkflow(ctx context.Context, repos *repositories.Repos, workflowID uuid.UUID) error {
	ok, err := repos.Workflows.Exists(ctx, workflowID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("Workflow", workflowID.String())
	}
	return nil
}

// missingIDs returns, in request order and without repeats, the ids absent from found.
func missingIDs[T any](ids []uuid.UUID, found map[uuid.UUID]T) []string {
	var missing []string
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id.String())
	}
	return missing
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return `"` + s + `"`
}
