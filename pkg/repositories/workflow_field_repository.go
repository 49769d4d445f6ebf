package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/database"
	"github.com/healthsync/connector-engine/pkg/models"
)

// WorkflowFieldRepository stores the input fields of workflows.
type WorkflowFieldRepository interface {
	// ListByWorkflow returns the fields ordered by display order, then name.
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowField, error)
	// FindByIDs returns the fields of the workflow whose ids are in ids.
	// Ids that do not exist or belong to another workflow are silently absent.
	FindByIDs(ctx context.Context, workflowID uuid.UUID, ids []uuid.UUID) ([]*models.WorkflowField, error)
	Create(ctx context.Context, f *models.WorkflowField) error
	Update(ctx context.Context, f *models.WorkflowField) error
	Delete(ctx context.Context, workflowID, id uuid.UUID) error
}

type workflowFieldRepository struct {
	q database.Querier
}

const workflowFieldColumns = `id, workflow_id, field_name, label, field_type, is_required, display_order, created_at, updated_at`

func scanWorkflowField(row pgx.Row) (*models.WorkflowField, error) {
	var f models.WorkflowField
	err := row.Scan(&f.ID, &f.WorkflowID, &f.FieldName, &f.Label, &f.FieldType,
		&f.IsRequired, &f.DisplayOrder, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *workflowFieldRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowField, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+workflowFieldColumns+`
		FROM workflow_fields
		WHERE workflow_id = $1
		ORDER BY display_order, field_name`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow fields: %w", err)
	}
	return collectFields(rows)
}

func (r *workflowFieldRepository) FindByIDs(ctx context.Context, workflowID uuid.UUID, ids []uuid.UUID) ([]*models.WorkflowField, error) {
	if len(ids) == 0 {
		return []*models.WorkflowField{}, nil
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+workflowFieldColumns+`
		FROM workflow_fields
		WHERE workflow_id = $1 AND id = ANY($2::uuid[])
		ORDER BY display_order, field_name`, workflowID, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to find workflow fields: %w", err)
	}
	return collectFields(rows)
}

func collectFields(rows pgx.Rows) ([]*models.WorkflowField, error) {
	defer rows.Close()
	fields := make([]*models.WorkflowField, 0)
	for rows.Next() {
		f, err := scanWorkflowField(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow fields: %w", err)
	}
	return fields, nil
}

func (r *workflowFieldRepository) Create(ctx context.Context, f *models.WorkflowField) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO workflow_fields (id, workflow_id, field_name, label, field_type, is_required, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		f.ID, f.WorkflowID, f.FieldName, f.Label, f.FieldType, f.IsRequired, f.DisplayOrder,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("a field named %q already exists in this workflow", f.FieldName)
		}
		return fmt.Errorf("failed to create workflow field: %w", err)
	}
	return nil
}

func (r *workflowFieldRepository) Update(ctx context.Context, f *models.WorkflowField) error {
	err := r.q.QueryRow(ctx, `
		UPDATE workflow_fields
		SET field_name = $3, label = $4, field_type = $5, is_required = $6, display_order = $7, updated_at = now()
		WHERE workflow_id = $1 AND id = $2
		RETURNING created_at, updated_at`,
		f.WorkflowID, f.ID, f.FieldName, f.Label, f.FieldType, f.IsRequired, f.DisplayOrder,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return apperrors.NotFound("Field", f.ID.String())
		}
		if isUniqueViolation(err) {
			return apperrors.Conflict("a field named %q already exists in this workflow", f.FieldName)
		}
		return fmt.Errorf("failed to update workflow field: %w", err)
	}
	return nil
}

func (r *workflowFieldRepository) Delete(ctx context.Context, workflowID, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM workflow_fields WHERE workflow_id = $1 AND id = $2`, workflowID, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("Field", id.String())
	}
	return nil
}
