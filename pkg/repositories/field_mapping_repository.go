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

// FieldMappingRepository stores field-to-target mappings.
type FieldMappingRepository interface {
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.FieldMapping, error)
	// FindByKey returns the mapping for (workflow, field, target type), or nil when there is none.
	FindByKey(ctx context.Context, workflowID, fieldID uuid.UUID, targetType models.ConnectorType) (*models.FieldMapping, error)
	Create(ctx context.Context, m *models.FieldMapping) error
	// UpdateTarget replaces the target of an existing mapping.
	UpdateTarget(ctx context.Context, m *models.FieldMapping) error
	Delete(ctx context.Context, workflowID, id uuid.UUID) error
}

type fieldMappingRepository struct {
	q database.Querier
}

const fieldMappingColumns = `id, workflow_field_id, workflow_id, target_type, target, created_at, updated_at`

func scanFieldMapping(row pgx.Row) (*models.FieldMapping, error) {
	var m models.FieldMapping
	if err := row.Scan(&m.ID, &m.WorkflowFieldID, &m.WorkflowID, &m.TargetType, &m.Target, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *fieldMappingRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.FieldMapping, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+fieldMappingColumns+`
		FROM field_mappings
		WHERE workflow_id = $1
		ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*models.FieldMapping, 0)
	for rows.Next() {
		m, err := scanFieldMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field mappings: %w", err)
	}
	return mappings, nil
}

func (r *fieldMappingRepository) FindByKey(ctx context.Context, workflowID, fieldID uuid.UUID, targetType models.ConnectorType) (*models.FieldMapping, error) {
	m, err := scanFieldMapping(r.q.QueryRow(ctx, `
		SELECT `+fieldMappingColumns+`
		FROM field_mappings
		WHERE workflow_id = $1 AND workflow_field_id = $2 AND target_type = $3`,
		workflowID, fieldID, targetType))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find field mapping: %w", err)
	}
	return m, nil
}

func (r *fieldMappingRepository) Create(ctx context.Context, m *models.FieldMapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO field_mappings (id, workflow_field_id, workflow_id, target_type, target)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		m.ID, m.WorkflowFieldID, m.WorkflowID, m.TargetType, m.Target,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("a %s mapping for field %s was saved concurrently", m.TargetType, m.WorkflowFieldID)
		}
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("Field", m.WorkflowFieldID.String())
		}
		return fmt.Errorf("failed to create field mapping: %w", err)
	}
	return nil
}

func (r *fieldMappingRepository) UpdateTarget(ctx context.Context, m *models.FieldMapping) error {
	err := r.q.QueryRow(ctx, `
		UPDATE field_mappings SET target = $2, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		m.ID, m.Target,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return apperrors.NotFound("FieldMapping", m.ID.String())
		}
		return fmt.Errorf("failed to update field mapping: %w", err)
	}
	return nil
}

func (r *fieldMappingRepository) Delete(ctx context.Context, workflowID, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM field_mappings WHERE workflow_id = $1 AND id = $2`, workflowID, id)
	if err != nil {
		return fmt.Errorf("failed to delete field mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("FieldMapping", id.String())
	}
	return nil
}
