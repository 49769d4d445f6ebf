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

// WorkflowConfigurationRepository stores the per-workflow push targets.
type WorkflowConfigurationRepository interface {
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowConfiguration, error)
	// Get returns apperrors.ErrNotFound when the configuration does not exist.
	Get(ctx context.Context, id uuid.UUID) (*models.WorkflowConfiguration, error)
	// FindByType returns the configuration of the given type, or nil when there is none.
	FindByType(ctx context.Context, workflowID uuid.UUID, t models.ConnectorType) (*models.WorkflowConfiguration, error)
	Create(ctx context.Context, c *models.WorkflowConfiguration) error
	Update(ctx context.Context, c *models.WorkflowConfiguration) error
	Delete(ctx context.Context, id uuid.UUID) error

	// CountByConnection counts configurations bound to a connection, active or not.
	CountByConnection(ctx context.Context, connectionID uuid.UUID) (int, error)
	// CountActiveByConnection counts active configurations that push through a connection.
	CountActiveByConnection(ctx context.Context, connectionID uuid.UUID) (int, error)
	// DetachConnection clears the connection of inactive configurations so the
	// connection can be deleted.
	DetachConnection(ctx context.Context, connectionID uuid.UUID) error
}

type workflowConfigurationRepository struct {
	q database.Querier
}

const workflowConfigurationColumns = `id, workflow_id, type, external_connection_id, configuration, is_active, created_at, updated_at`

func scanWorkflowConfiguration(row pgx.Row) (*models.WorkflowConfiguration, error) {
	var c models.WorkflowConfiguration
	err := row.Scan(&c.ID, &c.WorkflowID, &c.Type, &c.ExternalConnectionID, &c.Configuration,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.Configuration == nil {
		c.Configuration = map[string]any{}
	}
	return &c, nil
}

func (r *workflowConfigurationRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowConfiguration, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+workflowConfigurationColumns+`
		FROM workflow_configurations
		WHERE workflow_id = $1
		ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow configurations: %w", err)
	}
	defer rows.Close()

	configs := make([]*models.WorkflowConfiguration, 0)
	for rows.Next() {
		c, err := scanWorkflowConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow configuration: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow configurations: %w", err)
	}
	return configs, nil
}

func (r *workflowConfigurationRepository) Get(ctx context.Context, id uuid.UUID) (*models.WorkflowConfiguration, error) {
	c, err := scanWorkflowConfiguration(r.q.QueryRow(ctx, `
		SELECT `+workflowConfigurationColumns+` FROM workflow_configurations WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("WorkflowConfiguration", id.String())
		}
		return nil, fmt.Errorf("failed to get workflow configuration: %w", err)
	}
	return c, nil
}

func (r *workflowConfigurationRepository) FindByType(ctx context.Context, workflowID uuid.UUID, t models.ConnectorType) (*models.WorkflowConfiguration, error) {
	c, err := scanWorkflowConfiguration(r.q.QueryRow(ctx, `
		SELECT `+workflowConfigurationColumns+`
		FROM workflow_configurations
		WHERE workflow_id = $1 AND type = $2`, workflowID, t))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find workflow configuration: %w", err)
	}
	return c, nil
}

func (r *workflowConfigurationRepository) Create(ctx context.Context, c *models.WorkflowConfiguration) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO workflow_configurations (id, workflow_id, type, external_connection_id, configuration, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.WorkflowID, c.Type, c.ExternalConnectionID, c.Configuration, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return configurationWriteError(err, c, "create")
	}
	return nil
}

func (r *workflowConfigurationRepository) Update(ctx context.Context, c *models.WorkflowConfiguration) error {
	err := r.q.QueryRow(ctx, `
		UPDATE workflow_configurations
		SET external_connection_id = $2, configuration = $3, is_active = $4, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		c.ID, c.ExternalConnectionID, c.Configuration, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return apperrors.NotFound("WorkflowConfiguration", c.ID.String())
		}
		return configurationWriteError(err, c, "update")
	}
	return nil
}

func configurationWriteError(err error, c *models.WorkflowConfiguration, op string) error {
	if isUniqueViolation(err) {
		if constraintName(err) == "workflow_configurations_workflow_type_unique" {
			return apperrors.Conflict("workflow already has a %s configuration", c.Type)
		}
		return apperrors.Conflict("connection is already used by another workflow configuration")
	}
	if isForeignKeyViolation(err) && c.ExternalConnectionID != nil {
		return apperrors.NotFound("Connection", c.ExternalConnectionID.String())
	}
	return fmt.Errorf("failed to %s workflow configuration: %w", op, err)
}

func (r *workflowConfigurationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM workflow_configurations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("WorkflowConfiguration", id.String())
	}
	return nil
}

func (r *workflowConfigurationRepository) CountByConnection(ctx context.Context, connectionID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM workflow_configurations
		WHERE external_connection_id = $1`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow configurations: %w", err)
	}
	return n, nil
}

func (r *workflowConfigurationRepository) CountActiveByConnection(ctx context.Context, connectionID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM workflow_configurations
		WHERE external_connection_id = $1 AND is_active`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow configurations: %w", err)
	}
	return n, nil
}

func (r *workflowConfigurationRepository) DetachConnection(ctx context.Context, connectionID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE workflow_configurations SET external_connection_id = NULL, updated_at = now()
		WHERE external_connection_id = $1 AND NOT is_active`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to detach connection: %w", err)
	}
	return nil
}
