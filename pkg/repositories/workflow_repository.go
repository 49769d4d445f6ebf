package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/database"
	"github.com/healthsync/connector-engine/pkg/models"
)

// WorkflowRepository reads the minimal workflow records the mappings hang off.
type WorkflowRepository interface {
	Create(ctx context.Context, w *models.Workflow) error
	// Get returns apperrors.ErrNotFound when the workflow does not exist.
	Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type workflowRepository struct {
	q database.Querier
}

func (r *workflowRepository) Create(ctx context.Context, w *models.Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx,
		`INSERT INTO workflows (id, name) VALUES ($1, $2) RETURNING created_at`,
		w.ID, w.Name,
	).Scan(&w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("workflow %s already exists", w.ID)
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	var w models.Workflow
	err := r.q.QueryRow(ctx,
		`SELECT id, name, created_at FROM workflows WHERE id = $1`, id,
	).Scan(&w.ID, &w.Name, &w.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("Workflow", id.String())
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &w, nil
}

func (r *workflowRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow: %w", err)
	}
	return exists, nil
}
