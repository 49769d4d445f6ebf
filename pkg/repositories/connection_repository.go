package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/database"
	"github.com/healthsync/connector-engine/pkg/models"
)

// ConnectionRepository stores external connections.
// Config is stored as encrypted TEXT - encryption/decryption is handled by the service layer,
// so models returned here carry a nil Config alongside the sealed string.
type ConnectionRepository interface {
	Create(ctx context.Context, c *models.Connection, encryptedConfig string) error
	// Get returns the connection and its encrypted configuration.
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, string, error)
	// List returns every connection, newest first, with their encrypted configurations.
	List(ctx context.Context) ([]*models.Connection, []string, error)
	Update(ctx context.Context, c *models.Connection, encryptedConfig string) error
	RecordTestResult(ctx context.Context, id uuid.UUID, result models.TestResult) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	q database.Querier
}

const connectionColumns = `id, name, type, configuration_encrypted, is_active, last_tested_at, last_test_result, created_by, created_at, updated_at`

func scanConnection(row pgx.Row) (*models.Connection, string, error) {
	var (
		c          models.Connection
		encrypted  string
		createdBy  *string
		testResult []byte
	)
	err := row.Scan(&c.ID, &c.Name, &c.Type, &encrypted, &c.IsActive, &c.LastTestedAt,
		&testResult, &createdBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, "", err
	}
	if createdBy != nil {
		c.CreatedBy = *createdBy
	}
	if len(testResult) > 0 {
		var res models.TestResult
		if err := json.Unmarshal(testResult, &res); err != nil {
			return nil, "", fmt.Errorf("failed to decode last test result: %w", err)
		}
		c.LastTestResult = &res
	}
	return &c, encrypted, nil
}

func (r *connectionRepository) Create(ctx context.Context, c *models.Connection, encryptedConfig string) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var createdBy *string
	if c.CreatedBy != "" {
		createdBy = &c.CreatedBy
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO external_connections (id, name, type, configuration_encrypted, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Type, encryptedConfig, c.IsActive, createdBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("connection %s already exists", c.ID)
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func (r *connectionRepository) Get(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	c, encrypted, err := scanConnection(r.q.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM external_connections WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, "", apperrors.NotFound("Connection", id.String())
		}
		return nil, "", fmt.Errorf("failed to get connection: %w", err)
	}
	return c, encrypted, nil
}

func (r *connectionRepository) List(ctx context.Context) ([]*models.Connection, []string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+connectionColumns+` FROM external_connections ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	conns := make([]*models.Connection, 0)
	configs := make([]string, 0)
	for rows.Next() {
		c, encrypted, err := scanConnection(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
		configs = append(configs, encrypted)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, configs, nil
}

func (r *connectionRepository) Update(ctx context.Context, c *models.Connection, encryptedConfig string) error {
	err := r.q.QueryRow(ctx, `
		UPDATE external_connections
		SET name = $2, type = $3, configuration_encrypted = $4, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Name, c.Type, encryptedConfig, c.IsActive,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return apperrors.NotFound("Connection", c.ID.String())
		}
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return nil
}

func (r *connectionRepository) RecordTestResult(ctx context.Context, id uuid.UUID, result models.TestResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode test result: %w", err)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE external_connections
		SET last_tested_at = $2, last_test_result = $3::jsonb
		WHERE id = $1`,
		id, result.TestedAt, string(raw))
	if err != nil {
		return fmt.Errorf("failed to record test result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("Connection", id.String())
	}
	return nil
}

// Delete removes a connection. A configuration still referencing it makes the
// foreign key fail, which is reported as a Conflict.
func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM external_connections WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.Conflict("connection is still referenced by a workflow configuration")
		}
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("Connection", id.String())
	}
	return nil
}
