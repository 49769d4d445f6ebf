// Package repositories persists connections, workflows and their mappings in
// the engine's PostgreSQL store.
package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/healthsync/connector-engine/pkg/database"
)

// Repos bundles the repositories bound to one querier: the pool, or the
// transaction of a unit of work.
type Repos struct {
	Workflows      WorkflowRepository
	Fields         WorkflowFieldRepository
	Mappings       FieldMappingRepository
	Configurations WorkflowConfigurationRepository
	Connections    ConnectionRepository
}

// Transactor hands out repositories. InTx runs fn in one transaction that
// commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	Repos() *Repos
	InTx(ctx context.Context, fn func(repos *Repos) error) error
}

// NewRepos binds every repository to q.
func NewRepos(q database.Querier) *Repos {
	return &Repos{
		Workflows:      &workflowRepository{q: q},
		Fields:         &workflowFieldRepository{q: q},
		Mappings:       &fieldMappingRepository{q: q},
		Configurations: &workflowConfigurationRepository{q: q},
		Connections:    &connectionRepository{q: q},
	}
}

// Store is the PostgreSQL Transactor.
type Store struct {
	db    *database.DB
	repos *Repos
}

var _ Transactor = (*Store)(nil)

// NewStore creates a store on an open pool.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, repos: NewRepos(db.Pool)}
}

func (s *Store) Repos() *Repos {
	return s.repos
}

func (s *Store) InTx(ctx context.Context, fn func(repos *Repos) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
}
