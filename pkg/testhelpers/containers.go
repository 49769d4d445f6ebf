// Package testhelpers provides utilities for testing connector-engine components.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/migrations"
	"github.com/healthsync/connector-engine/pkg/database"
)

const (
	// PostgresImage backs both the engine store and Postgres connector targets.
	PostgresImage = "postgres:16-alpine"
	// MySQLImage backs MySQL connector targets.
	MySQLImage = "mysql:8.0"

	targetUser     = "connector"
	targetPassword = "test_password"
)

// TargetKind selects the database a connector integration test pushes into.
type TargetKind string

const (
	TargetPostgres TargetKind = "postgres"
	TargetMySQL    TargetKind = "mysql"
)

type containerDef struct {
	image string
	port  string
	env   map[string]string
	wait  wait.Strategy
}

func containerFor(kind TargetKind, database string) (containerDef, error) {
	switch kind {
	case TargetPostgres:
		return containerDef{
			image: PostgresImage,
			port:  "5432/tcp",
			env: map[string]string{
				"POSTGRES_DB":       database,
				"POSTGRES_USER":     targetUser,
				"POSTGRES_PASSWORD": targetPassword,
			},
			// The official image restarts once after initdb, so the ready line appears twice.
			wait: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		}, nil
	case TargetMySQL:
		return containerDef{
			image: MySQLImage,
			port:  "3306/tcp",
			env: map[string]string{
				"MYSQL_DATABASE":      database,
				"MYSQL_USER":          targetUser,
				"MYSQL_PASSWORD":      targetPassword,
				"MYSQL_ROOT_PASSWORD": targetPassword,
			},
			// The temporary init server logs "port: 0"; only the real one listens on 3306.
			wait: wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(120 * time.Second),
		}, nil
	}
	return containerDef{}, fmt.Errorf("unknown target kind %q", kind)
}

// startContainer runs def and returns the container with its mapped host and port.
func startContainer(ctx context.Context, def containerDef) (testcontainers.Container, string, int, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        def.image,
			ExposedPorts: []string{def.port},
			Env:          def.env,
			WaitingFor:   def.wait,
		},
		Started: true,
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to start %s: %w", def.image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to get container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, def.port)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to get container port: %w", err)
	}
	return container, host, mapped.Int(), nil
}

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
}

// EngineDB holds the engine database connection with migrations applied.
// Use this for testing repositories and services against a real database.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared engine database for integration tests.
// The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()
	skipWithoutDocker(t)

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB(context.Background())
	})
	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}
	return sharedEngineDB
}

func setupEngineDB(ctx context.Context) (*EngineDB, error) {
	def, err := containerFor(TargetPostgres, "connector_engine_test")
	if err != nil {
		return nil, err
	}
	container, host, port, err := startContainer(ctx, def)
	if err != nil {
		return nil, err
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/connector_engine_test?sslmode=disable",
		targetUser, targetPassword, host, port)

	var db *database.DB
	for range 10 {
		if db, err = database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5}); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	// golang-migrate needs database/sql; borrow the pool instead of opening a second one.
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, migrations.FS, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{Container: container, DB: db, ConnStr: connStr}, nil
}

// Reset empties every engine table so a test starts from a clean store.
func (e *EngineDB) Reset(t *testing.T) {
	t.Helper()
	_, err := e.DB.Exec(context.Background(),
		`TRUNCATE field_mappings, workflow_configurations, workflow_fields, external_connections, workflows CASCADE`)
	if err != nil {
		t.Fatalf("failed to reset engine database: %v", err)
	}
}

// TargetDB is a throwaway database a connector pushes into.
type TargetDB struct {
	Kind      TargetKind
	Container testcontainers.Container
	// Params is the connection configuration a user would store for it.
	Params map[string]any
}

// StartTargetDB starts a fresh target database for one test and terminates
// it when the test ends.
func StartTargetDB(t *testing.T, kind TargetKind) *TargetDB {
	t.Helper()
	skipWithoutDocker(t)

	ctx := context.Background()
	def, err := containerFor(kind, "health_target")
	if err != nil {
		t.Fatal(err)
	}
	container, host, port, err := startContainer(ctx, def)
	if err != nil {
		t.Fatalf("Failed to start %s target: %v", kind, err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s target: %v", kind, err)
		}
	})

	return &TargetDB{
		Kind:      kind,
		Container: container,
		Params: map[string]any{
			"host":     host,
			"port":     port,
			"username": targetUser,
			"password": targetPassword,
			"database": "health_target",
		},
	}
}
