//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/migrations"
	"github.com/healthsync/connector-engine/pkg/database"
)

func TestEngineDB_MigrationsApplied(t *testing.T) {
	engineDB := GetEngineDB(t)
	engineDB.Reset(t)

	ctx := context.Background()

	tables := []string{"workflows", "workflow_fields", "external_connections", "workflow_configurations", "field_mappings"}
	for _, table := range tables {
		var exists bool
		err := engineDB.DB.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestEngineDB_MigrationStatus(t *testing.T) {
	engineDB := GetEngineDB(t)

	sqlDB := stdlib.OpenDBFromPool(engineDB.DB.Pool)
	defer sqlDB.Close()

	status, err := database.GetMigrationStatus(sqlDB, migrations.FS, zap.NewNop())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if !status.Applied || status.Dirty || status.Version != 4 {
		t.Errorf("unexpected migration status %+v, want version 4 applied and clean", status)
	}
}

func TestStartTargetDB_Params(t *testing.T) {
	target := StartTargetDB(t, TargetPostgres)

	for _, key := range []string{"host", "port", "username", "password", "database"} {
		if _, ok := target.Params[key]; !ok {
			t.Errorf("expected %q in target params", key)
		}
	}
	if target.Params["port"].(int) == 0 {
		t.Error("expected a mapped port")
	}
}
