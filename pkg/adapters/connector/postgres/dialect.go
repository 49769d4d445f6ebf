package postgres

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/models"
)

// Dialect is the PostgreSQL flavour of the SQL connector.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Type() models.ConnectorType { return models.ConnectorPostgres }
func (Dialect) DriverName() string { return "pgx" }

// DSN builds a PostgreSQL URL with proper escaping. User-provided fields must
// be escaped so passwords containing @, /, # or ? do not break URL parsing.
func (Dialect) DSN(cfg *sqlbase.Config) (string, error) {
	sslMode := "disable"
	if cfg.SSL {
		sslMode = "require"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", max(1, int(cfg.ConnectTimeout.Seconds()))))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) PingQuery() string { return "SELECT 1" }
func (Dialect) SupportsSchemas() bool { return true }
func (Dialect) DefaultSchema(*sqlbase.Config) string { return "public" }
func (Dialect) BoolAsInt() bool { return false }
func (Dialect) IDColumnDDL() string { return "BIGSERIAL PRIMARY KEY" }

func (Dialect) TablesQuery(*sqlbase.Config) sqlbase.Query {
	return sqlbase.Query{SQL: `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`}
}

func (Dialect) ColumnsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL: `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
		Args: []any{schema, table},
	}
}

func (Dialect) TableExistsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL:  `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		Args: []any{schema, table},
	}
}

func (d Dialect) EnsureSchemaQuery(_ *sqlbase.Config, schema string) *sqlbase.Query {
	if schema == "" || schema == "public" {
		return nil
	}
	return &sqlbase.Query{SQL: "CREATE SCHEMA IF NOT EXISTS " + d.QuoteIdent(schema)}
}

func (Dialect) ColumnDDL(ft models.FieldType) string {
	switch ft {
	case models.FieldNumber:
		return "DOUBLE PRECISION"
	case models.FieldBoolean:
		return "BOOLEAN"
	case models.FieldDate, models.FieldDateTime:
		return "TIMESTAMP"
	}
	return "TEXT"
}

// ClassifyError maps SQLSTATE codes. Authentication failures arrive as a
// PgError wrapped in a ConnectError and are caught by the first branch.
func (Dialect) ClassifyError(err error) sqlbase.ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return sqlbase.ClassUniqueViolation
		case "23503":
			return sqlbase.ClassForeignKeyViolation
		case "42P01", "3F000":
			return sqlbase.ClassTableMissing
		case "28P01", "28000":
			return sqlbase.ClassAuth
		case "57P01", "57P03", "08000", "08001", "08003", "08006":
			return sqlbase.ClassUnreachable
		}
		return sqlbase.ClassUnknown
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		if pgconn.Timeout(err) {
			return sqlbase.ClassTimeout
		}
		return sqlbase.ClassUnreachable
	}
	return sqlbase.ClassUnknown
}
