package mysql

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/models"
)

// MySQL server error numbers the connector distinguishes.
const (
	errDupEntry          = 1062
	errNoReferencedRow   = 1452
	errRowIsReferenced   = 1451
	errNoSuchTable       = 1146
	errAccessDenied      = 1045
	errDBAccessDenied    = 1044
	errTooManyConnection = 1040
)

// Dialect is the MySQL / MariaDB flavour of the SQL connector.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Type() models.ConnectorType { return models.ConnectorMySQL }
func (Dialect) DriverName() string { return "mysql" }

// DSN formats a go-sql-driver config. parseTime makes DATETIME columns scan
// into time.Time.
func (Dialect) DSN(cfg *sqlbase.Config) (string, error) {
	c := gomysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Timeout = cfg.ConnectTimeout
	c.ReadTimeout = cfg.ReadTimeout
	c.WriteTimeout = cfg.ReadTimeout
	c.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.SSL {
		c.TLSConfig = "true"
	}
	return c.FormatDSN(), nil
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) PingQuery() string { return "SELECT 1" }
func (Dialect) SupportsSchemas() bool { return true }
func (Dialect) BoolAsInt() bool { return false }
func (Dialect) IDColumnDDL() string { return "BIGINT AUTO_INCREMENT PRIMARY KEY" }

// DefaultSchema is the connected database; MySQL has no separate schemas.
func (Dialect) DefaultSchema(cfg *sqlbase.Config) string {
	if cfg.Schema != "" {
		return cfg.Schema
	}
	return cfg.Database
}

func (d Dialect) TablesQuery(cfg *sqlbase.Config) sqlbase.Query {
	return sqlbase.Query{
		SQL: `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
		Args: []any{d.DefaultSchema(cfg)},
	}
}

func (Dialect) ColumnsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL: `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`,
		Args: []any{schema, table},
	}
}

func (Dialect) TableExistsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL:  `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		Args: []any{schema, table},
	}
}

// EnsureSchemaQuery creates the target database when it differs from the
// connected one. MySQL commits DDL implicitly.
func (d Dialect) EnsureSchemaQuery(cfg *sqlbase.Config, schema string) *sqlbase.Query {
	if schema == "" || strings.EqualFold(schema, cfg.Database) {
		return nil
	}
	return &sqlbase.Query{SQL: "CREATE DATABASE IF NOT EXISTS " + d.QuoteIdent(schema)}
}

func (Dialect) ColumnDDL(ft models.FieldType) string {
	switch ft {
	case models.FieldNumber:
		return "DOUBLE"
	case models.FieldBoolean:
		return "BOOLEAN"
	case models.FieldDate, models.FieldDateTime:
		return "DATETIME"
	}
	return "TEXT"
}

func (Dialect) ClassifyError(err error) sqlbase.ErrorClass {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errDupEntry:
			return sqlbase.ClassUniqueViolation
		case errNoReferencedRow, errRowIsReferenced:
			return sqlbase.ClassForeignKeyViolation
		case errNoSuchTable:
			return sqlbase.ClassTableMissing
		case errAccessDenied, errDBAccessDenied:
			return sqlbase.ClassAuth
		case errTooManyConnection:
			return sqlbase.ClassUnreachable
		}
		return sqlbase.ClassUnknown
	}
	if errors.Is(err, gomysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return sqlbase.ClassUnreachable
	}
	return sqlbase.ClassUnknown
}
