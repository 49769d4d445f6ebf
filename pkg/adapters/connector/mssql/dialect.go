package mssql

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/models"
)

// SQL Server error numbers the connector distinguishes.
const (
	errUniqueConstraint = 2627
	errUniqueIndex      = 2601
	errConstraint       = 547
	errInvalidObject    = 208
	errLoginFailed      = 18456
	errCannotOpenDB     = 4060
)

// Dialect is the SQL Server / Azure SQL flavour of the SQL connector.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Type() models.ConnectorType { return models.ConnectorMSSQL }
func (Dialect) DriverName() string { return "sqlserver" }

// DSN builds a sqlserver:// URL. Encryption is disabled unless ssl is set.
func (Dialect) DSN(cfg *sqlbase.Config) (string, error) {
	q := url.Values{}
	q.Set("database", cfg.Database)
	if cfg.SSL {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	seconds := max(1, int(cfg.ConnectTimeout.Seconds()))
	q.Set("connection timeout", fmt.Sprintf("%d", seconds))
	q.Set("dial timeout", fmt.Sprintf("%d", seconds))

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// QuoteIdent mirrors QUOTENAME: brackets, with ] escaped as ]].
func (Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) PingQuery() string { return "SELECT 1" }
func (Dialect) SupportsSchemas() bool { return true }
func (Dialect) DefaultSchema(*sqlbase.Config) string { return "dbo" }
func (Dialect) BoolAsInt() bool { return false }
func (Dialect) IDColumnDDL() string { return "BIGINT IDENTITY(1,1) PRIMARY KEY" }

func (Dialect) TablesQuery(*sqlbase.Config) sqlbase.Query {
	return sqlbase.Query{SQL: `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME`}
}

func (Dialect) ColumnsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL: `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`,
		Args: []any{schema, table},
	}
}

func (Dialect) TableExistsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL:  `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`,
		Args: []any{schema, table},
	}
}

// EnsureSchemaQuery creates the schema through dynamic SQL because CREATE
// SCHEMA must be the only statement in its batch.
func (Dialect) EnsureSchemaQuery(_ *sqlbase.Config, schema string) *sqlbase.Query {
	if schema == "" || strings.EqualFold(schema, "dbo") {
		return nil
	}
	return &sqlbase.Query{
		SQL: `
		DECLARE @ddl nvarchar(400) = N'CREATE SCHEMA ' + QUOTENAME(@p1);
		IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = @p1) EXEC(@ddl);`,
		Args: []any{schema},
	}
}

func (Dialect) ColumnDDL(ft models.FieldType) string {
	switch ft {
	case models.FieldNumber:
		return "FLOAT"
	case models.FieldBoolean:
		return "BIT"
	case models.FieldDate, models.FieldDateTime:
		return "DATETIME2"
	}
	return "NVARCHAR(MAX)"
}

func (Dialect) ClassifyError(err error) sqlbase.ErrorClass {
	var number int32
	var valErr mssqldb.Error
	var ptrErr *mssqldb.Error
	switch {
	case errors.As(err, &valErr):
		number = valErr.Number
	case errors.As(err, &ptrErr):
		number = ptrErr.Number
	default:
		return sqlbase.ClassUnknown
	}

	switch number {
	case errUniqueConstraint, errUniqueIndex:
		return sqlbase.ClassUniqueViolation
	case errConstraint:
		return sqlbase.ClassForeignKeyViolation
	case errInvalidObject:
		return sqlbase.ClassTableMissing
	case errLoginFailed, errCannotOpenDB:
		return sqlbase.ClassAuth
	}
	return sqlbase.ClassUnknown
}
