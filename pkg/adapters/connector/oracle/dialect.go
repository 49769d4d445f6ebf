package oracle

import (
	"fmt"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/models"
)

// Dialect is the Oracle flavour of the SQL connector, backed by the pure-Go
// go-ora driver. The database field holds the service name.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Type() models.ConnectorType { return models.ConnectorOracle }
func (Dialect) DriverName() string { return "oracle" }

func (Dialect) DSN(cfg *sqlbase.Config) (string, error) {
	options := map[string]string{
		"CONNECTION TIMEOUT": fmt.Sprintf("%d", max(1, int(cfg.ConnectTimeout.Seconds()))),
	}
	if cfg.SSL {
		options["SSL"] = "enable"
	}
	return go_ora.BuildUrl(config.ResolveHostForDocker(cfg.Host), cfg.Port, cfg.Database, cfg.Username, cfg.Password, options), nil
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf(":%d", n) }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) PingQuery() string { return "SELECT 1 FROM DUAL" }
func (Dialect) SupportsSchemas() bool { return true }
func (Dialect) BoolAsInt() bool { return true }
func (Dialect) IDColumnDDL() string { return "NUMBER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY" }

// DefaultSchema is the connecting user's schema. Unquoted Oracle names are
// stored upper-cased.
func (Dialect) DefaultSchema(cfg *sqlbase.Config) string {
	return strings.ToUpper(cfg.Username)
}

func (d Dialect) TablesQuery(cfg *sqlbase.Config) sqlbase.Query {
	owner := cfg.Schema
	if owner == "" {
		owner = d.DefaultSchema(cfg)
	}
	return sqlbase.Query{
		SQL:  `SELECT OWNER, TABLE_NAME FROM ALL_TABLES WHERE OWNER = :1 ORDER BY TABLE_NAME`,
		Args: []any{owner},
	}
}

func (Dialect) ColumnsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL: `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM ALL_TAB_COLUMNS
		WHERE OWNER = :1 AND TABLE_NAME = :2
		ORDER BY COLUMN_ID`,
		Args: []any{schema, table},
	}
}

func (Dialect) TableExistsQuery(schema, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL:  `SELECT COUNT(*) FROM ALL_TABLES WHERE OWNER = :1 AND TABLE_NAME = :2`,
		Args: []any{schema, table},
	}
}

// EnsureSchemaQuery is nil: an Oracle schema is a user and is provisioned by a DBA.
func (Dialect) EnsureSchemaQuery(*sqlbase.Config, string) *sqlbase.Query { return nil }

func (Dialect) ColumnDDL(ft models.FieldType) string {
	switch ft {
	case models.FieldNumber:
		return "BINARY_DOUBLE"
	case models.FieldBoolean:
		return "NUMBER(1)"
	case models.FieldDate, models.FieldDateTime:
		return "TIMESTAMP"
	}
	return "CLOB"
}

var oracleCodes = map[string]sqlbase.ErrorClass{
	"ORA-00001": sqlbase.ClassUniqueViolation,
	"ORA-02291": sqlbase.ClassForeignKeyViolation,
	"ORA-02292": sqlbase.ClassForeignKeyViolation,
	"ORA-00942": sqlbase.ClassTableMissing,
	"ORA-01017": sqlbase.ClassAuth,
	"ORA-28000": sqlbase.ClassAuth,
	"ORA-12170": sqlbase.ClassTimeout,
	"ORA-12514": sqlbase.ClassUnreachable,
	"ORA-12541": sqlbase.ClassUnreachable,
	"ORA-12543": sqlbase.ClassUnreachable,
	"ORA-12545": sqlbase.ClassUnreachable,
}

// ClassifyError matches the ORA- code that go-ora puts at the start of its messages.
func (Dialect) ClassifyError(err error) sqlbase.ErrorClass {
	msg := err.Error()
	for code, class := range oracleCodes {
		if strings.Contains(msg, code) {
			return class
		}
	}
	return sqlbase.ClassUnknown
}
