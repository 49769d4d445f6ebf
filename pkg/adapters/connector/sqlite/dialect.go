package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

// Primary and extended result codes from sqlite3.h.
const (
	codeBusy             = 5
	codeCantOpen         = 14
	codeConstraint       = 19
	codeAuth             = 23
	codeConstraintFK     = 787
	codeConstraintPK     = 1555
	codeConstraintUnique = 2067
)

// Dialect is the SQLite flavour of the SQL connector, backed by the cgo-free
// modernc driver.
type Dialect struct{}

var _ sqlbase.Dialect = Dialect{}

func (Dialect) Type() models.ConnectorType { return models.ConnectorSQLite }
func (Dialect) DriverName() string { return "sqlite" }

// DSN is the database file path with driver pragmas. The busy timeout follows
// the connect timeout so a locked file waits instead of failing at once.
func (Dialect) DSN(cfg *sqlbase.Config) (string, error) {
	path := cfg.Path()
	if strings.ContainsRune(path, '?') {
		return "", fmt.Errorf("sqlite filename must not contain '?'")
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, cfg.ConnectTimeout.Milliseconds()), nil
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) PingQuery() string { return "SELECT 1" }
func (Dialect) SupportsSchemas() bool { return false }
func (Dialect) DefaultSchema(*sqlbase.Config) string { return "main" }
func (Dialect) BoolAsInt() bool { return true }
func (Dialect) IDColumnDDL() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (Dialect) TablesQuery(*sqlbase.Config) sqlbase.Query {
	return sqlbase.Query{SQL: `
		SELECT 'main', name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`}
}

func (Dialect) ColumnsQuery(_, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL:  `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`,
		Args: []any{table},
	}
}

func (Dialect) TableExistsQuery(_, table string) sqlbase.Query {
	return sqlbase.Query{
		SQL:  `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		Args: []any{table},
	}
}

func (Dialect) EnsureSchemaQuery(*sqlbase.Config, string) *sqlbase.Query { return nil }

func (Dialect) ColumnDDL(ft models.FieldType) string {
	switch ft {
	case models.FieldNumber:
		return "REAL"
	case models.FieldBoolean:
		return "INTEGER"
	case models.FieldDate, models.FieldDateTime:
		return "DATETIME"
	}
	return "TEXT"
}

func (Dialect) ClassifyError(err error) sqlbase.ErrorClass {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return sqlbase.ClassUnknown
	}
	switch sqliteErr.Code() {
	case codeConstraintUnique, codeConstraintPK:
		return sqlbase.ClassUniqueViolation
	case codeConstraintFK:
		return sqlbase.ClassForeignKeyViolation
	case codeCantOpen:
		return sqlbase.ClassUnreachable
	case codeAuth:
		return sqlbase.ClassAuth
	case codeBusy:
		return sqlbase.ClassTimeout
	}
	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return sqlbase.ClassTableMissing
	case sqliteErr.Code()&0xff == codeConstraint && strings.Contains(msg, "UNIQUE constraint failed"):
		return sqlbase.ClassUniqueViolation
	case sqliteErr.Code()&0xff == codeConstraint && strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return sqlbase.ClassForeignKeyViolation
	}
	return sqlbase.ClassUnknown
}
