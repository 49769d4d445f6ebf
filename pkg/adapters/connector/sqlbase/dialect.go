// Package sqlbase implements the connector strategy shared by every relational
// target. A Dialect supplies the per-database differences.
package sqlbase

import (
	"github.com/healthsync/connector-engine/pkg/models"
)

// ErrorClass is the sanitized kind of a driver error.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassUniqueViolation
	ClassForeignKeyViolation
	ClassTableMissing
	ClassAuth
	ClassUnreachable
	ClassTimeout
)

// Query is a statement plus its positional arguments.
type Query struct {
	SQL  string
	Args []any
}

// Dialect captures what differs between relational targets.
type Dialect interface {
	Type() models.ConnectorType
	DriverName() string

	// DSN builds the driver connection string from a validated config.
	DSN(cfg *Config) (string, error)

	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	QuoteIdent(name string) string

	// PingQuery is run after PingContext to confirm the session can execute SQL.
	PingQuery() string
	// SupportsSchemas is false for targets with a single namespace (SQLite).
	SupportsSchemas() bool
	// DefaultSchema is used when a selector or push names no schema.
	DefaultSchema(cfg *Config) string

	TablesQuery(cfg *Config) Query
	ColumnsQuery(schema, table string) Query
	TableExistsQuery(schema, table string) Query
	// EnsureSchemaQuery returns nil when the dialect needs no schema creation.
	EnsureSchemaQuery(cfg *Config, schema string) *Query

	IDColumnDDL() string
	ColumnDDL(ft models.FieldType) string
	// BoolAsInt is true for targets without a native boolean column type.
	BoolAsInt() bool

	ClassifyError(err error) ErrorClass
}
