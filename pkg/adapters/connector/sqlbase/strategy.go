package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/logging"
	"github.com/healthsync/connector-engine/pkg/models"
	sqlcheck "github.com/healthsync/connector-engine/pkg/sql"
)

// Strategy is the connector strategy for every relational target.
type Strategy struct {
	dialect  Dialect
	timeouts connector.Timeouts
	connMgr  *connector.ConnectionManager
	logger   *zap.Logger
}

var _ connector.Strategy = (*Strategy)(nil)

// New creates a strategy for the dialect.
func New(d Dialect, deps connector.Deps) *Strategy {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeouts := deps.Timeouts
	if timeouts.Connect <= 0 {
		timeouts.Connect = connector.DefaultTimeouts.Connect
	}
	if timeouts.Read <= 0 {
		timeouts.Read = connector.DefaultTimeouts.Read
	}
	return &Strategy{
		dialect:  d,
		timeouts: timeouts,
		connMgr:  deps.ConnMgr,
		logger:   logger,
	}
}

// Dialect returns the dialect the strategy runs with.
func (s *Strategy) Dialect() Dialect {
	return s.dialect
}

// TestConnection opens a dedicated connection, pings it and runs a trivial
// query. The connection is always closed; test traffic never touches the pool.
func (s *Strategy) TestConnection(ctx context.Context, raw map[string]any) models.TestResult {
	start := time.Now()
	failed := func(category, message string) models.TestResult {
		return models.TestResult{
			Success:   false,
			Message:   message,
			LatencyMs: time.Since(start).Milliseconds(),
			Category:  category,
			TestedAt:  time.Now().UTC(),
		}
	}

	cfg, err := FromMap(s.dialect.Type(), raw, s.timeouts)
	if err != nil {
		return failed("configuration", apperrors.Message(err))
	}
	dsn, err := s.dialect.DSN(cfg)
	if err != nil {
		return failed("configuration", apperrors.Message(err))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := sql.Open(s.dialect.DriverName(), dsn)
	if err != nil {
		return failed("configuration", "Connection failed: invalid connection settings")
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return s.failedTest(failed, err)
	}
	var one int
	if err := db.QueryRowContext(ctx, s.dialect.PingQuery()).Scan(&one); err != nil {
		return s.failedTest(failed, err)
	}

	return models.TestResult{
		Success:   true,
		Message:   fmt.Sprintf("Connected to %s database %s", s.dialect.Type().Label(), describeTarget(s.dialect, cfg)),
		LatencyMs: time.Since(start).Milliseconds(),
		TestedAt:  time.Now().UTC(),
	}
}

func (s *Strategy) failedTest(failed func(category, message string) models.TestResult, err error) models.TestResult {
	class := Classify(s.dialect, err)
	s.logger.Info("connection test failed",
		zap.String("category", Category(class)),
		logging.SafeError(err),
	)
	return failed(Category(class), "Connection failed: "+messageFor(class))
}

func describeTarget(d Dialect, cfg *Config) string {
	if d.Type() == models.ConnectorSQLite {
		return cfg.Path()
	}
	return fmt.Sprintf("%s on %s:%d", cfg.Database, cfg.Host, cfg.Port)
}

// FetchSchemas lists tables ("tables") or the columns of one table ("table").
func (s *Strategy) FetchSchemas(ctx context.Context, raw map[string]any, sel models.SchemaSelector) ([]models.SchemaElement, error) {
	cfg, err := FromMap(s.dialect.Type(), raw, s.timeouts)
	if err != nil {
		return nil, err
	}

	switch sel.Type {
	case models.SelectorTables:
		return s.fetchTables(ctx, cfg)
	case models.SelectorTable:
		if strings.TrimSpace(sel.ID) == "" {
			return nil, apperrors.BadRequest("table selector requires a table id")
		}
		return s.fetchColumns(ctx, cfg, sel.ID)
	}
	return nil, apperrors.BadRequest("selector type %q is not supported for %s", sel.Type, s.dialect.Type().Label())
}

func (s *Strategy) fetchTables(ctx context.Context, cfg *Config) ([]models.SchemaElement, error) {
	db, release, err := s.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	q := s.dialect.TablesQuery(cfg)
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, s.fail("list tables", err)
	}
	defer rows.Close()

	elements := []models.SchemaElement{}
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, s.fail("scan table", err)
		}
		elements = append(elements, models.SchemaElement{
			ID:        schema + "." + name,
			Name:      name,
			ValueType: models.ValueTable,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list tables", err)
	}
	return elements, nil
}

func (s *Strategy) fetchColumns(ctx context.Context, cfg *Config, tableID string) ([]models.SchemaElement, error) {
	schema, table := s.splitTableID(cfg, tableID)
	if err := sqlcheck.CheckQualifiedName(schema, table); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	db, release, err := s.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	q := s.dialect.ColumnsQuery(schema, table)
	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, s.fail("list columns", err)
	}
	defer rows.Close()

	elements := []models.SchemaElement{}
	for rows.Next() {
		var name, native string
		if err := rows.Scan(&name, &native); err != nil {
			return nil, s.fail("scan column", err)
		}
		elements = append(elements, models.SchemaElement{
			ID:        name,
			Name:      name,
			ValueType: NormalizeType(native),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list columns", err)
	}
	if len(elements) == 0 {
		return nil, apperrors.NotFound("Table", tableID)
	}
	return elements, nil
}

// splitTableID splits "schema.table". A bare name lives in the default schema.
func (s *Strategy) splitTableID(cfg *Config, id string) (string, string) {
	schema, table := "", strings.TrimSpace(id)
	if i := strings.IndexByte(table, '.'); i >= 0 {
		schema, table = table[:i], table[i+1:]
	}
	return s.resolveSchema(cfg, schema), table
}

func (s *Strategy) resolveSchema(cfg *Config, schema string) string {
	if !s.dialect.SupportsSchemas() {
		return ""
	}
	if schema == "" {
		if cfg.Schema != "" {
			return cfg.Schema
		}
		return s.dialect.DefaultSchema(cfg)
	}
	return schema
}

// PushData writes all rows in one transaction, creating the schema and table
// on first use. Nothing is written when any row fails.
func (s *Strategy) PushData(ctx context.Context, raw map[string]any, payload *connector.Payload) (*connector.PushResult, error) {
	if payload == nil || payload.Table == nil {
		return nil, apperrors.BadRequest("%s push requires table rows", s.dialect.Type().Label())
	}
	batch := payload.Table
	if strings.TrimSpace(batch.Table) == "" {
		return nil, apperrors.BadRequest("target table is required")
	}
	if len(batch.Rows) == 0 {
		return nil, apperrors.BadRequest("No data provided for table %s", batch.Table)
	}

	cfg, err := FromMap(s.dialect.Type(), raw, s.timeouts)
	if err != nil {
		return nil, err
	}

	schema := s.resolveSchema(cfg, batch.Schema)
	if err := sqlcheck.CheckQualifiedName(schema, batch.Table); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	columns, types, err := collectColumns(batch.Rows)
	if err != nil {
		return nil, err
	}

	// Convert every value before touching the database so a bad row
	// cannot leave a half-created table behind.
	statements := make([]Query, 0, len(batch.Rows))
	qualified := QualifiedName(s.dialect, schema, batch.Table)
	for _, row := range batch.Rows {
		q, err := s.insertQuery(qualified, row)
		if err != nil {
			return nil, err
		}
		statements = append(statements, q)
	}

	db, release, err := s.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if q := s.dialect.EnsureSchemaQuery(cfg, schema); q != nil {
		if _, err := tx.ExecContext(ctx, q.SQL, q.Args...); err != nil {
			return nil, s.fail("ensure schema", err)
		}
	}

	exists := s.dialect.TableExistsQuery(schema, batch.Table)
	var count int
	if err := tx.QueryRowContext(ctx, exists.SQL, exists.Args...).Scan(&count); err != nil {
		return nil, s.fail("check table", err)
	}
	if count == 0 {
		if _, err := tx.ExecContext(ctx, s.createTableSQL(qualified, columns, types)); err != nil {
			return nil, s.fail("create table", err)
		}
		s.logger.Info("created target table",
			zap.String("schema", schema),
			zap.String("table", batch.Table),
			zap.Int("columns", len(columns)),
		)
	}

	for _, q := range statements {
		if _, err := tx.ExecContext(ctx, q.SQL, q.Args...); err != nil {
			return nil, s.fail("insert row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail("commit", err)
	}

	display := batch.Table
	if schema != "" {
		display = schema + "." + batch.Table
	}
	return &connector.PushResult{
		Accepted: len(statements),
		Message:  fmt.Sprintf("Inserted %d row(s) into %s", len(statements), display),
	}, nil
}

// collectColumns returns every column in first-seen order with the field type
// of its first occurrence. Column names are screened here.
func collectColumns(rows [][]connector.ColumnValue) ([]string, map[string]models.FieldType, error) {
	var columns []string
	types := make(map[string]models.FieldType)
	for _, row := range rows {
		for _, cell := range row {
			if _, seen := types[cell.Column]; seen {
				continue
			}
			if err := sqlcheck.CheckIdentifier("column", cell.Column); err != nil {
				return nil, nil, apperrors.Validation(err.Error())
			}
			types[cell.Column] = cell.Type
			columns = append(columns, cell.Column)
		}
	}
	if len(columns) == 0 {
		return nil, nil, apperrors.BadRequest("rows contain no columns")
	}
	return columns, types, nil
}

func (s *Strategy) createTableSQL(qualified string, columns []string, types map[string]models.FieldType) string {
	defs := make([]string, 0, len(columns)+1)
	hasID := false
	for _, c := range columns {
		if strings.EqualFold(c, "id") {
			hasID = true
		}
	}
	if !hasID {
		defs = append(defs, s.dialect.QuoteIdent("id")+" "+s.dialect.IDColumnDDL())
	}
	for _, c := range columns {
		defs = append(defs, s.dialect.QuoteIdent(c)+" "+s.dialect.ColumnDDL(types[c]))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(defs, ", "))
}

func (s *Strategy) insertQuery(qualified string, row []connector.ColumnValue) (Query, error) {
	cols := make([]string, 0, len(row))
	marks := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	seen := make(map[string]bool, len(row))
	for i, cell := range row {
		key := strings.ToLower(cell.Column)
		if seen[key] {
			return Query{}, apperrors.Validation(fmt.Sprintf("column %q appears more than once in a row", cell.Column))
		}
		seen[key] = true
		v, err := ConvertValue(cell.Column, cell.Value, cell.Type, s.dialect.BoolAsInt())
		if err != nil {
			return Query{}, err
		}
		cols = append(cols, s.dialect.QuoteIdent(cell.Column))
		marks = append(marks, s.dialect.Placeholder(i+1))
		args = append(args, v)
	}
	return Query{
		SQL:  fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qualified, strings.Join(cols, ", "), strings.Join(marks, ", ")),
		Args: args,
	}, nil
}

// QualifiedName quotes an optional schema and a table.
func QualifiedName(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

// open returns a pooled connection when a manager is configured and a
// dedicated one otherwise. release must always be called.
func (s *Strategy) open(ctx context.Context, cfg *Config) (*sql.DB, func(), error) {
	dsn, err := s.dialect.DSN(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if s.connMgr != nil {
		db, err := s.connMgr.GetOrOpen(ctx, s.dialect.DriverName(), dsn)
		if err != nil {
			return nil, nil, s.fail("open pool", err)
		}
		return db, func() {}, nil
	}

	db, err := sql.Open(s.dialect.DriverName(), dsn)
	if err != nil {
		return nil, nil, s.fail("open connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, s.fail("open connection", err)
	}
	return db, func() { _ = db.Close() }, nil
}

// fail logs the sanitized driver error and returns the caller-safe one.
func (s *Strategy) fail(op string, err error) error {
	safe := Sanitize(s.dialect, err)
	s.logger.Warn("sql connector operation failed",
		zap.String("operation", op),
		logging.SafeError(err),
		zap.String("returned", safe.Error()),
	)
	return safe
}
