package mssql

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

func TestDSN(t *testing.T) {
	dsn, err := Dialect{}.DSN(&sqlbase.Config{
		Host:           "sql.internal",
		Port:           1433,
		Username:       "sa",
		Password:       "Str0ng;Pass@",
		Database:       "Health",
		ConnectTimeout: 15 * time.Second,
	})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	pass, _ := u.User.Password()
	assert.Equal(t, "Str0ng;Pass@", pass)
	assert.Equal(t, "Health", u.Query().Get("database"))
	assert.Equal(t, "disable", u.Query().Get("encrypt"))
	assert.Equal(t, "15", u.Query().Get("connection timeout"))
}

func TestClassifyError(t *testing.T) {
	d := Dialect{}
	tests := []struct {
		number int32
		want   sqlbase.ErrorClass
	}{
		{2627, sqlbase.ClassUniqueViolation},
		{2601, sqlbase.ClassUniqueViolation},
		{547, sqlbase.ClassForeignKeyViolation},
		{208, sqlbase.ClassTableMissing},
		{18456, sqlbase.ClassAuth},
		{102, sqlbase.ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.number), func(t *testing.T) {
			err := fmt.Errorf("exec: %w", mssqldb.Error{Number: tt.number, Message: "detail"})
			assert.Equal(t, tt.want, d.ClassifyError(err))
		})
	}
}

func TestStatements(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "@p2", d.Placeholder(2))
	assert.Equal(t, "[odd]]name]", d.QuoteIdent("odd]name"))
	assert.Nil(t, d.EnsureSchemaQuery(nil, "dbo"))

	q := d.EnsureSchemaQuery(nil, "reporting")
	require.NotNil(t, q)
	assert.Contains(t, q.SQL, "sys.schemas")
	assert.Equal(t, []any{"reporting"}, q.Args)
	assert.Equal(t, "BIT", d.ColumnDDL(models.FieldBoolean))
	assert.Equal(t, "NVARCHAR(MAX)", d.ColumnDDL(models.FieldText))
	assert.True(t, connector.IsRegistered(models.ConnectorMSSQL))
}
