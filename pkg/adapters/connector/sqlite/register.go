package sqlite

import (
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Info: connector.ConnectorInfo{
			Type:        models.ConnectorSQLite,
			DisplayName: "SQLite",
			Description: "Push submissions into a local SQLite database file",
		},
		Factory: func(deps connector.Deps) connector.Strategy {
			return sqlbase.New(Dialect{}, deps)
		},
	})
}
