package postgres

import (
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Info: connector.ConnectorInfo{
			Type:        models.ConnectorPostgres,
			DisplayName: "PostgreSQL",
			Description: "Push submissions into PostgreSQL 12+ tables",
		},
		Factory: func(deps connector.Deps) connector.Strategy {
			return sqlbase.New(Dialect{}, deps)
		},
	})
}
