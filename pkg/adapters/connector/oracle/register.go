package oracle

import (
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Info: connector.ConnectorInfo{
			Type:        models.ConnectorOracle,
			DisplayName: "Oracle Database",
			Description: "Push submissions into Oracle 12c+ tables",
		},
		Factory: func(deps connector.Deps) connector.Strategy {
			return sqlbase.New(Dialect{}, deps)
		},
	})
}
