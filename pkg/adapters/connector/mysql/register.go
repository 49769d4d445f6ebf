package mysql

import (
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Info: connector.ConnectorInfo{
			Type:        models.ConnectorMySQL,
			DisplayName: "MySQL",
			Description: "Push submissions into MySQL 5.7+ or MariaDB tables",
		},
		Factory: func(deps connector.Deps) connector.Strategy {
			return sqlbase.New(Dialect{}, deps)
		},
	})
}
