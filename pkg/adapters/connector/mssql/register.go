package mssql

import (
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/adapters/connector/sqlbase"
	"github.com/healthsync/connector-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Info: connector.ConnectorInfo{
			Type:        models.ConnectorMSSQL,
			DisplayName: "Microsoft SQL Server",
			Description: "Push submissions into SQL Server 2019+ or Azure SQL Database tables",
		},
		Factory: func(deps connector.Deps) connector.Strategy {
			return sqlbase.New(Dialect{}, deps)
		},
	})
}
