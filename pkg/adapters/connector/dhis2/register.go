package dhis2

import (
	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/models"
)

func init() {
	connector.Register(connector.Registration{
		Info: connector.ConnectorInfo{
			Type:        models.ConnectorDHIS2,
			DisplayName: "DHIS2",
			Description: "Push tracker events and aggregate data value sets to a DHIS2 instance",
		},
		Factory: func(deps connector.Deps) connector.Strategy {
			return New(deps)
		},
	})
}
