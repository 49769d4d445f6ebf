package connector

import (
	"context"

	"github.com/healthsync/connector-engine/pkg/models"
)

// Strategy is the uniform contract every external system implements.
// The configuration map is the decrypted connection configuration.
type Strategy interface {
	// TestConnection never returns an error. Failures are reported in the result.
	TestConnection(ctx context.Context, cfg map[string]any) models.TestResult

	// FetchSchemas lists the mappable elements addressed by the selector.
	FetchSchemas(ctx context.Context, cfg map[string]any, sel models.SchemaSelector) ([]models.SchemaElement, error)

	// PushData delivers one submission. It either fully succeeds or leaves the
	// target unchanged where the target supports transactions.
	PushData(ctx context.Context, cfg map[string]any, payload *Payload) (*PushResult, error)
}

// ProgramCatalog is implemented by connectors that expose a program catalog (DHIS2).
type ProgramCatalog interface {
	GetPrograms(ctx context.Context, cfg map[string]any, page Page) (*CatalogPage, error)
	GetDatasets(ctx context.Context, cfg map[string]any, page Page) (*CatalogPage, error)
	// GetOrgUnits lists the organisation units assigned to the program or
	// data set named by sel.
	GetOrgUnits(ctx context.Context, cfg map[string]any, sel models.SchemaSelector) ([]OrgUnit, error)
}

// Page selects a window of a paginated catalog. Page numbers start at 1.
type Page struct {
	Page     int
	PageSize int
}

// Normalize fills defaults and clamps the page size.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 50
	}
	if p.PageSize > 500 {
		p.PageSize = 500
	}
	return p
}

// CatalogItem is one program or data set.
type CatalogItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CatalogPage is one page of programs or data sets.
type CatalogPage struct {
	Items    []CatalogItem `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	Total    int           `json:"total"`
}

// OrgUnit is a DHIS2 organisation unit.
type OrgUnit struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Parent *OrgUnitRef `json:"parent,omitempty"`
}

// OrgUnitRef names a parent organisation unit.
type OrgUnitRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Payload carries the data of one submission in the shape a connector family needs.
// Exactly one of the fields is set.
type Payload struct {
	Events       []Event
	DataValueSet *DataValueSet
	Table        *TableRows
}

// DataValue pairs a DHIS2 data element with a raw submitted value.
type DataValue struct {
	DataElement string
	Value       any
}

// Event is a DHIS2 tracker event.
type Event struct {
	Program      string
	ProgramStage string
	OrgUnit      string
	OccurredAt   string
	Status       string
	DataValues   []DataValue
}

// DataValueSet is a DHIS2 aggregate submission.
type DataValueSet struct {
	DataSet      string
	OrgUnit      string
	Period       string
	CompleteDate string
	DataValues   []DataValue
}

// ColumnValue is one cell of a SQL row together with the workflow field type that produced it.
type ColumnValue struct {
	Column string
	Value  any
	Type   models.FieldType
}

// TableRows is a batch of rows for one SQL table.
type TableRows struct {
	Schema string
	Table  string
	Rows   [][]ColumnValue
}

// PushResult summarizes a successful push.
type PushResult struct {
	Accepted  int    `json:"accepted"`
	Ignored   int    `json:"ignored"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message"`
}
