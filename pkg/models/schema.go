package models

// SchemaSelector picks what to introspect: a DHIS2 program or dataSet by id,
// or a SQL table ("schema.table") / the list of tables.
type SchemaSelector struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Selector types understood by the connectors.
const (
	SelectorProgram = "program"
	SelectorDataSet = "dataSet"
	SelectorTable   = "table"
	SelectorTables  = "tables"
)

// Normalized value types shared by every connector.
const (
	ValueText     = "TEXT"
	ValueNumber   = "NUMBER"
	ValueInteger  = "INTEGER"
	ValueBoolean  = "BOOLEAN"
	ValueDate     = "DATE"
	ValueDateTime = "DATETIME"
	ValueTable    = "TABLE"
)

// SchemaElement is one addressable target of an external schema. For DHIS2 the
// ID is a data element uid; for SQL it is a column name.
type SchemaElement struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ValueType string `json:"valueType"`
}
