package models

import (
	"time"

	"github.com/google/uuid"
)

// FieldMapping associates one workflow field with one addressable element of
// an external schema: a DHIS2 data element or a SQL column.
type FieldMapping struct {
	ID              uuid.UUID      `json:"id"`
	WorkflowFieldID uuid.UUID      `json:"workflowFieldId"`
	WorkflowID      uuid.UUID      `json:"workflowId"`
	TargetType      ConnectorType  `json:"targetType"`
	Target          map[string]any `json:"target"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// DataElement returns target.dataElement for DHIS2 mappings.
func (m *FieldMapping) DataElement() string {
	return TargetString(m.Target, "dataElement")
}

// Column returns target.column for SQL mappings.
func (m *FieldMapping) Column() string {
	return TargetString(m.Target, "column")
}

// Table returns the optional target.table override for SQL mappings.
func (m *FieldMapping) Table() string {
	return TargetString(m.Target, "table")
}

// TargetString reads a string property of a target, "" when absent or not a string.
func TargetString(target map[string]any, key string) string {
	if target == nil {
		return ""
	}
	s, _ := target[key].(string)
	return s
}
