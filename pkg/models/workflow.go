package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow is the minimal view of an admin-defined data-collection form.
// Everything beyond identity is owned by the workflow module.
type Workflow struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldType is the input type of a workflow field.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldDate        FieldType = "date"
	FieldDateTime    FieldType = "datetime"
	FieldBoolean     FieldType = "boolean"
	FieldEmail       FieldType = "email"
	FieldPhone       FieldType = "phone"
	FieldURL         FieldType = "url"
	FieldTextarea    FieldType = "textarea"
	FieldSelect      FieldType = "select"
	FieldMultiselect FieldType = "multiselect"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldDate, FieldDateTime, FieldBoolean, FieldEmail,
		FieldPhone, FieldURL, FieldTextarea, FieldSelect, FieldMultiselect:
		return true
	}
	return false
}

// WorkflowField is one input of a workflow.
type WorkflowField struct {
	ID           uuid.UUID `json:"id"`
	WorkflowID   uuid.UUID `json:"workflowId"`
	FieldName    string    `json:"fieldName"`
	Label        string    `json:"label"`
	FieldType    FieldType `json:"fieldType"`
	IsRequired   bool      `json:"isRequired"`
	DisplayOrder int       `json:"displayOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
