package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowConfiguration binds a workflow to a connection with push-time
// parameters: program/programStage/orgUnit or dataset/orgUnit for DHIS2,
// table/schema for SQL.
type WorkflowConfiguration struct {
	ID                   uuid.UUID      `json:"id"`
	WorkflowID           uuid.UUID      `json:"workflowId"`
	Type                 ConnectorType  `json:"type"`
	ExternalConnectionID *uuid.UUID     `json:"externalConnectionId,omitempty"`
	Configuration        map[string]any `json:"configuration"`
	IsActive             bool           `json:"isActive"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// Param reads a string push parameter.
func (c *WorkflowConfiguration) Param(key string) string {
	return TargetString(c.Configuration, key)
}

// HasParam reports whether the configuration carries key at all.
func (c *WorkflowConfiguration) HasParam(key string) bool {
	_, ok := c.Configuration[key]
	return ok
}
