package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectorType identifies an external system family.
type ConnectorType string

const (
	ConnectorDHIS2    ConnectorType = "dhis2"
	ConnectorPostgres ConnectorType = "postgres"
	ConnectorMySQL    ConnectorType = "mysql"
	ConnectorSQLite   ConnectorType = "sqlite"
	ConnectorMSSQL    ConnectorType = "mssql"
	ConnectorOracle   ConnectorType = "oracle"
)

// Driver-flavoured names accepted from older clients.
var connectorAliases = map[string]ConnectorType{
	"postgresql": ConnectorPostgres,
	"pg":         ConnectorPostgres,
	"mysql2":     ConnectorMySQL,
	"sqlite3":    ConnectorSQLite,
	"sqlserver":  ConnectorMSSQL,
	"oracledb":   ConnectorOracle,
}

// ParseConnectorType lowercases s and resolves aliases. Unknown names are
// returned unchanged so the dispatcher can reject them explicitly.
func ParseConnectorType(s string) ConnectorType {
	name := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := connectorAliases[name]; ok {
		return alias
	}
	return ConnectorType(name)
}

// IsSQL reports whether the type belongs to the relational family.
func (t ConnectorType) IsSQL() bool {
	switch t {
	case ConnectorPostgres, ConnectorMySQL, ConnectorSQLite, ConnectorMSSQL, ConnectorOracle:
		return true
	}
	return false
}

// Known reports whether t is one of the supported connector families.
func (t ConnectorType) Known() bool {
	return t == ConnectorDHIS2 || t.IsSQL()
}

// Label is the upper-cased name used in user-facing messages.
func (t ConnectorType) Label() string {
	return strings.ToUpper(string(t))
}

// TestResult is the normalized outcome of a connectivity test.
type TestResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	LatencyMs int64     `json:"latencyMs"`
	Category  string    `json:"category,omitempty"`
	TestedAt  time.Time `json:"testedAt"`
}

// Connection is a stored, named set of parameters for one external system.
// Config is decrypted; it is encrypted at rest by the service layer.
type Connection struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Type           ConnectorType  `json:"type"`
	Config         map[string]any `json:"configuration"`
	IsActive       bool           `json:"isActive"`
	LastTestedAt   *time.Time     `json:"lastTestedAt,omitempty"`
	LastTestResult *TestResult    `json:"lastTestResult,omitempty"`
	CreatedBy      string         `json:"createdBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// MaskedSecret replaces secret configuration values in API responses.
const MaskedSecret = "********"

var secretConfigKeys = map[string]bool{
	"password": true,
	"token":    true,
	"apiToken": true,
	"pat":      true,
}

// IsSecretConfigKey reports whether a configuration key holds a credential.
func IsSecretConfigKey(key string) bool {
	return secretConfigKeys[key]
}

// MaskedConfig returns a copy of the configuration with secrets masked.
func (c *Connection) MaskedConfig() map[string]any {
	masked := make(map[string]any, len(c.Config))
	for k, v := range c.Config {
		if IsSecretConfigKey(k) {
			if s, ok := v.(string); ok && s != "" {
				masked[k] = MaskedSecret
				continue
			}
		}
		masked[k] = v
	}
	return masked
}
