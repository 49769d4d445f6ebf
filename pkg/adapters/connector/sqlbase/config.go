package sqlbase

import (
	"strings"
	"time"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
)

// Config contains the connection options common to relational targets.
type Config struct {
	Host           string
	Port           int
	Database       string
	Username       string
	Password       string
	SSL            bool
	Schema         string
	Filename       string // SQLite only
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// FromMap creates a Config from a decrypted connection configuration and
// validates the fields the connector type requires.
func FromMap(t models.ConnectorType, cfg map[string]any, timeouts connector.Timeouts) (*Config, error) {
	c := &Config{
		Host:           connector.String(cfg, "host"),
		Database:       connector.String(cfg, "database"),
		Username:       connector.String(cfg, "username"),
		Password:       connector.Secret(cfg, "password"),
		Schema:         connector.String(cfg, "schema"),
		Filename:       connector.String(cfg, "filename"),
		ConnectTimeout: connector.ConnectTimeout(cfg, timeouts.Connect),
		ReadTimeout:    timeouts.Read,
	}
	if c.Username == "" {
		// Support "user" as used by driver-style configs
		c.Username = connector.String(cfg, "user")
	}
	if port, ok := connector.Int(cfg, "port"); ok {
		c.Port = port
	}
	if ssl, ok := connector.Bool(cfg, "ssl"); ok {
		c.SSL = ssl
	}

	if t == models.ConnectorSQLite {
		if c.Filename == "" && c.Database == "" {
			return nil, apperrors.BadRequest("filename or database is required for SQLite")
		}
		return c, nil
	}

	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port == 0 {
		missing = append(missing, "port")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Database == "" {
		missing = append(missing, "database")
	}
	if len(missing) > 0 {
		verb := "is"
		if len(missing) > 1 {
			verb = "are"
		}
		return nil, apperrors.BadRequest("Invalid connection configuration: %s %s required", strings.Join(missing, ", "), verb)
	}
	return c, nil
}

// Path returns the SQLite file path.
func (c *Config) Path() string {
	if c.Filename != "" {
		return c.Filename
	}
	return c.Database
}
