package dhis2

import (
	"net/url"
	"strings"
	"time"

	"github.com/healthsync/connector-engine/pkg/adapters/connector"
	"github.com/healthsync/connector-engine/pkg/apperrors"
)

// Config is the decoded DHIS2 connection configuration.
type Config struct {
	BaseURL  string
	Token    string
	Username string
	Password string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// FromMap validates the loosely typed configuration of a DHIS2 connection.
// The base URL is normalized so both "https://play.dhis2.org/40" and
// "https://play.dhis2.org/40/api/" address the same instance.
func FromMap(cfg map[string]any, timeouts connector.Timeouts) (*Config, error) {
	c := &Config{
		BaseURL:        normalizeBaseURL(connector.String(cfg, "baseUrl")),
		Token:          connector.Secret(cfg, "token"),
		Username:       connector.String(cfg, "username"),
		Password:       connector.Secret(cfg, "password"),
		ConnectTimeout: connector.ConnectTimeout(cfg, timeouts.Connect),
		ReadTimeout:    timeouts.Read,
	}
	if c.Token == "" {
		c.Token = connector.Secret(cfg, "pat")
	}

	if c.BaseURL == "" {
		return nil, apperrors.BadRequest("Invalid connection configuration: baseUrl is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.BadRequest("Invalid connection configuration: baseUrl must be an http(s) URL")
	}
	if c.Token == "" && (c.Username == "" || c.Password == "") {
		return nil, apperrors.BadRequest("Invalid connection configuration: token or username and password are required")
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = connector.DefaultTimeouts.Read
	}
	return c, nil
}

func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	s = strings.TrimSuffix(s, "/api")
	return strings.TrimRight(s, "/")
}
