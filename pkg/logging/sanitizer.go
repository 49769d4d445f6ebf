package logging

import (
	"regexp"

	"go.uber.org/zap"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

type redaction struct {
	pattern *regexp.Regexp
	replace string
}

// Applied in order. Credential key/value pairs go first so the URL rules
// never see a half-redacted DSN.
var redactions = []redaction{
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	{regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`), "${1}=" + RedactedText},
	// Bearer JWTs sent to the admin API
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`), "Bearer " + RedactedText},
	// DHIS2 personal access tokens and basic credentials echoed back in HTTP errors
	{regexp.MustCompile(`ApiToken\s+[A-Za-z0-9_\-]+`), "ApiToken " + RedactedText},
	{regexp.MustCompile(`Basic\s+[A-Za-z0-9+/=]{8,}`), "Basic " + RedactedText},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|key|token)=[A-Za-z0-9-_]{20,}`), "${1}=" + RedactedText},
	// user:pass@tcp(host:port) in go-sql-driver/mysql DSNs
	{regexp.MustCompile(`[^\s:/]+:[^@\s]+@tcp\(`), RedactedText + "@tcp("},
	// user:pass@host in URL style DSNs (postgres://, sqlserver://, oracle://)
	{regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`), "://" + RedactedText + "@" + RedactedText},
}

// Sanitize removes credentials from free text such as driver error messages,
// DSNs and HTTP responses.
func Sanitize(text string) string {
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.replace)
	}
	return text
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging any error coming from a connector driver or HTTP call.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// SafeError is zap.Error with credentials redacted from the message.
func SafeError(err error) zap.Field {
	return zap.String("error", SanitizeError(err))
}
