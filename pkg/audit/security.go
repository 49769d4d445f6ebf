// Package audit provides security audit logging for SIEM consumption.
// Events are written through a dedicated "security_audit" logger as
// structured fields plus a JSON copy of the whole event.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection fingerprints a
	// submitted identifier as SQL injection.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventUnsafeIdentifier is logged when a table or column name is rejected
	// by the identifier screen without an injection fingerprint.
	EventUnsafeIdentifier SecurityEventType = "unsafe_identifier"
	// EventAccessDenied is logged when the admin API refuses a request.
	EventAccessDenied SecurityEventType = "access_denied"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent is the JSON document emitted for every audited event.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"`
}

// IdentifierDetails describes a rejected table or column name in a field
// mapping target.
type IdentifierDetails struct {
	ItemIndex   int    `json:"item_index"`
	TargetType  string `json:"target_type"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// AccessDetails describes a refused admin API request.
type AccessDetails struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor writing to the "security_audit"
// logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogIdentifierRejected records an identifier refused by mapping validation.
// Names carrying an injection fingerprint are logged at ERROR with critical
// severity; plain rejections are warnings.
func (a *SecurityAuditor) LogIdentifierRejected(workflowID uuid.UUID, subject string, details IdentifierDetails) {
	eventType, severity := EventUnsafeIdentifier, SeverityWarning
	if details.Fingerprint != "" {
		eventType, severity = EventSQLInjectionAttempt, SeverityCritical
	}

	event := SecurityEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		WorkflowID: workflowID.String(),
		Subject:    subject,
		Details:    details,
		Severity:   severity,
	}

	fields := []zap.Field{
		zap.String("event_json", marshalEvent(event)),
		zap.String("workflow_id", event.WorkflowID),
		zap.String("subject", subject),
		zap.Int("item_index", details.ItemIndex),
		zap.String("kind", details.Kind),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", severity),
	}
	if severity == SeverityCritical {
		a.logger.Error("SQL injection attempt detected", fields...)
		return
	}
	a.logger.Warn("Unsafe identifier rejected", fields...)
}

// LogAccessDenied records a refused admin API request. Missing or invalid
// credentials are warnings; a valid token lacking the admin role is info.
func (a *SecurityAuditor) LogAccessDenied(subject, clientIP string, details AccessDetails, severity string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventAccessDenied,
		Subject:   subject,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}

	fields := []zap.Field{
		zap.String("event_json", marshalEvent(event)),
		zap.String("subject", subject),
		zap.String("client_ip", clientIP),
		zap.String("path", details.Path),
		zap.String("reason", details.Reason),
		zap.String("severity", severity),
	}
	if severity == SeverityInfo {
		a.logger.Info("Admin access denied", fields...)
		return
	}
	a.logger.Warn("Admin access denied", fields...)
}

func marshalEvent(event SecurityEvent) string {
	// Marshaling these plain structs cannot fail.
	b, _ := json.Marshal(event)
	return string(b)
}
