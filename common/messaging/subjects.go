// Package messaging defines standard subject names for the pipeline's
// message bus.
package messaging

// Subject constants follow the pattern: pipeline.{concern}.{qualifier}.
const (
	// SubjectAuditEvents carries append-only audit events (record accepted,
	// batch closed, checkpoint written, replay requested).
	SubjectAuditEvents = "pipeline.audit.events"

	// SubjectAlertPrefix is the prefix for alert events; the severity is
	// appended (pipeline.alerts.warning, pipeline.alerts.critical).
	SubjectAlertPrefix = "pipeline.alerts"

	// SubjectDeadLetterPrefix is the prefix for dead-letter entries; the
	// failure reason is appended (pipeline.dlq.compliance_violation).
	SubjectDeadLetterPrefix = "pipeline.dlq"
)

// AlertSubject returns the subject for a given alert severity.
func AlertSubject(severity string) string {
	return SubjectAlertPrefix + "." + severity
}

// DeadLetterSubject returns the subject for a given failure reason.
func DeadLetterSubject(reason string) string {
	return SubjectDeadLetterPrefix + "." + reason
}
