// Package notifier publishes pipeline alerts and audit events to NATS.
//
// Publishing is best effort: the pipeline never blocks or fails because
// the bus is down. Failed publishes are logged and counted.
package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/common/messaging"
	natsclient "github.com/veildata-systems/veilpipe/common/messaging/nats"
	"github.com/veildata-systems/veilpipe/internal/metrics"
)

// Severity levels for alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AlertEvent is the wire format for alert notifications.
type AlertEvent struct {
	ID        string                 `json:"id"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AuditEvent is the wire format for audit trail entries.
type AuditEvent struct {
	ID        string                 `json:"id"`
	Action    string                 `json:"action"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier publishes alerts and audit events. A nil client turns every
// publish into a log line, which keeps single-binary deployments working
// without a NATS server.
type Notifier struct {
	client *natsclient.Client
	log    *logging.Logger
}

// New creates a Notifier. If natsURL is empty or enabled is false, the
// notifier runs in log-only mode.
func New(enabled bool, natsURL string, log *logging.Logger) (*Notifier, error) {
	if log == nil {
		log = logging.Default()
	}
	if !enabled || natsURL == "" {
		return &Notifier{log: log}, nil
	}

	client, err := natsclient.NewClient(natsclient.DefaultConfig(natsURL))
	if err != nil {
		return nil, err
	}
	return &Notifier{client: client, log: log}, nil
}

// Alert publishes an alert event. Satisfies the router's Alerter contract.
func (n *Notifier) Alert(ctx context.Context, severity, message string, fields map[string]interface{}) {
	metrics.AlertsEmitted.WithLabelValues(severity).Inc()

	event := AlertEvent{
		ID:        uuid.New().String(),
		Severity:  severity,
		Message:   message,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}

	logAttrs := []any{"severity", severity, "message", message}
	for k, v := range fields {
		logAttrs = append(logAttrs, k, v)
	}

	switch severity {
	case SeverityCritical:
		n.log.Error("pipeline alert", logAttrs...)
	case SeverityWarning:
		n.log.Warn("pipeline alert", logAttrs...)
	default:
		n.log.Info("pipeline alert", logAttrs...)
	}

	if n.client == nil {
		return
	}
	if err := n.client.PublishJSON(ctx, messaging.AlertSubject(severity), event); err != nil {
		metrics.NotifierFailures.Inc()
		n.log.Warn("alert publish failed", logging.Error(err))
	}
}

// Audit publishes an audit trail event.
func (n *Notifier) Audit(ctx context.Context, action string, fields map[string]interface{}) {
	if n.client == nil {
		return
	}

	event := AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
	if err := n.client.PublishJSON(ctx, messaging.SubjectAuditEvents, event); err != nil {
		metrics.NotifierFailures.Inc()
		n.log.Warn("audit publish failed", logging.Error(err))
	}
}

// Close drains the NATS connection if one is open.
func (n *Notifier) Close() error {
	if n.client == nil {
		return nil
	}
	return n.client.Drain()
}
