package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-office-bills/internal/metrics"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

// NotificationPublisher publishes bill approval events to NATS for the
// notifications service.
//
// Subject convention: notifications.bills.<event_type>
//
// Publishing is non-fatal: errors are logged and counted, never returned,
// so a notification outage never blocks an approval.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	ActionURL    string                 `json:"action_url,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// ConnectNATS dials the NATS server with reconnect logging.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

// NewNotificationPublisher creates a publisher on conn. A nil conn yields a
// publisher that drops every event.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Publish sends ev to notifications.bills.<type>.
func (p *NotificationPublisher) Publish(_ context.Context, ev *service.ApprovalEvent) {
	if p.conn == nil || len(ev.Recipients) == 0 {
		return
	}

	data, err := json.Marshal(toNotificationEvent(ev))
	if err != nil {
		metrics.NotificationFailures.Inc()
		p.log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.bills.%s", ev.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		metrics.NotificationFailures.Inc()
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("bill_id", ev.BillID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("bill_id", ev.BillID).
		Int("recipients", len(ev.Recipients)).
		Msg("notification: event published")
}

func toNotificationEvent(ev *service.ApprovalEvent) *NotificationEvent {
	out := &NotificationEvent{
		EventType:    string(ev.Type),
		ActorID:      ev.ActorID,
		Recipients:   ev.Recipients,
		ResourceType: "bill",
		ResourceID:   ev.BillID,
		ActionURL:    "/bills/" + ev.BillID,
		Severity:     "info",
		Category:     "bill_approval",
		OccurredAt:   time.Now().UTC(),
		Payload: map[string]interface{}{
			"approval_level": ev.Level,
			"total_amount":   ev.Amount,
			"vendor_name":    ev.VendorName,
		},
	}
	switch ev.Type {
	case service.EventBillApprovalRequired:
		out.IsActionable = true
	case service.EventBillRejected:
		out.Severity = "warning"
	}
	return out
}
