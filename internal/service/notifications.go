package service

import "context"

// EventType names an approval notification.
type EventType string

const (
	EventBillSubmitted        EventType = "bill_submitted"
	EventBillApprovalRequired EventType = "bill_approval_required"
	EventBillApproved         EventType = "bill_approved"
	EventBillRejected         EventType = "bill_rejected"
)

// ApprovalEvent is published after a workflow change commits.
type ApprovalEvent struct {
	Type       EventType
	BillID     string
	ActorID    string
	Recipients []string
	Level      int
	Amount     string
	VendorName string
}

// Notifier delivers approval events. Publish must not block the caller on
// delivery failures; they are the notifier's to log.
type Notifier interface {
	Publish(ctx context.Context, ev *ApprovalEvent)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, *ApprovalEvent) {}
