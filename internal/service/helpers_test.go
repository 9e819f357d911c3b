package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
	"github.com/pesio-ai/be-office-bills/internal/repository/memstore"
)

const (
	employeeID  = "u-employee"
	managerID   = "u-manager"
	mdID        = "u-md"
	accountsID  = "u-accounts"
	outsiderID  = "u-outsider"
	adminID     = "u-admin"
	receptionID = "u-reception"
	itTeamID    = "u-it"
	defaultVend = "Acme Stationery"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*ApprovalEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev *ApprovalEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	store      *memstore.Store
	notifier   *recordingNotifier
	routing    *ApprovalRoutingService
	bills      *BillService
	couriers   *CourierService
	assets     *AssetService
	complaints *ComplaintService
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := baseTime
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	store := memstore.New(memstore.WithClock(now))
	store.AssignRole(repository.RoleManager, repository.Identity{UserID: managerID, FullName: "Mira Manager"})
	store.AssignRole(repository.RoleMD, repository.Identity{UserID: mdID, FullName: "Dev Director"})
	store.AssignRole(repository.RoleAccounts, repository.Identity{UserID: accountsID, FullName: "Ana Accounts"})
	store.AssignRole(repository.RoleEmployee, repository.Identity{UserID: employeeID, FullName: "Eli Employee"})
	store.AssignRole(repository.RoleAdmin, repository.Identity{UserID: adminID, FullName: "Ada Admin"})
	store.AssignRole(repository.RoleReception, repository.Identity{UserID: receptionID, FullName: "Rae Reception"})
	store.AssignRole(repository.RoleITTeam, repository.Identity{UserID: itTeamID, FullName: "Ivy IT"})

	n := &recordingNotifier{}
	opts = append([]Option{WithClock(now)}, opts...)
	routing := NewApprovalRoutingService(store, store, store, n, logger.Nop(), opts...)
	assets := NewAssetService(store, store, logger.Nop())
	assets.now = now
	return &harness{
		store:      store,
		notifier:   n,
		routing:    routing,
		bills:      NewBillService(store, store, store, nil, routing, logger.Nop()),
		couriers:   NewCourierService(store, store, logger.Nop()),
		assets:     assets,
		complaints: NewComplaintService(store, store, logger.Nop()),
	}
}

// seedStandardRules installs the two-tier rule set: up to 10000 needs the
// manager, anything from 10000 needs manager then md.
func (h *harness) seedStandardRules() {
	h.store.PutRule(rule("rule-small", "0", "10000", baseTime, repository.RoleManager))
	h.store.PutRule(rule("rule-large", "10000", "", baseTime.Add(time.Minute), repository.RoleManager, repository.RoleMD))
}

func rule(id, minAmount, maxAmount string, created time.Time, roles ...repository.Role) *repository.ApprovalRule {
	r := &repository.ApprovalRule{
		ID:             id,
		MinAmount:      decimal.RequireFromString(minAmount),
		ApprovalLevels: roles,
		CreatedAt:      created,
	}
	if maxAmount != "" {
		upper := decimal.RequireFromString(maxAmount)
		r.MaxAmount = &upper
	}
	return r
}

func (h *harness) draft(t *testing.T, amount string) *repository.Bill {
	t.Helper()
	bill, _, err := h.bills.CreateBill(context.Background(), &CreateBillRequest{
		SubmittedBy: employeeID,
		VendorName:  defaultVend,
		TotalAmount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return bill
}

func (h *harness) submitted(t *testing.T, amount string) *repository.Bill {
	t.Helper()
	bill := h.draft(t, amount)
	_, err := h.routing.Submit(context.Background(), bill.ID, employeeID)
	require.NoError(t, err)
	return bill
}

func (h *harness) decide(billID, actor string, d repository.Decision) (*DecisionResult, error) {
	return h.routing.RecordDecision(context.Background(), DecisionRequest{
		BillID:   billID,
		ActorID:  actor,
		Decision: d,
	})
}

func (h *harness) state(t *testing.T, billID string) (*repository.Bill, []*repository.ApprovalStep) {
	t.Helper()
	ctx := context.Background()
	bill, err := h.store.GetBill(ctx, billID)
	require.NoError(t, err)
	steps, err := h.store.GetSteps(ctx, billID)
	require.NoError(t, err)
	return bill, steps
}

func statuses(steps []*repository.ApprovalStep) []repository.StepStatus {
	out := make([]repository.StepStatus, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

// chainConsistent checks the single-pending invariant together with the
// level bookkeeping on the bill.
func chainConsistent(bill *repository.Bill, steps []*repository.ApprovalStep) bool {
	pending := 0
	pendingLevel := 0
	rejected := false
	for i, s := range steps {
		if s.Level != i+1 {
			return false
		}
		switch s.Status {
		case repository.StepStatusPending:
			pending++
			pendingLevel = s.Level
		case repository.StepStatusRejected:
			rejected = true
		}
	}
	if pending > 1 {
		return false
	}
	for _, s := range steps {
		if pending == 1 {
			if s.Level < pendingLevel && s.Status != repository.StepStatusApproved {
				return false
			}
			if s.Level > pendingLevel && s.Status != repository.StepStatusDraft {
				return false
			}
		}
	}
	switch bill.Status {
	case repository.BillStatusPendingApproval:
		return pending == 1 && bill.CurrentApprovalLevel == pendingLevel
	case repository.BillStatusApproved:
		if pending != 0 || rejected {
			return false
		}
		for _, s := range steps {
			if s.Status != repository.StepStatusApproved {
				return false
			}
		}
		return len(steps) == 0 || bill.CurrentApprovalLevel == len(steps)
	case repository.BillStatusRejected:
		return pending == 0 && (len(steps) == 0 || rejected)
	default:
		return pending == 0
	}
}
