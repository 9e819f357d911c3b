// Package memstore is an in-process implementation of every store the bill
// service depends on. It backs STORE_DRIVER=memory and the service and
// handler tests.
//
// Transactions follow the same optimistic model as the Postgres store: a
// BillTx reads committed state until its first write, at which point it takes
// the bill's writer lock and works on a private copy. Commit publishes the
// copy; rollback drops it.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// Fault points accepted by InjectFault.
const (
	FaultInsertSteps    = "insert_steps"
	FaultTransitionStep = "transition_step"
	FaultTransitionBill = "transition_bill"
	FaultAppendAudit    = "append_audit"
	FaultCommit         = "commit"
)

// Store holds bills, chains, rules, the audit log, the role directory and
// the office registers (couriers, assets, complaints).
type Store struct {
	mu        sync.RWMutex
	bills     map[string]*repository.Bill
	steps     map[string][]*repository.ApprovalStep
	rules     map[string]*repository.ApprovalRule
	audit     []*repository.AuditEntry
	directory map[repository.Role][]*repository.Identity
	billLocks map[string]*sync.Mutex
	faults    map[string]error
	now       func() time.Time

	office officeState
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		bills:     make(map[string]*repository.Bill),
		steps:     make(map[string][]*repository.ApprovalStep),
		rules:     make(map[string]*repository.ApprovalRule),
		directory: make(map[repository.Role][]*repository.Identity),
		billLocks: make(map[string]*sync.Mutex),
		faults:    make(map[string]error),
		now:       time.Now,
		office:    newOfficeState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectFault makes the next call at point fail with err. A nil err clears it.
func (s *Store) InjectFault(point string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, point)
		return
	}
	s.faults[point] = err
}

func (s *Store) takeFault(point string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.faults[point]
	if !ok {
		return nil
	}
	delete(s.faults, point)
	return errors.Wrap(err, errors.ErrCodeInternal, "injected fault at "+point)
}

func (s *Store) lockFor(billID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.billLocks[billID]
	if !ok {
		l = &sync.Mutex{}
		s.billLocks[billID] = l
	}
	return l
}

// ── bills ────────────────────────────────────────────────────────────────────

// Create stores a new bill and a bill_created audit entry.
func (s *Store) Create(_ context.Context, bill *repository.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bill.ID = uuid.NewString()
	bill.CreatedAt = now
	bill.UpdatedAt = now
	s.bills[bill.ID] = cloneBill(bill)

	submitter := bill.SubmittedBy
	s.audit = append(s.audit, &repository.AuditEntry{
		ID:         uuid.NewString(),
		Action:     "bill_created",
		EntityType: "bill",
		EntityID:   bill.ID,
		UserID:     &submitter,
		Details: map[string]interface{}{
			"vendor_name":  bill.VendorName,
			"total_amount": bill.TotalAmount.String(),
		},
		CreatedAt: now,
	})
	return nil
}

// GetByID returns a copy of the bill.
func (s *Store) GetByID(_ context.Context, id string) (*repository.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[id]
	if !ok {
		return nil, errors.NotFound("bill", id)
	}
	return cloneBill(b), nil
}

// GetBill is GetByID under the workflow store's name.
func (s *Store) GetBill(ctx context.Context, id string) (*repository.Bill, error) {
	return s.GetByID(ctx, id)
}

// List returns bills newest first.
func (s *Store) List(_ context.Context, filter repository.BillFilter) ([]*repository.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]*repository.Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if term != "" && !matchesSearch(b, term) {
			continue
		}
		out = append(out, cloneBill(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Limit > 0 {
		start := min(filter.Offset, len(out))
		end := min(start+filter.Limit, len(out))
		out = out[start:end]
	}
	return out, nil
}

func matchesSearch(b *repository.Bill, term string) bool {
	if strings.Contains(strings.ToLower(b.VendorName), term) {
		return true
	}
	return b.BillNumber != nil && strings.Contains(strings.ToLower(*b.BillNumber), term)
}

// Summary counts bills per status.
func (s *Store) Summary(_ context.Context) (*repository.BillSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &repository.BillSummary{TotalAmount: decimal.Zero}
	for _, b := range s.bills {
		sum.Total++
		sum.TotalAmount = sum.TotalAmount.Add(b.TotalAmount)
		switch b.Status {
		case repository.BillStatusDraft:
			sum.Draft++
		case repository.BillStatusPendingApproval:
			sum.Pending++
		case repository.BillStatusApproved:
			sum.Approved++
		case repository.BillStatusRejected:
			sum.Rejected++
		}
	}
	return sum, nil
}

// SetFileURL stores the uploaded file location. It waits for any open bill
// transaction so the commit cannot overwrite the new URL.
func (s *Store) SetFileURL(_ context.Context, id, url string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return errors.NotFound("bill", id)
	}
	b.FileURL = &url
	b.UpdatedAt = s.now()
	return nil
}

// DeleteDraft removes a bill that is still a draft.
func (s *Store) DeleteDraft(_ context.Context, id string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return errors.NotFound("bill", id)
	}
	if b.Status != repository.BillStatusDraft {
		return errors.New(errors.ErrCodeConflict, "cannot delete a bill that is no longer a draft")
	}
	delete(s.bills, id)
	delete(s.steps, id)
	return nil
}

// AuditTrail returns a bill's audit entries oldest first.
func (s *Store) AuditTrail(_ context.Context, billID string) ([]*repository.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.AuditEntry, 0)
	for _, e := range s.audit {
		if e.EntityType == "bill" && e.EntityID == billID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// ── steps ────────────────────────────────────────────────────────────────────

// GetSteps returns a bill's chain ordered by level.
func (s *Store) GetSteps(_ context.Context, billID string) ([]*repository.ApprovalStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSteps(s.steps[billID]), nil
}

// PendingForApprover returns pending steps on pending bills for approverID,
// oldest first.
func (s *Store) PendingForApprover(_ context.Context, approverID string) ([]*repository.ApprovalStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*repository.ApprovalStep, 0)
	for billID, chain := range s.steps {
		b, ok := s.bills[billID]
		if !ok || b.Status != repository.BillStatusPendingApproval {
			continue
		}
		for _, st := range chain {
			if st.Status == repository.StepStatusPending && st.ApproverID == approverID {
				c := *st
				out = append(out, &c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ── rules ────────────────────────────────────────────────────────────────────

// CreateRule stores an approval rule.
func (s *Store) CreateRule(_ context.Context, rule *repository.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = uuid.NewString()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.now()
	}
	c := *rule
	c.ApprovalLevels = append([]repository.Role(nil), rule.ApprovalLevels...)
	s.rules[rule.ID] = &c
	return nil
}

// PutRule stores rule as given, keeping its ID and CreatedAt. Used to seed
// fixtures with controlled ordering.
func (s *Store) PutRule(rule *repository.ApprovalRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rule
	c.ApprovalLevels = append([]repository.Role(nil), rule.ApprovalLevels...)
	s.rules[rule.ID] = &c
}

// ListRules returns all rules ordered by min amount, then creation.
func (s *Store) ListRules(_ context.Context) ([]*repository.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.ApprovalRule, 0, len(s.rules))
	for _, r := range s.rules {
		c := *r
		c.ApprovalLevels = append([]repository.Role(nil), r.ApprovalLevels...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].MinAmount.Cmp(out[j].MinAmount); cmp != 0 {
			return cmp < 0
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return errors.NotFound("approval_rule", id)
	}
	delete(s.rules, id)
	return nil
}

// ── directory ────────────────────────────────────────────────────────────────

// AssignRole adds a role holder to the directory.
func (s *Store) AssignRole(role repository.Role, id repository.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directory[role] = append(s.directory[role], &id)
}

// FindByRole returns the holder of role with the lowest user id, or nil.
func (s *Store) FindByRole(_ context.Context, role repository.Role) (*repository.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *repository.Identity
	for _, id := range s.directory[role] {
		if best == nil || id.UserID < best.UserID {
			best = id
		}
	}
	if best == nil {
		return nil, nil
	}
	c := *best
	return &c, nil
}

// RolesOf lists the roles assigned to userID in role order.
func (s *Store) RolesOf(_ context.Context, userID string) ([]repository.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]repository.Role, 0)
	for role, holders := range s.directory {
		for _, id := range holders {
			if id.UserID == userID {
				roles = append(roles, role)
				break
			}
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// CurrentIdentity returns the authenticated caller from ctx.
func (s *Store) CurrentIdentity(ctx context.Context) (*repository.Identity, error) {
	return repository.CurrentIdentityFromContext(ctx)
}

// ── cloning ──────────────────────────────────────────────────────────────────

func cloneBill(b *repository.Bill) *repository.Bill {
	c := *b
	return &c
}

func cloneSteps(steps []*repository.ApprovalStep) []*repository.ApprovalStep {
	out := make([]*repository.ApprovalStep, len(steps))
	for i, st := range steps {
		c := *st
		out[i] = &c
	}
	return out
}
