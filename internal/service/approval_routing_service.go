package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-office-bills/internal/metrics"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// RuleStore provides the approval rules. The engine re-reads them on every
// submission.
type RuleStore interface {
	ListRules(ctx context.Context) ([]*repository.ApprovalRule, error)
}

// Directory resolves roles to users and identifies the caller.
type Directory interface {
	// FindByRole returns one holder of role, or nil when nobody holds it.
	FindByRole(ctx context.Context, role repository.Role) (*repository.Identity, error)
	CurrentIdentity(ctx context.Context) (*repository.Identity, error)
}

// WorkflowStore is the persistence the engine needs. All writes go through
// InBillTx.
type WorkflowStore interface {
	GetBill(ctx context.Context, billID string) (*repository.Bill, error)
	GetSteps(ctx context.Context, billID string) ([]*repository.ApprovalStep, error)
	PendingForApprover(ctx context.Context, approverID string) ([]*repository.ApprovalStep, error)
	InBillTx(ctx context.Context, billID string, fn func(repository.BillTx) error) error
}

// IdempotencyStore remembers decision results by client-supplied key.
type IdempotencyStore interface {
	// Reserve claims key. When the key already exists it returns the stored
	// result, or nil if the first attempt has not completed yet.
	Reserve(ctx context.Context, key string) (stored []byte, reserved bool, err error)
	Complete(ctx context.Context, key string, result []byte) error
	Release(ctx context.Context, key string) error
}

// NoRulePolicy decides what Submit does when no rule covers the amount.
type NoRulePolicy string

const (
	NoRuleBlock       NoRulePolicy = "block"
	NoRuleAutoApprove NoRulePolicy = "auto_approve"
	NoRuleReject      NoRulePolicy = "reject"
)

// UnresolvedRolePolicy decides what BuildChain does when nobody holds a role.
type UnresolvedRolePolicy string

const (
	UnresolvedRoleFail UnresolvedRolePolicy = "fail"
	UnresolvedRoleSkip UnresolvedRolePolicy = "skip"
)

// DecisionRequest is one approver's action on a bill.
type DecisionRequest struct {
	BillID         string
	ActorID        string
	Decision       repository.Decision
	Comment        string
	IdempotencyKey string
}

// DecisionResult describes the state after a decision.
type DecisionResult struct {
	BillID               string                `json:"bill_id"`
	StepID               string                `json:"step_id"`
	Decision             repository.Decision   `json:"decision"`
	BillStatus           repository.BillStatus `json:"bill_status"`
	CurrentApprovalLevel int                   `json:"current_approval_level"`
	NextApproverID       *string               `json:"next_approver_id,omitempty"`
	Replayed             bool                  `json:"replayed,omitempty"`
}

// SubmitResult is the bill and its chain after submission.
type SubmitResult struct {
	Bill  *repository.Bill          `json:"bill"`
	Steps []*repository.ApprovalStep `json:"steps"`
}

// ApprovalRoutingService builds approval chains and applies decisions.
type ApprovalRoutingService struct {
	rules     RuleStore
	store     WorkflowStore
	directory Directory
	notifier  Notifier
	idem      IdempotencyStore
	log       *logger.Logger

	noRule         NoRulePolicy
	unresolvedRole UnresolvedRolePolicy
	now            func() time.Time
}

// Option configures an ApprovalRoutingService.
type Option func(*ApprovalRoutingService)

// WithNoRulePolicy sets the no-matching-rule behaviour. Default: block.
func WithNoRulePolicy(p NoRulePolicy) Option {
	return func(s *ApprovalRoutingService) { s.noRule = p }
}

// WithUnresolvedRolePolicy sets the unresolved-role behaviour. Default: fail.
func WithUnresolvedRolePolicy(p UnresolvedRolePolicy) Option {
	return func(s *ApprovalRoutingService) { s.unresolvedRole = p }
}

// WithIdempotencyStore enables decision replay protection.
func WithIdempotencyStore(st IdempotencyStore) Option {
	return func(s *ApprovalRoutingService) { s.idem = st }
}

// WithClock overrides time.Now for acted_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *ApprovalRoutingService) { s.now = now }
}

// NewApprovalRoutingService creates a new ApprovalRoutingService. A nil
// notifier disables notifications.
func NewApprovalRoutingService(
	rules RuleStore,
	store WorkflowStore,
	directory Directory,
	notifier Notifier,
	log *logger.Logger,
	opts ...Option,
) *ApprovalRoutingService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &ApprovalRoutingService{
		rules:          rules,
		store:          store,
		directory:      directory,
		notifier:       notifier,
		log:            log,
		noRule:         NoRuleBlock,
		unresolvedRole: UnresolvedRoleFail,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseNoRulePolicy validates a configured policy name.
func ParseNoRulePolicy(s string) (NoRulePolicy, error) {
	switch p := NoRulePolicy(s); p {
	case NoRuleBlock, NoRuleAutoApprove, NoRuleReject:
		return p, nil
	}
	return "", fmt.Errorf("unknown no-rule policy %q", s)
}

// ParseUnresolvedRolePolicy validates a configured policy name.
func ParseUnresolvedRolePolicy(s string) (UnresolvedRolePolicy, error) {
	switch p := UnresolvedRolePolicy(s); p {
	case UnresolvedRoleFail, UnresolvedRoleSkip:
		return p, nil
	}
	return "", fmt.Errorf("unknown unresolved-role policy %q", s)
}

// ── Rule matching ─────────────────────────────────────────────────────────────

// SelectRule returns the rule governing amount, or nil when none covers it.
func (s *ApprovalRoutingService) SelectRule(ctx context.Context, amount decimal.Decimal) (*repository.ApprovalRule, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, persistenceFailure(err, "list approval rules")
	}
	return selectRule(rules, amount), nil
}

// selectRule picks the most specific covering rule: the largest MinAmount,
// then the earliest CreatedAt, then the lowest ID. The result does not depend
// on the order of rules.
func selectRule(rules []*repository.ApprovalRule, amount decimal.Decimal) *repository.ApprovalRule {
	var best *repository.ApprovalRule
	for _, r := range rules {
		if !r.Matches(amount) {
			continue
		}
		if best == nil || moreSpecific(r, best) {
			best = r
		}
	}
	return best
}

func moreSpecific(a, b *repository.ApprovalRule) bool {
	if c := a.MinAmount.Cmp(b.MinAmount); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// ── Chain construction ────────────────────────────────────────────────────────

// BuildChain resolves each role to an approver and returns the unsaved steps,
// the first pending and the rest draft. Levels are contiguous from 1.
func (s *ApprovalRoutingService) BuildChain(ctx context.Context, billID string, roles []repository.Role) ([]*repository.ApprovalStep, error) {
	steps := make([]*repository.ApprovalStep, 0, len(roles))
	var firstUnresolved repository.Role

	for _, role := range roles {
		id, err := s.directory.FindByRole(ctx, role)
		if err != nil {
			return nil, persistenceFailure(err, "resolve approval role")
		}
		if id == nil {
			if s.unresolvedRole != UnresolvedRoleSkip {
				return nil, &UnresolvedRoleError{Role: role}
			}
			if firstUnresolved == "" {
				firstUnresolved = role
			}
			s.log.Warn().
				Str("bill_id", billID).
				Str("role", string(role)).
				Msg("No user holds approval role; skipping level")
			continue
		}

		status := repository.StepStatusDraft
		if len(steps) == 0 {
			status = repository.StepStatusPending
		}
		steps = append(steps, &repository.ApprovalStep{
			BillID:     billID,
			Level:      len(steps) + 1,
			ApproverID: id.UserID,
			Role:       role,
			Status:     status,
		})
	}

	if len(steps) == 0 && firstUnresolved != "" {
		return nil, &UnresolvedRoleError{Role: firstUnresolved}
	}
	return steps, nil
}

// ── Submission ────────────────────────────────────────────────────────────────

// Submit moves a draft bill into approval. The bill, its chain and the audit
// entry are written in one transaction.
func (s *ApprovalRoutingService) Submit(ctx context.Context, billID, actorID string) (res *SubmitResult, err error) {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.BillSubmissions.WithLabelValues("failed").Inc()
		}
	}()

	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, persistenceFailure(err, "get bill")
	}
	if bill.Status != repository.BillStatusDraft {
		return nil, ErrBillNotDraft
	}
	if bill.SubmittedBy != actorID {
		return nil, errors.New(errors.ErrCodeForbidden, "only the bill owner can submit it")
	}

	rule, err := s.SelectRule(ctx, bill.TotalAmount)
	if err != nil {
		return nil, err
	}

	var chain []*repository.ApprovalStep
	if rule != nil {
		if chain, err = s.BuildChain(ctx, bill.ID, rule.ApprovalLevels); err != nil {
			return nil, err
		}
	}
	if len(chain) == 0 {
		return s.submitWithoutChain(ctx, bill, actorID)
	}

	err = s.store.InBillTx(ctx, bill.ID, func(tx repository.BillTx) error {
		ok, err := tx.TransitionBill(ctx, repository.BillTransition{
			From:  repository.BillStatusDraft,
			To:    repository.BillStatusPendingApproval,
			Level: 1,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrStaleApprovalState
		}
		if err := tx.InsertSteps(ctx, chain); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			Action:     "bill_submitted",
			EntityType: "bill",
			EntityID:   bill.ID,
			UserID:     &actorID,
			Details: map[string]interface{}{
				"rule_id":     rule.ID,
				"levels":      len(chain),
				"first_level": chain[0].ApproverID,
			},
		})
	})
	if err != nil {
		return nil, persistenceFailure(err, "submit bill")
	}

	bill.Status = repository.BillStatusPendingApproval
	bill.CurrentApprovalLevel = 1
	metrics.BillSubmissions.WithLabelValues("pending").Inc()

	s.log.Info().
		Str("bill_id", bill.ID).
		Str("rule_id", rule.ID).
		Int("levels", len(chain)).
		Msg("Bill submitted for approval")

	s.notify(ctx, &ApprovalEvent{
		Type: EventBillSubmitted, BillID: bill.ID, ActorID: actorID,
		Recipients: []string{bill.SubmittedBy}, Level: 1,
		Amount: bill.TotalAmount.String(), VendorName: bill.VendorName,
	})
	s.notify(ctx, &ApprovalEvent{
		Type: EventBillApprovalRequired, BillID: bill.ID, ActorID: actorID,
		Recipients: []string{chain[0].ApproverID}, Level: 1,
		Amount: bill.TotalAmount.String(), VendorName: bill.VendorName,
	})

	return &SubmitResult{Bill: bill, Steps: chain}, nil
}

// submitWithoutChain applies the no-rule policy.
func (s *ApprovalRoutingService) submitWithoutChain(ctx context.Context, bill *repository.Bill, actorID string) (*SubmitResult, error) {
	var to repository.BillStatus
	var action string
	var event EventType
	switch s.noRule {
	case NoRuleAutoApprove:
		to, action, event = repository.BillStatusApproved, "bill_auto_approved", EventBillApproved
	case NoRuleReject:
		to, action, event = repository.BillStatusRejected, "bill_auto_rejected", EventBillRejected
	default:
		return nil, ErrNoMatchingRule
	}

	err := s.store.InBillTx(ctx, bill.ID, func(tx repository.BillTx) error {
		ok, err := tx.TransitionBill(ctx, repository.BillTransition{
			From: repository.BillStatusDraft,
			To:   to,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrStaleApprovalState
		}
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			Action:     action,
			EntityType: "bill",
			EntityID:   bill.ID,
			UserID:     &actorID,
			Details: map[string]interface{}{
				"policy":       string(s.noRule),
				"total_amount": bill.TotalAmount.String(),
			},
		})
	})
	if err != nil {
		return nil, persistenceFailure(err, "submit bill")
	}

	bill.Status = to
	bill.CurrentApprovalLevel = 0
	metrics.BillSubmissions.WithLabelValues(action[len("bill_"):]).Inc()

	s.log.Info().
		Str("bill_id", bill.ID).
		Str("policy", string(s.noRule)).
		Str("status", string(to)).
		Msg("No approval rule matched; applied policy")

	s.notify(ctx, &ApprovalEvent{
		Type: event, BillID: bill.ID, ActorID: actorID,
		Recipients: []string{bill.SubmittedBy},
		Amount:     bill.TotalAmount.String(), VendorName: bill.VendorName,
	})
	return &SubmitResult{Bill: bill, Steps: []*repository.ApprovalStep{}}, nil
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// RecordDecision applies an approve or reject from req.ActorID to the
// actor's pending step on the bill. The step update, the next-step
// activation, the bill update and the audit entry commit together.
func (s *ApprovalRoutingService) RecordDecision(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	if _, err := repository.ParseDecision(string(req.Decision)); err != nil {
		return nil, errors.InvalidInput("decision", "decision must be approve or reject")
	}
	if req.IdempotencyKey == "" || s.idem == nil {
		return s.applyDecision(ctx, req)
	}

	key := "decision:" + req.ActorID + ":" + req.BillID + ":" + req.IdempotencyKey
	fingerprint := req.BillID + ":" + string(req.Decision)
	stored, reserved, err := s.idem.Reserve(ctx, key)
	if err != nil {
		return nil, persistenceFailure(err, "reserve idempotency key")
	}
	if !reserved {
		if stored == nil {
			return nil, ErrDecisionInProgress
		}
		var prev decisionRecord
		if err := json.Unmarshal(stored, &prev); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "corrupt idempotency record")
		}
		if prev.Result == nil {
			return nil, errors.New(errors.ErrCodeInternal, "corrupt idempotency record")
		}
		if prev.Fingerprint != fingerprint {
			return nil, ErrIdempotencyKeyReused
		}
		prev.Result.Replayed = true
		return prev.Result, nil
	}

	result, err := s.applyDecision(ctx, req)
	if err != nil {
		s.releaseKey(ctx, key)
		return nil, err
	}

	data, err := json.Marshal(decisionRecord{Fingerprint: fingerprint, Result: result})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to encode decision result for idempotency key")
		s.releaseKey(ctx, key)
		return result, nil
	}
	if err := s.idem.Complete(context.WithoutCancel(ctx), key, data); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to store decision result for idempotency key")
		s.releaseKey(ctx, key)
	}
	return result, nil
}

// decisionRecord is what an idempotency key stores once its decision commits.
type decisionRecord struct {
	Fingerprint string          `json:"fingerprint"`
	Result      *DecisionResult `json:"result"`
}

// releaseKey drops an in-flight marker so retries are not stuck until the TTL.
func (s *ApprovalRoutingService) releaseKey(ctx context.Context, key string) {
	if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to release idempotency key")
	}
}

func (s *ApprovalRoutingService) applyDecision(ctx context.Context, req DecisionRequest) (result *DecisionResult, err error) {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues("decision").Observe(time.Since(start).Seconds())
		metrics.ApprovalDecisions.WithLabelValues(string(req.Decision), decisionOutcome(result, err)).Inc()
	}()

	var comment *string
	if req.Comment != "" {
		c := req.Comment
		comment = &c
	}

	var bill *repository.Bill
	var next *repository.ApprovalStep

	err = s.store.InBillTx(ctx, req.BillID, func(tx repository.BillTx) error {
		var err error
		if bill, err = tx.Bill(ctx); err != nil {
			return err
		}
		steps, err := tx.Steps(ctx)
		if err != nil {
			return err
		}

		step := pendingStepFor(steps, req.ActorID)
		if step == nil || bill.Status != repository.BillStatusPendingApproval {
			return ErrNoPendingApprovalForActor
		}

		actedAt := s.now().UTC()
		to := repository.StepStatusApproved
		if req.Decision == repository.DecisionReject {
			to = repository.StepStatusRejected
		}
		ok, err := tx.TransitionStep(ctx, repository.StepTransition{
			StepID:   step.ID,
			From:     repository.StepStatusPending,
			To:       to,
			Comments: comment,
			ActedAt:  &actedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrStaleApprovalState
		}

		result = &DecisionResult{
			BillID:   bill.ID,
			StepID:   step.ID,
			Decision: req.Decision,
		}
		bt := repository.BillTransition{From: repository.BillStatusPendingApproval, Level: step.Level}
		audit := &repository.AuditEntry{
			EntityType: "bill",
			EntityID:   bill.ID,
			UserID:     &req.ActorID,
			Details: map[string]interface{}{
				"approval_level": step.Level,
				"step_id":        step.ID,
			},
		}
		if comment != nil {
			audit.Details["comments"] = *comment
		}

		switch {
		case req.Decision == repository.DecisionReject:
			bt.To = repository.BillStatusRejected
			audit.Action = "bill_rejected"
		default:
			next = stepAtLevel(steps, step.Level+1)
			if next == nil {
				bt.To = repository.BillStatusApproved
				audit.Action = "bill_approved"
				break
			}
			ok, err := tx.TransitionStep(ctx, repository.StepTransition{
				StepID: next.ID,
				From:   repository.StepStatusDraft,
				To:     repository.StepStatusPending,
			})
			if err != nil {
				return err
			}
			if !ok {
				return ErrStaleApprovalState
			}
			bt.To = repository.BillStatusPendingApproval
			bt.Level = next.Level
			audit.Action = "approval_step_approved"
			audit.Details["next_approver_id"] = next.ApproverID
		}

		if ok, err := tx.TransitionBill(ctx, bt); err != nil {
			return err
		} else if !ok {
			return ErrStaleApprovalState
		}

		result.BillStatus = bt.To
		result.CurrentApprovalLevel = bt.Level
		if next != nil {
			result.NextApproverID = &next.ApproverID
		}
		return tx.AppendAudit(ctx, audit)
	})
	if err != nil {
		return nil, persistenceFailure(err, "record decision")
	}

	s.log.Info().
		Str("bill_id", result.BillID).
		Str("actor_id", req.ActorID).
		Str("decision", string(req.Decision)).
		Str("bill_status", string(result.BillStatus)).
		Int("level", result.CurrentApprovalLevel).
		Msg("Approval decision recorded")

	s.notifyDecision(ctx, bill, req.ActorID, result)
	return result, nil
}

func (s *ApprovalRoutingService) notifyDecision(ctx context.Context, bill *repository.Bill, actorID string, r *DecisionResult) {
	ev := &ApprovalEvent{
		BillID: bill.ID, ActorID: actorID, Level: r.CurrentApprovalLevel,
		Amount: bill.TotalAmount.String(), VendorName: bill.VendorName,
	}
	switch r.BillStatus {
	case repository.BillStatusRejected:
		ev.Type = EventBillRejected
		ev.Recipients = []string{bill.SubmittedBy}
	case repository.BillStatusApproved:
		ev.Type = EventBillApproved
		ev.Recipients = []string{bill.SubmittedBy}
	default:
		ev.Type = EventBillApprovalRequired
		ev.Recipients = []string{*r.NextApproverID}
	}
	s.notify(ctx, ev)
}

func decisionOutcome(r *DecisionResult, err error) string {
	switch {
	case err == nil && r != nil:
		if r.BillStatus == repository.BillStatusPendingApproval {
			return "advanced"
		}
		return string(r.BillStatus)
	case errors.ReasonOf(err) == ReasonStaleApprovalState:
		return "stale"
	case errors.ReasonOf(err) == ReasonNoPendingApproval:
		return "forbidden"
	default:
		return "error"
	}
}

func pendingStepFor(steps []*repository.ApprovalStep, actorID string) *repository.ApprovalStep {
	for _, st := range steps {
		if st.Status == repository.StepStatusPending && st.ApproverID == actorID {
			return st
		}
	}
	return nil
}

func stepAtLevel(steps []*repository.ApprovalStep, level int) *repository.ApprovalStep {
	for _, st := range steps {
		if st.Level == level {
			return st
		}
	}
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetChain returns the bill's steps ordered by level.
func (s *ApprovalRoutingService) GetChain(ctx context.Context, billID string) ([]*repository.ApprovalStep, error) {
	if _, err := s.store.GetBill(ctx, billID); err != nil {
		return nil, persistenceFailure(err, "get bill")
	}
	steps, err := s.store.GetSteps(ctx, billID)
	if err != nil {
		return nil, persistenceFailure(err, "get approval chain")
	}
	return steps, nil
}

// CanAct reports whether userID is the approver of the bill's pending step.
func (s *ApprovalRoutingService) CanAct(ctx context.Context, userID, billID string) (bool, error) {
	steps, err := s.GetChain(ctx, billID)
	if err != nil {
		return false, err
	}
	return pendingStepFor(steps, userID) != nil, nil
}

// PendingForApprover returns the steps awaiting userID across all bills.
func (s *ApprovalRoutingService) PendingForApprover(ctx context.Context, userID string) ([]*repository.ApprovalStep, error) {
	steps, err := s.store.PendingForApprover(ctx, userID)
	if err != nil {
		return nil, persistenceFailure(err, "list pending approvals")
	}
	return steps, nil
}

// CurrentIdentity returns the authenticated caller.
func (s *ApprovalRoutingService) CurrentIdentity(ctx context.Context) (*repository.Identity, error) {
	return s.directory.CurrentIdentity(ctx)
}

func (s *ApprovalRoutingService) notify(ctx context.Context, ev *ApprovalEvent) {
	s.notifier.Publish(context.WithoutCancel(ctx), ev)
}
