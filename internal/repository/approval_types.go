package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ── Enumerations ─────────────────────────────────────────────────────────────

// BillStatus is the lifecycle status of an expense bill.
type BillStatus string

const (
	BillStatusDraft           BillStatus = "draft"
	BillStatusPendingApproval BillStatus = "pending"
	BillStatusApproved        BillStatus = "approved"
	BillStatusRejected        BillStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s BillStatus) IsTerminal() bool {
	return s == BillStatusApproved || s == BillStatusRejected
}

// ParseBillStatus validates a status string.
func ParseBillStatus(s string) (BillStatus, error) {
	switch st := BillStatus(s); st {
	case BillStatusDraft, BillStatusPendingApproval, BillStatusApproved, BillStatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown bill status %q", s)
}

// StepStatus is the status of one approval step.
type StepStatus string

const (
	StepStatusDraft    StepStatus = "draft"
	StepStatusPending  StepStatus = "pending"
	StepStatusApproved StepStatus = "approved"
	StepStatusRejected StepStatus = "rejected"
)

// IsTerminal reports whether the step has been acted on.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusApproved || s == StepStatusRejected
}

// Role is an organisational role an approval level is assigned to.
type Role string

const (
	RoleReception Role = "reception"
	RoleAccounts  Role = "accounts"
	RoleManager   Role = "manager"
	RoleMD        Role = "md"
	RoleAdmin     Role = "admin"
	RoleEmployee  Role = "employee"
	RoleITTeam    Role = "it_team"
)

var knownRoles = map[Role]struct{}{
	RoleReception: {},
	RoleAccounts:  {},
	RoleManager:   {},
	RoleMD:        {},
	RoleAdmin:     {},
	RoleEmployee:  {},
	RoleITTeam:    {},
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := knownRoles[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Decision is an approver's action on a pending step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// ── Entities ─────────────────────────────────────────────────────────────────

// Bill is an expense bill subject to approval.
type Bill struct {
	ID                   string          `json:"id"`
	SubmittedBy          string          `json:"submitted_by"`
	VendorName           string          `json:"vendor_name"`
	BillNumber           *string         `json:"bill_number,omitempty"`
	BillDate             *string         `json:"bill_date,omitempty"` // YYYY-MM-DD
	TotalAmount          decimal.Decimal `json:"total_amount"`
	GSTNumber            *string         `json:"gst_number,omitempty"`
	Department           *string         `json:"department,omitempty"`
	FileURL              *string         `json:"file_url,omitempty"`
	OCRText              *string         `json:"ocr_text,omitempty"`
	Status               BillStatus      `json:"status"`
	CurrentApprovalLevel int             `json:"current_approval_level"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// BillFilter narrows bill listings.
type BillFilter struct {
	Status *BillStatus
	Search string // vendor name or bill number, case-insensitive
	Limit  int
	Offset int
}

// BillSummary backs the dashboard counters.
type BillSummary struct {
	Total       int             `json:"total"`
	Draft       int             `json:"draft"`
	Pending     int             `json:"pending"`
	Approved    int             `json:"approved"`
	Rejected    int             `json:"rejected"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// ApprovalRule maps an amount range to an ordered chain of roles.
type ApprovalRule struct {
	ID             string           `json:"id"`
	MinAmount      decimal.Decimal  `json:"min_amount"`
	MaxAmount      *decimal.Decimal `json:"max_amount,omitempty"` // nil = unbounded
	ApprovalLevels []Role           `json:"approval_levels"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Matches reports whether amount falls inside the rule's inclusive range.
func (r *ApprovalRule) Matches(amount decimal.Decimal) bool {
	if r.MinAmount.GreaterThan(amount) {
		return false
	}
	return r.MaxAmount == nil || amount.LessThanOrEqual(*r.MaxAmount)
}

// ApprovalStep is one approver's slot in a bill's chain.
type ApprovalStep struct {
	ID         string     `json:"id"`
	BillID     string     `json:"bill_id"`
	Level      int        `json:"approval_level"`
	ApproverID string     `json:"approver_id"`
	Role       Role       `json:"role,omitempty"`
	Status     StepStatus `json:"status"`
	Comments   *string    `json:"comments,omitempty"`
	ActedAt    *time.Time `json:"acted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is a directory entry for a user.
type Identity struct {
	UserID     string  `json:"user_id"`
	FullName   string  `json:"full_name"`
	Department *string `json:"department,omitempty"`
}

// AuditEntry is one immutable row in the audit log.
type AuditEntry struct {
	ID         string                 `json:"id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	UserID     *string                `json:"user_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// StepTransition is a compare-and-set on a step's status. Comments and
// ActedAt are written together with the status change.
type StepTransition struct {
	StepID   string
	From     StepStatus
	To       StepStatus
	Comments *string
	ActedAt  *time.Time
}

// BillTransition is a compare-and-set on a bill's status that also sets the
// current approval level.
type BillTransition struct {
	BillID string
	From   BillStatus
	To     BillStatus
	Level  int
}
