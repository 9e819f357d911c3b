package service

import (
	stderrors "errors"
	"fmt"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// Reasons narrow platform error codes to approval-specific failures.
const (
	ReasonInvalidAmount      = "INVALID_AMOUNT"
	ReasonNoMatchingRule     = "NO_MATCHING_RULE"
	ReasonUnresolvedRole     = "UNRESOLVED_ROLE"
	ReasonNoPendingApproval  = "NO_PENDING_APPROVAL_FOR_ACTOR"
	ReasonStaleApprovalState = repository.ReasonStaleApprovalState
	ReasonDecisionInProgress = "DECISION_IN_PROGRESS"
	ReasonPersistenceFailure = "PERSISTENCE_FAILURE"
	ReasonBillNotDraft       = "BILL_NOT_DRAFT"
	ReasonIdempotencyReused  = "IDEMPOTENCY_KEY_REUSED"
	ReasonAdminRequired      = "ADMIN_ROLE_REQUIRED"
	ReasonRoleRequired       = "ROLE_REQUIRED"
	ReasonCourierCollected   = "COURIER_ALREADY_COLLECTED"
	ReasonNotCourierOwner    = "NOT_COURIER_RECIPIENT"
	ReasonAssetUnavailable   = "ASSET_NOT_AVAILABLE"
	ReasonAssetNotIssued     = "ASSET_NOT_ISSUED"
	ReasonAssetNotDamaged    = "ASSET_NOT_DAMAGED"
	ReasonBadTransition      = "INVALID_STATUS_TRANSITION"
)

var (
	// ErrInvalidAmount is returned for a negative bill amount.
	ErrInvalidAmount = &errors.Error{
		Code: errors.ErrCodeInvalidInput, Reason: ReasonInvalidAmount,
		Field: "total_amount", Message: "amount must not be negative",
	}
	// ErrNoMatchingRule is returned when no rule covers the amount and the
	// no-rule policy is block.
	ErrNoMatchingRule = &errors.Error{
		Code: errors.ErrCodeFailedPrecondition, Reason: ReasonNoMatchingRule,
		Message: "no approval rule matches the bill amount",
	}
	// ErrUnresolvedRole matches every *UnresolvedRoleError.
	ErrUnresolvedRole = &errors.Error{
		Code: errors.ErrCodeFailedPrecondition, Reason: ReasonUnresolvedRole,
		Message: "no user holds a required approval role",
	}
	// ErrNoPendingApprovalForActor is returned when the caller has no pending
	// step on the bill.
	ErrNoPendingApprovalForActor = &errors.Error{
		Code: errors.ErrCodeForbidden, Reason: ReasonNoPendingApproval,
		Message: "no pending approval for this user on the bill",
	}
	// ErrStaleApprovalState is returned when another decision changed the
	// step or bill first.
	ErrStaleApprovalState = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonStaleApprovalState,
		Message: "approval state changed concurrently",
	}
	// ErrDecisionInProgress is returned for a retried idempotency key whose
	// first attempt has not finished.
	ErrDecisionInProgress = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonDecisionInProgress,
		Message: "a decision with this idempotency key is in progress",
	}
	// ErrBillNotDraft is returned when submitting a bill that was already submitted.
	ErrBillNotDraft = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonBillNotDraft,
		Message: "bill is not a draft",
	}
	// ErrIdempotencyKeyReused is returned when a key already recorded a
	// decision for a different bill or decision.
	ErrIdempotencyKeyReused = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonIdempotencyReused,
		Field: "idempotency_key", Message: "idempotency key was already used for a different decision",
	}
	// ErrAdminRequired is returned when a non-admin changes approval rules.
	ErrAdminRequired = &errors.Error{
		Code: errors.ErrCodeForbidden, Reason: ReasonAdminRequired,
		Message: "only administrators can manage approval rules",
	}
	// ErrRoleRequired is returned when the caller lacks the role an office
	// operation needs.
	ErrRoleRequired = &errors.Error{
		Code: errors.ErrCodeForbidden, Reason: ReasonRoleRequired,
		Message: "caller does not hold a role allowed to perform this action",
	}
	// ErrCourierCollected is returned when acknowledging a collected parcel.
	ErrCourierCollected = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonCourierCollected,
		Message: "courier was already collected",
	}
	// ErrNotCourierRecipient is returned when someone other than the assignee
	// acknowledges a parcel.
	ErrNotCourierRecipient = &errors.Error{
		Code: errors.ErrCodeForbidden, Reason: ReasonNotCourierOwner,
		Message: "only the assigned employee can acknowledge this courier",
	}
	// ErrAssetUnavailable is returned when issuing an asset that is not available.
	ErrAssetUnavailable = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonAssetUnavailable,
		Message: "asset is not available",
	}
	// ErrAssetNotIssued is returned when returning an asset that is not out.
	ErrAssetNotIssued = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonAssetNotIssued,
		Message: "asset has no open issue",
	}
	// ErrAssetNotDamaged is returned when restoring an asset that is not damaged.
	ErrAssetNotDamaged = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonAssetNotDamaged,
		Message: "asset is not marked damaged",
	}
	// ErrInvalidComplaintTransition is returned for a backward or repeated
	// complaint status change.
	ErrInvalidComplaintTransition = &errors.Error{
		Code: errors.ErrCodeConflict, Reason: ReasonBadTransition,
		Message: "complaint cannot move to the requested status",
	}
	errPersistence = &errors.Error{Code: errors.ErrCodeUnavailable, Reason: ReasonPersistenceFailure}
)

// UnresolvedRoleError names the role no directory entry could satisfy.
type UnresolvedRoleError struct {
	Role repository.Role
}

func (e *UnresolvedRoleError) Error() string {
	return fmt.Sprintf("no user holds required approval role %q", e.Role)
}

// Unwrap lets errors.Is(err, ErrUnresolvedRole) match.
func (e *UnresolvedRoleError) Unwrap() error { return ErrUnresolvedRole }

// IsPersistenceFailure reports whether err came from the store rather than
// from a business rule.
func IsPersistenceFailure(err error) bool {
	return stderrors.Is(err, errPersistence)
}

// persistenceFailure marks store errors that carry no business meaning.
// Not-found and other coded store errors pass through unchanged.
func persistenceFailure(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) != errors.ErrCodeInternal {
		return err
	}
	return &errors.Error{
		Code:    errors.ErrCodeUnavailable,
		Reason:  ReasonPersistenceFailure,
		Message: op + " failed",
		Err:     err,
	}
}
