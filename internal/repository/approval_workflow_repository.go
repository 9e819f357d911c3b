package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

// BillTx is the unit of work the approval engine runs against a single bill.
// Everything written through it commits or rolls back together.
type BillTx interface {
	Bill(ctx context.Context) (*Bill, error)
	Steps(ctx context.Context) ([]*ApprovalStep, error)
	InsertSteps(ctx context.Context, steps []*ApprovalStep) error
	// TransitionStep and TransitionBill are compare-and-set updates. They
	// return false when the row no longer has the expected status.
	TransitionStep(ctx context.Context, t StepTransition) (bool, error)
	TransitionBill(ctx context.Context, t BillTransition) (bool, error)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// ReasonStaleApprovalState marks a write that lost a race with another
// writer on the same bill.
const ReasonStaleApprovalState = "STALE_APPROVAL_STATE"

const sqlStateUniqueViolation = "23505"

// ApprovalWorkflowRepository is the Postgres-backed workflow store. Chain
// creation and decisions are always done in a single transaction per bill.
type ApprovalWorkflowRepository struct {
	db    *database.DB
	steps *ApprovalStepsRepository
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db *database.DB) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db, steps: NewApprovalStepsRepository(db)}
}

// GetBill retrieves a bill outside of any transaction.
func (r *ApprovalWorkflowRepository) GetBill(ctx context.Context, billID string) (*Bill, error) {
	return selectBill(ctx, r.db, billID)
}

// GetSteps returns a bill's chain ordered by level.
func (r *ApprovalWorkflowRepository) GetSteps(ctx context.Context, billID string) ([]*ApprovalStep, error) {
	return r.steps.GetByBillID(ctx, billID)
}

// PendingForApprover returns the steps currently awaiting the given user.
func (r *ApprovalWorkflowRepository) PendingForApprover(ctx context.Context, approverID string) ([]*ApprovalStep, error) {
	return r.steps.GetPendingForApprover(ctx, approverID)
}

// InBillTx runs fn inside a transaction scoped to one bill. The bill row is
// not locked up front; concurrent writers are detected by the
// compare-and-set transitions.
func (r *ApprovalWorkflowRepository) InBillTx(ctx context.Context, billID string, fn func(BillTx) error) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgBillTx{tx: tx, billID: billID})
	})
	return mapTxError(err)
}

// mapTxError turns a unique violation on the chain indexes into a stale-state
// conflict and codes anything else the store returned as internal.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return &errors.Error{
			Code:    errors.ErrCodeConflict,
			Reason:  ReasonStaleApprovalState,
			Message: "approval chain changed concurrently",
			Err:     err,
		}
	}
	var coded *errors.Error
	if !stderrors.As(err, &coded) {
		return errors.Wrap(err, errors.ErrCodeInternal, "bill transaction failed")
	}
	return err
}

// ── transaction ──────────────────────────────────────────────────────────────

type pgBillTx struct {
	tx     pgx.Tx
	billID string
}

func (t *pgBillTx) Bill(ctx context.Context) (*Bill, error) {
	return selectBill(ctx, t.tx, t.billID)
}

func (t *pgBillTx) Steps(ctx context.Context) ([]*ApprovalStep, error) {
	return selectSteps(ctx, t.tx, t.billID)
}

func (t *pgBillTx) InsertSteps(ctx context.Context, steps []*ApprovalStep) error {
	for _, s := range steps {
		s.BillID = t.billID
	}
	return insertSteps(ctx, t.tx, steps)
}

func (t *pgBillTx) TransitionStep(ctx context.Context, st StepTransition) (bool, error) {
	return transitionStep(ctx, t.tx, st)
}

func (t *pgBillTx) TransitionBill(ctx context.Context, bt BillTransition) (bool, error) {
	bt.BillID = t.billID
	return updateBillStatus(ctx, t.tx, bt)
}

func (t *pgBillTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return insertAudit(ctx, t.tx, entry)
}
