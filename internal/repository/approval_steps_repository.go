package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

const stepColumns = `
	id, bill_id, approval_level, approver_id, required_role,
	status, comments, acted_at, created_at`

// ApprovalStepsRepository handles reads on bill_approvals.
// Step creation and status changes happen inside ApprovalWorkflowRepository
// transactions.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

// GetByBillID returns all steps for a bill ordered by approval_level.
func (r *ApprovalStepsRepository) GetByBillID(ctx context.Context, billID string) ([]*ApprovalStep, error) {
	return selectSteps(ctx, r.db, billID)
}

// GetPendingForApprover returns every pending step assigned to a user, oldest first.
func (r *ApprovalStepsRepository) GetPendingForApprover(ctx context.Context, approverID string) ([]*ApprovalStep, error) {
	query := `
		SELECT s.id, s.bill_id, s.approval_level, s.approver_id, s.required_role,
		       s.status, s.comments, s.acted_at, s.created_at
		FROM bill_approvals s
		JOIN bills b ON b.id = s.bill_id
		WHERE s.approver_id = $1
		  AND s.status = 'pending'
		  AND b.status = 'pending'
		ORDER BY s.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// ── query helpers shared with the transactional store ───────────────────────

func selectSteps(ctx context.Context, q database.Querier, billID string) ([]*ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM bill_approvals WHERE bill_id = $1 ORDER BY approval_level ASC`

	rows, err := q.Query(ctx, query, billID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

func insertSteps(ctx context.Context, q database.Querier, steps []*ApprovalStep) error {
	query := `
		INSERT INTO bill_approvals (bill_id, approval_level, approver_id, required_role, status)
		VALUES ($1, $2, $3, $4, $5::bill_status)
		RETURNING id, created_at
	`

	for _, step := range steps {
		err := q.QueryRow(ctx, query,
			step.BillID,
			step.Level,
			step.ApproverID,
			step.Role,
			step.Status,
		).Scan(&step.ID, &step.CreatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
		}
	}
	return nil
}

// transitionStep applies t only if the step still has status t.From.
// It reports false when another writer got there first.
func transitionStep(ctx context.Context, q database.Querier, t StepTransition) (bool, error) {
	query := `
		UPDATE bill_approvals
		SET status   = $3::bill_status,
		    comments = COALESCE($4, comments),
		    acted_at = COALESCE($5, acted_at)
		WHERE id = $1
		  AND status = $2::bill_status
	`

	tag, err := q.Exec(ctx, query, t.StepID, t.From, t.To, t.Comments, t.ActedAt)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval step")
	}
	return tag.RowsAffected() == 1, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanStepRows(rows pgx.Rows) ([]*ApprovalStep, error) {
	steps := make([]*ApprovalStep, 0)
	for rows.Next() {
		s := &ApprovalStep{}
		var status string
		var role *string
		err := rows.Scan(
			&s.ID,
			&s.BillID,
			&s.Level,
			&s.ApproverID,
			&role,
			&status,
			&s.Comments,
			&s.ActedAt,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		s.Status = StepStatus(status)
		if role != nil {
			s.Role = Role(*role)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}
