package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

const complaintColumns = `
	c.id, c.submitted_by, c.category, c.priority, c.description, c.attachment_url,
	c.status, c.resolution_remark, COALESCE(a.assigned_department, ''),
	c.created_at, c.updated_at`

const complaintFrom = `
	FROM complaints c
	LEFT JOIN complaint_assignments a ON a.complaint_id = c.id`

// ComplaintRepository handles complaints, their department assignment and
// their history timeline.
type ComplaintRepository struct {
	db *database.DB
}

// NewComplaintRepository creates a new ComplaintRepository.
func NewComplaintRepository(db *database.DB) *ComplaintRepository {
	return &ComplaintRepository{db: db}
}

// CreateComplaint inserts the complaint, its department assignment and the
// first history entry together.
func (r *ComplaintRepository) CreateComplaint(ctx context.Context, c *Complaint, first *ComplaintHistory) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO complaints (submitted_by, category, priority, description, attachment_url, status)
			VALUES ($1, $2::complaint_category, $3::complaint_priority, $4, $5, $6::complaint_status)
			RETURNING id, created_at, updated_at
		`, c.SubmittedBy, c.Category, c.Priority, c.Description, c.AttachmentURL, c.Status,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create complaint")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO complaint_assignments (complaint_id, assigned_department)
			VALUES ($1, $2)
		`, c.ID, c.AssignedDepartment)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to assign complaint")
		}

		first.ComplaintID = c.ID
		return insertComplaintHistory(ctx, tx, first)
	})
}

// GetComplaint retrieves a complaint with its assigned department.
func (r *ComplaintRepository) GetComplaint(ctx context.Context, id string) (*Complaint, error) {
	c, err := scanComplaint(r.db.QueryRow(ctx, `SELECT `+complaintColumns+complaintFrom+` WHERE c.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("complaint", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get complaint")
	}
	return c, nil
}

// ListComplaints returns complaints newest first.
func (r *ComplaintRepository) ListComplaints(ctx context.Context, filter ComplaintFilter) ([]*Complaint, error) {
	where, args := complaintWhere(filter)
	query := `SELECT ` + complaintColumns + complaintFrom + where + ` ORDER BY c.created_at DESC, c.id DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list complaints")
	}
	defer rows.Close()

	complaints := make([]*Complaint, 0)
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan complaint")
		}
		complaints = append(complaints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list complaints")
	}
	return complaints, nil
}

// TransitionComplaint moves a complaint from tr.From to tr.To and appends
// entry to its history. It returns false when the complaint was no longer in
// tr.From.
func (r *ComplaintRepository) TransitionComplaint(ctx context.Context, tr ComplaintTransition, entry *ComplaintHistory) (bool, error) {
	moved := false
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE complaints
			SET status = $3::complaint_status,
			    resolution_remark = COALESCE($4, resolution_remark),
			    updated_at = NOW()
			WHERE id = $1 AND status = $2::complaint_status
		`, tr.ComplaintID, tr.From, tr.To, tr.Resolution)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update complaint status")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		entry.ComplaintID = tr.ComplaintID
		if err := insertComplaintHistory(ctx, tx, entry); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// AddComplaintNote appends a history entry without changing the status.
func (r *ComplaintRepository) AddComplaintNote(ctx context.Context, entry *ComplaintHistory) error {
	return insertComplaintHistory(ctx, r.db, entry)
}

// ComplaintHistory returns a complaint's timeline, oldest first.
func (r *ComplaintRepository) ComplaintHistory(ctx context.Context, complaintID string) ([]*ComplaintHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, complaint_id, action, note, performed_by, created_at
		FROM complaint_history
		WHERE complaint_id = $1
		ORDER BY created_at ASC, id ASC
	`, complaintID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list complaint history")
	}
	defer rows.Close()

	entries := make([]*ComplaintHistory, 0)
	for rows.Next() {
		h := &ComplaintHistory{}
		if err := rows.Scan(&h.ID, &h.ComplaintID, &h.Action, &h.Note, &h.PerformedBy, &h.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan complaint history")
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list complaint history")
	}
	return entries, nil
}

// ComplaintSummary counts complaints by status, category and priority within
// the filter's date range.
func (r *ComplaintRepository) ComplaintSummary(ctx context.Context, filter ComplaintFilter) (*ComplaintSummary, error) {
	sum := &ComplaintSummary{ByStatus: map[string]int{}, ByCategory: map[string]int{}, ByPriority: map[string]int{}}
	where, args := complaintWhere(filter)

	for col, dst := range map[string]map[string]int{
		"status":   sum.ByStatus,
		"category": sum.ByCategory,
		"priority": sum.ByPriority,
	} {
		query := `SELECT c.` + col + `::text, COUNT(*)` + complaintFrom + where + ` GROUP BY 1`
		if err := countInto(ctx, r.db, dst, query, args...); err != nil {
			return nil, err
		}
	}
	for _, n := range sum.ByStatus {
		sum.Total += n
	}
	return sum, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func complaintWhere(filter ComplaintFilter) (string, []interface{}) {
	where := ` WHERE 1 = 1`
	args := []interface{}{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(cond, len(args))
	}
	if filter.Status != nil {
		add(" AND c.status = $%d::complaint_status", *filter.Status)
	}
	if filter.Category != nil {
		add(" AND c.category = $%d::complaint_category", *filter.Category)
	}
	if filter.SubmittedBy != "" {
		add(" AND c.submitted_by = $%d", filter.SubmittedBy)
	}
	if filter.From != nil {
		add(" AND c.created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add(" AND c.created_at <= $%d", *filter.To)
	}
	return where, args
}

func insertComplaintHistory(ctx context.Context, q database.Querier, h *ComplaintHistory) error {
	err := q.QueryRow(ctx, `
		INSERT INTO complaint_history (complaint_id, action, note, performed_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, h.ComplaintID, h.Action, h.Note, h.PerformedBy).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to store complaint history")
	}
	return nil
}

func scanComplaint(row billScanner) (*Complaint, error) {
	c := &Complaint{}
	var category, priority, status string
	err := row.Scan(
		&c.ID,
		&c.SubmittedBy,
		&category,
		&priority,
		&c.Description,
		&c.AttachmentURL,
		&status,
		&c.ResolutionRemark,
		&c.AssignedDepartment,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Category, err = ParseComplaintCategory(category); err != nil {
		return nil, err
	}
	if c.Priority, err = ParseComplaintPriority(priority); err != nil {
		return nil, err
	}
	if c.Status, err = ParseComplaintStatus(status); err != nil {
		return nil, err
	}
	return c, nil
}
