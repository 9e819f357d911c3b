package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

const billColumns = `
	id, submitted_by, vendor_name, bill_number, bill_date::text,
	total_amount::text, gst_number, department, file_url, ocr_text,
	status, current_approval_level, created_at, updated_at`

// BillRepository handles bill data operations
type BillRepository struct {
	db *database.DB
}

// NewBillRepository creates a new bill repository
func NewBillRepository(db *database.DB) *BillRepository {
	return &BillRepository{db: db}
}

// Create inserts a new bill and records a bill_created audit entry.
func (r *BillRepository) Create(ctx context.Context, bill *Bill) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO bills (submitted_by, vendor_name, bill_number, bill_date,
			                   total_amount, gst_number, department, file_url, ocr_text,
			                   status, current_approval_level)
			VALUES ($1, $2, $3, $4::date, $5::numeric, $6, $7, $8, $9, $10::bill_status, $11)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			bill.SubmittedBy,
			bill.VendorName,
			bill.BillNumber,
			bill.BillDate,
			bill.TotalAmount.String(),
			bill.GSTNumber,
			bill.Department,
			bill.FileURL,
			bill.OCRText,
			bill.Status,
			bill.CurrentApprovalLevel,
		).Scan(&bill.ID, &bill.CreatedAt, &bill.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create bill")
		}

		return insertAudit(ctx, tx, &AuditEntry{
			Action:     "bill_created",
			EntityType: "bill",
			EntityID:   bill.ID,
			UserID:     &bill.SubmittedBy,
			Details: map[string]interface{}{
				"vendor_name":  bill.VendorName,
				"total_amount": bill.TotalAmount.String(),
			},
		})
	})
}

// GetByID retrieves a bill by ID
func (r *BillRepository) GetByID(ctx context.Context, id string) (*Bill, error) {
	return selectBill(ctx, r.db, id)
}

// List retrieves bills newest first, optionally filtered by status and a
// vendor / bill number search term.
func (r *BillRepository) List(ctx context.Context, filter BillFilter) ([]*Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE 1 = 1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d::bill_status", argCount)
		args = append(args, *filter.Status)
		argCount++
	}

	if s := strings.TrimSpace(filter.Search); s != "" {
		query += fmt.Sprintf(" AND (vendor_name ILIKE $%d OR bill_number ILIKE $%d)", argCount, argCount)
		args = append(args, "%"+s+"%")
		argCount++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list bills")
	}
	defer rows.Close()

	bills := make([]*Bill, 0)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan bill")
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list bills")
	}
	return bills, nil
}

// Summary returns per-status counts and the total amount across all bills.
func (r *BillRepository) Summary(ctx context.Context) (*BillSummary, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'draft'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'approved'),
		       COUNT(*) FILTER (WHERE status = 'rejected'),
		       COALESCE(SUM(total_amount), 0)::text
		FROM bills
	`

	s := &BillSummary{}
	var total string
	err := r.db.QueryRow(ctx, query).Scan(&s.Total, &s.Draft, &s.Pending, &s.Approved, &s.Rejected, &total)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to summarise bills")
	}
	if s.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse bill total")
	}
	return s, nil
}

// SetFileURL stores the uploaded bill image location.
func (r *BillRepository) SetFileURL(ctx context.Context, id, url string) error {
	query := `
		UPDATE bills
		SET file_url = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, url).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("bill", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update bill file")
	}
	return nil
}

// DeleteDraft deletes a bill that is still a draft
func (r *BillRepository) DeleteDraft(ctx context.Context, id string) error {
	query := `
		DELETE FROM bills
		WHERE id = $1 AND status = 'draft'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete bill")
	}

	if tag.RowsAffected() == 0 {
		if _, err := selectBill(ctx, r.db, id); err != nil {
			return err
		}
		return errors.New(errors.ErrCodeConflict, "cannot delete a bill that is no longer a draft")
	}

	return nil
}

// AuditTrail returns the audit entries recorded for a bill, oldest first.
func (r *BillRepository) AuditTrail(ctx context.Context, billID string) ([]*AuditEntry, error) {
	return selectAudit(ctx, r.db, "bill", billID)
}

// ── query helpers shared with the transactional store ───────────────────────

func selectBill(ctx context.Context, q database.Querier, id string) (*Bill, error) {
	bill, err := scanBill(q.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("bill", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get bill")
	}
	return bill, nil
}

func updateBillStatus(ctx context.Context, q database.Querier, t BillTransition) (bool, error) {
	query := `
		UPDATE bills
		SET status = $3::bill_status,
		    current_approval_level = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2::bill_status
	`

	tag, err := q.Exec(ctx, query, t.BillID, t.From, t.To, t.Level)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to update bill status")
	}
	return tag.RowsAffected() == 1, nil
}

type billScanner interface {
	Scan(dest ...any) error
}

func scanBill(row billScanner) (*Bill, error) {
	b := &Bill{}
	var amount, status string
	err := row.Scan(
		&b.ID,
		&b.SubmittedBy,
		&b.VendorName,
		&b.BillNumber,
		&b.BillDate,
		&amount,
		&b.GSTNumber,
		&b.Department,
		&b.FileURL,
		&b.OCRText,
		&status,
		&b.CurrentApprovalLevel,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if b.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse total_amount %q: %w", amount, err)
	}
	if b.Status, err = ParseBillStatus(status); err != nil {
		return nil, err
	}
	return b, nil
}
