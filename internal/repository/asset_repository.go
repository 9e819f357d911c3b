package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

const assetColumns = `
	id, asset_code, name, asset_type, serial_number, department, image_url,
	status, created_by, created_at, updated_at`

const assetTxColumns = `
	id, asset_id, issued_to, issued_by, issue_date, due_date::text,
	signature_data, status, return_date, return_condition, created_at`

// AssetRepository handles assets, their issue transactions and damage reports.
type AssetRepository struct {
	db *database.DB
}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(db *database.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// CreateAsset registers an asset. Asset codes are unique.
func (r *AssetRepository) CreateAsset(ctx context.Context, a *Asset) error {
	query := `
		INSERT INTO assets (asset_code, name, asset_type, serial_number, department, image_url, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7::asset_status, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		a.AssetCode,
		a.Name,
		a.AssetType,
		a.SerialNumber,
		a.Department,
		a.ImageURL,
		a.Status,
		a.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "asset code already exists: "+a.AssetCode)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create asset")
	}
	return nil
}

// GetAsset retrieves an asset by ID.
func (r *AssetRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("asset", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get asset")
	}
	return a, nil
}

// ListAssets returns assets newest first.
func (r *AssetRepository) ListAssets(ctx context.Context, filter AssetFilter) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE 1 = 1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d::asset_status", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		query += fmt.Sprintf(" AND (name ILIKE $%d OR asset_code ILIKE $%d)", argCount, argCount)
		args = append(args, "%"+s+"%")
		argCount++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assets")
	}
	defer rows.Close()

	assets := make([]*Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan asset")
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list assets")
	}
	return assets, nil
}

// IssueAsset hands an available asset to an employee. It returns false when
// the asset was not available.
func (r *AssetRepository) IssueAsset(ctx context.Context, t *AssetTransaction) (bool, error) {
	issued := false
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		ok, err := setAssetStatus(ctx, tx, t.AssetID, AssetStatusIssued, AssetStatusAvailable)
		if err != nil || !ok {
			return err
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO asset_transactions (asset_id, issued_to, issued_by, issue_date, due_date, signature_data, status)
			VALUES ($1, $2, $3, $4, $5::date, $6, $7::asset_status)
			RETURNING id, created_at
		`, t.AssetID, t.IssuedTo, t.IssuedBy, t.IssueDate, t.DueDate, t.SignatureData, t.Status,
		).Scan(&t.ID, &t.CreatedAt)
		if isUniqueViolation(err) {
			return errors.New(errors.ErrCodeConflict, "asset already has an open issue")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create asset transaction")
		}
		issued = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return issued, nil
}

// ReturnAsset closes the asset's open transaction, moves the asset to
// ret.AssetStatus and stores ret.Damage when set. It returns nil when the
// asset had no open transaction.
func (r *AssetRepository) ReturnAsset(ctx context.Context, ret *AssetReturn) (*AssetTransaction, error) {
	var closed *AssetTransaction
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		t, err := scanAssetTx(tx.QueryRow(ctx, `
			UPDATE asset_transactions
			SET status = 'returned', return_date = $2, return_condition = $3
			WHERE asset_id = $1 AND status IN ('issued', 'overdue')
			RETURNING `+assetTxColumns,
			ret.AssetID, ret.ReturnedAt, ret.Condition))
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to close asset transaction")
		}

		_, err = tx.Exec(ctx, `
			UPDATE assets SET status = $2::asset_status, updated_at = NOW()
			WHERE id = $1
		`, ret.AssetID, ret.AssetStatus)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update asset status")
		}

		if d := ret.Damage; d != nil {
			d.AssetID = ret.AssetID
			d.TransactionID = &t.ID
			if err := insertDamage(ctx, tx, d); err != nil {
				return err
			}
		}
		closed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// RestoreAsset moves a damaged asset back to available. It returns false when
// the asset was not damaged.
func (r *AssetRepository) RestoreAsset(ctx context.Context, id string) (bool, error) {
	return setAssetStatus(ctx, r.db, id, AssetStatusAvailable, AssetStatusDamaged)
}

// MarkOverdue flags open transactions whose due date is before asOf, and
// their assets. It returns the number of transactions flagged.
func (r *AssetRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	n := 0
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE asset_transactions SET status = 'overdue'
			WHERE status = 'issued' AND due_date < $1::date
			RETURNING asset_id
		`, asOf.Format("2006-01-02"))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to flag overdue transactions")
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan overdue asset")
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to flag overdue transactions")
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE assets SET status = 'overdue', updated_at = NOW()
			WHERE id = ANY($1::uuid[]) AND status = 'issued'
		`, ids)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to flag overdue assets")
		}
		n = len(ids)
		return nil
	})
	return n, err
}

// AssetHistory returns an asset's transactions and damage reports, newest
// first.
func (r *AssetRepository) AssetHistory(ctx context.Context, assetID string) ([]*AssetTransaction, []*DamageReport, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+assetTxColumns+` FROM asset_transactions
		WHERE asset_id = $1 ORDER BY created_at DESC, id DESC
	`, assetID)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list asset transactions")
	}
	txs := make([]*AssetTransaction, 0)
	for rows.Next() {
		t, err := scanAssetTx(rows)
		if err != nil {
			rows.Close()
			return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan asset transaction")
		}
		txs = append(txs, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list asset transactions")
	}

	rows, err = r.db.Query(ctx, `
		SELECT id, asset_id, transaction_id, reported_by, description, image_url, created_at
		FROM damage_reports WHERE asset_id = $1 ORDER BY created_at DESC, id DESC
	`, assetID)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list damage reports")
	}
	defer rows.Close()
	damages := make([]*DamageReport, 0)
	for rows.Next() {
		d := &DamageReport{}
		if err := rows.Scan(&d.ID, &d.AssetID, &d.TransactionID, &d.ReportedBy, &d.Description, &d.ImageURL, &d.CreatedAt); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan damage report")
		}
		damages = append(damages, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list damage reports")
	}
	return txs, damages, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func setAssetStatus(ctx context.Context, q database.Querier, id string, to, from AssetStatus) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE assets SET status = $2::asset_status, updated_at = NOW()
		WHERE id = $1 AND status = $3::asset_status
	`, id, to, from)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to update asset status")
	}
	return tag.RowsAffected() == 1, nil
}

func insertDamage(ctx context.Context, q database.Querier, d *DamageReport) error {
	err := q.QueryRow(ctx, `
		INSERT INTO damage_reports (asset_id, transaction_id, reported_by, description, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, d.AssetID, d.TransactionID, d.ReportedBy, d.Description, d.ImageURL).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to store damage report")
	}
	return nil
}

func scanAsset(row billScanner) (*Asset, error) {
	a := &Asset{}
	var status string
	err := row.Scan(
		&a.ID,
		&a.AssetCode,
		&a.Name,
		&a.AssetType,
		&a.SerialNumber,
		&a.Department,
		&a.ImageURL,
		&status,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Status, err = ParseAssetStatus(status); err != nil {
		return nil, err
	}
	return a, nil
}

func scanAssetTx(row billScanner) (*AssetTransaction, error) {
	t := &AssetTransaction{}
	var status string
	var condition *string
	err := row.Scan(
		&t.ID,
		&t.AssetID,
		&t.IssuedTo,
		&t.IssuedBy,
		&t.IssueDate,
		&t.DueDate,
		&t.SignatureData,
		&status,
		&t.ReturnDate,
		&condition,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Status, err = ParseAssetStatus(status); err != nil {
		return nil, err
	}
	if condition != nil {
		c, err := ParseReturnCondition(*condition)
		if err != nil {
			return nil, err
		}
		t.ReturnCondition = &c
	}
	return t, nil
}
