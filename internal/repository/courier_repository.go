package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

const courierColumns = `
	c.id, c.tracking_number, c.vendor_id, v.name, c.assigned_to, c.created_by,
	c.slip_image_url, c.status, c.created_at, c.updated_at,
	a.id, a.acknowledged_by, a.signature_data, a.acknowledged_at`

const courierFrom = `
	FROM couriers c
	JOIN courier_vendors v ON v.id = c.vendor_id
	LEFT JOIN courier_acknowledgements a ON a.courier_id = c.id`

// CourierRepository handles couriers, vendors and acknowledgements.
type CourierRepository struct {
	db *database.DB
}

// NewCourierRepository creates a new CourierRepository.
func NewCourierRepository(db *database.DB) *CourierRepository {
	return &CourierRepository{db: db}
}

// CreateVendor inserts a courier vendor. Names are unique.
func (r *CourierRepository) CreateVendor(ctx context.Context, v *CourierVendor) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO courier_vendors (name) VALUES ($1) RETURNING id, created_at`,
		v.Name,
	).Scan(&v.ID, &v.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "courier vendor already exists: "+v.Name)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create courier vendor")
	}
	return nil
}

// ListVendors returns vendors by name.
func (r *CourierRepository) ListVendors(ctx context.Context) ([]*CourierVendor, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM courier_vendors ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list courier vendors")
	}
	defer rows.Close()

	vendors := make([]*CourierVendor, 0)
	for rows.Next() {
		v := &CourierVendor{}
		if err := rows.Scan(&v.ID, &v.Name, &v.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan courier vendor")
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list courier vendors")
	}
	return vendors, nil
}

// CreateCourier logs a parcel at reception.
func (r *CourierRepository) CreateCourier(ctx context.Context, c *Courier) error {
	query := `
		INSERT INTO couriers (tracking_number, vendor_id, assigned_to, created_by, slip_image_url, status)
		VALUES ($1, $2, $3, $4, $5, $6::courier_status)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		c.TrackingNumber,
		c.VendorID,
		c.AssignedTo,
		c.CreatedBy,
		c.SlipImageURL,
		c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == "23503" {
		return errors.NotFound("courier_vendor", c.VendorID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create courier")
	}
	return nil
}

// GetCourier returns a courier with its vendor name and acknowledgement.
func (r *CourierRepository) GetCourier(ctx context.Context, id string) (*Courier, error) {
	c, err := scanCourier(r.db.QueryRow(ctx, `SELECT `+courierColumns+courierFrom+` WHERE c.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("courier", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get courier")
	}
	return c, nil
}

// ListCouriers returns couriers newest first.
func (r *CourierRepository) ListCouriers(ctx context.Context, filter CourierFilter) ([]*Courier, error) {
	query := `SELECT ` + courierColumns + courierFrom + ` WHERE 1 = 1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND c.status = $%d::courier_status", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.AssignedTo != "" {
		query += fmt.Sprintf(" AND c.assigned_to = $%d", argCount)
		args = append(args, filter.AssignedTo)
		argCount++
	}

	query += " ORDER BY c.created_at DESC, c.id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list couriers")
	}
	defer rows.Close()

	couriers := make([]*Courier, 0)
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan courier")
		}
		couriers = append(couriers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list couriers")
	}
	return couriers, nil
}

// AcknowledgeCourier marks a pending parcel collected and stores the signed
// receipt in one transaction. It returns false when the parcel was no longer
// pending pickup.
func (r *CourierRepository) AcknowledgeCourier(ctx context.Context, ack *CourierAcknowledgement) (bool, error) {
	collected := false
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE couriers
			SET status = 'collected', updated_at = NOW()
			WHERE id = $1 AND status = 'pending_pickup'
		`, ack.CourierID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update courier status")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO courier_acknowledgements (courier_id, acknowledged_by, signature_data)
			VALUES ($1, $2, $3)
			RETURNING id, acknowledged_at
		`, ack.CourierID, ack.AcknowledgedBy, ack.SignatureData).Scan(&ack.ID, &ack.AcknowledgedAt)
		if isUniqueViolation(err) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to store courier acknowledgement")
		}
		collected = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return collected, nil
}

// CourierSummary counts couriers by status, vendor and month.
func (r *CourierRepository) CourierSummary(ctx context.Context) (*CourierSummary, error) {
	sum := &CourierSummary{ByVendor: map[string]int{}, ByMonth: map[string]int{}}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending_pickup'),
		       COUNT(*) FILTER (WHERE status = 'collected')
		FROM couriers
	`).Scan(&sum.Total, &sum.PendingPickup, &sum.Collected)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to summarise couriers")
	}

	if err := countInto(ctx, r.db, sum.ByVendor, `
		SELECT v.name, COUNT(*) FROM couriers c
		JOIN courier_vendors v ON v.id = c.vendor_id
		GROUP BY v.name
	`); err != nil {
		return nil, err
	}
	if err := countInto(ctx, r.db, sum.ByMonth, `
		SELECT to_char(created_at, 'YYYY-MM'), COUNT(*) FROM couriers GROUP BY 1
	`); err != nil {
		return nil, err
	}
	return sum, nil
}

// countInto runs a two-column (label, count) query into dst.
func countInto(ctx context.Context, q database.Querier, dst map[string]int, query string, args ...any) error {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to run summary query")
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan summary row")
		}
		dst[label] = n
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to run summary query")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

func scanCourier(row billScanner) (*Courier, error) {
	c := &Courier{}
	var status string
	var ackID, ackBy, ackSig *string
	var ackAt *time.Time
	err := row.Scan(
		&c.ID,
		&c.TrackingNumber,
		&c.VendorID,
		&c.VendorName,
		&c.AssignedTo,
		&c.CreatedBy,
		&c.SlipImageURL,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
		&ackID,
		&ackBy,
		&ackSig,
		&ackAt,
	)
	if err != nil {
		return nil, err
	}
	if c.Status, err = ParseCourierStatus(status); err != nil {
		return nil, err
	}
	if ackID != nil {
		c.Acknowledgement = &CourierAcknowledgement{
			ID:             *ackID,
			CourierID:      c.ID,
			AcknowledgedBy: deref(ackBy),
			SignatureData:  deref(ackSig),
		}
		if ackAt != nil {
			c.Acknowledgement.AcknowledgedAt = *ackAt
		}
	}
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
