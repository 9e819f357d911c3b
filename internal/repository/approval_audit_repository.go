package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

// Audit rows are append-only; the audit_log_append_only trigger rejects
// UPDATE and DELETE, so insertAudit is the only mutation exposed. Entries are always written inside
// the transaction of the change they describe.

func insertAudit(ctx context.Context, q database.Querier, entry *AuditEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit details")
		}
	}

	query := `
		INSERT INTO audit_log (action, entity_type, entity_id, user_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := q.QueryRow(ctx, query,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.UserID,
		detailsJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write audit entry")
	}
	return nil
}

func selectAudit(ctx context.Context, q database.Querier, entityType, entityID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, entity_type, entity_id, user_id, details, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC
	`

	rows, err := q.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry := &AuditEntry{}
		var detailsJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&entry.UserID,
			&detailsJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		if detailsJSON != nil {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit details")
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return entries, nil
}
