package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

// ApprovalRulesRepository handles CRUD for workflow_rules.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// CreateRule inserts a new approval rule.
func (r *ApprovalRulesRepository) CreateRule(ctx context.Context, rule *ApprovalRule) error {
	levelsJSON, err := json.Marshal(rule.ApprovalLevels)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval levels")
	}

	var maxAmount *string
	if rule.MaxAmount != nil {
		s := rule.MaxAmount.String()
		maxAmount = &s
	}

	query := `
		INSERT INTO workflow_rules (min_amount, max_amount, approval_levels)
		VALUES ($1::numeric, $2::numeric, $3)
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.MinAmount.String(),
		maxAmount,
		levelsJSON,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
	}
	return nil
}

// ListRules returns every rule ordered by min_amount, then creation order.
// The engine always reads the full set; nothing is cached.
func (r *ApprovalRulesRepository) ListRules(ctx context.Context) ([]*ApprovalRule, error) {
	query := `
		SELECT id, min_amount::text, max_amount::text, approval_levels, created_at
		FROM workflow_rules
		ORDER BY min_amount ASC, created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	return rules, nil
}

// DeleteRule removes an approval rule.
func (r *ApprovalRulesRepository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflow_rules WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanRule(rows pgx.Rows) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var minAmount string
	var maxAmount *string
	var levelsJSON []byte

	err := rows.Scan(
		&rule.ID,
		&minAmount,
		&maxAmount,
		&levelsJSON,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
	}

	if rule.MinAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid min_amount on approval rule")
	}
	if maxAmount != nil {
		upper, err := decimal.NewFromString(*maxAmount)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid max_amount on approval rule")
		}
		rule.MaxAmount = &upper
	}

	var names []string
	if err := json.Unmarshal(levelsJSON, &names); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval levels")
	}
	for _, n := range names {
		role, err := ParseRole(n)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "approval rule "+rule.ID+" has an invalid level")
		}
		rule.ApprovalLevels = append(rule.ApprovalLevels, role)
	}
	return rule, nil
}
