package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-office-bills/internal/metrics"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// AssetStore persists assets, their issue transactions and damage reports.
type AssetStore interface {
	CreateAsset(ctx context.Context, a *repository.Asset) error
	GetAsset(ctx context.Context, id string) (*repository.Asset, error)
	ListAssets(ctx context.Context, filter repository.AssetFilter) ([]*repository.Asset, error)
	IssueAsset(ctx context.Context, t *repository.AssetTransaction) (bool, error)
	ReturnAsset(ctx context.Context, ret *repository.AssetReturn) (*repository.AssetTransaction, error)
	RestoreAsset(ctx context.Context, id string) (bool, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
	AssetHistory(ctx context.Context, assetID string) ([]*repository.AssetTransaction, []*repository.DamageReport, error)
}

// AssetService issues company equipment and tracks its return.
type AssetService struct {
	store AssetStore
	roles RoleDirectory
	log   *logger.Logger
	now   func() time.Time
}

// NewAssetService creates a new asset service.
func NewAssetService(store AssetStore, roles RoleDirectory, log *logger.Logger) *AssetService {
	return &AssetService{store: store, roles: roles, log: log, now: time.Now}
}

// CreateAssetRequest represents a register asset request
type CreateAssetRequest struct {
	ActorID      string
	AssetCode    string // generated when empty
	Name         string
	AssetType    string
	SerialNumber *string
	Department   *string
	ImageURL     *string
}

// IssueAssetRequest represents an issue asset request
type IssueAssetRequest struct {
	ActorID       string
	AssetID       string
	IssuedTo      string
	DueDate       string // YYYY-MM-DD
	SignatureData *string
}

// ReturnAssetRequest represents a return asset request
type ReturnAssetRequest struct {
	ActorID           string
	AssetID           string
	Condition         string
	DamageDescription string
	DamageImageURL    *string
}

// AssetHistory is an asset with its issue and damage records.
type AssetHistory struct {
	Asset        *repository.Asset              `json:"asset"`
	Transactions []*repository.AssetTransaction `json:"transactions"`
	Damages      []*repository.DamageReport     `json:"damage_reports"`
}

// CreateAsset registers an available asset. Admins only.
func (s *AssetService) CreateAsset(ctx context.Context, req *CreateAssetRequest) (*repository.Asset, error) {
	if err := requireRole(ctx, s.roles, req.ActorID, ErrRoleRequired, repository.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.InvalidInput("name", "asset name is required")
	}
	if strings.TrimSpace(req.AssetType) == "" {
		return nil, errors.InvalidInput("asset_type", "asset type is required")
	}
	code := strings.TrimSpace(req.AssetCode)
	if code == "" {
		code = assetCode(s.now())
	}

	a := &repository.Asset{
		AssetCode:    code,
		Name:         strings.TrimSpace(req.Name),
		AssetType:    strings.TrimSpace(req.AssetType),
		SerialNumber: trimmed(req.SerialNumber),
		Department:   trimmed(req.Department),
		ImageURL:     trimmed(req.ImageURL),
		Status:       repository.AssetStatusAvailable,
		CreatedBy:    req.ActorID,
	}
	if err := s.store.CreateAsset(ctx, a); err != nil {
		return nil, persistenceFailure(err, "create asset")
	}
	metrics.OfficeOperations.WithLabelValues("asset", "created").Inc()
	s.log.Info().Str("asset_id", a.ID).Str("asset_code", a.AssetCode).Msg("Asset registered")
	return a, nil
}

// assetCode builds AST-<base36 unix millis>.
func assetCode(at time.Time) string {
	return "AST-" + strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))
}

// GetAsset retrieves an asset by ID.
func (s *AssetService) GetAsset(ctx context.Context, id string) (*repository.Asset, error) {
	a, err := s.store.GetAsset(ctx, id)
	if err != nil {
		return nil, persistenceFailure(err, "get asset")
	}
	return a, nil
}

// ListAssets lists assets newest first.
func (s *AssetService) ListAssets(ctx context.Context, filter repository.AssetFilter) ([]*repository.Asset, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	assets, err := s.store.ListAssets(ctx, filter)
	if err != nil {
		return nil, persistenceFailure(err, "list assets")
	}
	return assets, nil
}

// IssueAsset hands an available asset to an employee until the due date.
// Admins only.
func (s *AssetService) IssueAsset(ctx context.Context, req *IssueAssetRequest) (*repository.AssetTransaction, error) {
	if err := requireRole(ctx, s.roles, req.ActorID, ErrRoleRequired, repository.RoleAdmin); err != nil {
		return nil, err
	}
	if req.IssuedTo == "" {
		return nil, errors.InvalidInput("issued_to", "recipient is required")
	}
	now := s.now()
	due, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		return nil, errors.InvalidInput("due_date", "invalid date format, expected YYYY-MM-DD")
	}
	if due.Before(truncateDay(now)) {
		return nil, errors.InvalidInput("due_date", "due date must not be in the past")
	}

	asset, err := s.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != repository.AssetStatusAvailable {
		return nil, ErrAssetUnavailable
	}

	t := &repository.AssetTransaction{
		AssetID:       req.AssetID,
		IssuedTo:      req.IssuedTo,
		IssuedBy:      req.ActorID,
		IssueDate:     now,
		DueDate:       req.DueDate,
		SignatureData: trimmed(req.SignatureData),
		Status:        repository.AssetStatusIssued,
	}
	ok, err := s.store.IssueAsset(ctx, t)
	if err != nil {
		return nil, persistenceFailure(err, "issue asset")
	}
	if !ok {
		return nil, ErrAssetUnavailable
	}
	metrics.OfficeOperations.WithLabelValues("asset", "issued").Inc()
	s.log.Info().
		Str("asset_id", req.AssetID).
		Str("issued_to", req.IssuedTo).
		Str("due_date", req.DueDate).
		Msg("Asset issued")
	return t, nil
}

// ReturnAsset closes the asset's open issue. A damaged return files a damage
// report and takes the asset out of circulation until it is restored.
// Admins only.
func (s *AssetService) ReturnAsset(ctx context.Context, req *ReturnAssetRequest) (*repository.AssetTransaction, error) {
	if err := requireRole(ctx, s.roles, req.ActorID, ErrRoleRequired, repository.RoleAdmin); err != nil {
		return nil, err
	}
	cond, err := repository.ParseReturnCondition(strings.ToLower(strings.TrimSpace(req.Condition)))
	if err != nil {
		return nil, errors.InvalidInput("condition", err.Error())
	}

	ret := &repository.AssetReturn{
		AssetID:     req.AssetID,
		Condition:   cond,
		ReturnedAt:  s.now(),
		AssetStatus: repository.AssetStatusAvailable,
	}
	if cond == repository.ConditionDamaged {
		desc := strings.TrimSpace(req.DamageDescription)
		if desc == "" {
			return nil, errors.InvalidInput("damage_description", "damage description is required for a damaged return")
		}
		ret.AssetStatus = repository.AssetStatusDamaged
		ret.Damage = &repository.DamageReport{
			ReportedBy:  req.ActorID,
			Description: desc,
			ImageURL:    trimmed(req.DamageImageURL),
		}
	}

	if _, err := s.GetAsset(ctx, req.AssetID); err != nil {
		return nil, err
	}
	t, err := s.store.ReturnAsset(ctx, ret)
	if err != nil {
		return nil, persistenceFailure(err, "return asset")
	}
	if t == nil {
		return nil, ErrAssetNotIssued
	}
	metrics.OfficeOperations.WithLabelValues("asset", "returned").Inc()
	s.log.Info().
		Str("asset_id", req.AssetID).
		Str("condition", string(cond)).
		Msg("Asset returned")
	return t, nil
}

// RestoreAsset puts a repaired asset back into circulation. Admins only.
func (s *AssetService) RestoreAsset(ctx context.Context, id, actorID string) (*repository.Asset, error) {
	if err := requireRole(ctx, s.roles, actorID, ErrRoleRequired, repository.RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.GetAsset(ctx, id); err != nil {
		return nil, err
	}
	ok, err := s.store.RestoreAsset(ctx, id)
	if err != nil {
		return nil, persistenceFailure(err, "restore asset")
	}
	if !ok {
		return nil, ErrAssetNotDamaged
	}
	metrics.OfficeOperations.WithLabelValues("asset", "restored").Inc()
	s.log.Info().Str("asset_id", id).Str("actor_id", actorID).Msg("Asset restored")
	return s.GetAsset(ctx, id)
}

// History returns an asset with its transactions and damage reports.
func (s *AssetService) History(ctx context.Context, id string) (*AssetHistory, error) {
	a, err := s.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, damages, err := s.store.AssetHistory(ctx, id)
	if err != nil {
		return nil, persistenceFailure(err, "get asset history")
	}
	return &AssetHistory{Asset: a, Transactions: txs, Damages: damages}, nil
}

// MarkOverdue flags issued assets whose due date has passed.
func (s *AssetService) MarkOverdue(ctx context.Context) (int, error) {
	n, err := s.store.MarkOverdue(ctx, s.now())
	if err != nil {
		return 0, persistenceFailure(err, "mark overdue assets")
	}
	if n > 0 {
		metrics.OfficeOperations.WithLabelValues("asset", "overdue").Add(float64(n))
		s.log.Info().Int("count", n).Msg("Assets marked overdue")
	}
	return n, nil
}

// RunOverdueSweep calls MarkOverdue every interval until ctx is done.
func (s *AssetService) RunOverdueSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.MarkOverdue(ctx); err != nil {
				s.log.Error().Err(err).Msg("Overdue sweep failed")
			}
		}
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
