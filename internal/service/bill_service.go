package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// BillStore persists bills outside the approval transaction.
type BillStore interface {
	Create(ctx context.Context, bill *repository.Bill) error
	GetByID(ctx context.Context, id string) (*repository.Bill, error)
	List(ctx context.Context, filter repository.BillFilter) ([]*repository.Bill, error)
	Summary(ctx context.Context) (*repository.BillSummary, error)
	SetFileURL(ctx context.Context, id, url string) error
	DeleteDraft(ctx context.Context, id string) error
	AuditTrail(ctx context.Context, billID string) ([]*repository.AuditEntry, error)
}

// RuleAdminStore manages approval rules.
type RuleAdminStore interface {
	RuleStore
	CreateRule(ctx context.Context, rule *repository.ApprovalRule) error
	DeleteRule(ctx context.Context, id string) error
}

// FileStore stores bill images and returns their public URL.
type FileStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// BillService handles bill business logic around the approval engine.
type BillService struct {
	bills   BillStore
	rules   RuleAdminStore
	roles   RoleDirectory
	files   FileStore
	routing *ApprovalRoutingService
	log     *logger.Logger
	now     func() time.Time
}

// NewBillService creates a new bill service. files may be nil, in which case
// AttachFile reports the feature as unavailable.
func NewBillService(
	bills BillStore,
	rules RuleAdminStore,
	roles RoleDirectory,
	files FileStore,
	routing *ApprovalRoutingService,
	log *logger.Logger,
) *BillService {
	return &BillService{
		bills:   bills,
		rules:   rules,
		roles:   roles,
		files:   files,
		routing: routing,
		log:     log,
		now:     time.Now,
	}
}

// CreateBillRequest represents a create bill request
type CreateBillRequest struct {
	SubmittedBy string
	VendorName  string
	BillNumber  *string
	BillDate    *string
	TotalAmount decimal.Decimal
	GSTNumber   *string
	Department  *string
	FileURL     *string
	OCRText     *string
	// Submit sends the bill into approval right after it is saved.
	Submit bool
}

// CreateRuleRequest represents a create approval rule request
type CreateRuleRequest struct {
	ActorID   string
	MinAmount decimal.Decimal
	MaxAmount *decimal.Decimal
	Levels    []string
}

// CreateBill saves a draft and, when req.Submit is set, submits it. If the
// submission fails the saved draft is returned together with the error so
// the caller can retry the submit.
func (s *BillService) CreateBill(ctx context.Context, req *CreateBillRequest) (*repository.Bill, []*repository.ApprovalStep, error) {
	if strings.TrimSpace(req.VendorName) == "" {
		return nil, nil, errors.InvalidInput("vendor_name", "vendor name is required")
	}
	if req.TotalAmount.IsNegative() {
		return nil, nil, ErrInvalidAmount
	}
	if req.BillDate != nil && *req.BillDate != "" {
		if _, err := time.Parse("2006-01-02", *req.BillDate); err != nil {
			return nil, nil, errors.InvalidInput("bill_date", "invalid date format, expected YYYY-MM-DD")
		}
	} else {
		req.BillDate = nil
	}

	bill := &repository.Bill{
		SubmittedBy: req.SubmittedBy,
		VendorName:  strings.TrimSpace(req.VendorName),
		BillNumber:  trimmed(req.BillNumber),
		BillDate:    req.BillDate,
		TotalAmount: req.TotalAmount,
		GSTNumber:   trimmed(req.GSTNumber),
		Department:  trimmed(req.Department),
		FileURL:     req.FileURL,
		OCRText:     req.OCRText,
		Status:      repository.BillStatusDraft,
	}
	if err := s.bills.Create(ctx, bill); err != nil {
		return nil, nil, persistenceFailure(err, "create bill")
	}

	s.log.Info().
		Str("bill_id", bill.ID).
		Str("vendor", bill.VendorName).
		Str("amount", bill.TotalAmount.String()).
		Msg("Bill created")

	if !req.Submit {
		return bill, nil, nil
	}

	res, err := s.routing.Submit(ctx, bill.ID, req.SubmittedBy)
	if err != nil {
		s.log.Warn().Err(err).Str("bill_id", bill.ID).Msg("Bill saved as draft; submission failed")
		return bill, nil, err
	}
	return res.Bill, res.Steps, nil
}

// SubmitBill submits an existing draft.
func (s *BillService) SubmitBill(ctx context.Context, billID, actorID string) (*SubmitResult, error) {
	return s.routing.Submit(ctx, billID, actorID)
}

// GetBill retrieves a bill by ID
func (s *BillService) GetBill(ctx context.Context, id string) (*repository.Bill, error) {
	bill, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, persistenceFailure(err, "get bill")
	}
	return bill, nil
}

// ListBills lists bills newest first.
func (s *BillService) ListBills(ctx context.Context, filter repository.BillFilter) ([]*repository.Bill, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	bills, err := s.bills.List(ctx, filter)
	if err != nil {
		return nil, persistenceFailure(err, "list bills")
	}
	return bills, nil
}

// Summary returns dashboard counters.
func (s *BillService) Summary(ctx context.Context) (*repository.BillSummary, error) {
	sum, err := s.bills.Summary(ctx)
	if err != nil {
		return nil, persistenceFailure(err, "summarise bills")
	}
	return sum, nil
}

// AuditTrail returns the bill's audit log.
func (s *BillService) AuditTrail(ctx context.Context, billID string) ([]*repository.AuditEntry, error) {
	if _, err := s.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	entries, err := s.bills.AuditTrail(ctx, billID)
	if err != nil {
		return nil, persistenceFailure(err, "get audit trail")
	}
	return entries, nil
}

// DeleteDraft deletes the actor's own draft.
func (s *BillService) DeleteDraft(ctx context.Context, billID, actorID string) error {
	bill, err := s.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	if bill.SubmittedBy != actorID {
		return errors.New(errors.ErrCodeForbidden, "only the bill owner can delete it")
	}
	if bill.Status != repository.BillStatusDraft {
		return ErrBillNotDraft
	}
	if err := s.bills.DeleteDraft(ctx, billID); err != nil {
		return persistenceFailure(err, "delete bill")
	}
	s.log.Info().Str("bill_id", billID).Msg("Draft bill deleted")
	return nil
}

// AttachFile uploads the bill image to <owner>/<unix-millis>.<ext> and stores
// its URL on the bill.
func (s *BillService) AttachFile(ctx context.Context, billID, actorID, filename, contentType string, body io.Reader, size int64) (*repository.Bill, error) {
	if s.files == nil {
		return nil, errors.New(errors.ErrCodeUnavailable, "file storage is not configured")
	}
	bill, err := s.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.SubmittedBy != actorID {
		return nil, errors.New(errors.ErrCodeForbidden, "only the bill owner can attach files")
	}

	key := fileKey(actorID, filename, s.now())
	url, err := s.files.Upload(ctx, key, contentType, body, size)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to upload bill file")
	}
	if err := s.bills.SetFileURL(ctx, billID, url); err != nil {
		return nil, persistenceFailure(err, "store file url")
	}
	bill.FileURL = &url

	s.log.Info().Str("bill_id", billID).Str("key", key).Msg("Bill file uploaded")
	return bill, nil
}

func fileKey(userID, filename string, at time.Time) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%d.%s", userID, at.UnixMilli(), ext)
}

// ── Rules admin ───────────────────────────────────────────────────────────────

// CreateRule validates and stores an approval rule. Only admins may call it.
func (s *BillService) CreateRule(ctx context.Context, req *CreateRuleRequest) (*repository.ApprovalRule, error) {
	if err := requireRole(ctx, s.roles, req.ActorID, ErrAdminRequired, repository.RoleAdmin); err != nil {
		return nil, err
	}
	if req.MinAmount.IsNegative() {
		return nil, errors.InvalidInput("min_amount", "min amount must not be negative")
	}
	if req.MaxAmount != nil && req.MaxAmount.LessThan(req.MinAmount) {
		return nil, errors.InvalidInput("max_amount", "max amount must not be below min amount")
	}
	if len(req.Levels) == 0 {
		return nil, errors.InvalidInput("approval_levels", "at least one approval level is required")
	}

	rule := &repository.ApprovalRule{MinAmount: req.MinAmount, MaxAmount: req.MaxAmount}
	for i, name := range req.Levels {
		role, err := repository.ParseRole(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("approval_levels[%d]", i), err.Error())
		}
		rule.ApprovalLevels = append(rule.ApprovalLevels, role)
	}

	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return nil, persistenceFailure(err, "create approval rule")
	}
	s.log.Info().
		Str("rule_id", rule.ID).
		Str("actor_id", req.ActorID).
		Int("levels", len(rule.ApprovalLevels)).
		Msg("Approval rule created")
	return rule, nil
}

// ListRules returns all approval rules.
func (s *BillService) ListRules(ctx context.Context) ([]*repository.ApprovalRule, error) {
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, persistenceFailure(err, "list approval rules")
	}
	return rules, nil
}

// DeleteRule removes an approval rule. Existing chains are unaffected.
// Only admins may call it.
func (s *BillService) DeleteRule(ctx context.Context, id, actorID string) error {
	if err := requireRole(ctx, s.roles, actorID, ErrAdminRequired, repository.RoleAdmin); err != nil {
		return err
	}
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return persistenceFailure(err, "delete approval rule")
	}
	s.log.Info().Str("rule_id", id).Str("actor_id", actorID).Msg("Approval rule deleted")
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
