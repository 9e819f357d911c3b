package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-office-bills/internal/metrics"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// ComplaintStore persists complaints and their history.
type ComplaintStore interface {
	CreateComplaint(ctx context.Context, c *repository.Complaint, first *repository.ComplaintHistory) error
	GetComplaint(ctx context.Context, id string) (*repository.Complaint, error)
	ListComplaints(ctx context.Context, filter repository.ComplaintFilter) ([]*repository.Complaint, error)
	TransitionComplaint(ctx context.Context, tr repository.ComplaintTransition, entry *repository.ComplaintHistory) (bool, error)
	AddComplaintNote(ctx context.Context, entry *repository.ComplaintHistory) error
	ComplaintHistory(ctx context.Context, complaintID string) ([]*repository.ComplaintHistory, error)
	ComplaintSummary(ctx context.Context, filter repository.ComplaintFilter) (*repository.ComplaintSummary, error)
}

// complaintHandlers may see every complaint and move them along.
var complaintHandlers = []repository.Role{repository.RoleAdmin, repository.RoleITTeam, repository.RoleManager}

// ComplaintService routes employee complaints to departments and tracks them
// to closure.
type ComplaintService struct {
	store ComplaintStore
	roles RoleDirectory
	log   *logger.Logger
}

// NewComplaintService creates a new complaint service.
func NewComplaintService(store ComplaintStore, roles RoleDirectory, log *logger.Logger) *ComplaintService {
	return &ComplaintService{store: store, roles: roles, log: log}
}

// CreateComplaintRequest represents a submit complaint request
type CreateComplaintRequest struct {
	ActorID       string
	Category      string
	Priority      string // medium when empty
	Description   string
	AttachmentURL *string
}

// UpdateComplaintStatusRequest represents a complaint status change
type UpdateComplaintStatusRequest struct {
	ActorID          string
	ComplaintID      string
	Status           string
	ResolutionRemark *string
}

// CreateComplaint files a complaint and assigns it to the category's
// department.
func (s *ComplaintService) CreateComplaint(ctx context.Context, req *CreateComplaintRequest) (*repository.Complaint, error) {
	if req.ActorID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "caller identity is required")
	}
	category, err := repository.ParseComplaintCategory(strings.ToLower(strings.TrimSpace(req.Category)))
	if err != nil {
		return nil, errors.InvalidInput("category", err.Error())
	}
	priority := repository.PriorityMedium
	if p := strings.TrimSpace(req.Priority); p != "" {
		if priority, err = repository.ParseComplaintPriority(strings.ToLower(p)); err != nil {
			return nil, errors.InvalidInput("priority", err.Error())
		}
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return nil, errors.InvalidInput("description", "description is required")
	}

	c := &repository.Complaint{
		SubmittedBy:        req.ActorID,
		Category:           category,
		Priority:           priority,
		Description:        desc,
		AttachmentURL:      trimmed(req.AttachmentURL),
		Status:             repository.ComplaintOpen,
		AssignedDepartment: category.Department(),
	}
	note := "Complaint submitted and auto-assigned to " + c.AssignedDepartment
	first := &repository.ComplaintHistory{Action: "submitted", Note: &note, PerformedBy: req.ActorID}
	if err := s.store.CreateComplaint(ctx, c, first); err != nil {
		return nil, persistenceFailure(err, "create complaint")
	}
	metrics.OfficeOperations.WithLabelValues("complaint", "submitted").Inc()
	s.log.Info().
		Str("complaint_id", c.ID).
		Str("category", string(c.Category)).
		Str("department", c.AssignedDepartment).
		Msg("Complaint submitted")
	return c, nil
}

// GetComplaint returns a complaint to its submitter or a handler.
func (s *ComplaintService) GetComplaint(ctx context.Context, id, actorID string) (*repository.Complaint, error) {
	c, err := s.store.GetComplaint(ctx, id)
	if err != nil {
		return nil, persistenceFailure(err, "get complaint")
	}
	if c.SubmittedBy == actorID {
		return c, nil
	}
	if err := requireRole(ctx, s.roles, actorID, ErrRoleRequired, complaintHandlers...); err != nil {
		return nil, err
	}
	return c, nil
}

// ListComplaints lists complaints newest first. Callers who are not handlers
// only see their own.
func (s *ComplaintService) ListComplaints(ctx context.Context, actorID string, filter repository.ComplaintFilter) ([]*repository.Complaint, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	handler, err := hasAnyRole(ctx, s.roles, actorID, complaintHandlers...)
	if err != nil {
		return nil, err
	}
	if !handler {
		filter.SubmittedBy = actorID
	}
	complaints, err := s.store.ListComplaints(ctx, filter)
	if err != nil {
		return nil, persistenceFailure(err, "list complaints")
	}
	return complaints, nil
}

// UpdateStatus moves a complaint forward. Closing requires a resolution
// remark. Handlers only.
func (s *ComplaintService) UpdateStatus(ctx context.Context, req *UpdateComplaintStatusRequest) (*repository.Complaint, error) {
	if err := requireRole(ctx, s.roles, req.ActorID, ErrRoleRequired, complaintHandlers...); err != nil {
		return nil, err
	}
	to, err := repository.ParseComplaintStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		return nil, errors.InvalidInput("status", err.Error())
	}
	resolution := trimmed(req.ResolutionRemark)
	if to == repository.ComplaintClosed && resolution == nil {
		return nil, errors.InvalidInput("resolution_remark", "a resolution remark is required to close a complaint")
	}
	if to != repository.ComplaintClosed {
		resolution = nil
	}

	c, err := s.store.GetComplaint(ctx, req.ComplaintID)
	if err != nil {
		return nil, persistenceFailure(err, "get complaint")
	}
	if !c.Status.CanMoveTo(to) {
		return nil, ErrInvalidComplaintTransition
	}

	note := fmt.Sprintf("Status changed to %s", to)
	if resolution != nil {
		note = *resolution
	}
	entry := &repository.ComplaintHistory{
		Action:      "status_changed_to_" + string(to),
		Note:        &note,
		PerformedBy: req.ActorID,
	}
	tr := repository.ComplaintTransition{ComplaintID: c.ID, From: c.Status, To: to, Resolution: resolution}
	ok, err := s.store.TransitionComplaint(ctx, tr, entry)
	if err != nil {
		return nil, persistenceFailure(err, "update complaint status")
	}
	if !ok {
		return nil, ErrStaleApprovalState
	}
	metrics.OfficeOperations.WithLabelValues("complaint", string(to)).Inc()
	s.log.Info().
		Str("complaint_id", c.ID).
		Str("from", string(c.Status)).
		Str("to", string(to)).
		Str("actor_id", req.ActorID).
		Msg("Complaint status changed")

	c.Status = to
	if resolution != nil {
		c.ResolutionRemark = resolution
	}
	return c, nil
}

// AddNote appends a note to the complaint's timeline. The submitter and
// handlers may add notes.
func (s *ComplaintService) AddNote(ctx context.Context, complaintID, actorID, note string) (*repository.ComplaintHistory, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, errors.InvalidInput("note", "note is required")
	}
	if _, err := s.GetComplaint(ctx, complaintID, actorID); err != nil {
		return nil, err
	}
	entry := &repository.ComplaintHistory{
		ComplaintID: complaintID,
		Action:      "note_added",
		Note:        &note,
		PerformedBy: actorID,
	}
	if err := s.store.AddComplaintNote(ctx, entry); err != nil {
		return nil, persistenceFailure(err, "add complaint note")
	}
	return entry, nil
}

// History returns the complaint's timeline, oldest first.
func (s *ComplaintService) History(ctx context.Context, complaintID, actorID string) ([]*repository.ComplaintHistory, error) {
	if _, err := s.GetComplaint(ctx, complaintID, actorID); err != nil {
		return nil, err
	}
	entries, err := s.store.ComplaintHistory(ctx, complaintID)
	if err != nil {
		return nil, persistenceFailure(err, "get complaint history")
	}
	return entries, nil
}

// Summary returns complaint dashboard counters. Handlers only.
func (s *ComplaintService) Summary(ctx context.Context, actorID string, filter repository.ComplaintFilter) (*repository.ComplaintSummary, error) {
	if err := requireRole(ctx, s.roles, actorID, ErrRoleRequired, complaintHandlers...); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, errors.InvalidInput("to", "end date must not be before start date")
	}
	sum, err := s.store.ComplaintSummary(ctx, filter)
	if err != nil {
		return nil, persistenceFailure(err, "summarise complaints")
	}
	return sum, nil
}
