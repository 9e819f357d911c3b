package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-office-bills/internal/metrics"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// CourierStore persists couriers, vendors and acknowledgements.
type CourierStore interface {
	CreateVendor(ctx context.Context, v *repository.CourierVendor) error
	ListVendors(ctx context.Context) ([]*repository.CourierVendor, error)
	CreateCourier(ctx context.Context, c *repository.Courier) error
	GetCourier(ctx context.Context, id string) (*repository.Courier, error)
	ListCouriers(ctx context.Context, filter repository.CourierFilter) ([]*repository.Courier, error)
	AcknowledgeCourier(ctx context.Context, ack *repository.CourierAcknowledgement) (bool, error)
	CourierSummary(ctx context.Context) (*repository.CourierSummary, error)
}

// courierDesk are the roles that log parcels and see every courier.
var courierDesk = []repository.Role{repository.RoleReception, repository.RoleAdmin}

// CourierService tracks parcels from reception to their recipient.
type CourierService struct {
	store CourierStore
	roles RoleDirectory
	log   *logger.Logger
}

// NewCourierService creates a new courier service.
func NewCourierService(store CourierStore, roles RoleDirectory, log *logger.Logger) *CourierService {
	return &CourierService{store: store, roles: roles, log: log}
}

// CreateCourierRequest represents a log courier request
type CreateCourierRequest struct {
	ActorID        string
	TrackingNumber string
	VendorID       string
	AssignedTo     string
	SlipImageURL   *string
}

// CreateVendor adds a courier vendor. Reception and admins only.
func (s *CourierService) CreateVendor(ctx context.Context, actorID, name string) (*repository.CourierVendor, error) {
	if err := requireRole(ctx, s.roles, actorID, ErrRoleRequired, courierDesk...); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput("name", "vendor name is required")
	}
	v := &repository.CourierVendor{Name: name}
	if err := s.store.CreateVendor(ctx, v); err != nil {
		return nil, persistenceFailure(err, "create courier vendor")
	}
	s.log.Info().Str("vendor_id", v.ID).Str("name", v.Name).Msg("Courier vendor created")
	return v, nil
}

// ListVendors returns every courier vendor.
func (s *CourierService) ListVendors(ctx context.Context) ([]*repository.CourierVendor, error) {
	vendors, err := s.store.ListVendors(ctx)
	if err != nil {
		return nil, persistenceFailure(err, "list courier vendors")
	}
	return vendors, nil
}

// CreateCourier logs a parcel for an employee. Reception and admins only.
func (s *CourierService) CreateCourier(ctx context.Context, req *CreateCourierRequest) (*repository.Courier, error) {
	if err := requireRole(ctx, s.roles, req.ActorID, ErrRoleRequired, courierDesk...); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(req.TrackingNumber) == "":
		return nil, errors.InvalidInput("tracking_number", "tracking number is required")
	case req.VendorID == "":
		return nil, errors.InvalidInput("vendor_id", "vendor is required")
	case req.AssignedTo == "":
		return nil, errors.InvalidInput("assigned_to", "recipient is required")
	}

	c := &repository.Courier{
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		VendorID:       req.VendorID,
		AssignedTo:     req.AssignedTo,
		CreatedBy:      req.ActorID,
		SlipImageURL:   trimmed(req.SlipImageURL),
		Status:         repository.CourierStatusPendingPickup,
	}
	if err := s.store.CreateCourier(ctx, c); err != nil {
		return nil, persistenceFailure(err, "create courier")
	}
	metrics.OfficeOperations.WithLabelValues("courier", "created").Inc()
	s.log.Info().
		Str("courier_id", c.ID).
		Str("tracking_number", c.TrackingNumber).
		Str("assigned_to", c.AssignedTo).
		Msg("Courier logged")
	return c, nil
}

// GetCourier returns a courier visible to actorID: the desk sees all, others
// only their own.
func (s *CourierService) GetCourier(ctx context.Context, id, actorID string) (*repository.Courier, error) {
	c, err := s.store.GetCourier(ctx, id)
	if err != nil {
		return nil, persistenceFailure(err, "get courier")
	}
	if c.AssignedTo == actorID {
		return c, nil
	}
	if err := requireRole(ctx, s.roles, actorID, ErrRoleRequired, courierDesk...); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCouriers lists couriers newest first. Callers outside the desk only
// see parcels assigned to them.
func (s *CourierService) ListCouriers(ctx context.Context, actorID string, filter repository.CourierFilter) ([]*repository.Courier, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, errors.InvalidInput("limit", "limit and offset must not be negative")
	}
	desk, err := hasAnyRole(ctx, s.roles, actorID, courierDesk...)
	if err != nil {
		return nil, err
	}
	if !desk {
		filter.AssignedTo = actorID
	}
	couriers, err := s.store.ListCouriers(ctx, filter)
	if err != nil {
		return nil, persistenceFailure(err, "list couriers")
	}
	return couriers, nil
}

// Acknowledge records the recipient's signed receipt and marks the parcel
// collected. Only the assignee may acknowledge, once.
func (s *CourierService) Acknowledge(ctx context.Context, courierID, actorID, signature string) (*repository.Courier, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, errors.InvalidInput("signature_data", "signature is required")
	}
	c, err := s.store.GetCourier(ctx, courierID)
	if err != nil {
		return nil, persistenceFailure(err, "get courier")
	}
	if c.AssignedTo != actorID {
		return nil, ErrNotCourierRecipient
	}
	if c.Status == repository.CourierStatusCollected {
		return nil, ErrCourierCollected
	}

	ack := &repository.CourierAcknowledgement{
		CourierID:      courierID,
		AcknowledgedBy: actorID,
		SignatureData:  signature,
	}
	ok, err := s.store.AcknowledgeCourier(ctx, ack)
	if err != nil {
		return nil, persistenceFailure(err, "acknowledge courier")
	}
	if !ok {
		return nil, ErrCourierCollected
	}
	metrics.OfficeOperations.WithLabelValues("courier", "collected").Inc()
	s.log.Info().Str("courier_id", courierID).Str("actor_id", actorID).Msg("Courier collected")

	c.Status = repository.CourierStatusCollected
	c.Acknowledgement = ack
	return c, nil
}

// Summary returns courier dashboard counters. Reception and admins only.
func (s *CourierService) Summary(ctx context.Context, actorID string) (*repository.CourierSummary, error) {
	if err := requireRole(ctx, s.roles, actorID, ErrRoleRequired, courierDesk...); err != nil {
		return nil, err
	}
	sum, err := s.store.CourierSummary(ctx)
	if err != nil {
		return nil, persistenceFailure(err, "summarise couriers")
	}
	return sum, nil
}
