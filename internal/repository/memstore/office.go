package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

type officeState struct {
	vendors          map[string]*repository.CourierVendor
	couriers         map[string]*repository.Courier
	assets           map[string]*repository.Asset
	assetTxs         map[string][]*repository.AssetTransaction // by asset, oldest first
	damages          map[string][]*repository.DamageReport     // by asset, oldest first
	complaints       map[string]*repository.Complaint
	complaintHistory map[string][]*repository.ComplaintHistory
}

func newOfficeState() officeState {
	return officeState{
		vendors:          make(map[string]*repository.CourierVendor),
		couriers:         make(map[string]*repository.Courier),
		assets:           make(map[string]*repository.Asset),
		assetTxs:         make(map[string][]*repository.AssetTransaction),
		damages:          make(map[string][]*repository.DamageReport),
		complaints:       make(map[string]*repository.Complaint),
		complaintHistory: make(map[string][]*repository.ComplaintHistory),
	}
}

// ── couriers ─────────────────────────────────────────────────────────────────

// CreateVendor stores a courier vendor. Names are unique.
func (s *Store) CreateVendor(_ context.Context, v *repository.CourierVendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.office.vendors {
		if existing.Name == v.Name {
			return errors.New(errors.ErrCodeConflict, "courier vendor already exists: "+v.Name)
		}
	}
	v.ID = uuid.NewString()
	v.CreatedAt = s.now()
	c := *v
	s.office.vendors[v.ID] = &c
	return nil
}

// ListVendors returns vendors by name.
func (s *Store) ListVendors(_ context.Context) ([]*repository.CourierVendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.CourierVendor, 0, len(s.office.vendors))
	for _, v := range s.office.vendors {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateCourier stores a parcel logged at reception.
func (s *Store) CreateCourier(_ context.Context, c *repository.Courier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.office.vendors[c.VendorID]
	if !ok {
		return errors.NotFound("courier_vendor", c.VendorID)
	}
	now := s.now()
	c.ID = uuid.NewString()
	c.VendorName = v.Name
	c.CreatedAt = now
	c.UpdatedAt = now
	s.office.couriers[c.ID] = cloneCourier(c)
	return nil
}

// GetCourier returns a copy of the courier.
func (s *Store) GetCourier(_ context.Context, id string) (*repository.Courier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.office.couriers[id]
	if !ok {
		return nil, errors.NotFound("courier", id)
	}
	return cloneCourier(c), nil
}

// ListCouriers returns couriers newest first.
func (s *Store) ListCouriers(_ context.Context, filter repository.CourierFilter) ([]*repository.Courier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.Courier, 0)
	for _, c := range s.office.couriers {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.AssignedTo != "" && c.AssignedTo != filter.AssignedTo {
			continue
		}
		out = append(out, cloneCourier(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

// AcknowledgeCourier marks a pending parcel collected with the signed receipt.
// It returns false when the parcel was no longer pending pickup.
func (s *Store) AcknowledgeCourier(_ context.Context, ack *repository.CourierAcknowledgement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.office.couriers[ack.CourierID]
	if !ok || c.Status != repository.CourierStatusPendingPickup {
		return false, nil
	}
	now := s.now()
	ack.ID = uuid.NewString()
	ack.AcknowledgedAt = now
	a := *ack
	c.Acknowledgement = &a
	c.Status = repository.CourierStatusCollected
	c.UpdatedAt = now
	return true, nil
}

// CourierSummary counts couriers by status, vendor and month.
func (s *Store) CourierSummary(_ context.Context) (*repository.CourierSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &repository.CourierSummary{ByVendor: map[string]int{}, ByMonth: map[string]int{}}
	for _, c := range s.office.couriers {
		sum.Total++
		switch c.Status {
		case repository.CourierStatusPendingPickup:
			sum.PendingPickup++
		case repository.CourierStatusCollected:
			sum.Collected++
		}
		sum.ByVendor[c.VendorName]++
		sum.ByMonth[c.CreatedAt.Format("2006-01")]++
	}
	return sum, nil
}

// ── assets ───────────────────────────────────────────────────────────────────

// CreateAsset registers an asset. Asset codes are unique.
func (s *Store) CreateAsset(_ context.Context, a *repository.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.office.assets {
		if existing.AssetCode == a.AssetCode {
			return errors.New(errors.ErrCodeConflict, "asset code already exists: "+a.AssetCode)
		}
	}
	now := s.now()
	a.ID = uuid.NewString()
	a.CreatedAt = now
	a.UpdatedAt = now
	c := *a
	s.office.assets[a.ID] = &c
	return nil
}

// GetAsset returns a copy of the asset.
func (s *Store) GetAsset(_ context.Context, id string) (*repository.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.office.assets[id]
	if !ok {
		return nil, errors.NotFound("asset", id)
	}
	c := *a
	return &c, nil
}

// ListAssets returns assets newest first.
func (s *Store) ListAssets(_ context.Context, filter repository.AssetFilter) ([]*repository.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	term := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]*repository.Asset, 0)
	for _, a := range s.office.assets {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(a.Name), term) &&
			!strings.Contains(strings.ToLower(a.AssetCode), term) {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

// IssueAsset hands an available asset to an employee. It returns false when
// the asset was not available.
func (s *Store) IssueAsset(_ context.Context, t *repository.AssetTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.office.assets[t.AssetID]
	if !ok || a.Status != repository.AssetStatusAvailable {
		return false, nil
	}
	now := s.now()
	a.Status = repository.AssetStatusIssued
	a.UpdatedAt = now
	t.ID = uuid.NewString()
	t.CreatedAt = now
	c := *t
	s.office.assetTxs[t.AssetID] = append(s.office.assetTxs[t.AssetID], &c)
	return true, nil
}

// ReturnAsset closes the asset's open transaction. It returns nil when the
// asset had no open transaction.
func (s *Store) ReturnAsset(_ context.Context, ret *repository.AssetReturn) (*repository.AssetTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open *repository.AssetTransaction
	for _, t := range s.office.assetTxs[ret.AssetID] {
		if t.Status.IsOut() {
			open = t
		}
	}
	if open == nil {
		return nil, nil
	}
	returnedAt := ret.ReturnedAt
	cond := ret.Condition
	open.Status = repository.AssetStatusReturned
	open.ReturnDate = &returnedAt
	open.ReturnCondition = &cond

	if a, ok := s.office.assets[ret.AssetID]; ok {
		a.Status = ret.AssetStatus
		a.UpdatedAt = s.now()
	}
	if d := ret.Damage; d != nil {
		txID := open.ID
		d.ID = uuid.NewString()
		d.AssetID = ret.AssetID
		d.TransactionID = &txID
		d.CreatedAt = s.now()
		c := *d
		s.office.damages[ret.AssetID] = append(s.office.damages[ret.AssetID], &c)
	}
	c := *open
	return &c, nil
}

// RestoreAsset moves a damaged asset back to available. It returns false when
// the asset was not damaged.
func (s *Store) RestoreAsset(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.office.assets[id]
	if !ok || a.Status != repository.AssetStatusDamaged {
		return false, nil
	}
	a.Status = repository.AssetStatusAvailable
	a.UpdatedAt = s.now()
	return true, nil
}

// MarkOverdue flags issued transactions due before asOf, and their assets.
func (s *Store) MarkOverdue(_ context.Context, asOf time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := asOf.Format("2006-01-02")
	n := 0
	for assetID, txs := range s.office.assetTxs {
		for _, t := range txs {
			// YYYY-MM-DD compares correctly as a string.
			if t.Status != repository.AssetStatusIssued || t.DueDate >= today {
				continue
			}
			t.Status = repository.AssetStatusOverdue
			if a, ok := s.office.assets[assetID]; ok && a.Status == repository.AssetStatusIssued {
				a.Status = repository.AssetStatusOverdue
				a.UpdatedAt = s.now()
			}
			n++
		}
	}
	return n, nil
}

// AssetHistory returns an asset's transactions and damage reports, newest
// first.
func (s *Store) AssetHistory(_ context.Context, assetID string) ([]*repository.AssetTransaction, []*repository.DamageReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.office.assetTxs[assetID]
	outTx := make([]*repository.AssetTransaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		c := *txs[i]
		outTx = append(outTx, &c)
	}
	dmg := s.office.damages[assetID]
	outDmg := make([]*repository.DamageReport, 0, len(dmg))
	for i := len(dmg) - 1; i >= 0; i-- {
		c := *dmg[i]
		outDmg = append(outDmg, &c)
	}
	return outTx, outDmg, nil
}

// ── complaints ───────────────────────────────────────────────────────────────

// CreateComplaint stores the complaint with its first history entry.
func (s *Store) CreateComplaint(_ context.Context, c *repository.Complaint, first *repository.ComplaintHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	cc := *c
	s.office.complaints[c.ID] = &cc
	first.ComplaintID = c.ID
	s.appendComplaintHistory(first)
	return nil
}

// GetComplaint returns a copy of the complaint.
func (s *Store) GetComplaint(_ context.Context, id string) (*repository.Complaint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.office.complaints[id]
	if !ok {
		return nil, errors.NotFound("complaint", id)
	}
	cc := *c
	return &cc, nil
}

// ListComplaints returns complaints newest first.
func (s *Store) ListComplaints(_ context.Context, filter repository.ComplaintFilter) ([]*repository.Complaint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.Complaint, 0)
	for _, c := range s.office.complaints {
		if matchesComplaint(c, filter) {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

// TransitionComplaint moves a complaint from tr.From to tr.To and appends
// entry. It returns false when the complaint was no longer in tr.From.
func (s *Store) TransitionComplaint(_ context.Context, tr repository.ComplaintTransition, entry *repository.ComplaintHistory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.office.complaints[tr.ComplaintID]
	if !ok || c.Status != tr.From {
		return false, nil
	}
	c.Status = tr.To
	if tr.Resolution != nil {
		r := *tr.Resolution
		c.ResolutionRemark = &r
	}
	c.UpdatedAt = s.now()
	entry.ComplaintID = tr.ComplaintID
	s.appendComplaintHistory(entry)
	return true, nil
}

// AddComplaintNote appends a history entry.
func (s *Store) AddComplaintNote(_ context.Context, entry *repository.ComplaintHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.office.complaints[entry.ComplaintID]; !ok {
		return errors.NotFound("complaint", entry.ComplaintID)
	}
	s.appendComplaintHistory(entry)
	return nil
}

// ComplaintHistory returns a complaint's timeline, oldest first.
func (s *Store) ComplaintHistory(_ context.Context, complaintID string) ([]*repository.ComplaintHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.office.complaintHistory[complaintID]
	out := make([]*repository.ComplaintHistory, len(entries))
	for i, h := range entries {
		c := *h
		out[i] = &c
	}
	return out, nil
}

// ComplaintSummary counts complaints by status, category and priority.
func (s *Store) ComplaintSummary(_ context.Context, filter repository.ComplaintFilter) (*repository.ComplaintSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := &repository.ComplaintSummary{ByStatus: map[string]int{}, ByCategory: map[string]int{}, ByPriority: map[string]int{}}
	for _, c := range s.office.complaints {
		if !matchesComplaint(c, filter) {
			continue
		}
		sum.Total++
		sum.ByStatus[string(c.Status)]++
		sum.ByCategory[string(c.Category)]++
		sum.ByPriority[string(c.Priority)]++
	}
	return sum, nil
}

func (s *Store) appendComplaintHistory(h *repository.ComplaintHistory) {
	h.ID = uuid.NewString()
	h.CreatedAt = s.now()
	c := *h
	s.office.complaintHistory[h.ComplaintID] = append(s.office.complaintHistory[h.ComplaintID], &c)
}

func matchesComplaint(c *repository.Complaint, f repository.ComplaintFilter) bool {
	switch {
	case f.Status != nil && c.Status != *f.Status:
		return false
	case f.Category != nil && c.Category != *f.Category:
		return false
	case f.SubmittedBy != "" && c.SubmittedBy != f.SubmittedBy:
		return false
	case f.From != nil && c.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && c.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func cloneCourier(c *repository.Courier) *repository.Courier {
	cc := *c
	if c.Acknowledgement != nil {
		a := *c.Acknowledgement
		cc.Acknowledgement = &a
	}
	return &cc
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		return items
	}
	start := min(offset, len(items))
	end := min(start+limit, len(items))
	return items[start:end]
}
