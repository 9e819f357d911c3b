package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

func TestAcknowledgeCourier_OnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	v := &repository.CourierVendor{Name: "FedEx"}
	require.NoError(t, s.CreateVendor(ctx, v))
	c := &repository.Courier{TrackingNumber: "F1", VendorID: v.ID, AssignedTo: "u-1", Status: repository.CourierStatusPendingPickup}
	require.NoError(t, s.CreateCourier(ctx, c))

	ok, err := s.AcknowledgeCourier(ctx, &repository.CourierAcknowledgement{CourierID: c.ID, AcknowledgedBy: "u-1", SignatureData: "a"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AcknowledgeCourier(ctx, &repository.CourierAcknowledgement{CourierID: c.ID, AcknowledgedBy: "u-1", SignatureData: "b"})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetCourier(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Acknowledgement.SignatureData)

	// Returned copies do not alias stored state.
	got.Acknowledgement.SignatureData = "tampered"
	again, err := s.GetCourier(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Acknowledgement.SignatureData)

	err = s.CreateCourier(ctx, &repository.Courier{VendorID: "missing"})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestAssets_OverdueAndReturn(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &repository.Asset{AssetCode: "AST-1", Name: "Laptop", AssetType: "laptop", Status: repository.AssetStatusAvailable}
	require.NoError(t, s.CreateAsset(ctx, a))
	err := s.CreateAsset(ctx, &repository.Asset{AssetCode: "AST-1"})
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	ret, err := s.ReturnAsset(ctx, &repository.AssetReturn{AssetID: a.ID, Condition: repository.ConditionGood, AssetStatus: repository.AssetStatusAvailable})
	require.NoError(t, err)
	assert.Nil(t, ret)

	ok, err := s.IssueAsset(ctx, &repository.AssetTransaction{AssetID: a.ID, IssuedTo: "u-1", DueDate: "2025-03-05", Status: repository.AssetStatusIssued})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.IssueAsset(ctx, &repository.AssetTransaction{AssetID: a.ID, IssuedTo: "u-2", DueDate: "2025-03-05", Status: repository.AssetStatusIssued})
	require.NoError(t, err)
	assert.False(t, ok)

	// Due today is not yet overdue.
	n, err := s.MarkOverdue(ctx, time.Date(2025, 3, 5, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.MarkOverdue(ctx, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusOverdue, got.Status)

	ret, err = s.ReturnAsset(ctx, &repository.AssetReturn{
		AssetID: a.ID, Condition: repository.ConditionDamaged, AssetStatus: repository.AssetStatusDamaged,
		ReturnedAt: time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		Damage:     &repository.DamageReport{ReportedBy: "u-admin", Description: "dent"},
	})
	require.NoError(t, err)
	require.NotNil(t, ret)
	assert.Equal(t, repository.AssetStatusReturned, ret.Status)

	txs, damages, err := s.AssetHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Len(t, damages, 1)
	assert.Equal(t, txs[0].ID, *damages[0].TransactionID)

	ok, err = s.RestoreAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RestoreAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionComplaint_CompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()

	c := &repository.Complaint{SubmittedBy: "u-1", Category: repository.ComplaintIT, Priority: repository.PriorityLow, Status: repository.ComplaintOpen}
	require.NoError(t, s.CreateComplaint(ctx, c, &repository.ComplaintHistory{Action: "submitted", PerformedBy: "u-1"}))

	tr := repository.ComplaintTransition{ComplaintID: c.ID, From: repository.ComplaintOpen, To: repository.ComplaintInProgress}
	ok, err := s.TransitionComplaint(ctx, tr, &repository.ComplaintHistory{Action: "status_changed_to_in_progress", PerformedBy: "u-it"})
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer still expecting open loses.
	ok, err = s.TransitionComplaint(ctx, tr, &repository.ComplaintHistory{Action: "status_changed_to_in_progress", PerformedBy: "u-it"})
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := s.ComplaintHistory(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	err = s.AddComplaintNote(ctx, &repository.ComplaintHistory{ComplaintID: "missing", Action: "note_added"})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
