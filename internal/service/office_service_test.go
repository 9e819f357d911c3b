package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// ── couriers ─────────────────────────────────────────────────────────────────

func (h *harness) courier(t *testing.T, assignedTo string) *repository.Courier {
	t.Helper()
	ctx := context.Background()
	vendors, err := h.couriers.ListVendors(ctx)
	require.NoError(t, err)
	var vendorID string
	if len(vendors) > 0 {
		vendorID = vendors[0].ID
	} else {
		v, err := h.couriers.CreateVendor(ctx, receptionID, "BlueDart")
		require.NoError(t, err)
		vendorID = v.ID
	}
	c, err := h.couriers.CreateCourier(ctx, &CreateCourierRequest{
		ActorID:        receptionID,
		TrackingNumber: " TRK-1 ",
		VendorID:       vendorID,
		AssignedTo:     assignedTo,
	})
	require.NoError(t, err)
	return c
}

func TestCourier_LogAndAcknowledge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.courier(t, employeeID)
	assert.Equal(t, "TRK-1", c.TrackingNumber)
	assert.Equal(t, "BlueDart", c.VendorName)
	assert.Equal(t, repository.CourierStatusPendingPickup, c.Status)

	_, err := h.couriers.Acknowledge(ctx, c.ID, employeeID, "  ")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = h.couriers.Acknowledge(ctx, c.ID, managerID, "sig")
	assert.ErrorIs(t, err, ErrNotCourierRecipient)

	got, err := h.couriers.Acknowledge(ctx, c.ID, employeeID, "data:image/png;base64,AAA")
	require.NoError(t, err)
	assert.Equal(t, repository.CourierStatusCollected, got.Status)
	require.NotNil(t, got.Acknowledgement)
	assert.Equal(t, employeeID, got.Acknowledgement.AcknowledgedBy)

	_, err = h.couriers.Acknowledge(ctx, c.ID, employeeID, "sig")
	assert.ErrorIs(t, err, ErrCourierCollected)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	stored, err := h.couriers.GetCourier(ctx, c.ID, employeeID)
	require.NoError(t, err)
	require.NotNil(t, stored.Acknowledgement)
	assert.Equal(t, "data:image/png;base64,AAA", stored.Acknowledgement.SignatureData)
}

func TestCourier_DeskOnlyOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, actor := range []string{employeeID, managerID, itTeamID, ""} {
		_, err := h.couriers.CreateVendor(ctx, actor, "DHL")
		assert.ErrorIs(t, err, ErrRoleRequired, actor)
		_, err = h.couriers.Summary(ctx, actor)
		assert.ErrorIs(t, err, ErrRoleRequired, actor)
	}

	v, err := h.couriers.CreateVendor(ctx, adminID, "DHL")
	require.NoError(t, err)
	_, err = h.couriers.CreateVendor(ctx, receptionID, "DHL")
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	_, err = h.couriers.CreateCourier(ctx, &CreateCourierRequest{
		ActorID: employeeID, TrackingNumber: "X", VendorID: v.ID, AssignedTo: employeeID,
	})
	assert.ErrorIs(t, err, ErrRoleRequired)

	_, err = h.couriers.CreateCourier(ctx, &CreateCourierRequest{
		ActorID: receptionID, TrackingNumber: "X", VendorID: "missing", AssignedTo: employeeID,
	})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	_, err = h.couriers.CreateCourier(ctx, &CreateCourierRequest{ActorID: receptionID, VendorID: v.ID, AssignedTo: employeeID})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestCourier_VisibilityAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mine := h.courier(t, employeeID)
	theirs := h.courier(t, managerID)
	_, err := h.couriers.Acknowledge(ctx, theirs.ID, managerID, "sig")
	require.NoError(t, err)

	own, err := h.couriers.ListCouriers(ctx, employeeID, repository.CourierFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	// A non-desk caller cannot widen the filter to someone else.
	own, err = h.couriers.ListCouriers(ctx, employeeID, repository.CourierFilter{AssignedTo: managerID})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	all, err := h.couriers.ListCouriers(ctx, receptionID, repository.CourierFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending := repository.CourierStatusPendingPickup
	all, err = h.couriers.ListCouriers(ctx, adminID, repository.CourierFilter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, mine.ID, all[0].ID)

	_, err = h.couriers.GetCourier(ctx, theirs.ID, employeeID)
	assert.ErrorIs(t, err, ErrRoleRequired)
	_, err = h.couriers.GetCourier(ctx, theirs.ID, receptionID)
	assert.NoError(t, err)

	sum, err := h.couriers.Summary(ctx, receptionID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.PendingPickup)
	assert.Equal(t, 1, sum.Collected)
	assert.Equal(t, map[string]int{"BlueDart": 2}, sum.ByVendor)
	assert.Equal(t, map[string]int{"2025-03": 2}, sum.ByMonth)
}

// ── assets ───────────────────────────────────────────────────────────────────

func (h *harness) asset(t *testing.T) *repository.Asset {
	t.Helper()
	a, err := h.assets.CreateAsset(context.Background(), &CreateAssetRequest{
		ActorID: adminID, Name: "ThinkPad T14", AssetType: "laptop",
	})
	require.NoError(t, err)
	return a
}

func TestAsset_IssueAndReturn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.asset(t)
	assert.Regexp(t, `^AST-[0-9A-Z]+$`, a.AssetCode)
	assert.Equal(t, repository.AssetStatusAvailable, a.Status)

	tx, err := h.assets.IssueAsset(ctx, &IssueAssetRequest{
		ActorID: adminID, AssetID: a.ID, IssuedTo: employeeID, DueDate: "2025-03-15",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusIssued, tx.Status)

	_, err = h.assets.IssueAsset(ctx, &IssueAssetRequest{
		ActorID: adminID, AssetID: a.ID, IssuedTo: managerID, DueDate: "2025-03-15",
	})
	assert.ErrorIs(t, err, ErrAssetUnavailable)

	closed, err := h.assets.ReturnAsset(ctx, &ReturnAssetRequest{ActorID: adminID, AssetID: a.ID, Condition: "Good"})
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusReturned, closed.Status)
	require.NotNil(t, closed.ReturnCondition)
	assert.Equal(t, repository.ConditionGood, *closed.ReturnCondition)

	got, err := h.assets.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusAvailable, got.Status)

	_, err = h.assets.ReturnAsset(ctx, &ReturnAssetRequest{ActorID: adminID, AssetID: a.ID, Condition: "good"})
	assert.ErrorIs(t, err, ErrAssetNotIssued)
}

func TestAsset_DamagedReturnAndRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.asset(t)

	_, err := h.assets.IssueAsset(ctx, &IssueAssetRequest{
		ActorID: adminID, AssetID: a.ID, IssuedTo: employeeID, DueDate: "2025-03-15",
	})
	require.NoError(t, err)

	_, err = h.assets.ReturnAsset(ctx, &ReturnAssetRequest{ActorID: adminID, AssetID: a.ID, Condition: "damaged"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = h.assets.ReturnAsset(ctx, &ReturnAssetRequest{
		ActorID: adminID, AssetID: a.ID, Condition: "damaged", DamageDescription: "cracked screen",
	})
	require.NoError(t, err)

	got, err := h.assets.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusDamaged, got.Status)

	_, err = h.assets.IssueAsset(ctx, &IssueAssetRequest{
		ActorID: adminID, AssetID: a.ID, IssuedTo: managerID, DueDate: "2025-03-15",
	})
	assert.ErrorIs(t, err, ErrAssetUnavailable)

	hist, err := h.assets.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, hist.Transactions, 1)
	require.Len(t, hist.Damages, 1)
	assert.Equal(t, "cracked screen", hist.Damages[0].Description)
	require.NotNil(t, hist.Damages[0].TransactionID)
	assert.Equal(t, hist.Transactions[0].ID, *hist.Damages[0].TransactionID)

	restored, err := h.assets.RestoreAsset(ctx, a.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusAvailable, restored.Status)

	_, err = h.assets.RestoreAsset(ctx, a.ID, adminID)
	assert.ErrorIs(t, err, ErrAssetNotDamaged)
}

func TestAsset_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.asset(t)

	_, err := h.assets.CreateAsset(ctx, &CreateAssetRequest{ActorID: adminID, AssetType: "laptop"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	_, err = h.assets.CreateAsset(ctx, &CreateAssetRequest{ActorID: adminID, Name: "Dup", AssetType: "x", AssetCode: a.AssetCode})
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	cases := map[string]string{
		"bad format":  "15/03/2025",
		"in the past": "2025-02-28",
	}
	for name, due := range cases {
		_, err := h.assets.IssueAsset(ctx, &IssueAssetRequest{ActorID: adminID, AssetID: a.ID, IssuedTo: employeeID, DueDate: due})
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err), name)
	}

	_, err = h.assets.ReturnAsset(ctx, &ReturnAssetRequest{ActorID: adminID, AssetID: a.ID, Condition: "shiny"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = h.assets.IssueAsset(ctx, &IssueAssetRequest{ActorID: adminID, AssetID: "missing", IssuedTo: employeeID, DueDate: "2025-03-15"})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestAsset_AdminOnlyMutations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.asset(t)

	for _, actor := range []string{employeeID, managerID, receptionID, itTeamID, ""} {
		_, err := h.assets.CreateAsset(ctx, &CreateAssetRequest{ActorID: actor, Name: "Mouse", AssetType: "peripheral"})
		assert.ErrorIs(t, err, ErrRoleRequired, actor)
		_, err = h.assets.IssueAsset(ctx, &IssueAssetRequest{ActorID: actor, AssetID: a.ID, IssuedTo: employeeID, DueDate: "2025-03-15"})
		assert.ErrorIs(t, err, ErrRoleRequired, actor)
		_, err = h.assets.ReturnAsset(ctx, &ReturnAssetRequest{ActorID: actor, AssetID: a.ID, Condition: "good"})
		assert.ErrorIs(t, err, ErrRoleRequired, actor)
		_, err = h.assets.RestoreAsset(ctx, a.ID, actor)
		assert.ErrorIs(t, err, ErrRoleRequired, actor)
	}

	list, err := h.assets.ListAssets(ctx, repository.AssetFilter{Search: "thinkpad"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAsset_MarkOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	late := h.asset(t)
	onTime := h.asset(t)

	for due, id := range map[string]string{"2025-03-05": late.ID, "2025-03-30": onTime.ID} {
		_, err := h.assets.IssueAsset(ctx, &IssueAssetRequest{ActorID: adminID, AssetID: id, IssuedTo: employeeID, DueDate: due})
		require.NoError(t, err)
	}

	h.assets.now = func() time.Time { return time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC) }
	n, err := h.assets.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.assets.GetAsset(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusOverdue, got.Status)
	got, err = h.assets.GetAsset(ctx, onTime.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusIssued, got.Status)

	n, err = h.assets.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Overdue assets can still be returned.
	_, err = h.assets.ReturnAsset(ctx, &ReturnAssetRequest{ActorID: adminID, AssetID: late.ID, Condition: "fair"})
	require.NoError(t, err)
	got, err = h.assets.GetAsset(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.AssetStatusAvailable, got.Status)
}

func TestAsset_RunOverdueSweepStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.assets.RunOverdueSweep(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("overdue sweep did not stop")
	}
}

// ── complaints ───────────────────────────────────────────────────────────────

func (h *harness) complaint(t *testing.T, category string) *repository.Complaint {
	t.Helper()
	c, err := h.complaints.CreateComplaint(context.Background(), &CreateComplaintRequest{
		ActorID: employeeID, Category: category, Description: "Wi-Fi keeps dropping",
	})
	require.NoError(t, err)
	return c
}

func TestComplaint_SubmitAssignsDepartment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]string{
		"it":          "IT",
		"maintenance": "Facilities",
		"HR":          "HR",
		"security":    "Security",
		"admin":       "Admin",
	}
	for category, dept := range cases {
		c := h.complaint(t, category)
		assert.Equal(t, dept, c.AssignedDepartment, category)
		assert.Equal(t, repository.PriorityMedium, c.Priority)
		assert.Equal(t, repository.ComplaintOpen, c.Status)

		hist, err := h.complaints.History(ctx, c.ID, employeeID)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, "submitted", hist[0].Action)
		require.NotNil(t, hist[0].Note)
		assert.Equal(t, "Complaint submitted and auto-assigned to "+dept, *hist[0].Note)
	}

	_, err := h.complaints.CreateComplaint(ctx, &CreateComplaintRequest{ActorID: employeeID, Category: "canteen", Description: "x"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	_, err = h.complaints.CreateComplaint(ctx, &CreateComplaintRequest{ActorID: employeeID, Category: "it", Priority: "urgent", Description: "x"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	_, err = h.complaints.CreateComplaint(ctx, &CreateComplaintRequest{ActorID: employeeID, Category: "it", Description: " "})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	_, err = h.complaints.CreateComplaint(ctx, &CreateComplaintRequest{Category: "it", Description: "x"})
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestComplaint_StatusFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.complaint(t, "it")

	_, err := h.complaints.UpdateStatus(ctx, &UpdateComplaintStatusRequest{ActorID: employeeID, ComplaintID: c.ID, Status: "in_progress"})
	assert.ErrorIs(t, err, ErrRoleRequired)

	got, err := h.complaints.UpdateStatus(ctx, &UpdateComplaintStatusRequest{ActorID: itTeamID, ComplaintID: c.ID, Status: "in_progress"})
	require.NoError(t, err)
	assert.Equal(t, repository.ComplaintInProgress, got.Status)

	_, err = h.complaints.UpdateStatus(ctx, &UpdateComplaintStatusRequest{ActorID: itTeamID, ComplaintID: c.ID, Status: "open"})
	assert.ErrorIs(t, err, ErrInvalidComplaintTransition)

	_, err = h.complaints.UpdateStatus(ctx, &UpdateComplaintStatusRequest{ActorID: itTeamID, ComplaintID: c.ID, Status: "closed"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	resolution := "Replaced the access point"
	got, err = h.complaints.UpdateStatus(ctx, &UpdateComplaintStatusRequest{
		ActorID: managerID, ComplaintID: c.ID, Status: "closed", ResolutionRemark: &resolution,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.ComplaintClosed, got.Status)
	require.NotNil(t, got.ResolutionRemark)
	assert.Equal(t, resolution, *got.ResolutionRemark)

	_, err = h.complaints.UpdateStatus(ctx, &UpdateComplaintStatusRequest{
		ActorID: adminID, ComplaintID: c.ID, Status: "closed", ResolutionRemark: &resolution,
	})
	assert.ErrorIs(t, err, ErrInvalidComplaintTransition)

	note, err := h.complaints.AddNote(ctx, c.ID, employeeID, "Thanks, works now")
	require.NoError(t, err)
	assert.Equal(t, "note_added", note.Action)

	hist, err := h.complaints.History(ctx, c.ID, employeeID)
	require.NoError(t, err)
	actions := make([]string, len(hist))
	for i, e := range hist {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{"submitted", "status_changed_to_in_progress", "status_changed_to_closed", "note_added"}, actions)
	require.NotNil(t, hist[2].Note)
	assert.Equal(t, resolution, *hist[2].Note)
}

func TestComplaint_OpenCanCloseDirectly(t *testing.T) {
	h := newHarness(t)
	c := h.complaint(t, "security")
	resolution := "Badge reissued"
	got, err := h.complaints.UpdateStatus(context.Background(), &UpdateComplaintStatusRequest{
		ActorID: adminID, ComplaintID: c.ID, Status: "closed", ResolutionRemark: &resolution,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.ComplaintClosed, got.Status)
}

func TestComplaint_VisibilityAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mine := h.complaint(t, "it")
	h.complaint(t, "hr")
	other, err := h.complaints.CreateComplaint(ctx, &CreateComplaintRequest{
		ActorID: accountsID, Category: "maintenance", Priority: "high", Description: "Leaking tap",
	})
	require.NoError(t, err)

	own, err := h.complaints.ListComplaints(ctx, employeeID, repository.ComplaintFilter{SubmittedBy: accountsID})
	require.NoError(t, err)
	assert.Len(t, own, 2)

	_, err = h.complaints.GetComplaint(ctx, other.ID, employeeID)
	assert.ErrorIs(t, err, ErrRoleRequired)
	_, err = h.complaints.AddNote(ctx, other.ID, employeeID, "me too")
	assert.ErrorIs(t, err, ErrRoleRequired)
	_, err = h.complaints.GetComplaint(ctx, mine.ID, itTeamID)
	assert.NoError(t, err)

	category := repository.ComplaintIT
	all, err := h.complaints.ListComplaints(ctx, managerID, repository.ComplaintFilter{Category: &category})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, mine.ID, all[0].ID)

	_, err = h.complaints.Summary(ctx, employeeID, repository.ComplaintFilter{})
	assert.ErrorIs(t, err, ErrRoleRequired)

	sum, err := h.complaints.Summary(ctx, adminID, repository.ComplaintFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, map[string]int{"open": 3}, sum.ByStatus)
	assert.Equal(t, map[string]int{"medium": 2, "high": 1}, sum.ByPriority)
	assert.Equal(t, 1, sum.ByCategory["maintenance"])

	from := baseTime.Add(time.Hour)
	sum, err = h.complaints.Summary(ctx, adminID, repository.ComplaintFilter{From: &from})
	require.NoError(t, err)
	assert.Zero(t, sum.Total)

	to := baseTime
	_, err = h.complaints.Summary(ctx, adminID, repository.ComplaintFilter{From: &from, To: &to})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}
