package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-office-bills/internal/repository"
)

func newBill(t *testing.T, s *Store) *repository.Bill {
	t.Helper()
	b := &repository.Bill{
		VendorName:  "Acme",
		TotalAmount: decimal.NewFromInt(100),
		Status:      repository.BillStatusDraft,
		SubmittedBy: "u-1",
	}
	require.NoError(t, s.Create(context.Background(), b))
	return b
}

func TestSetFileURL_WaitsForOpenTransaction(t *testing.T) {
	s := New()
	bill := newBill(t, s)
	ctx := context.Background()

	done := make(chan error, 1)
	err := s.InBillTx(ctx, bill.ID, func(tx repository.BillTx) error {
		ok, err := tx.TransitionBill(ctx, repository.BillTransition{
			From: repository.BillStatusDraft, To: repository.BillStatusPendingApproval, Level: 1,
		})
		require.NoError(t, err)
		require.True(t, ok)

		go func() { done <- s.SetFileURL(ctx, bill.ID, "https://files.test/a.png") }()
		select {
		case <-done:
			t.Fatal("SetFileURL finished while the bill transaction held the bill")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, <-done)

	got, err := s.GetByID(ctx, bill.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FileURL)
	assert.Equal(t, "https://files.test/a.png", *got.FileURL)
	assert.Equal(t, repository.BillStatusPendingApproval, got.Status)
}

func TestSetFileURL_UnknownBill(t *testing.T) {
	s := New()
	err := s.SetFileURL(context.Background(), "missing", "x")
	assert.Error(t, err)
}

func TestInBillTx_RollbackDropsWrites(t *testing.T) {
	s := New()
	bill := newBill(t, s)
	ctx := context.Background()

	s.InjectFault(FaultCommit, assert.AnError)
	err := s.InBillTx(ctx, bill.ID, func(tx repository.BillTx) error {
		_, err := tx.TransitionBill(ctx, repository.BillTransition{
			From: repository.BillStatusDraft, To: repository.BillStatusApproved,
		})
		return err
	})
	require.Error(t, err)

	got, err := s.GetByID(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.BillStatusDraft, got.Status)
}

func TestRolesOf(t *testing.T) {
	s := New()
	s.AssignRole(repository.RoleManager, repository.Identity{UserID: "u-1"})
	s.AssignRole(repository.RoleAdmin, repository.Identity{UserID: "u-1"})
	s.AssignRole(repository.RoleMD, repository.Identity{UserID: "u-2"})

	roles, err := s.RolesOf(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []repository.Role{repository.RoleAdmin, repository.RoleManager}, roles)

	roles, err = s.RolesOf(context.Background(), "u-9")
	require.NoError(t, err)
	assert.Empty(t, roles)
}
