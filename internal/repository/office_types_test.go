package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplaintStatus_CanMoveTo(t *testing.T) {
	cases := []struct {
		from, to ComplaintStatus
		want     bool
	}{
		{ComplaintOpen, ComplaintInProgress, true},
		{ComplaintOpen, ComplaintClosed, true},
		{ComplaintInProgress, ComplaintClosed, true},
		{ComplaintOpen, ComplaintOpen, false},
		{ComplaintInProgress, ComplaintOpen, false},
		{ComplaintClosed, ComplaintInProgress, false},
		{ComplaintClosed, ComplaintClosed, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.from.CanMoveTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestComplaintCategory_Department(t *testing.T) {
	assert.Equal(t, "Facilities", ComplaintMaintenance.Department())
	assert.Equal(t, "Admin", ComplaintCategory("unknown").Department())

	_, err := ParseComplaintCategory("canteen")
	assert.Error(t, err)
}

func TestAssetStatus_IsOut(t *testing.T) {
	assert.True(t, AssetStatusIssued.IsOut())
	assert.True(t, AssetStatusOverdue.IsOut())
	assert.False(t, AssetStatusAvailable.IsOut())
	assert.False(t, AssetStatusDamaged.IsOut())
}

func TestComplaintWhere(t *testing.T) {
	where, args := complaintWhere(ComplaintFilter{})
	assert.Equal(t, " WHERE 1 = 1", where)
	assert.Empty(t, args)

	st := ComplaintClosed
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	where, args = complaintWhere(ComplaintFilter{Status: &st, SubmittedBy: "u-1", From: &from})
	require.Len(t, args, 3)
	assert.Equal(t,
		" WHERE 1 = 1 AND c.status = $1::complaint_status AND c.submitted_by = $2 AND c.created_at >= $3",
		where)
	assert.Equal(t, []interface{}{ComplaintClosed, "u-1", from}, args)
}
