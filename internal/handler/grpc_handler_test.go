package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

func newGRPCClient(t *testing.T, ts *testServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(AuthInterceptor(ts.verifier)))
	NewGRPCHandler(ts.routing, zerolog.Nop()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, ts *testServer, userID, method string, in map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if userID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+ts.token(t, userID))
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ApprovalServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_DecisionFlow(t *testing.T) {
	ts := newTestServer(t)
	conn := newGRPCClient(t, ts)

	resp, body := ts.do(t, "POST", "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name": "Acme", "total_amount": "25000",
	})
	require.Equal(t, 201, resp.StatusCode)
	billID := body["bill"].(map[string]interface{})["id"].(string)

	out, err := invoke(t, conn, ts, employeeID, "SubmitBill", map[string]interface{}{"bill_id": billID})
	require.NoError(t, err)
	assert.Len(t, out.GetFields()["steps"].GetListValue().GetValues(), 2)

	_, err = invoke(t, conn, ts, "", "CanAct", map[string]interface{}{"bill_id": billID, "user_id": managerID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err = invoke(t, conn, ts, managerID, "CanAct", map[string]interface{}{"bill_id": billID})
	require.NoError(t, err)
	assert.True(t, out.GetFields()["can_act"].GetBoolValue())

	out, err = invoke(t, conn, ts, managerID, "RecordDecision", map[string]interface{}{
		"bill_id": billID, "decision": "approve", "idempotency_key": "g-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.GetFields()["bill_status"].GetStringValue())
	assert.Equal(t, mdID, out.GetFields()["next_approver_id"].GetStringValue())

	_, err = invoke(t, conn, ts, managerID, "RecordDecision", map[string]interface{}{
		"bill_id": billID, "decision": "approve",
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err = invoke(t, conn, ts, mdID, "RecordDecision", map[string]interface{}{
		"bill_id": billID, "decision": "REJECT", "comment": "over budget",
	})
	require.NoError(t, err)
	assert.Equal(t, "rejected", out.GetFields()["bill_status"].GetStringValue())

	out, err = invoke(t, conn, ts, mdID, "GetChain", map[string]interface{}{"bill_id": billID})
	require.NoError(t, err)
	steps := out.GetFields()["steps"].GetListValue().GetValues()
	require.Len(t, steps, 2)
	assert.Equal(t, "approved", steps[0].GetStructValue().GetFields()["status"].GetStringValue())
	assert.Equal(t, "rejected", steps[1].GetStructValue().GetFields()["status"].GetStringValue())
	assert.Equal(t, "over budget", steps[1].GetStructValue().GetFields()["comments"].GetStringValue())
}

func TestGRPC_InvalidArguments(t *testing.T) {
	ts := newTestServer(t)
	conn := newGRPCClient(t, ts)

	_, err := invoke(t, conn, ts, managerID, "GetChain", map[string]interface{}{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, ts, managerID, "RecordDecision", map[string]interface{}{
		"bill_id": "b-1", "decision": "defer",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, ts, managerID, "GetChain", map[string]interface{}{"bill_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"invalid", errors.InvalidInput("x", "bad"), codes.InvalidArgument},
		{"not found", errors.NotFound("bill", "b"), codes.NotFound},
		{"stale", service.ErrStaleApprovalState, codes.Aborted},
		{"forbidden", service.ErrNoPendingApprovalForActor, codes.PermissionDenied},
		{"precondition", service.ErrNoMatchingRule, codes.FailedPrecondition},
		{"unavailable", errors.New(errors.ErrCodeUnavailable, "db down"), codes.Unavailable},
		{"plain", assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)))
		})
	}
	assert.NoError(t, mapErrorToGRPC(nil))

	st, _ := status.FromError(mapErrorToGRPC(service.ErrStaleApprovalState))
	assert.Contains(t, st.Message(), "STALE_APPROVAL_STATE")
}
