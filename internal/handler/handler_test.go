package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-office-bills/internal/platform/auth"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/repository"
	"github.com/pesio-ai/be-office-bills/internal/repository/memstore"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

const (
	employeeID  = "u-employee"
	managerID   = "u-manager"
	mdID        = "u-md"
	outsiderID  = "u-outsider"
	adminID     = "u-admin"
	receptionID = "u-reception"
	itTeamID    = "u-it"
)

type fakeFiles struct {
	keys []string
}

func (f *fakeFiles) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	return "https://files.test/" + key, nil
}

type testServer struct {
	store    *memstore.Store
	routing  *service.ApprovalRoutingService
	bills    *service.BillService
	verifier *auth.Verifier
	files    *fakeFiles
	srv      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	store.AssignRole(repository.RoleManager, repository.Identity{UserID: managerID, FullName: "Mira Manager"})
	store.AssignRole(repository.RoleMD, repository.Identity{UserID: mdID, FullName: "Dev Director"})
	store.AssignRole(repository.RoleAdmin, repository.Identity{UserID: adminID, FullName: "Ada Admin"})
	store.AssignRole(repository.RoleReception, repository.Identity{UserID: receptionID, FullName: "Rae Reception"})
	store.AssignRole(repository.RoleITTeam, repository.Identity{UserID: itTeamID, FullName: "Ivy IT"})

	small := decimal.NewFromInt(10000)
	store.PutRule(&repository.ApprovalRule{
		ID: "rule-small", MinAmount: decimal.Zero, MaxAmount: &small,
		ApprovalLevels: []repository.Role{repository.RoleManager},
		CreatedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	store.PutRule(&repository.ApprovalRule{
		ID: "rule-large", MinAmount: small,
		ApprovalLevels: []repository.Role{repository.RoleManager, repository.RoleMD},
		CreatedAt:      time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})

	log := logger.Nop()
	routing := service.NewApprovalRoutingService(store, store, store, nil, log,
		service.WithIdempotencyStore(memstore.NewIdempotencyStore(time.Hour)))
	files := &fakeFiles{}
	bills := service.NewBillService(store, store, store, files, routing, log)
	verifier := auth.NewVerifier("test-secret", "", "")

	office := OfficeServices{
		Couriers:   service.NewCourierService(store, store, log),
		Assets:     service.NewAssetService(store, store, log),
		Complaints: service.NewComplaintService(store, store, log),
	}

	h := NewHTTPHandler(bills, routing, office, log)
	srv := httptest.NewServer(h.Routes(verifier.Middleware, []string{"*"}))
	t.Cleanup(srv.Close)

	return &testServer{store: store, routing: routing, bills: bills, verifier: verifier, files: files, srv: srv}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.verifier.Issue(userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func (ts *testServer) createSubmitted(t *testing.T, amount string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name":  "Acme Stationery",
		"total_amount": amount,
		"submit":       true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["bill"].(map[string]interface{})["id"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPI_RequiresToken(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/api/v1/bills", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateBill_SubmitBuildsChain(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name":  "Acme Stationery",
		"total_amount": "50000",
		"submit":       true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	bill := body["bill"].(map[string]interface{})
	assert.Equal(t, "pending", bill["status"])
	assert.EqualValues(t, 1, bill["current_approval_level"])

	steps := body["steps"].([]interface{})
	require.Len(t, steps, 2)
	first := steps[0].(map[string]interface{})
	second := steps[1].(map[string]interface{})
	assert.Equal(t, managerID, first["approver_id"])
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, mdID, second["approver_id"])
	assert.Equal(t, "draft", second["status"])
}

func TestCreateBill_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name":  "Acme",
		"total_amount": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Equal(t, "INVALID_AMOUNT", body["reason"])
	assert.Equal(t, "total_amount", body["field"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name":  " ",
		"total_amount": "10",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "vendor_name", body["field"])
}

func TestDecision_FullApprovalFlow(t *testing.T) {
	ts := newTestServer(t)
	billID := ts.createSubmitted(t, "50000")

	resp, body := ts.do(t, http.MethodGet, "/api/v1/bills/"+billID+"/approvals", managerID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["can_act"])

	resp, body = ts.do(t, http.MethodGet, "/api/v1/bills/"+billID+"/approvals", mdID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["can_act"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", managerID,
		map[string]string{"decision": "approve", "comment": "ok"}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "pending", body["bill_status"])
	assert.EqualValues(t, 2, body["current_approval_level"])
	assert.Equal(t, mdID, body["next_approver_id"])
	assert.Nil(t, body["replayed"])

	// same key replays the stored result
	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", managerID,
		map[string]string{"decision": "approve", "comment": "ok"}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["replayed"])

	// same key with a different decision is a conflict, not a replay
	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", managerID,
		map[string]string{"decision": "reject"}, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusConflict, resp.StatusCode, body)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", body["reason"])

	resp, body = ts.do(t, http.MethodGet, "/api/v1/approvals/pending", mdID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", mdID,
		map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "approved", body["bill_status"])

	resp, body = ts.do(t, http.MethodGet, "/api/v1/bills/"+billID+"/audit", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var actions []string
	for _, e := range body["entries"].([]interface{}) {
		actions = append(actions, e.(map[string]interface{})["action"].(string))
	}
	assert.Equal(t, []string{"bill_created", "bill_submitted", "approval_step_approved", "bill_approved"}, actions)
}

func TestDecision_Errors(t *testing.T) {
	ts := newTestServer(t)
	billID := ts.createSubmitted(t, "500")

	resp, body := ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", outsiderID,
		map[string]string{"decision": "approve"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NO_PENDING_APPROVAL_FOR_ACTOR", body["reason"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", managerID,
		map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "decision", body["field"])

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/bills/missing/decision", managerID,
		map[string]string{"decision": "approve"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", managerID,
		map[string]string{"decision": "reject", "comment": "duplicate"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "rejected", body["bill_status"])

	// terminal bill: nobody holds a pending step
	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+billID+"/decision", managerID,
		map[string]string{"decision": "approve"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NO_PENDING_APPROVAL_FOR_ACTOR", body["reason"])
}

func TestListAndSummary(t *testing.T) {
	ts := newTestServer(t)
	ts.createSubmitted(t, "500")
	resp, _ := ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name": "Zeta Travels", "total_amount": "1200.50",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/v1/bills?status=draft", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = ts.do(t, http.MethodGet, "/api/v1/bills?q=acme", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/bills?status=bogus", employeeID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/bills/summary", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["draft"])
	assert.EqualValues(t, 1, body["pending"])
}

func TestSubmitAndDeleteDraft(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name": "Acme", "total_amount": "900",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	draftID := body["bill"].(map[string]interface{})["id"].(string)

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/bills/"+draftID, managerID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/api/v1/bills/"+draftID+"/submit", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Len(t, body["steps"], 1)

	resp, body = ts.do(t, http.MethodDelete, "/api/v1/bills/"+draftID, employeeID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BILL_NOT_DRAFT", body["reason"])
}

func TestUploadFile(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/v1/bills", employeeID, map[string]interface{}{
		"vendor_name": "Acme", "total_amount": "900",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	billID := body["bill"].(map[string]interface{})["id"].(string)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "receipt.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake-image"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/v1/bills/"+billID+"/file", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.token(t, employeeID))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Len(t, ts.files.keys, 1)
	assert.Regexp(t, `^u-employee/\d+\.png$`, ts.files.keys[0])

	bill, err := ts.store.GetByID(context.Background(), billID)
	require.NoError(t, err)
	require.NotNil(t, bill.FileURL)
	assert.Equal(t, "https://files.test/"+ts.files.keys[0], *bill.FileURL)
}

func TestApprovalRules(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/approval-rules", adminID, map[string]interface{}{
		"min_amount": "100000", "approval_levels": []string{"manager", "md", "accounts"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["id"].(string)

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/approval-rules", adminID, map[string]interface{}{
		"min_amount": "10", "approval_levels": []string{"janitor"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/approval-rules", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["rules"], 3)

	resp, _ = ts.do(t, http.MethodDelete, "/api/v1/approval-rules/"+id, adminID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/v1/approval-rules", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["rules"], 2)
}

func TestApprovalRules_AdminOnly(t *testing.T) {
	ts := newTestServer(t)

	for _, user := range []string{employeeID, managerID, mdID} {
		resp, body := ts.do(t, http.MethodPost, "/api/v1/approval-rules", user, map[string]interface{}{
			"min_amount": "0", "approval_levels": []string{"employee"},
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, user)
		assert.Equal(t, "ADMIN_ROLE_REQUIRED", body["reason"])

		resp, _ = ts.do(t, http.MethodDelete, "/api/v1/approval-rules/rule-small", user, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, user)
	}

	resp, body := ts.do(t, http.MethodGet, "/api/v1/approval-rules", employeeID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["rules"], 2, "rules are unchanged")
}
