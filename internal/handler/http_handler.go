package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/platform/logger"
	"github.com/pesio-ai/be-office-bills/internal/platform/middleware"
	"github.com/pesio-ai/be-office-bills/internal/repository"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

const defaultMaxUpload = 10 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	bills     *service.BillService
	routing   *service.ApprovalRoutingService
	office    OfficeServices
	log       *logger.Logger
	maxUpload int64
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	bills *service.BillService,
	routing *service.ApprovalRoutingService,
	office OfficeServices,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		bills:     bills,
		routing:   routing,
		office:    office,
		log:       log.Component("http"),
		maxUpload: defaultMaxUpload,
	}
}

// Routes builds the router. requireAuth guards every /api/v1 route.
func (h *HTTPHandler) Routes(requireAuth func(http.Handler) http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(&h.log.Logger))
	r.Use(middleware.Logger(&h.log.Logger))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(countRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireAuth)

		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/", h.CreateBill)
			r.Get("/summary", h.Summary)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBill)
				r.Delete("/", h.DeleteBill)
				r.Post("/submit", h.SubmitBill)
				r.Post("/file", h.UploadFile)
				r.Get("/approvals", h.GetApprovals)
				r.Post("/decision", h.RecordDecision)
				r.Get("/audit", h.AuditTrail)
			})
		})

		r.Get("/approvals/pending", h.PendingApprovals)

		r.Route("/approval-rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Delete("/{id}", h.DeleteRule)
		})

		h.mountOffice(r)
	})

	return r
}

// ── Bills ─────────────────────────────────────────────────────────────────────

type createBillBody struct {
	VendorName  string          `json:"vendor_name"`
	BillNumber  *string         `json:"bill_number"`
	BillDate    *string         `json:"bill_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	GSTNumber   *string         `json:"gst_number"`
	Department  *string         `json:"department"`
	FileURL     *string         `json:"file_url"`
	OCRText     *string         `json:"ocr_text"`
	Submit      bool            `json:"submit"`
}

type billResponse struct {
	Bill  *repository.Bill           `json:"bill"`
	Steps []*repository.ApprovalStep `json:"steps,omitempty"`
}

// CreateBill handles POST /bills. With "submit": true the bill goes straight
// into approval; if that fails the saved draft is returned with the error.
func (h *HTTPHandler) CreateBill(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body createBillBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON body"))
		return
	}

	bill, steps, err := h.bills.CreateBill(r.Context(), &service.CreateBillRequest{
		SubmittedBy: caller.UserID,
		VendorName:  body.VendorName,
		BillNumber:  body.BillNumber,
		BillDate:    body.BillDate,
		TotalAmount: body.TotalAmount,
		GSTNumber:   body.GSTNumber,
		Department:  body.Department,
		FileURL:     body.FileURL,
		OCRText:     body.OCRText,
		Submit:      body.Submit,
	})
	if err != nil {
		if bill != nil {
			h.writeErrorWith(w, r, err, bill)
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, billResponse{Bill: bill, Steps: steps})
}

// ListBills handles GET /bills?status=&q=&limit=&offset=
func (h *HTTPHandler) ListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.BillFilter{Search: q.Get("q")}

	if s := q.Get("status"); s != "" && s != "all" {
		st, err := repository.ParseBillStatus(s)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput("status", err.Error()))
			return
		}
		filter.Status = &st
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		h.writeError(w, r, errors.InvalidInput("limit", "must be an integer"))
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		h.writeError(w, r, errors.InvalidInput("offset", "must be an integer"))
		return
	}

	bills, err := h.bills.ListBills(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bills": bills, "count": len(bills)})
}

// Summary handles GET /bills/summary
func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.bills.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetBill handles GET /bills/{id}
func (h *HTTPHandler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.bills.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse{Bill: bill})
}

// DeleteBill handles DELETE /bills/{id}; only the owner's drafts.
func (h *HTTPHandler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.bills.DeleteDraft(r.Context(), chi.URLParam(r, "id"), caller.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitBill handles POST /bills/{id}/submit
func (h *HTTPHandler) SubmitBill(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.bills.SubmitBill(r.Context(), chi.URLParam(r, "id"), caller.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse{Bill: res.Bill, Steps: res.Steps})
}

// UploadFile handles POST /bills/{id}/file (multipart field "file").
func (h *HTTPHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.writeError(w, r, errors.InvalidInput("file", "invalid or oversized multipart body"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("file", "file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	bill, err := h.bills.AttachFile(r.Context(), chi.URLParam(r, "id"), caller.UserID,
		header.Filename, contentType, file, header.Size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse{Bill: bill})
}

// AuditTrail handles GET /bills/{id}/audit
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.bills.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ── Approvals ─────────────────────────────────────────────────────────────────

// GetApprovals handles GET /bills/{id}/approvals: the chain plus whether the
// caller may act on it now.
func (h *HTTPHandler) GetApprovals(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	billID := chi.URLParam(r, "id")

	steps, err := h.routing.GetChain(r.Context(), billID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	canAct, err := h.routing.CanAct(r.Context(), caller.UserID, billID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps, "can_act": canAct})
}

type decisionBody struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// RecordDecision handles POST /bills/{id}/decision. An Idempotency-Key
// header makes retries safe.
func (h *HTTPHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON body"))
		return
	}
	decision, err := repository.ParseDecision(strings.ToLower(body.Decision))
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("decision", "decision must be approve or reject"))
		return
	}

	res, err := h.routing.RecordDecision(r.Context(), service.DecisionRequest{
		BillID:         chi.URLParam(r, "id"),
		ActorID:        caller.UserID,
		Decision:       decision,
		Comment:        strings.TrimSpace(body.Comment),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PendingApprovals handles GET /approvals/pending
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	steps, err := h.routing.PendingForApprover(r.Context(), caller.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps, "count": len(steps)})
}

// ── Rules ─────────────────────────────────────────────────────────────────────

type ruleBody struct {
	MinAmount      decimal.Decimal  `json:"min_amount"`
	MaxAmount      *decimal.Decimal `json:"max_amount"`
	ApprovalLevels []string         `json:"approval_levels"`
}

// ListRules handles GET /approval-rules
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.bills.ListRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// CreateRule handles POST /approval-rules. Admin only.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid JSON body"))
		return
	}
	rule, err := h.bills.CreateRule(r.Context(), &service.CreateRuleRequest{
		ActorID:   caller.UserID,
		MinAmount: body.MinAmount,
		MaxAmount: body.MaxAmount,
		Levels:    body.ApprovalLevels,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule handles DELETE /approval-rules/{id}. Admin only.
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.bills.DeleteRule(r.Context(), chi.URLParam(r, "id"), caller.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error  string           `json:"error"`
	Code   errors.Code      `json:"code"`
	Reason string           `json:"reason,omitempty"`
	Field  string           `json:"field,omitempty"`
	Bill   *repository.Bill `json:"bill,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorWith(w, r, err, nil)
}

func (h *HTTPHandler) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, bill *repository.Bill) {
	status := errors.HTTPStatus(err)
	resp := errorResponse{
		Error:  err.Error(),
		Code:   errors.CodeOf(err),
		Reason: errors.ReasonOf(err),
		Bill:   bill,
	}
	resp.Field = errorField(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			resp.Error = "internal server error"
		}
	}
	writeJSON(w, status, resp)
}

func errorField(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Field
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
