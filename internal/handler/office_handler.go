package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

// OfficeServices groups the courier, asset and complaint services.
type OfficeServices struct {
	Couriers   *service.CourierService
	Assets     *service.AssetService
	Complaints *service.ComplaintService
}

func (h *HTTPHandler) mountOffice(r chi.Router) {
	r.Route("/couriers", func(r chi.Router) {
		r.Get("/", h.ListCouriers)
		r.Post("/", h.CreateCourier)
		r.Get("/summary", h.CourierSummary)
		r.Get("/vendors", h.ListCourierVendors)
		r.Post("/vendors", h.CreateCourierVendor)
		r.Get("/{id}", h.GetCourier)
		r.Post("/{id}/acknowledge", h.AcknowledgeCourier)
	})

	r.Route("/assets", func(r chi.Router) {
		r.Get("/", h.ListAssets)
		r.Post("/", h.CreateAsset)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetAsset)
			r.Get("/history", h.AssetHistory)
			r.Post("/issue", h.IssueAsset)
			r.Post("/return", h.ReturnAsset)
			r.Post("/restore", h.RestoreAsset)
		})
	})

	r.Route("/complaints", func(r chi.Router) {
		r.Get("/", h.ListComplaints)
		r.Post("/", h.CreateComplaint)
		r.Get("/summary", h.ComplaintSummary)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetComplaint)
			r.Patch("/status", h.UpdateComplaintStatus)
			r.Post("/notes", h.AddComplaintNote)
			r.Get("/history", h.ComplaintHistory)
		})
	})
}

// callerID resolves the authenticated user, writing the error response when
// there is none.
func (h *HTTPHandler) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, err := h.routing.CurrentIdentity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return caller.UserID, true
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.InvalidInput("body", "invalid JSON body")
	}
	return nil
}

// pageParams reads limit and offset.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = intParam(q.Get("limit")); err != nil {
		return 0, 0, errors.InvalidInput("limit", "must be an integer")
	}
	if offset, err = intParam(q.Get("offset")); err != nil {
		return 0, 0, errors.InvalidInput("offset", "must be an integer")
	}
	return limit, offset, nil
}

// ── Couriers ──────────────────────────────────────────────────────────────────

type courierBody struct {
	TrackingNumber string  `json:"tracking_number"`
	VendorID       string  `json:"vendor_id"`
	AssignedTo     string  `json:"assigned_to"`
	SlipImageURL   *string `json:"slip_image_url"`
}

// CreateCourier handles POST /couriers. Reception and admins only.
func (h *HTTPHandler) CreateCourier(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body courierBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.office.Couriers.CreateCourier(r.Context(), &service.CreateCourierRequest{
		ActorID:        actor,
		TrackingNumber: body.TrackingNumber,
		VendorID:       body.VendorID,
		AssignedTo:     body.AssignedTo,
		SlipImageURL:   body.SlipImageURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCouriers handles GET /couriers?status=&limit=&offset=
func (h *HTTPHandler) ListCouriers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	filter := repository.CourierFilter{AssignedTo: r.URL.Query().Get("assigned_to")}
	if s := r.URL.Query().Get("status"); s != "" && s != "all" {
		st, err := repository.ParseCourierStatus(s)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput("status", err.Error()))
			return
		}
		filter.Status = &st
	}
	var err error
	if filter.Limit, filter.Offset, err = pageParams(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	couriers, err := h.office.Couriers.ListCouriers(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"couriers": couriers, "count": len(couriers)})
}

// GetCourier handles GET /couriers/{id}
func (h *HTTPHandler) GetCourier(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	c, err := h.office.Couriers.GetCourier(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AcknowledgeCourier handles POST /couriers/{id}/acknowledge
func (h *HTTPHandler) AcknowledgeCourier(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		SignatureData string `json:"signature_data"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.office.Couriers.Acknowledge(r.Context(), chi.URLParam(r, "id"), actor, body.SignatureData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CourierSummary handles GET /couriers/summary
func (h *HTTPHandler) CourierSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	sum, err := h.office.Couriers.Summary(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ListCourierVendors handles GET /couriers/vendors
func (h *HTTPHandler) ListCourierVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.office.Couriers.ListVendors(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vendors": vendors})
}

// CreateCourierVendor handles POST /couriers/vendors
func (h *HTTPHandler) CreateCourierVendor(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.office.Couriers.CreateVendor(r.Context(), actor, body.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// ── Assets ────────────────────────────────────────────────────────────────────

type assetBody struct {
	AssetCode    string  `json:"asset_code"`
	Name         string  `json:"name"`
	AssetType    string  `json:"asset_type"`
	SerialNumber *string `json:"serial_number"`
	Department   *string `json:"department"`
	ImageURL     *string `json:"image_url"`
}

// CreateAsset handles POST /assets. Admin only.
func (h *HTTPHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body assetBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.office.Assets.CreateAsset(r.Context(), &service.CreateAssetRequest{
		ActorID:      actor,
		AssetCode:    body.AssetCode,
		Name:         body.Name,
		AssetType:    body.AssetType,
		SerialNumber: body.SerialNumber,
		Department:   body.Department,
		ImageURL:     body.ImageURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAssets handles GET /assets?status=&q=&limit=&offset=
func (h *HTTPHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	filter := repository.AssetFilter{Search: r.URL.Query().Get("q")}
	if s := r.URL.Query().Get("status"); s != "" && s != "all" {
		st, err := repository.ParseAssetStatus(s)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput("status", err.Error()))
			return
		}
		filter.Status = &st
	}
	var err error
	if filter.Limit, filter.Offset, err = pageParams(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	assets, err := h.office.Assets.ListAssets(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets, "count": len(assets)})
}

// GetAsset handles GET /assets/{id}
func (h *HTTPHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.office.Assets.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AssetHistory handles GET /assets/{id}/history
func (h *HTTPHandler) AssetHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.office.Assets.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

type issueBody struct {
	IssuedTo      string  `json:"issued_to"`
	DueDate       string  `json:"due_date"`
	SignatureData *string `json:"signature_data"`
}

// IssueAsset handles POST /assets/{id}/issue. Admin only.
func (h *HTTPHandler) IssueAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body issueBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.office.Assets.IssueAsset(r.Context(), &service.IssueAssetRequest{
		ActorID:       actor,
		AssetID:       chi.URLParam(r, "id"),
		IssuedTo:      body.IssuedTo,
		DueDate:       body.DueDate,
		SignatureData: body.SignatureData,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type returnBody struct {
	Condition         string  `json:"condition"`
	DamageDescription string  `json:"damage_description"`
	DamageImageURL    *string `json:"damage_image_url"`
}

// ReturnAsset handles POST /assets/{id}/return. Admin only.
func (h *HTTPHandler) ReturnAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body returnBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.office.Assets.ReturnAsset(r.Context(), &service.ReturnAssetRequest{
		ActorID:           actor,
		AssetID:           chi.URLParam(r, "id"),
		Condition:         body.Condition,
		DamageDescription: body.DamageDescription,
		DamageImageURL:    body.DamageImageURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RestoreAsset handles POST /assets/{id}/restore. Admin only.
func (h *HTTPHandler) RestoreAsset(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	a, err := h.office.Assets.RestoreAsset(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ── Complaints ────────────────────────────────────────────────────────────────

type complaintBody struct {
	Category      string  `json:"category"`
	Priority      string  `json:"priority"`
	Description   string  `json:"description"`
	AttachmentURL *string `json:"attachment_url"`
}

// CreateComplaint handles POST /complaints
func (h *HTTPHandler) CreateComplaint(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body complaintBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.office.Complaints.CreateComplaint(r.Context(), &service.CreateComplaintRequest{
		ActorID:       actor,
		Category:      body.Category,
		Priority:      body.Priority,
		Description:   body.Description,
		AttachmentURL: body.AttachmentURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// complaintFilter reads status, category and the from/to date range
// (YYYY-MM-DD, both inclusive).
func complaintFilter(r *http.Request) (repository.ComplaintFilter, error) {
	q := r.URL.Query()
	var filter repository.ComplaintFilter
	if s := q.Get("status"); s != "" && s != "all" {
		st, err := repository.ParseComplaintStatus(s)
		if err != nil {
			return filter, errors.InvalidInput("status", err.Error())
		}
		filter.Status = &st
	}
	if s := q.Get("category"); s != "" && s != "all" {
		c, err := repository.ParseComplaintCategory(s)
		if err != nil {
			return filter, errors.InvalidInput("category", err.Error())
		}
		filter.Category = &c
	}
	if s := q.Get("from"); s != "" {
		from, err := time.Parse("2006-01-02", s)
		if err != nil {
			return filter, errors.InvalidInput("from", "invalid date format, expected YYYY-MM-DD")
		}
		filter.From = &from
	}
	if s := q.Get("to"); s != "" {
		to, err := time.Parse("2006-01-02", s)
		if err != nil {
			return filter, errors.InvalidInput("to", "invalid date format, expected YYYY-MM-DD")
		}
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	var err error
	if filter.Limit, filter.Offset, err = pageParams(r); err != nil {
		return filter, err
	}
	return filter, nil
}

// ListComplaints handles GET /complaints?status=&category=&from=&to=&limit=&offset=
func (h *HTTPHandler) ListComplaints(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	filter, err := complaintFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	complaints, err := h.office.Complaints.ListComplaints(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"complaints": complaints, "count": len(complaints)})
}

// ComplaintSummary handles GET /complaints/summary?from=&to=
func (h *HTTPHandler) ComplaintSummary(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	filter, err := complaintFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sum, err := h.office.Complaints.Summary(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetComplaint handles GET /complaints/{id}
func (h *HTTPHandler) GetComplaint(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	c, err := h.office.Complaints.GetComplaint(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type complaintStatusBody struct {
	Status           string  `json:"status"`
	ResolutionRemark *string `json:"resolution_remark"`
}

// UpdateComplaintStatus handles PATCH /complaints/{id}/status
func (h *HTTPHandler) UpdateComplaintStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body complaintStatusBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.office.Complaints.UpdateStatus(r.Context(), &service.UpdateComplaintStatusRequest{
		ActorID:          actor,
		ComplaintID:      chi.URLParam(r, "id"),
		Status:           body.Status,
		ResolutionRemark: body.ResolutionRemark,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddComplaintNote handles POST /complaints/{id}/notes
func (h *HTTPHandler) AddComplaintNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.office.Complaints.AddNote(r.Context(), chi.URLParam(r, "id"), actor, body.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ComplaintHistory handles GET /complaints/{id}/history
func (h *HTTPHandler) ComplaintHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.callerID(w, r)
	if !ok {
		return
	}
	entries, err := h.office.Complaints.History(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
