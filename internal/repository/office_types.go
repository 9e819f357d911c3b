package repository

import (
	"fmt"
	"time"
)

// ── Couriers ─────────────────────────────────────────────────────────────────

// CourierStatus tracks a parcel from the front desk to its recipient.
type CourierStatus string

const (
	CourierStatusPendingPickup CourierStatus = "pending_pickup"
	CourierStatusCollected     CourierStatus = "collected"
)

// ParseCourierStatus validates a courier status string.
func ParseCourierStatus(s string) (CourierStatus, error) {
	switch st := CourierStatus(s); st {
	case CourierStatusPendingPickup, CourierStatusCollected:
		return st, nil
	}
	return "", fmt.Errorf("unknown courier status %q", s)
}

// CourierVendor is a delivery company.
type CourierVendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Courier is a parcel logged at reception for an employee.
type Courier struct {
	ID              string                  `json:"id"`
	TrackingNumber  string                  `json:"tracking_number"`
	VendorID        string                  `json:"vendor_id"`
	VendorName      string                  `json:"vendor_name,omitempty"`
	AssignedTo      string                  `json:"assigned_to"`
	CreatedBy       string                  `json:"created_by"`
	SlipImageURL    *string                 `json:"slip_image_url,omitempty"`
	Status          CourierStatus           `json:"status"`
	Acknowledgement *CourierAcknowledgement `json:"acknowledgement,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// CourierAcknowledgement is the recipient's signed receipt.
type CourierAcknowledgement struct {
	ID             string    `json:"id"`
	CourierID      string    `json:"courier_id"`
	AcknowledgedBy string    `json:"acknowledged_by"`
	SignatureData  string    `json:"signature_data"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// CourierFilter narrows courier listings.
type CourierFilter struct {
	Status     *CourierStatus
	AssignedTo string
	Limit      int
	Offset     int
}

// CourierSummary backs the courier dashboard.
type CourierSummary struct {
	Total         int            `json:"total"`
	PendingPickup int            `json:"pending_pickup"`
	Collected     int            `json:"collected"`
	ByVendor      map[string]int `json:"by_vendor"`
	ByMonth       map[string]int `json:"by_month"` // YYYY-MM
}

// ── Assets ───────────────────────────────────────────────────────────────────

// AssetStatus is shared by assets and their issue transactions.
type AssetStatus string

const (
	AssetStatusAvailable AssetStatus = "available"
	AssetStatusIssued    AssetStatus = "issued"
	AssetStatusReturned  AssetStatus = "returned"
	AssetStatusOverdue   AssetStatus = "overdue"
	AssetStatusDamaged   AssetStatus = "damaged"
)

// ParseAssetStatus validates an asset status string.
func ParseAssetStatus(s string) (AssetStatus, error) {
	switch st := AssetStatus(s); st {
	case AssetStatusAvailable, AssetStatusIssued, AssetStatusReturned, AssetStatusOverdue, AssetStatusDamaged:
		return st, nil
	}
	return "", fmt.Errorf("unknown asset status %q", s)
}

// IsOut reports whether the asset is with an employee.
func (s AssetStatus) IsOut() bool {
	return s == AssetStatusIssued || s == AssetStatusOverdue
}

// ReturnCondition is recorded when an asset comes back.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "good"
	ConditionFair    ReturnCondition = "fair"
	ConditionDamaged ReturnCondition = "damaged"
)

// ParseReturnCondition validates a return condition.
func ParseReturnCondition(s string) (ReturnCondition, error) {
	switch c := ReturnCondition(s); c {
	case ConditionGood, ConditionFair, ConditionDamaged:
		return c, nil
	}
	return "", fmt.Errorf("unknown return condition %q", s)
}

// Asset is a piece of company equipment.
type Asset struct {
	ID           string      `json:"id"`
	AssetCode    string      `json:"asset_code"`
	Name         string      `json:"name"`
	AssetType    string      `json:"asset_type"`
	SerialNumber *string     `json:"serial_number,omitempty"`
	Department   *string     `json:"department,omitempty"`
	ImageURL     *string     `json:"image_url,omitempty"`
	Status       AssetStatus `json:"status"`
	CreatedBy    string      `json:"created_by"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// AssetTransaction is one issue of an asset and, once closed, its return.
type AssetTransaction struct {
	ID              string           `json:"id"`
	AssetID         string           `json:"asset_id"`
	IssuedTo        string           `json:"issued_to"`
	IssuedBy        string           `json:"issued_by"`
	IssueDate       time.Time        `json:"issue_date"`
	DueDate         string           `json:"due_date"` // YYYY-MM-DD
	SignatureData   *string          `json:"signature_data,omitempty"`
	Status          AssetStatus      `json:"status"`
	ReturnDate      *time.Time       `json:"return_date,omitempty"`
	ReturnCondition *ReturnCondition `json:"return_condition,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// DamageReport records damage found on an asset.
type DamageReport struct {
	ID            string    `json:"id"`
	AssetID       string    `json:"asset_id"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	ReportedBy    string    `json:"reported_by"`
	Description   string    `json:"description"`
	ImageURL      *string   `json:"image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AssetReturn closes the active transaction of an asset.
type AssetReturn struct {
	AssetID    string
	Condition  ReturnCondition
	ReturnedAt time.Time
	// AssetStatus is what the asset becomes after the return.
	AssetStatus AssetStatus
	Damage      *DamageReport
}

// AssetFilter narrows asset listings.
type AssetFilter struct {
	Status *AssetStatus
	Search string // name or asset code, case-insensitive
	Limit  int
	Offset int
}

// ── Complaints ───────────────────────────────────────────────────────────────

// ComplaintCategory routes a complaint to a department.
type ComplaintCategory string

const (
	ComplaintIT          ComplaintCategory = "it"
	ComplaintMaintenance ComplaintCategory = "maintenance"
	ComplaintHR          ComplaintCategory = "hr"
	ComplaintSecurity    ComplaintCategory = "security"
	ComplaintAdmin       ComplaintCategory = "admin"
)

var categoryDepartments = map[ComplaintCategory]string{
	ComplaintIT:          "IT",
	ComplaintMaintenance: "Facilities",
	ComplaintHR:          "HR",
	ComplaintSecurity:    "Security",
	ComplaintAdmin:       "Admin",
}

// ParseComplaintCategory validates a category string.
func ParseComplaintCategory(s string) (ComplaintCategory, error) {
	c := ComplaintCategory(s)
	if _, ok := categoryDepartments[c]; !ok {
		return "", fmt.Errorf("unknown complaint category %q", s)
	}
	return c, nil
}

// Department is the team a new complaint in this category is assigned to.
func (c ComplaintCategory) Department() string {
	if d, ok := categoryDepartments[c]; ok {
		return d
	}
	return "Admin"
}

// ComplaintPriority is set by the submitter.
type ComplaintPriority string

const (
	PriorityLow    ComplaintPriority = "low"
	PriorityMedium ComplaintPriority = "medium"
	PriorityHigh   ComplaintPriority = "high"
)

// ParseComplaintPriority validates a priority string.
func ParseComplaintPriority(s string) (ComplaintPriority, error) {
	switch p := ComplaintPriority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("unknown complaint priority %q", s)
}

// ComplaintStatus is the lifecycle of a complaint.
type ComplaintStatus string

const (
	ComplaintOpen       ComplaintStatus = "open"
	ComplaintInProgress ComplaintStatus = "in_progress"
	ComplaintClosed     ComplaintStatus = "closed"
)

// ParseComplaintStatus validates a complaint status string.
func ParseComplaintStatus(s string) (ComplaintStatus, error) {
	switch st := ComplaintStatus(s); st {
	case ComplaintOpen, ComplaintInProgress, ComplaintClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown complaint status %q", s)
}

// CanMoveTo reports whether from -> to is a forward transition.
func (s ComplaintStatus) CanMoveTo(to ComplaintStatus) bool {
	switch s {
	case ComplaintOpen:
		return to == ComplaintInProgress || to == ComplaintClosed
	case ComplaintInProgress:
		return to == ComplaintClosed
	}
	return false
}

// Complaint is an employee-raised issue.
type Complaint struct {
	ID                 string            `json:"id"`
	SubmittedBy        string            `json:"submitted_by"`
	Category           ComplaintCategory `json:"category"`
	Priority           ComplaintPriority `json:"priority"`
	Description        string            `json:"description"`
	AttachmentURL      *string           `json:"attachment_url,omitempty"`
	Status             ComplaintStatus   `json:"status"`
	ResolutionRemark   *string           `json:"resolution_remark,omitempty"`
	AssignedDepartment string            `json:"assigned_department"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// ComplaintHistory is one entry of a complaint's timeline.
type ComplaintHistory struct {
	ID          string    `json:"id"`
	ComplaintID string    `json:"complaint_id"`
	Action      string    `json:"action"`
	Note        *string   `json:"note,omitempty"`
	PerformedBy string    `json:"performed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ComplaintTransition is a compare-and-set status update.
type ComplaintTransition struct {
	ComplaintID string
	From        ComplaintStatus
	To          ComplaintStatus
	Resolution  *string
}

// ComplaintFilter narrows complaint listings. From and To bound created_at.
type ComplaintFilter struct {
	Status      *ComplaintStatus
	Category    *ComplaintCategory
	SubmittedBy string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// ComplaintSummary backs the complaint dashboard.
type ComplaintSummary struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByCategory map[string]int `json:"by_category"`
	ByPriority map[string]int `json:"by_priority"`
}
