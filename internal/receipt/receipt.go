package receipt

import (
	"slices"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/apperr"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// ProcessedAtLayout is the layout of Receipt.ProcessedAt. Parsing also
// accepts timestamps without the fractional part.
const (
	ProcessedAtLayout = "2006-01-02T15:04:05.000000"
	processedAtParse  = "2006-01-02T15:04:05.999999"
)

// Status is the review state of a saved receipt
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Statuses lists every status a receipt may hold
var Statuses = []Status{StatusSubmitted, StatusApproved, StatusRejected}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Receipt is an expense receipt. Within its owner's collection it is
// identified by ProcessedAt.
type Receipt struct {
	StoreName       string   `json:"store_name"`
	Phone           string   `json:"phone"`
	Website         string   `json:"website"`
	Address         string   `json:"address"`
	Date            string   `json:"date"`
	Time            string   `json:"time"`
	LineItems       []string `json:"line_items"`
	TotalPayment    string   `json:"total_payment"`
	PaymentMethod   string   `json:"payment_method"`
	ExpenseCategory string   `json:"expense_category"`
	ImageFilename   string   `json:"image_filename"`
	ProcessedAt     string   `json:"processed_at,omitempty"`
	Status          Status   `json:"status"`
}

// OwnedReceipt is a receipt tagged with the username of its owner
type OwnedReceipt struct {
	Username string `json:"username"`
	Receipt
}

// Draft records an upload that has been extracted but not yet saved. It is
// consumed when the receipt is saved.
type Draft struct {
	ImageFilename string    `json:"image_filename"`
	Owner         string    `json:"owner"`
	ContentType   string    `json:"content_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// fromReceiptData builds a staged receipt from extracted fields
func fromReceiptData(data *scanning.ReceiptData, imageFilename string) *Receipt {
	items := data.LineItems
	if items == nil {
		items = []string{}
	}
	return &Receipt{
		StoreName:       data.StoreName,
		Phone:           data.Phone,
		Website:         data.Website,
		Address:         data.Address,
		Date:            data.Date,
		Time:            data.Time,
		LineItems:       items,
		TotalPayment:    data.TotalPayment,
		PaymentMethod:   data.PaymentMethod,
		ExpenseCategory: data.ExpenseCategory,
		ImageFilename:   imageFilename,
		Status:          StatusSubmitted,
	}
}

// Validate checks a receipt before it is written to the store
func (r *Receipt) Validate() error {
	if r.ImageFilename == "" {
		return apperr.Validation("image_filename is required")
	}
	if _, err := ParseProcessedAt(r.ProcessedAt); err != nil {
		return apperr.Validation("Invalid processed_at: %q", r.ProcessedAt)
	}
	if !r.Status.Valid() {
		return apperr.Validation("Invalid status: %q", r.Status)
	}
	r.ExpenseCategory = strings.TrimSpace(r.ExpenseCategory)
	if !slices.Contains(scanning.ExpenseCategories, r.ExpenseCategory) {
		return apperr.Validation("Invalid expense_category: %q", r.ExpenseCategory)
	}
	if r.LineItems == nil {
		r.LineItems = []string{}
	}
	return nil
}

// ParseProcessedAt parses a ProcessedAt value
func ParseProcessedAt(s string) (time.Time, error) {
	return time.Parse(processedAtParse, s)
}
