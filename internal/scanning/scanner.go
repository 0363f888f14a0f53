package scanning

import "context"

// ExpenseCategories are the categories a receipt may be filed under. The
// empty string means uncategorized.
var ExpenseCategories = []string{
	"travel",
	"meals",
	"office supplies",
	"entertainment",
	"training",
	"transportation",
	"",
}

// ReceiptData contains the structured fields extracted from receipt text
type ReceiptData struct {
	StoreName       string   `json:"store_name"`
	Phone           string   `json:"phone"`
	Website         string   `json:"website"`
	Address         string   `json:"address"`
	Date            string   `json:"date"` // YYYY-MM-DD
	Time            string   `json:"time"` // HH:MM, 24-hour
	LineItems       []string `json:"line_items"`
	TotalPayment    string   `json:"total_payment"` // $XX.XX
	PaymentMethod   string   `json:"payment_method"`
	ExpenseCategory string   `json:"expense_category"`
}

// Message is one turn of an assistant conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is a question about a set of receipts
type ChatRequest struct {
	Question   string
	History    []Message
	KnownUsers []string
	// Context is the JSON encoding of the receipts the asker may see.
	Context string
}

// Extractor reads the text of a receipt image or PDF
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}

// Parser turns OCR text into structured receipt fields
type Parser interface {
	ParseReceipt(ctx context.Context, text string) (*ReceiptData, error)
}

// Assistant answers natural-language questions about receipts
type Assistant interface {
	Answer(ctx context.Context, req ChatRequest) (string, error)
}

// Scanner is a model provider that can do all three jobs
type Scanner interface {
	Extractor
	Parser
	Assistant
	// Close closes the scanner and releases resources
	Close() error
}
