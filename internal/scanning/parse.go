package scanning

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// parseReceiptJSON parses a model response into ReceiptData and normalizes it
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = trimFences(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var data ReceiptData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	normalize(&data)
	return &data, nil
}

// normalize trims every field and coerces the formatted ones
func normalize(data *ReceiptData) {
	data.StoreName = strings.TrimSpace(data.StoreName)
	data.Phone = strings.TrimSpace(data.Phone)
	data.Address = strings.TrimSpace(data.Address)
	data.Time = strings.TrimSpace(data.Time)
	data.PaymentMethod = strings.TrimSpace(data.PaymentMethod)

	items := make([]string, 0, len(data.LineItems))
	for _, item := range data.LineItems {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	data.LineItems = items

	data.TotalPayment = strings.TrimSpace(data.TotalPayment)
	if data.TotalPayment != "" && !strings.HasPrefix(data.TotalPayment, "$") {
		data.TotalPayment = "$" + data.TotalPayment
	}

	data.Website = strings.TrimSpace(data.Website)
	if data.Website != "" && !strings.HasPrefix(data.Website, "http://") && !strings.HasPrefix(data.Website, "https://") {
		data.Website = "https://" + data.Website
	}

	data.ExpenseCategory = strings.ToLower(strings.TrimSpace(data.ExpenseCategory))
	if !slices.Contains(ExpenseCategories, data.ExpenseCategory) {
		data.ExpenseCategory = ""
	}

	data.Date = normalizeDate(strings.TrimSpace(data.Date))
}

// normalizeDate rewrites common date layouts to YYYY-MM-DD. Dates that cannot
// be read are left empty for the user to fill in during review.
func normalizeDate(date string) string {
	if date == "" {
		return ""
	}
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
		"Jan 2, 2006",
		"January 2, 2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
