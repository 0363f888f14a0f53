// Package report renders expense reports as PDF documents.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// Row is one receipt line in a report.
type Row struct {
	Username  string
	Date      string
	StoreName string
	Category  string
	Status    string
	Total     string // as stored, e.g. "$12.50"
}

// Renderer turns report rows into a document.
type Renderer interface {
	Render(title string, rows []Row) ([]byte, error)
}

// PDF renders reports with fpdf.
type PDF struct {
	now func() time.Time
}

// NewPDF creates a PDF renderer.
func NewPDF() *PDF {
	return &PDF{now: time.Now}
}

var columns = []struct {
	title string
	width float64
	align string
}{
	{"User", 28, "L"},
	{"Date", 24, "L"},
	{"Store", 52, "L"},
	{"Category", 30, "L"},
	{"Status", 22, "L"},
	{"Total", 24, "R"},
}

// Render lays rows out in a table grouped by user, in the order given, with a
// subtotal per user and a grand total. Totals that cannot be parsed count as
// zero and are marked with an asterisk.
func (p *PDF) Render(title string, rows []Row) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetTitle(title, true)
	doc.SetMargins(10, 12, 10)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 16)
	doc.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(0, 6, "Generated "+p.now().Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	doc.Ln(4)

	header := func() {
		doc.SetFont("Helvetica", "B", 9)
		doc.SetFillColor(230, 230, 230)
		for _, c := range columns {
			doc.CellFormat(c.width, 7, c.title, "1", 0, c.align, true, 0, "")
		}
		doc.Ln(-1)
		doc.SetFont("Helvetica", "", 9)
	}
	header()

	grand := decimal.Zero
	subtotal := decimal.Zero
	unparsed := false
	current := ""

	flush := func() {
		if current == "" {
			return
		}
		doc.SetFont("Helvetica", "B", 9)
		doc.CellFormat(totalLabelWidth(), 7, tr("Subtotal "+current), "1", 0, "R", false, 0, "")
		doc.CellFormat(columns[len(columns)-1].width, 7, FormatAmount(subtotal), "1", 1, "R", false, 0, "")
		doc.SetFont("Helvetica", "", 9)
	}

	for _, row := range rows {
		if row.Username != current {
			flush()
			current = row.Username
			subtotal = decimal.Zero
		}
		amount, err := ParseAmount(row.Total)
		total := row.Total
		if err != nil {
			unparsed = true
			total += "*"
		}
		subtotal = subtotal.Add(amount)
		grand = grand.Add(amount)

		values := []string{row.Username, row.Date, row.StoreName, row.Category, row.Status, total}
		for i, c := range columns {
			doc.CellFormat(c.width, 7, tr(fit(doc, values[i], c.width)), "1", 0, c.align, false, 0, "")
		}
		doc.Ln(-1)
	}
	flush()

	doc.SetFont("Helvetica", "B", 10)
	doc.CellFormat(totalLabelWidth(), 8, "Grand total", "1", 0, "R", true, 0, "")
	doc.CellFormat(columns[len(columns)-1].width, 8, FormatAmount(grand), "1", 1, "R", true, 0, "")

	if len(rows) == 0 {
		doc.Ln(4)
		doc.SetFont("Helvetica", "I", 9)
		doc.CellFormat(0, 6, "No receipts.", "", 1, "L", false, 0, "")
	}
	if unparsed {
		doc.Ln(4)
		doc.SetFont("Helvetica", "I", 8)
		doc.CellFormat(0, 6, "* total could not be read and is not included in the sums.", "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func totalLabelWidth() float64 {
	var w float64
	for _, c := range columns[:len(columns)-1] {
		w += c.width
	}
	return w
}

// fit truncates s with an ellipsis so it fits in a cell of the given width.
func fit(doc *fpdf.Fpdf, s string, width float64) string {
	const padding = 2
	if doc.GetStringWidth(s) <= width-padding {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && doc.GetStringWidth(string(runes)+"...") > width-padding {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

// ParseAmount reads a currency string such as "$1,234.50".
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}

// FormatAmount renders d as dollars with two decimals.
func FormatAmount(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
