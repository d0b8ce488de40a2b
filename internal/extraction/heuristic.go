package extraction

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/zombor/invoice-qc/internal/invoice"
)

const (
	defaultCurrency = "EUR"
	// sellerWindow is how many trailing lines are searched for the seller
	sellerWindow = 15
)

var (
	reOrderNumber = regexp.MustCompile(`AUFNR(\d+)`)
	reDottedDate  = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4})`)
)

// Heuristic scrapes invoice fields from the text layer of a PDF. The rules
// target one German supplier layout; anything it cannot find stays empty
// and is reported by validation as a missing field.
type Heuristic struct{}

// NewHeuristic creates a Heuristic extractor
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Extract reads the PDF text and applies the field heuristics
func (h *Heuristic) Extract(ctx context.Context, data []byte, contentType string) (invoice.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := h.ReadText(data, contentType)
	if err != nil {
		return nil, err
	}
	return ExtractFields(text), nil
}

// ReadText returns the plain text of every page, one newline after each
func (h *Heuristic) ReadText(data []byte, contentType string) (string, error) {
	if ct := strings.ToLower(strings.TrimSpace(contentType)); ct != "" && ct != "application/pdf" {
		return "", fmt.Errorf("heuristic extraction needs a PDF, got %s", ct)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(t)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Close is a no-op
func (h *Heuristic) Close() error {
	return nil
}

// ExtractFields applies the layout heuristics to already extracted text
func ExtractFields(text string) invoice.Record {
	lines := strings.Split(text, "\n")

	var invoiceNumber, invoiceDate string
	for _, line := range lines {
		if m := reOrderNumber.FindStringSubmatch(line); m != nil {
			invoiceNumber = "AUFNR" + m[1]
			break
		}
	}
	for _, line := range lines {
		if m := reDottedDate.FindStringSubmatch(line); m != nil {
			invoiceDate = m[1]
			break
		}
	}

	buyerName, buyerAddress := buyerBlock(lines)
	sellerName, sellerAddress := sellerBlock(lines)

	var subtotal, taxAmount, totalAmount string
	for _, line := range lines {
		switch {
		case strings.Contains(line, "Gesamtwert EUR"):
			subtotal = lastToken(line)
		case strings.Contains(line, "inkl. MwSt"):
			totalAmount = lastToken(line)
		case strings.Contains(line, "MwSt"):
			taxAmount = lastToken(line)
		}
	}

	return invoice.Record{
		invoice.FieldInvoiceNumber: invoiceNumber,
		invoice.FieldInvoiceDate:   invoiceDate,
		invoice.FieldSellerName:    sellerName,
		"seller_address":           sellerAddress,
		invoice.FieldBuyerName:     buyerName,
		"buyer_address":            buyerAddress,
		"currency":                 defaultCurrency,
		invoice.FieldSubtotal:      subtotal,
		invoice.FieldTaxAmount:     taxAmount,
		invoice.FieldTotalAmount:   totalAmount,
		invoice.FieldLineItems:     []any{},
	}
}

// buyerBlock collects the lines after the customer address heading up to
// the first blank line
func buyerBlock(lines []string) (name, address string) {
	var block []string
	found := false
	for _, line := range lines {
		if strings.Contains(line, "Kundenanschrift") {
			found = true
			continue
		}
		if !found {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		block = append(block, trimmed)
	}
	if len(block) == 0 {
		return "", ""
	}
	return block[0], strings.Join(block[1:], ", ")
}

// sellerBlock looks for a company name near the bottom of the document
func sellerBlock(lines []string) (name, address string) {
	tail := lines
	if len(tail) > sellerWindow {
		tail = tail[len(tail)-sellerWindow:]
	}
	for i, line := range tail {
		if strings.Contains(line, "GmbH") || strings.Contains(line, "AG") || strings.Contains(line, "KG") {
			name = strings.TrimSpace(line)
			if i+1 < len(tail) {
				address = strings.TrimSpace(tail[i+1])
			}
			return name, address
		}
	}
	return "", ""
}

func lastToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
