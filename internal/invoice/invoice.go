package invoice

// Record is a raw extracted invoice: field name to untyped value
type Record map[string]any

// Field names the validator reads
const (
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldSellerName    = "seller_name"
	FieldBuyerName     = "buyer_name"
	FieldSubtotal      = "subtotal"
	FieldTaxAmount     = "tax_amount"
	FieldTotalAmount   = "total_amount"
	FieldLineItems     = "line_items"
	FieldLineTotal     = "line_total"
)

// RequiredFields are checked for presence in this order
var RequiredFields = []string{
	FieldInvoiceNumber,
	FieldInvoiceDate,
	FieldSellerName,
	FieldBuyerName,
	FieldTotalAmount,
}

// Error and warning tags
const (
	ErrMissingFieldPrefix     = "missing_field:"
	ErrInvalidDateFormat      = "invalid_date_format"
	ErrUnparseableAmount      = "unparseable_amount"
	ErrTotalsMismatch         = "totals_mismatch"
	ErrLineItemsTotalMismatch = "line_items_total_mismatch"
	ErrDuplicateInvoice       = "duplicate_invoice"

	WarnLineItemUnparseable = "line_item_unparseable"
)

// Tolerance is the absolute difference accepted when reconciling amounts
const Tolerance = 0.5

// MissingField returns the tag emitted for an absent required field
func MissingField(name string) string {
	return ErrMissingFieldPrefix + name
}

// Result is the validation outcome for one record
type Result struct {
	InvoiceID any      `json:"invoice_id" yaml:"invoice_id"`
	IsValid   bool     `json:"is_valid" yaml:"is_valid"`
	Errors    []string `json:"errors" yaml:"errors"`
	Warnings  []string `json:"warnings" yaml:"warnings"`
}

// Summary holds batch-level counts
type Summary struct {
	TotalInvoices   int            `json:"total_invoices" yaml:"total_invoices"`
	ValidInvoices   int            `json:"valid_invoices" yaml:"valid_invoices"`
	InvalidInvoices int            `json:"invalid_invoices" yaml:"invalid_invoices"`
	ErrorCounts     map[string]int `json:"error_counts" yaml:"error_counts"`
}

// Report is the full output of a validation run. PerInvoice is aligned
// positionally with the input batch.
type Report struct {
	PerInvoice []*Result `json:"per_invoice" yaml:"per_invoice"`
	Summary    Summary   `json:"summary" yaml:"summary"`
}
