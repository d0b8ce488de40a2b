package invoice

import (
	"log/slog"
	"math"
)

// ValidateInvoice applies the per-record rules. Every rule runs regardless
// of earlier findings; tags are appended in rule order.
func ValidateInvoice(rec Record) (result *Result) {
	result = &Result{
		InvoiceID: rec[FieldInvoiceNumber],
		Errors:    []string{},
		Warnings:  []string{},
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered while validating invoice", "invoice_id", result.InvoiceID, "panic", r)
			result.Errors = append(result.Errors, ErrUnparseableAmount)
			result.IsValid = false
		}
	}()

	for _, field := range RequiredFields {
		if isFalsy(rec[field]) {
			result.Errors = append(result.Errors, MissingField(field))
		}
	}

	if _, ok := ParseDate(rec[FieldInvoiceDate]); !ok {
		result.Errors = append(result.Errors, ErrInvalidDateFormat)
	}

	subtotal, subtotalOK := ParseAmount(rec[FieldSubtotal])
	tax, taxOK := ParseAmount(rec[FieldTaxAmount])
	total, totalOK := ParseAmount(rec[FieldTotalAmount])

	if !subtotalOK || !taxOK || !totalOK {
		result.Errors = append(result.Errors, ErrUnparseableAmount)
	} else if math.Abs(subtotal+tax-total) > Tolerance {
		result.Errors = append(result.Errors, ErrTotalsMismatch)
	}

	if items := rec[FieldLineItems]; !isFalsy(items) {
		sum, warnings, ok := sumLineItems(items)
		result.Warnings = append(result.Warnings, warnings...)
		if ok && subtotalOK && math.Abs(sum-subtotal) > Tolerance {
			result.Errors = append(result.Errors, ErrLineItemsTotalMismatch)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// sumLineItems adds up the parseable line totals. ok is false when items is
// not a sequence at all.
func sumLineItems(items any) (sum float64, warnings []string, ok bool) {
	list, isList := items.([]any)
	if !isList {
		if records, isRecords := items.([]Record); isRecords {
			list = make([]any, len(records))
			for i, r := range records {
				list[i] = r
			}
		} else {
			return 0, []string{WarnLineItemUnparseable}, false
		}
	}

	for _, item := range list {
		lineTotal, found := lineTotal(item)
		if !found {
			warnings = append(warnings, WarnLineItemUnparseable)
			continue
		}
		amount, parsed := ParseAmount(lineTotal)
		if !parsed {
			warnings = append(warnings, WarnLineItemUnparseable)
			continue
		}
		sum += amount
	}
	return sum, warnings, true
}

func lineTotal(item any) (any, bool) {
	switch li := item.(type) {
	case map[string]any:
		return li[FieldLineTotal], true
	case Record:
		return li[FieldLineTotal], true
	}
	return nil, false
}
