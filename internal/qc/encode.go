package qc

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/zombor/invoice-qc/internal/invoice"
)

// Report encodings
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatXLSX = "xlsx"
)

const (
	invoicesSheet = "Invoices"
	summarySheet  = "Summary"
)

// ContentType returns the MIME type for a report format
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case FormatYAML, "yml":
		return "application/yaml"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// EncodeReport writes report to w in the given format
func EncodeReport(w io.Writer, report *invoice.Report, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding JSON: %w", err)
		}
		return nil
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(yamlReport(report)); err != nil {
			return fmt.Errorf("encoding YAML: %w", err)
		}
		return enc.Close()
	case FormatXLSX:
		return encodeXLSX(w, report)
	}
	return fmt.Errorf("unsupported report format %q", format)
}

// yamlReport copies report with json.Number invoice IDs turned into plain
// numbers, which yaml.v3 would otherwise quote as strings
func yamlReport(report *invoice.Report) *invoice.Report {
	if report == nil {
		return nil
	}
	out := &invoice.Report{
		PerInvoice: make([]*invoice.Result, len(report.PerInvoice)),
		Summary:    report.Summary,
	}
	for i, r := range report.PerInvoice {
		c := *r
		if n, ok := c.InvoiceID.(json.Number); ok {
			c.InvoiceID = numberValue(n)
		}
		out.PerInvoice[i] = &c
	}
	return out
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func encodeXLSX(w io.Writer, report *invoice.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), invoicesSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	set := func(sheet string, col, row int, value any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, value)
	}

	for i, h := range []string{"index", "invoice_id", "is_valid", "errors", "warnings"} {
		set(invoicesSheet, i+1, 1, h)
	}
	for i, r := range report.PerInvoice {
		row := i + 2
		set(invoicesSheet, 1, row, i)
		set(invoicesSheet, 2, row, cellText(r.InvoiceID))
		set(invoicesSheet, 3, row, r.IsValid)
		set(invoicesSheet, 4, row, strings.Join(r.Errors, ", "))
		set(invoicesSheet, 5, row, strings.Join(r.Warnings, ", "))
	}

	s := report.Summary
	set(summarySheet, 1, 1, "total_invoices")
	set(summarySheet, 2, 1, s.TotalInvoices)
	set(summarySheet, 1, 2, "valid_invoices")
	set(summarySheet, 2, 2, s.ValidInvoices)
	set(summarySheet, 1, 3, "invalid_invoices")
	set(summarySheet, 2, 3, s.InvalidInvoices)
	set(summarySheet, 1, 5, "error")
	set(summarySheet, 2, 5, "count")

	tags := make([]string, 0, len(s.ErrorCounts))
	for tag := range s.ErrorCounts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for i, tag := range tags {
		set(summarySheet, 1, i+6, tag)
		set(summarySheet, 2, i+6, s.ErrorCounts[tag])
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing XLSX: %w", err)
	}
	return nil
}

func cellText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
