package qc

import (
	"time"

	"github.com/zombor/invoice-qc/internal/invoice"
)

// Where a stored report's batch came from
const (
	SourceAPI    = "api"
	SourceCLI    = "cli"
	SourceUpload = "upload"
)

// StoredReport is a validation report kept in the report history
type StoredReport struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Document  string          `json:"document,omitempty"` // storage name of the uploaded source file
	Report    *invoice.Report `json:"report"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReportSummary is the list view of a stored report
type ReportSummary struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Summary   invoice.Summary `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// Summarize returns the list view of r
func (r *StoredReport) Summarize() ReportSummary {
	s := ReportSummary{
		ID:        r.ID,
		Source:    r.Source,
		CreatedAt: r.CreatedAt,
	}
	if r.Report != nil {
		s.Summary = r.Report.Summary
	}
	return s
}
