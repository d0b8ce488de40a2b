package qc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-qc/internal/extraction"
	"github.com/zombor/invoice-qc/internal/invoice"
)

// IDGenerator generates unique IDs for reports and documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs batches through validation and keeps the report history
type Service struct {
	db          DB
	extractor   extraction.Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUIDs and the wall clock
func NewService(db DB, extractor extraction.Extractor, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor extraction.Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	if extractor == nil {
		extractor = extraction.Noop{}
	}
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ValidateBatch validates records and stores the report
func (s *Service) ValidateBatch(records []invoice.Record, source string) (*StoredReport, error) {
	return s.validateAndStore(records, source, "")
}

func (s *Service) validateAndStore(records []invoice.Record, source, document string) (*StoredReport, error) {
	report := invoice.Validate(records)

	stored := &StoredReport{
		ID:        s.idGenerator.Generate(),
		Source:    source,
		Document:  document,
		Report:    report,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveReport(stored); err != nil {
		return nil, fmt.Errorf("saving report: %w", err)
	}

	slog.Info("Validated invoices",
		"report_id", stored.ID,
		"source", source,
		"total", report.Summary.TotalInvoices,
		"valid", report.Summary.ValidInvoices,
		"invalid", report.Summary.InvalidInvoices,
	)
	return stored, nil
}

// ExtractDocument stores an uploaded invoice and extracts its fields. The
// returned record carries the stored file name under "document".
func (s *Service) ExtractDocument(ctx context.Context, filename string, data []byte, contentType string) (invoice.Record, error) {
	id := s.idGenerator.Generate()

	saved, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	rec, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to extract invoice",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(saved); delErr != nil {
			slog.Warn("Failed to delete file", "filename", saved, "error", delErr)
		}
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}

	if rec == nil {
		rec = invoice.Record{}
	}
	rec["filename"] = filename
	rec["document"] = saved
	return rec, nil
}

// ExtractAndValidate extracts one uploaded invoice and validates it as a
// batch of one
func (s *Service) ExtractAndValidate(ctx context.Context, filename string, data []byte, contentType string) (*StoredReport, error) {
	rec, err := s.ExtractDocument(ctx, filename, data, contentType)
	if err != nil {
		return nil, err
	}
	document, _ := rec["document"].(string)
	return s.validateAndStore([]invoice.Record{rec}, SourceUpload, document)
}

// GetReport retrieves a stored report by ID
func (s *Service) GetReport(id string) (*StoredReport, error) {
	report, err := s.db.GetReport(id)
	if err != nil {
		return nil, fmt.Errorf("getting report: %w", err)
	}
	return report, nil
}

// ListReports returns the summaries of all stored reports, newest first
func (s *Service) ListReports() ([]ReportSummary, error) {
	reports, err := s.db.ListReports()
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	summaries := make([]ReportSummary, 0, len(reports))
	for _, r := range reports {
		summaries = append(summaries, r.Summarize())
	}
	return summaries, nil
}

// DeleteReport removes a report and its uploaded document, if any
func (s *Service) DeleteReport(id string) error {
	report, err := s.db.GetReport(id)
	if err != nil {
		return fmt.Errorf("getting report for deletion: %w", err)
	}

	if report.Document != "" {
		if err := s.storage.Delete(report.Document); err != nil {
			slog.Warn("Failed to delete file", "filename", report.Document, "error", err)
		}
	}

	if err := s.db.DeleteReport(id); err != nil {
		return fmt.Errorf("deleting report from database: %w", err)
	}
	return nil
}

// GetDocument returns the uploaded source file of a report
func (s *Service) GetDocument(id string) ([]byte, error) {
	report, err := s.db.GetReport(id)
	if err != nil {
		return nil, fmt.Errorf("getting report: %w", err)
	}
	if report.Document == "" {
		return nil, fmt.Errorf("report %s has no document", id)
	}
	data, err := s.storage.Get(report.Document)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return data, nil
}
