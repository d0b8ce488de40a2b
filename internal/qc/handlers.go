package qc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-qc/internal/extraction"
	"github.com/zombor/invoice-qc/internal/invoice"
)

// maxUploadSize bounds multipart uploads of invoice documents
const maxUploadSize = int64(50 << 20)

// reportIDHeader carries the stored report ID next to a verbatim report body
const reportIDHeader = "X-Report-ID"

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", reportIDHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleValidateJSON validates a JSON list of invoices
func (s *Server) handleValidateJSON(w http.ResponseWriter, r *http.Request) {
	batch, err := DecodeBatch(r.Body, false)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.validate(w, batch)
}

// handleValidate validates a list of invoices or a single invoice object
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	batch, err := DecodeBatch(r.Body, true)
	if err != nil {
		if errors.Is(err, ErrNotAList) {
			jsonError(w, "Expecting a list of invoices or a single invoice dict.", http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.validate(w, batch)
}

func (s *Server) validate(w http.ResponseWriter, batch []invoice.Record) {
	stored, err := s.service.ValidateBatch(batch, SourceAPI)
	if err != nil {
		slog.Error("Error validating invoices", "count", len(batch), "error", err)
		jsonError(w, "Validation error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(reportIDHeader, stored.ID)
	writeJSON(w, http.StatusOK, stored.Report)
}

// readUpload pulls the "file" part out of a multipart request. It writes
// the error response itself and returns ok=false when the upload is unusable.
func readUpload(w http.ResponseWriter, r *http.Request) (filename string, data []byte, contentType string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return "", nil, "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return "", nil, "", false
	}
	defer f.Close()

	data, err = io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return "", nil, "", false
	}

	return header.Filename, data, uploadContentType(header.Header.Get("Content-Type"), header.Filename), true
}

// uploadContentType falls back to the file extension when the client did
// not send a usable content type
func uploadContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

func extractionStatus(err error) int {
	if errors.Is(err, extraction.ErrNoExtractor) {
		return http.StatusNotImplemented
	}
	return http.StatusBadRequest
}

// handleExtract extracts the fields of one uploaded invoice
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	filename, data, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	rec, err := s.service.ExtractDocument(r.Context(), filename, data, contentType)
	if err != nil {
		slog.Error("Error extracting invoice", "filename", filename, "error", err)
		jsonError(w, err.Error(), extractionStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleExtractValidate extracts one uploaded invoice and validates it
func (s *Server) handleExtractValidate(w http.ResponseWriter, r *http.Request) {
	filename, data, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	stored, err := s.service.ExtractAndValidate(r.Context(), filename, data, contentType)
	if err != nil {
		slog.Error("Error processing invoice", "filename", filename, "error", err)
		jsonError(w, err.Error(), extractionStatus(err))
		return
	}
	w.Header().Set(reportIDHeader, stored.ID)
	writeJSON(w, http.StatusCreated, stored.Report)
}

// handleListReports returns the summaries of stored reports
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.service.ListReports()
	if err != nil {
		slog.Error("Error listing reports", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// reportLookupError answers 404 for unknown IDs and 500 for storage failures
func reportLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrReportNotFound) {
		corsError(w, "Report not found", http.StatusNotFound)
		return
	}
	slog.Error("Error getting report", "error", err)
	corsError(w, "Internal server error", http.StatusInternalServerError)
}

// handleGetReport returns one stored report
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetReport(r.PathValue("id"))
	if err != nil {
		reportLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDeleteReport deletes a stored report
func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteReport(r.PathValue("id"))
	if errors.Is(err, ErrReportNotFound) {
		corsError(w, "Report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error deleting report", "error", err)
		corsError(w, "Error deleting report", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportReport downloads a stored report as JSON, YAML or XLSX
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, err := s.service.GetReport(id)
	if err != nil {
		reportLookupError(w, err)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatJSON
	}

	// Encode first so an unknown format is still a clean 400
	var buf bytes.Buffer
	if err := EncodeReport(&buf, report.Report, format); err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="report-`+id+`.`+format+`"`)
	w.Write(buf.Bytes())
}

// handleGetDocument returns the uploaded source file of a report
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetDocument(r.PathValue("id"))
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}
