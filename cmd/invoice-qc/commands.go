package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/invoice-qc/internal/extraction"
	"github.com/zombor/invoice-qc/internal/invoice"
	"github.com/zombor/invoice-qc/internal/qc"
)

// topErrorCount is how many error tags validate prints
const topErrorCount = 5

// reportFormat picks the report encoding from the flag or the file extension
func reportFormat(format, path string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case qc.FormatYAML, "yml", qc.FormatXLSX:
		return ext
	}
	return qc.FormatJSON
}

// validateFile validates the batch in input and writes the report. Exit
// codes: 2 missing input, 3 unreadable batch, 4 any invalid invoice.
func validateFile(stdout io.Writer, input, reportPath, format, dbPath string) error {
	f, err := os.Open(input)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stdout, "Input JSON does not exist:", input)
		return exitWith(exitNoInput, nil)
	}
	if err != nil {
		return exitWith(exitFailure, fmt.Errorf("opening input: %w", err))
	}
	batch, err := qc.DecodeBatch(f, false)
	f.Close()
	if err != nil {
		fmt.Fprintln(stdout, "Failed to parse JSON:", err)
		return exitWith(exitBadInput, nil)
	}

	report, err := validateBatch(batch, dbPath)
	if err != nil {
		return exitWith(exitFailure, err)
	}

	if err := writeReport(reportPath, report, reportFormat(format, reportPath)); err != nil {
		return exitWith(exitFailure, err)
	}

	s := report.Summary
	fmt.Fprintf(stdout, "Total: %d, Valid: %d, Invalid: %d\n", s.TotalInvoices, s.ValidInvoices, s.InvalidInvoices)
	if top := s.TopErrors(topErrorCount); len(top) > 0 {
		fmt.Fprintln(stdout, "Top errors:")
		for _, e := range top {
			fmt.Fprintf(stdout, "  %s: %d\n", e.Tag, e.Count)
		}
	}

	if s.InvalidInvoices > 0 {
		return exitWith(exitHasInvalid, nil)
	}
	return nil
}

// validateBatch runs the engine, keeping the report in the database when
// one is configured
func validateBatch(batch []invoice.Record, dbPath string) (*invoice.Report, error) {
	if dbPath == "" {
		return invoice.Validate(batch), nil
	}

	db, err := qc.NewBoltDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	stored, err := qc.NewService(db, nil, nil).ValidateBatch(batch, qc.SourceCLI)
	if err != nil {
		return nil, err
	}
	return stored.Report, nil
}

func writeReport(path string, report *invoice.Report, format string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := qc.EncodeReport(f, report, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// extractFolder runs the configured extractor over dir and writes the
// records to output as a JSON array
func extractFolder(ctx context.Context, stdout io.Writer, cfg extractorConfig, dir, output string) error {
	ex, err := cfg.open()
	if err != nil {
		return err
	}
	defer ex.Close()

	records, err := extraction.ExtractFolder(ctx, ex, dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	fmt.Fprintf(stdout, "Saved %d records to %s\n", len(records), output)
	return nil
}

type serveOptions struct {
	port        int
	dbPath      string
	storagePath string
	authUser    string
	authPass    string
}

// serve runs the HTTP API until ctx is cancelled
func serve(ctx context.Context, cfg extractorConfig, opts serveOptions) error {
	// Initialize database
	slog.Info("Initializing database...")
	db, err := qc.NewBoltDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	extractor, err := cfg.open()
	if err != nil {
		return err
	}
	defer extractor.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := qc.NewLocalStorage(opts.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	service := qc.NewService(db, extractor, store)
	server := qc.NewServer(service, qc.BasicAuth{
		Username: opts.authUser,
		Password: opts.authPass,
	})

	addr := fmt.Sprintf(":%d", opts.port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errc <- httpServer.ListenAndServe()
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if opts.authUser != "" || opts.authPass != "" {
		slog.Info("Basic auth enabled", "user", opts.authUser)
	}

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
