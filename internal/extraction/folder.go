package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/zombor/invoice-qc/internal/invoice"
)

// snippetLength is the number of characters of document text kept per record
const snippetLength = 1000

// ExtractFolder runs ex over every PDF in dir, in file name order. A file
// that fails yields a record carrying the error so the batch stays
// aligned with the files on disk. A disabled extractor fails the whole run.
func ExtractFolder(ctx context.Context, ex Extractor, dir string) ([]invoice.Record, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("PDF dir not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("PDF dir not found: %s is not a directory", dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("listing PDFs: %w", err)
	}
	sort.Strings(paths)

	records := make([]invoice.Record, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := extractFile(ctx, ex, path)
		if errors.Is(err, ErrNoExtractor) {
			return nil, err
		}
		if err != nil {
			slog.Warn("Failed to extract invoice", "path", path, "error", err)
			rec = invoice.Record{
				"filename": filepath.Base(path),
				"path":     path,
				"error":    err.Error(),
			}
		}
		records = append(records, rec)
	}

	slog.Info("Extracted invoices", "dir", dir, "count", len(records))
	return records, nil
}

func extractFile(ctx context.Context, ex Extractor, path string) (invoice.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	rec, err := ex.Extract(ctx, data, mimePDF)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
	}

	snippet := ""
	if tr, ok := ex.(TextReader); ok {
		text, err := tr.ReadText(data, mimePDF)
		if err != nil {
			slog.Debug("No text layer for snippet", "path", path, "error", err)
		}
		snippet = truncateRunes(text, snippetLength)
	}

	rec["filename"] = filepath.Base(path)
	rec["path"] = path
	rec["text_snippet"] = snippet
	return rec, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
