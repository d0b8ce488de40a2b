package extraction

import (
	"context"
	"errors"

	"github.com/zombor/invoice-qc/internal/invoice"
)

// ErrNoExtractor is returned when extraction has been disabled
var ErrNoExtractor = errors.New("no extractor configured")

// Extractor defines the interface for pulling invoice fields out of a document
type Extractor interface {
	// Extract reads a PDF or image and returns the fields it could find.
	// Fields that could not be found are left empty rather than failing.
	Extract(ctx context.Context, data []byte, contentType string) (invoice.Record, error)
	// Close releases resources held by the extractor
	Close() error
}

// TextReader is implemented by extractors that can expose the plain text
// of a document, used for the text_snippet of extracted records
type TextReader interface {
	ReadText(data []byte, contentType string) (string, error)
}

// Noop stands in when no extractor is available
type Noop struct{}

// Extract always fails with ErrNoExtractor
func (Noop) Extract(context.Context, []byte, string) (invoice.Record, error) {
	return nil, ErrNoExtractor
}

// Close is a no-op
func (Noop) Close() error {
	return nil
}
