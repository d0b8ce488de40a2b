package qc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/zombor/invoice-qc/internal/invoice"
)

// ErrNotAList is returned when a batch payload is not a list of invoices
var ErrNotAList = errors.New("expecting a list of invoices or a single invoice dict")

// DecodeBatch reads a JSON list of invoice objects. When allowSingle is set
// a lone object is accepted as a batch of one. Numbers are kept as
// json.Number so amounts and IDs keep their literal text.
func DecodeBatch(r io.Reader, allowSingle bool) ([]invoice.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("decoding JSON: unexpected data after the top-level value")
	}

	switch p := payload.(type) {
	case []any:
		batch := make([]invoice.Record, 0, len(p))
		for i, item := range p {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: item %d is not an object", ErrNotAList, i)
			}
			batch = append(batch, invoice.Record(obj))
		}
		return batch, nil
	case map[string]any:
		if allowSingle {
			return []invoice.Record{invoice.Record(p)}, nil
		}
	}
	return nil, ErrNotAList
}
