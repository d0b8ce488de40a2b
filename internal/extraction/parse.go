package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/invoice-qc/internal/invoice"
)

// parseInvoiceJSON parses the JSON object a vision model replied with.
// Numbers keep their literal text so amounts are not rounded on the way in.
func parseInvoiceJSON(text string) (invoice.Record, error) {
	text = stripResponse(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var rec invoice.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	for k, v := range rec {
		if s, ok := v.(string); ok {
			rec[k] = strings.TrimSpace(s)
		}
	}
	if rec[invoice.FieldLineItems] == nil {
		rec[invoice.FieldLineItems] = []any{}
	}

	return rec, nil
}

// stripResponse trims whitespace and leading markdown fences from a model reply
func stripResponse(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	return strings.TrimSpace(text)
}
