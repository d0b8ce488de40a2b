package invoice

import (
	"slices"
	"sort"
)

// Validate runs a batch through the per-invoice rules, marks duplicates and
// summarizes the outcome. It never fails; a nil batch yields an empty report.
func Validate(batch []Record) *Report {
	results := make([]*Result, len(batch))
	for i, rec := range batch {
		results[i] = ValidateInvoice(rec)
	}

	pairs, unkeyed := detectDuplicates(batch)
	for _, idx := range unkeyed {
		r := results[idx]
		if !slices.Contains(r.Errors, ErrUnparseableAmount) {
			r.Errors = append(r.Errors, ErrUnparseableAmount)
		}
		r.IsValid = false
	}

	// Duplicates invalidate records that passed every other rule
	for _, pair := range pairs {
		for _, idx := range pair {
			results[idx].Errors = append(results[idx].Errors, ErrDuplicateInvoice)
			results[idx].IsValid = false
		}
	}

	return &Report{
		PerInvoice: results,
		Summary:    summarize(results),
	}
}

func summarize(results []*Result) Summary {
	s := Summary{
		TotalInvoices: len(results),
		ErrorCounts:   make(map[string]int),
	}
	for _, r := range results {
		if r.IsValid {
			s.ValidInvoices++
		} else {
			s.InvalidInvoices++
		}
		for _, e := range r.Errors {
			s.ErrorCounts[e]++
		}
	}
	return s
}

// ErrorCount is one entry of Summary.TopErrors
type ErrorCount struct {
	Tag   string
	Count int
}

// TopErrors returns up to n tags, most frequent first. Ties sort by tag.
func (s Summary) TopErrors(n int) []ErrorCount {
	counts := make([]ErrorCount, 0, len(s.ErrorCounts))
	for tag, c := range s.ErrorCounts {
		counts = append(counts, ErrorCount{Tag: tag, Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Tag < counts[j].Tag
	})
	if n >= 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
