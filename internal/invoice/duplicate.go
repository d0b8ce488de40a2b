package invoice

import "log/slog"

// DuplicatePair holds the batch positions of a first occurrence and a later
// record with the same identity key
type DuplicatePair [2]int

type identityKey struct {
	number string
	seller string
	date   string
}

// keyOf builds the identity key. The date is the raw string, normalized as
// text, not the parsed calendar date: "2024-01-05" and "05.01.2024" differ.
// ok is false when a field value panicked while being turned into text.
func keyOf(idx int, rec Record) (key identityKey, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered while building identity key", "index", idx, "panic", r)
			ok = false
		}
	}()

	return identityKey{
		number: NormalizeText(rec[FieldInvoiceNumber]),
		seller: NormalizeText(rec[FieldSellerName]),
		date:   NormalizeText(rec[FieldInvoiceDate]),
	}, true
}

// DetectDuplicates pairs every repeat of an identity key with the key's
// first occurrence. Three matching records yield [0,1] and [0,2].
func DetectDuplicates(batch []Record) []DuplicatePair {
	pairs, _ := detectDuplicates(batch)
	return pairs
}

// detectDuplicates also returns the positions of records whose key could
// not be built; those take no part in pairing.
func detectDuplicates(batch []Record) (pairs []DuplicatePair, unkeyed []int) {
	seen := make(map[identityKey]int, len(batch))
	pairs = []DuplicatePair{}

	for idx, rec := range batch {
		key, ok := keyOf(idx, rec)
		if !ok {
			unkeyed = append(unkeyed, idx)
			continue
		}
		if first, found := seen[key]; found {
			pairs = append(pairs, DuplicatePair{first, idx})
			continue
		}
		seen[key] = idx
	}
	return pairs, unkeyed
}
