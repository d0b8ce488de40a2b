package invoice

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order; the first full match wins.
// Day and month accept one or two digits, the year exactly four.
var dateLayouts = []string{
	"2006-1-2",
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
}

var nonAmountChars = regexp.MustCompile(`[^0-9.\-,]`)

// ParseDate parses an invoice date. ok is false for empty input or when no
// layout matches.
func ParseDate(value any) (time.Time, bool) {
	if isFalsy(value) {
		return time.Time{}, false
	}

	s := strings.TrimSpace(stringify(value))
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// ParseAmount converts a raw amount to float64. Numbers pass through.
// Strings lose every character other than digits, dots, hyphens and commas,
// then the commas, so "$1,200.50" parses as 1200.5. A comma used as the
// decimal separator is dropped too: "12,50" parses as 1250.
func ParseAmount(value any) (float64, bool) {
	if value == nil {
		return 0, false
	}
	if f, ok := numeric(value); ok {
		return f, true
	}

	s := nonAmountChars.ReplaceAllString(stringify(value), "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// NormalizeText lowercases, trims and collapses whitespace. Only used for
// comparing identity keys.
func NormalizeText(value any) string {
	if value == nil {
		return ""
	}
	return strings.Join(strings.Fields(strings.ToLower(stringify(value))), " ")
}

// numeric reports whether value is a Go or JSON number and returns it as float64
func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

// isFalsy treats missing, empty, zero and empty collections as absent
func isFalsy(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	case bool:
		return !v
	}
	if f, ok := numeric(value); ok {
		return f == 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
