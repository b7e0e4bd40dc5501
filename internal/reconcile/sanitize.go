// Package reconcile turns the untrusted payload returned by a vision
// service into a trusted, arithmetically consistent scan result, and
// manages the editable draft a user works on before committing it.
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidFormat is returned when the raw payload is not a JSON object.
var ErrInvalidFormat = errors.New("invalid data format")

// ErrNoValidData is returned when sanitization leaves no usable items or
// a non-positive total.
var ErrNoValidData = errors.New("no valid expense data found")

// placeholderDescription substitutes for items the service returned
// without a usable description.
const placeholderDescription = "Unnamed Item"

// defaultCategory substitutes for a missing or empty category.
const defaultCategory = "Uncategorized"

// RawPayload is the response of a vision service exactly as decoded from
// JSON: shape and field types are unverified. The only way past this
// type is Sanitize.
type RawPayload any

// Item is a single sanitized line item.
type Item struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Result is a trusted scan result. Total is always the 2-decimal sum of
// the item amounts, themselves rounded to 2 decimals.
type Result struct {
	Total    float64 `json:"total"`
	Category string  `json:"category"`
	Items    []Item  `json:"items"`
}

// Sanitize validates and sanitizes a raw vision-service payload.
//
// Items that are not objects, or whose amount cannot be resolved to a
// finite number, are dropped. The total is always recomputed from the
// surviving items; a total claimed by the service is never trusted.
// Returns ErrInvalidFormat when raw is not an object, and ErrNoValidData
// when no items survive or the recomputed total is not positive.
func Sanitize(raw RawPayload) (*Result, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrInvalidFormat
	}

	rawItems, _ := obj["items"].([]any)

	items := make([]Item, 0, len(rawItems))
	for _, rawItem := range rawItems {
		entry, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		amount, ok := resolveAmount(entry["amount"])
		if !ok {
			continue
		}
		items = append(items, Item{
			Description: resolveDescription(entry["description"]),
			Amount:      round2(amount),
		})
	}

	var total float64
	for _, item := range items {
		total += item.Amount
	}
	total = round2(total)

	if len(items) == 0 || total <= 0 {
		return nil, ErrNoValidData
	}

	return &Result{
		Total:    total,
		Category: resolveCategory(obj["category"]),
		Items:    items,
	}, nil
}

// resolveAmount coerces an untrusted amount value to a finite float.
// Strings are stripped of everything but digits, '.' and '-' before
// parsing. Any other type is rejected.
func resolveAmount(v any) (float64, bool) {
	switch amount := v.(type) {
	case float64:
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			return 0, false
		}
		return amount, true
	case string:
		return parseAmountText(amount)
	default:
		return 0, false
	}
}

// ParseAmount applies the permissive string-to-number rule used for
// user-typed amounts: strip every character that is not a digit, '.'
// or '-', then parse. Reports false when nothing numeric remains.
func ParseAmount(s string) (float64, bool) {
	return parseAmountText(s)
}

// parseAmountText applies the permissive string-to-number rule: strip
// every character that is not a digit, '.' or '-', then parse.
func parseAmountText(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func resolveDescription(v any) string {
	s := strings.TrimSpace(coerceString(v))
	if s == "" {
		return placeholderDescription
	}
	return s
}

func resolveCategory(v any) string {
	s := strings.TrimSpace(coerceString(v))
	if s == "" {
		return defaultCategory
	}
	return s
}

// coerceString renders any JSON value as a string. Objects and arrays
// are not meaningful descriptions and coerce to empty.
func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// round2 rounds to 2 decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
