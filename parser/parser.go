package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-harvest/models"
)

// disallowed matches anything outside word characters, whitespace and . , ! ? - :
// The information separators \x1c-\x1f count as whitespace.
var disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s\v\x{1c}-\x{1f}\x{85}\p{Z}.,!?:\-]`)

// ValidateRecord ensures a record carries at least one field.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.Len() == 0 {
		return fmt.Errorf("record has no fields")
	}
	return nil
}

// CleanText strips characters outside the allow-list, collapses runs of
// whitespace to single spaces and trims both ends. CleanText is idempotent.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = disallowed.ReplaceAllString(text, "")
	return strings.Join(strings.FieldsFunc(text, isSpace), " ")
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// CleanRecord returns a copy of r with CleanText applied to every string
// value. Other values and the field order are left untouched.
func CleanRecord(r *models.Record) *models.Record {
	out := models.NewRecord()
	if r == nil {
		return out
	}
	for _, key := range r.Keys() {
		value, _ := r.Get(key)
		if s, ok := value.(string); ok {
			out.Set(key, CleanText(s))
			continue
		}
		out.Set(key, value)
	}
	return out
}
