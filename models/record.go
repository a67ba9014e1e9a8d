// Package models defines data structures for the scraper and API client.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ValueKey names the single field used when a non-object JSON value is
// promoted to a record.
const ValueKey = "value"

// Record is an ordered mapping from field name to value.
// The zero value is an empty record ready to use.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Set stores value under key. A new key is appended to the field order;
// an existing key keeps its position.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	if r == nil || r.values == nil {
		return nil, false
	}
	value, ok := r.values[key]
	return value, ok
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Clone returns a shallow copy with its own field order.
func (r *Record) Clone() *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for _, key := range r.keys {
		out.Set(key, r.values[key])
	}
	return out
}

// MarshalJSON encodes the record as an object preserving field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r != nil {
		for i, key := range r.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := marshalNoEscape(key)
			if err != nil {
				return nil, err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			encodedValue, err := marshalNoEscape(r.values[key])
			if err != nil {
				return nil, fmt.Errorf("encode field %q: %w", key, err)
			}
			buf.Write(encodedValue)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the document's field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record: expected JSON object")
	}

	r.keys = nil
	r.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: unexpected key token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("record: field %q: %w", key, err)
		}
		value, err := DecodeValue(raw)
		if err != nil {
			return fmt.Errorf("record: field %q: %w", key, err)
		}
		r.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// DecodeValue decodes a JSON value, turning a top-level number into int64
// when it is integral and float64 otherwise.
func DecodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if number, ok := value.(json.Number); ok {
		return normalizeNumber(number), nil
	}
	return value, nil
}

// RecordFromJSON converts one JSON value into a record. Objects keep their
// field order; any other value is stored under ValueKey.
func RecordFromJSON(raw []byte) (*Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		rec := NewRecord()
		if err := rec.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return rec, nil
	}
	value, err := DecodeValue(trimmed)
	if err != nil {
		return nil, err
	}
	rec := NewRecord()
	rec.Set(ValueKey, value)
	return rec, nil
}

// RecordsFromJSON decodes an array of values, or a single object, into records.
func RecordsFromJSON(data []byte) ([]*Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("records: empty document")
	}
	if trimmed[0] != '[' {
		rec, err := RecordFromJSON(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Record{rec}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	out := make([]*Record, 0, len(items))
	for i, item := range items {
		rec, err := RecordFromJSON(item)
		if err != nil {
			return nil, fmt.Errorf("records: item %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Field is one extracted value, named after its selector.
type Field struct {
	Name  string
	Value string
}

// ScrapedRecord is the result of extracting one page.
type ScrapedRecord struct {
	URL       string
	ScrapedAt time.Time
	Fields    []Field
}

// Field returns the value extracted for name, or "" when there is none.
func (s *ScrapedRecord) Field(name string) string {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Record flattens the scraped fields in selector order followed by the url
// and scraped_at metadata.
func (s *ScrapedRecord) Record() *Record {
	rec := NewRecord()
	for _, f := range s.Fields {
		if f.Name == "url" || f.Name == "scraped_at" {
			continue
		}
		rec.Set(f.Name, f.Value)
	}
	rec.Set("url", s.URL)
	rec.Set("scraped_at", FormatTimestamp(s.ScrapedAt))
	return rec
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
