package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-harvest/models"
)

var (
	// ErrWriterClosed is returned by Write after Close.
	ErrWriterClosed = errors.New("pipeline: writer closed")

	// ErrNothingWritten is reported by Validate when Close had no records
	// and therefore created no file.
	ErrNothingWritten = errors.New("pipeline: no records were written")
)

// recordBuffer collects records and the union of their field names in
// first-seen order. Files are only produced on Close.
type recordBuffer struct {
	mu      sync.Mutex
	columns []string
	seen    map[string]struct{}
	rows    []*models.Record
	closed  bool
	written bool
}

func (b *recordBuffer) add(records []*models.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrWriterClosed
	}
	if b.seen == nil {
		b.seen = make(map[string]struct{})
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		for _, key := range r.Keys() {
			if _, ok := b.seen[key]; ok {
				continue
			}
			b.seen[key] = struct{}{}
			b.columns = append(b.columns, key)
		}
		b.rows = append(b.rows, r)
	}
	return nil
}

// drain marks the buffer closed and hands back its contents once.
func (b *recordBuffer) drain() (columns []string, rows []*models.Record, first bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, false
	}
	b.closed = true
	columns, rows = b.columns, b.rows
	b.columns, b.rows = nil, nil
	return columns, rows, true
}

func (b *recordBuffer) markWritten() {
	b.mu.Lock()
	b.written = true
	b.mu.Unlock()
}

func (b *recordBuffer) validate(path, kind string) error {
	b.mu.Lock()
	written := b.written
	b.mu.Unlock()
	if !written {
		return fmt.Errorf("%s %s: %w", kind, path, ErrNothingWritten)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

// CSVWriter writes records as a CSV table. The header is the union of all
// field names in first-seen order; a record missing a column gets an
// empty cell.
type CSVWriter struct {
	path string
	buf  recordBuffer
}

// NewCSVWriter prepares a CSV writer for filename.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("csv filename cannot be empty")
	}
	return &CSVWriter{path: filename}, nil
}

// Path returns the output filename.
func (cw *CSVWriter) Path() string { return cw.path }

// Write buffers records for the table.
func (cw *CSVWriter) Write(records []*models.Record) error {
	return cw.buf.add(records)
}

// Close writes the table. With no buffered records no file is created.
// Calling Close again is a no-op.
func (cw *CSVWriter) Close() error {
	columns, rows, first := cw.buf.drain()
	if !first || len(rows) == 0 {
		return nil
	}
	if err := ensureDir(cw.path); err != nil {
		return err
	}

	f, err := os.Create(cw.path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(columns))
	for _, r := range rows {
		for i, column := range columns {
			value, _ := r.Get(column)
			cell, err := formatCell(value)
			if err != nil {
				return fmt.Errorf("format csv column %q: %w", column, err)
			}
			row[i] = cell
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv file: %w", err)
	}
	cw.buf.markWritten()
	return nil
}

// Validate ensures the table was written and is not empty.
func (cw *CSVWriter) Validate() error {
	return cw.buf.validate(cw.path, "csv")
}

// JSONWriter writes records as one indented JSON array.
type JSONWriter struct {
	path string
	buf  recordBuffer
}

// NewJSONWriter prepares a JSON writer for filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("json filename cannot be empty")
	}
	return &JSONWriter{path: filename}, nil
}

// Path returns the output filename.
func (jw *JSONWriter) Path() string { return jw.path }

// Write buffers records for the array.
func (jw *JSONWriter) Write(records []*models.Record) error {
	return jw.buf.add(records)
}

// Close writes the array. With no buffered records no file is created.
// Calling Close again is a no-op.
func (jw *JSONWriter) Close() error {
	_, rows, first := jw.buf.drain()
	if !first || len(rows) == 0 {
		return nil
	}
	if err := ensureDir(jw.path); err != nil {
		return err
	}

	f, err := os.Create(jw.path)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}
	defer f.Close()

	buffer := bufio.NewWriter(f)
	if err := encodeIndented(buffer, rows); err != nil {
		return fmt.Errorf("encode json records: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close json file: %w", err)
	}
	jw.buf.markWritten()
	return nil
}

// Validate ensures the array was written and is not empty.
func (jw *JSONWriter) Validate() error {
	return jw.buf.validate(jw.path, "json")
}

func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatCell renders a value for a CSV cell the way a dataframe export
// does: nil and NaN are empty, booleans are True/False, floats always carry
// a decimal point or exponent, and nested values are JSON.
func formatCell(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return formatFloat(v), nil
	case json.Number:
		return v.String(), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// formatFloat writes the shortest round-tripping form of v, switching to
// exponent notation below 1e-4 and from 1e16 on. 3 becomes "3.0".
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	sci := strconv.FormatFloat(v, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.LastIndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return sci
	}
	fixed := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
