// Package dataset loads tabular files into ordered records for analysis.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-harvest/models"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file extensions Load cannot read.
var ErrUnsupportedFormat = errors.New("dataset: unsupported file format")

// missingTokens are cell values treated as absent.
var missingTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {},
	"NULL": {}, "null": {}, "None": {}, "<NA>": {}, "#N/A": {},
}

// Load reads path by extension: .csv (header row), .json (array of objects
// or a single object) or .xlsx (first sheet, header row).
func Load(path string) ([]*models.Record, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open csv: %w", err)
		}
		defer f.Close()
		return ReadCSV(f)
	case "json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read json: %w", err)
		}
		return models.RecordsFromJSON(raw)
	case "xlsx":
		return readXLSX(path)
	}
	if ext == "" {
		ext = filepath.Base(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

// ReadCSV reads a CSV table whose first row is the header. Rows may be
// ragged; short rows leave trailing columns missing.
func ReadCSV(r io.Reader) ([]*models.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(rows)
}

func readXLSX(path string) ([]*models.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows)
}

// fromRows turns a header row plus data rows into records. Each column is
// typed as a whole: int64 if every present cell is an integer, float64 if
// every present cell is numeric, bool if every present cell is true/false,
// string otherwise.
func fromRows(rows [][]string) ([]*models.Record, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset has no header row")
	}
	header := rows[0]
	data := rows[1:]

	parsers := make([]func(string) any, len(header))
	for col := range header {
		parsers[col] = columnParser(data, col)
	}

	records := make([]*models.Record, 0, len(data))
	for _, row := range data {
		rec := models.NewRecord()
		for col, name := range header {
			var cell string
			if col < len(row) {
				cell = row[col]
			}
			if isMissing(cell) {
				rec.Set(name, nil)
				continue
			}
			rec.Set(name, parsers[col](cell))
		}
		records = append(records, rec)
	}
	return records, nil
}

func columnParser(data [][]string, col int) func(string) any {
	allInt, allFloat, allBool := true, true, true
	present := 0
	for _, row := range data {
		if col >= len(row) || isMissing(row[col]) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		present++
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			allFloat = false
		}
		if !isBool(cell) {
			allBool = false
		}
	}

	switch {
	case present == 0:
		return func(s string) any { return s }
	case allInt:
		return func(s string) any {
			v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			return v
		}
	case allFloat:
		return func(s string) any {
			v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return v
		}
	case allBool:
		return func(s string) any {
			return strings.EqualFold(strings.TrimSpace(s), "true")
		}
	}
	return func(s string) any { return s }
}

func isBool(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

func isMissing(cell string) bool {
	_, ok := missingTokens[strings.TrimSpace(cell)]
	return ok
}
