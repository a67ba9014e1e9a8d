package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-harvest/models"
)

func sampleRecords() []*models.Record {
	return []*models.Record{
		record("title", "Café & Co", "score", int64(10), "url", "http://example.test/1"),
		record("title", "Second", "url", "http://example.test/2", "rating", 4.5, "tags", []any{"a", "b"}),
		record("title", "Third", "score", nil, "ok", true),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "records.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	want := [][]string{
		{"title", "score", "url", "rating", "tags", "ok"},
		{"Café & Co", "10", "http://example.test/1", "", "", ""},
		{"Second", "", "http://example.test/2", "4.5", `["a","b"]`, ""},
		{"Third", "", "", "", "", "True"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(rows), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Fatalf("cell[%d][%d] = %q, want %q", i, j, rows[i][j], want[i][j])
			}
		}
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{nil, ""},
		{"text", "text"},
		{true, "True"},
		{false, "False"},
		{int64(3), "3"},
		{3.0, "3.0"},
		{-2.0, "-2.0"},
		{1000.5, "1000.5"},
		{0.1, "0.1"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{1e15, "1000000000000000.0"},
		{1e16, "1e+16"},
		{1.5e300, "1.5e+300"},
		{math.NaN(), ""},
		{math.Inf(-1), "-inf"},
		{map[string]any{"k": 1}, `{"k":1}`},
	}

	for _, tt := range tests {
		got, err := formatCell(tt.value)
		if err != nil {
			t.Fatalf("formatCell(%v): %v", tt.value, err)
		}
		if got != tt.want {
			t.Errorf("formatCell(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write(sampleRecords()[:1]); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	want := "[\n  {\n    \"title\": \"Café & Co\",\n    \"score\": 10,\n    \"url\": \"http://example.test/1\"\n  }\n]\n"
	if string(raw) != want {
		t.Fatalf("json output =\n%s\nwant\n%s", raw, want)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func TestWritersSkipFileWithoutRecords(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "empty.csv")
	jsonPath := filepath.Join(dir, "empty.json")

	dw, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := dw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, path := range []string{csvPath, jsonPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("%s should not exist, stat err = %v", path, err)
		}
	}
	if err := dw.Validate(); !errors.Is(err, ErrNothingWritten) {
		t.Fatalf("expected ErrNothingWritten, got %v", err)
	}
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	writer, err := NewJSONWriter(filepath.Join(t.TempDir(), "x.json"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := writer.Write(sampleRecords()); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
}

func TestDualWriterThroughPipeline(t *testing.T) {
	dir := t.TempDir()
	dw, err := NewDualWriter(filepath.Join(dir, "combined_data.csv"), filepath.Join(dir, "combined_data.json"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	p := NewPipeline(dw, WithBatchSize(1))
	if err := p.Process(sampleRecords()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := dw.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	csvPath, jsonPath := dw.Paths()
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	records, err := models.RecordsFromJSON(raw)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	// the pipeline cleaned the ampersand away before writing
	if v, _ := records[0].Get("title"); v != "Café Co" {
		t.Fatalf("title = %q", v)
	}
	if _, err := os.Stat(csvPath); err != nil {
		t.Fatalf("csv missing: %v", err)
	}
}
