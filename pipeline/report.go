package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

// Report is the on-disk analysis document.
type Report struct {
	GeneratedAt string    `json:"generated_at"`
	DataShape   DataShape `json:"data_shape"`
	Analysis    Summary   `json:"analysis"`
}

// DataShape is the rows x columns size of the analysed data.
type DataShape struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// NewReport stamps summary with now.
func NewReport(summary Summary, now time.Time) Report {
	return Report{
		GeneratedAt: now.Format(time.RFC3339),
		DataShape: DataShape{
			Rows:    summary.TotalRecords,
			Columns: len(summary.Columns),
		},
		Analysis: summary,
	}
}

// WriteReport writes the analysis report for summary to path as indented JSON.
func WriteReport(path string, summary Summary, now time.Time) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	buffer := bufio.NewWriter(f)
	if err := encodeIndented(buffer, NewReport(summary, now)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return f.Close()
}
