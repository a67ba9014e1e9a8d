package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-harvest/models"
	"github.com/aluiziolira/go-harvest/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
)

func printScrapeSummary(out io.Writer, result *models.ScraperResult, duration time.Duration, files []string) {
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(result.TotalCount) / duration.Seconds()
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Scrape complete")
	t.AppendRows([]table.Row{
		{"Pages", result.PageCount},
		{"Records", result.TotalCount},
		{"Success rate", fmt.Sprintf("%.2f%%", successRate)},
		{"Errors", result.ErrorCount},
		{"Retries", result.RetryCount},
		{"Failed URLs", len(result.FailedURLs)},
	})
	if len(result.ErrorsByType) > 0 {
		t.AppendRow(table.Row{"Error types", formatCounts(result.ErrorsByType)})
	}
	t.AppendRows([]table.Row{
		{"Duration", duration.Round(time.Millisecond)},
		{"Items/sec", fmt.Sprintf("%.2f", itemsPerSec)},
		{"Output", outputList(files)},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	for _, url := range result.FailedURLs {
		fmt.Fprintf(out, "failed: %s\n", url)
	}
}

func printExport(out io.Writer, records int, files []string) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Records", "Output"})
	t.AppendRow(table.Row{records, outputList(files)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func printAnalysis(out io.Writer, summary pipeline.Summary) {
	fmt.Fprintf(out, "Total records: %d\n", summary.TotalRecords)
	if len(summary.Columns) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Column", "Type", "Missing", "Unique", "Avg length", "Most common"})
	for _, column := range summary.Columns {
		row := table.Row{column, summary.DataTypes[column], summary.MissingValues[column], "", "", ""}
		if text, ok := summary.TextFields[column]; ok {
			row[3] = text.UniqueValues
			if text.AverageLength != nil {
				row[4] = fmt.Sprintf("%.1f", *text.AverageLength)
			}
			if len(text.MostCommon) > 0 {
				top := text.MostCommon[0]
				row[5] = fmt.Sprintf("%s (%d)", truncate(top.Value, 30), top.Count)
			}
		}
		t.AppendRow(row)
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(summary.NumericSummary) > 0 {
		printNumeric(out, summary)
	}
	if summary.Correlation != nil {
		printCorrelation(out, summary.Correlation)
	}
}

func printNumeric(out io.Writer, summary pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Column", "Count", "Mean", "Std", "Min", "25%", "50%", "75%", "Max"})
	for _, column := range summary.Columns {
		n, ok := summary.NumericSummary[column]
		if !ok {
			continue
		}
		t.AppendRow(table.Row{
			column, n.Count, formatStat(&n.Mean), formatStat(n.Std),
			formatStat(&n.Min), formatStat(&n.P25), formatStat(&n.P50), formatStat(&n.P75), formatStat(&n.Max),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func printCorrelation(out io.Writer, m *pipeline.CorrelationMatrix) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	header := table.Row{""}
	for _, column := range m.Columns {
		header = append(header, column)
	}
	t.AppendHeader(header)
	for i, column := range m.Columns {
		row := table.Row{column}
		for _, v := range m.Values[i] {
			row = append(row, formatStat(v))
		}
		t.AppendRow(row)
	}
	t.SetTitle("Correlation")
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatStat(v *float64) string {
	if v == nil {
		return "NaN"
	}
	return fmt.Sprintf("%.3f", *v)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func outputList(files []string) string {
	if len(files) == 0 {
		return "(nothing saved)"
	}
	return strings.Join(files, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
