package models

import "time"

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	Records      []*ScrapedRecord
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}
