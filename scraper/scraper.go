package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-harvest/config"
	"github.com/aluiziolira/go-harvest/metrics"
	"github.com/aluiziolira/go-harvest/models"
	"github.com/aluiziolira/go-harvest/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Scraper fetches pages one at a time and extracts selector fields from them.
type Scraper struct {
	cfg     *config.Config
	fetcher *Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	start     time.Time
	pageCount int
	records   []*models.ScrapedRecord
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scraper config: %w", err)
	}
	o := buildOptions(opts)
	return &Scraper{
		cfg:     cfg.Clone(),
		fetcher: NewFetcher(cfg, opts...),
		logger:  o.logger,
		metrics: o.metrics,
		now:     o.now,
	}, nil
}

// ScrapePage fetches url and extracts one record. The capture timestamp is
// taken right after extraction.
func (s *Scraper) ScrapePage(ctx context.Context, url string, selectors []parser.Selector) (*models.ScrapedRecord, error) {
	if s.start.IsZero() {
		s.start = s.now()
	}
	s.pageCount++
	s.logger.Info("scraping", slog.String("url", url))

	resp, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	record := &models.ScrapedRecord{
		URL:       url,
		Fields:    parser.Extract(resp.Body, selectors),
		ScrapedAt: s.now(),
	}
	s.metrics.IncItems()
	s.records = append(s.records, record)
	return record, nil
}

// ScrapeMany processes at most MaxPages URLs from urls, in order. URLs that
// fail terminally are skipped; the returned error is only ever a context error.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string, selectors []parser.Selector) ([]*models.ScrapedRecord, error) {
	limit := len(urls)
	if limit > s.cfg.MaxPages {
		limit = s.cfg.MaxPages
	}

	out := make([]*models.ScrapedRecord, 0, limit)
	for i, url := range urls[:limit] {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		record, err := s.ScrapePage(ctx, url, selectors)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			s.logger.Warn("skipping page", slog.String("url", url), slog.Any("error", err))
			continue
		}
		out = append(out, record)
		s.logger.Info("scraped page",
			slog.Int("page", i+1),
			slog.Int("of", limit),
		)
	}
	return out, nil
}

// DiscoverLinks fetches seed and returns its same-host links in document
// order, dropping repeats through a bounded seen-set.
func (s *Scraper) DiscoverLinks(ctx context.Context, seed string) ([]string, error) {
	resp, err := s.fetcher.Fetch(ctx, seed)
	if err != nil {
		return nil, err
	}

	seen, err := lru.New[string, struct{}](s.cfg.LinkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("link cache: %w", err)
	}

	var links []string
	for _, link := range parser.ExtractLinks(resp.Body, seed) {
		if seen.Contains(link) {
			continue
		}
		seen.Add(link, struct{}{})
		links = append(links, link)
	}
	s.logger.Debug("discovered links", slog.String("url", seed), slog.Int("links", len(links)))
	return links, nil
}

// FailedURLs returns URLs that exhausted their retries.
func (s *Scraper) FailedURLs() []string {
	return s.fetcher.FailedURLs()
}

// Result summarises everything the scraper has done so far.
func (s *Scraper) Result() *models.ScraperResult {
	requests, errs, retries, byType := s.fetcher.Stats()
	records := make([]*models.ScrapedRecord, len(s.records))
	copy(records, s.records)
	return &models.ScraperResult{
		Records:      records,
		StartTime:    s.start,
		EndTime:      s.now(),
		TotalCount:   len(records),
		ErrorCount:   errs,
		FailedURLs:   s.fetcher.FailedURLs(),
		ErrorsByType: byType,
		RetryCount:   retries,
		RequestCount: requests,
		PageCount:    s.pageCount,
	}
}
