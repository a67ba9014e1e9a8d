package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-harvest/config"
	"github.com/aluiziolira/go-harvest/metrics"
	"github.com/aluiziolira/go-harvest/parser"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (sr *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	sr.mu.Lock()
	sr.delays = append(sr.delays, d)
	sr.mu.Unlock()
	return ctx.Err()
}

func (sr *sleepRecorder) count() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.delays)
}

func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func withClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/"
	cfg.DelayMin = 0
	cfg.DelayMax = 0
	cfg.MaxRetries = 2
	cfg.Timeout = time.Second
	return cfg
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "success status", err: nil, statusCode: http.StatusOK, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchSendsConfiguredHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.UserAgent = "harvest-test/1.0"
	cfg.Headers = map[string]string{"Accept-Language": "en-US"}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page", func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("User-Agent") != "harvest-test/1.0" || req.Header.Get("Accept-Language") != "en-US" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "missing headers"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "<p>ok</p>"), nil
	})

	f := NewFetcher(cfg, WithTransport(transport))
	resp, err := f.Fetch(context.Background(), "http://example.test/page")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(resp.Body) != "<p>ok</p>" || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()
	cfg.DelayMin = 10 * time.Millisecond
	cfg.DelayMax = 20 * time.Millisecond

	calls := 0
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/flaky", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "fine"), nil
	})

	sleeps := &sleepRecorder{}
	m := metrics.New()
	f := NewFetcher(cfg, WithTransport(transport), WithMetrics(m), withSleep(sleeps.sleep))

	if _, err := f.Fetch(context.Background(), "http://example.test/flaky"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	// one pause before the retry, one after the success
	if got := sleeps.count(); got != 2 {
		t.Fatalf("sleeps = %d, want 2", got)
	}
	for _, d := range sleeps.delays {
		if d < cfg.DelayMin || d > cfg.DelayMax {
			t.Fatalf("delay %v outside [%v, %v]", d, cfg.DelayMin, cfg.DelayMax)
		}
	}
	if got := testutil.ToFloat64(m.RetriesTotal); got != 1 {
		t.Fatalf("retries metric = %v, want 1", got)
	}
	if len(f.FailedURLs()) != 0 {
		t.Fatalf("failed urls = %v, want none", f.FailedURLs())
	}
}

func TestFetchAlwaysFailingRecordsOnce(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/down", httpmock.NewErrorResponder(errors.New("boom")))

	m := metrics.New()
	f := NewFetcher(cfg, WithTransport(transport), WithMetrics(m))

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), "http://example.test/down")
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("expected ErrRetriesExhausted, got %v", err)
		}
	}

	if got := transport.GetTotalCallCount(); got != 6 {
		t.Fatalf("calls = %d, want 6 (two fetches of 1+2 attempts)", got)
	}
	if got := f.FailedURLs(); len(got) != 1 || got[0] != "http://example.test/down" {
		t.Fatalf("failed urls = %v, want exactly one entry", got)
	}
	if got := testutil.ToFloat64(m.FailedURLsTotal); got != 1 {
		t.Fatalf("failed urls metric = %v, want 1", got)
	}
}

func TestFetchHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = 1

			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", cfg.BaseURL, httpmock.NewStringResponder(tt.status, ""))

			f := NewFetcher(cfg, WithTransport(transport))
			if _, err := f.Fetch(context.Background(), cfg.BaseURL); err == nil {
				t.Fatalf("expected failure for status %d", tt.status)
			}

			requests, errs, retries, byType := f.Stats()
			if requests != 2 || errs != 2 || retries != 1 {
				t.Fatalf("requests=%d errors=%d retries=%d, want 2/2/1", requests, errs, retries)
			}
			if byType[tt.expected] != 2 {
				t.Fatalf("errors by type = %v, want 2x %q", byType, tt.expected)
			}
		})
	}
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	transport := httpmock.NewMockTransport()
	f := NewFetcher(testConfig(), WithTransport(transport))

	_, err := f.Fetch(context.Background(), "/relative/path")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("relative url should not be requested")
	}
	if got := f.FailedURLs(); len(got) != 1 {
		t.Fatalf("failed urls = %v, want the rejected url", got)
	}
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/x", httpmock.NewStringResponder(500, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(cfg, WithTransport(transport))
	if _, err := f.Fetch(ctx, "http://example.test/x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.FailedURLs()) != 0 {
		t.Fatalf("cancelled fetch must not be recorded as failed")
	}
}

func TestFetchCancelsInFlightRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxRetries = 3

	started := make(chan struct{})
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/slow", func(req *http.Request) (*http.Response, error) {
		close(started)
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(10 * time.Second):
			return httpmock.NewStringResponse(200, "late"), nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	f := NewFetcher(cfg, WithTransport(transport))
	begin := time.Now()
	_, err := f.Fetch(ctx, "http://example.test/slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("fetch returned after %s, the request was not cancelled", elapsed)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after cancellation)", transport.GetTotalCallCount())
	}
	if len(f.FailedURLs()) != 0 {
		t.Fatalf("cancelled fetch must not be recorded as failed")
	}
}

func TestRandomDelayBounds(t *testing.T) {
	cfg := testConfig()
	cfg.DelayMin = time.Second
	cfg.DelayMax = 3 * time.Second
	f := NewFetcher(cfg)

	for i := 0; i < 200; i++ {
		d := f.randomDelay()
		if d < cfg.DelayMin || d > cfg.DelayMax {
			t.Fatalf("delay %v outside [%v, %v]", d, cfg.DelayMin, cfg.DelayMax)
		}
	}

	cfg.DelayMax = cfg.DelayMin
	if d := NewFetcher(cfg).randomDelay(); d != cfg.DelayMin {
		t.Fatalf("fixed delay = %v, want %v", d, cfg.DelayMin)
	}
}

func TestScrapePageExtractsSelectors(t *testing.T) {
	cfg := testConfig()
	at := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/hello", htmlResponder(`<div class="t">Hello</div>`))

	s, err := NewScraper(cfg, WithTransport(transport), withClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	record, err := s.ScrapePage(context.Background(), "http://example.test/hello", []parser.Selector{{Name: "title", CSS: ".t"}})
	if err != nil {
		t.Fatalf("scrape page: %v", err)
	}

	flat := record.Record()
	if got := strings.Join(flat.Keys(), ","); got != "title,url,scraped_at" {
		t.Fatalf("keys = %s", got)
	}
	if v, _ := flat.Get("title"); v != "Hello" {
		t.Fatalf("title = %v", v)
	}
	if v, _ := flat.Get("url"); v != "http://example.test/hello" {
		t.Fatalf("url = %v", v)
	}
	if v, _ := flat.Get("scraped_at"); v != "2025-11-04T13:09:13Z" {
		t.Fatalf("scraped_at = %v", v)
	}
}

func TestScrapeManyHonoursMaxPagesPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.MaxRetries = 0

	urls := []string{
		"http://example.test/1",
		"http://example.test/2",
		"http://example.test/3",
		"http://example.test/4",
		"http://example.test/5",
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", urls[0], httpmock.NewStringResponder(http.StatusInternalServerError, ""))
	for _, u := range urls[1:] {
		transport.RegisterResponder("GET", u, htmlResponder("<h1>"+u+"</h1>"))
	}

	s, err := NewScraper(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	records, err := s.ScrapeMany(context.Background(), urls, []parser.Selector{{Name: "heading", CSS: "h1"}})
	if err != nil {
		t.Fatalf("scrape many: %v", err)
	}

	info := transport.GetCallCountInfo()
	if info["GET "+urls[0]] != 1 || info["GET "+urls[1]] != 1 {
		t.Fatalf("first two urls should be requested once each: %v", info)
	}
	if transport.GetTotalCallCount() != 2 {
		t.Fatalf("total calls = %d, want 2", transport.GetTotalCallCount())
	}
	if len(records) != 1 || records[0].URL != urls[1] {
		t.Fatalf("records = %+v, want only %s", records, urls[1])
	}
	if got := s.FailedURLs(); len(got) != 1 || got[0] != urls[0] {
		t.Fatalf("failed urls = %v", got)
	}

	result := s.Result()
	if result.PageCount != 2 || result.TotalCount != 1 || result.RequestCount != 2 {
		t.Fatalf("result = %+v", result)
	}
}

func TestScrapeManyTimestampsAtExtraction(t *testing.T) {
	cfg := testConfig()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/a", htmlResponder("<p>a</p>"))
	transport.RegisterResponder("GET", "http://example.test/b", htmlResponder("<p>b</p>"))

	s, err := NewScraper(cfg, WithTransport(transport), withClock(clock))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	records, err := s.ScrapeMany(context.Background(), []string{"http://example.test/a", "http://example.test/b"}, []parser.Selector{{Name: "p", CSS: "p"}})
	if err != nil {
		t.Fatalf("scrape many: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if !records[0].ScrapedAt.Before(records[1].ScrapedAt) {
		t.Fatalf("timestamps should follow extraction order: %v, %v", records[0].ScrapedAt, records[1].ScrapedAt)
	}
}

func TestDiscoverLinksDeduplicates(t *testing.T) {
	cfg := testConfig()
	cfg.LinkCacheSize = 16

	page := `<a href="/a">a</a><a href="/b">b</a><a href="/a">a</a><a href="https://elsewhere.test/">x</a>`
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.BaseURL, htmlResponder(page))

	s, err := NewScraper(cfg, WithTransport(transport))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	links, err := s.DiscoverLinks(context.Background(), cfg.BaseURL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if got := strings.Join(links, " "); got != "http://example.test/a http://example.test/b" {
		t.Fatalf("links = %s", got)
	}
}

func TestNewScraperRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 0
	if _, err := NewScraper(cfg); err == nil {
		t.Fatalf("expected config error")
	}
}
