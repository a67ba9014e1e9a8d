package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aluiziolira/go-harvest/config"
	"github.com/aluiziolira/go-harvest/metrics"
	"github.com/gocolly/colly/v2"
)

const (
	ctxStatus  = "status"
	ctxBody    = "body"
	ctxHeaders = "headers"
)

// Response is a successful page fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Option customises a Fetcher or Scraper.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	transport http.RoundTripper
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
}

// WithLogger injects the logger used for request and retry events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics injects the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func buildOptions(opts []Option) options {
	o := options{
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Fetcher issues GET requests with a bounded retry loop and a randomized
// delay after every attempt.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	transport *contextTransport
	headers   http.Header
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sleep     func(context.Context, time.Duration) error

	failed *FailedSet

	mu           sync.Mutex
	requestCount int
	errorCount   int
	retryCount   int
	errorsByType map[string]int
}

// NewFetcher builds a fetcher from a snapshot of cfg.
func NewFetcher(cfg *config.Config, opts ...Option) *Fetcher {
	o := buildOptions(opts)
	cfg = cfg.Clone()

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.ParseHTTPErrorResponse = true
	var base http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if o.transport != nil {
		base = o.transport
	}
	transport := &contextTransport{base: base}
	collector.WithTransport(transport)

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
		if r.Headers != nil {
			r.Ctx.Put(ctxHeaders, r.Headers.Clone())
		}
	})

	headers := http.Header{}
	headers.Set("User-Agent", cfg.UserAgent)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Fetcher{
		cfg:          cfg,
		collector:    collector,
		transport:    transport,
		headers:      headers,
		logger:       o.logger,
		metrics:      o.metrics,
		sleep:        o.sleep,
		failed:       NewFailedSet(),
		errorsByType: make(map[string]int),
	}
}

// Fetch retrieves rawURL. A failed attempt is retried after a randomized
// delay until MaxRetries retries have been spent; the URL is then recorded
// in the failed set and an error wrapping ErrRetriesExhausted is returned.
// Every successful fetch is followed by the same randomized delay.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		f.logger.Error("rejecting url", slog.String("url", rawURL))
		f.recordFailure(rawURL)
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := f.attempt(ctx, rawURL)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil {
			// A cancelled pause still hands back the page.
			_ = f.sleep(ctx, f.randomDelay())
			return resp, nil
		}

		category := errorTypeLabel(err)
		f.mu.Lock()
		f.errorCount++
		f.errorsByType[category]++
		f.mu.Unlock()
		f.metrics.IncError(category)
		f.logger.Error("request failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if attempt >= f.cfg.MaxRetries {
			f.recordFailure(rawURL)
			return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, rawURL, attempt+1, err)
		}

		f.mu.Lock()
		f.retryCount++
		f.mu.Unlock()
		f.metrics.IncRetries()
		if err := f.sleep(ctx, f.randomDelay()); err != nil {
			return nil, err
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) (*Response, error) {
	f.mu.Lock()
	f.requestCount++
	f.mu.Unlock()
	f.metrics.IncRequest("started")

	rctx := colly.NewContext()
	start := time.Now()
	err := f.transport.with(ctx, func() error {
		return f.collector.Request(http.MethodGet, rawURL, nil, rctx, f.headers.Clone())
	})
	f.metrics.ObserveDuration(time.Since(start))

	status, _ := rctx.GetAny(ctxStatus).(int)
	if classified := classifyError(err, status); classified != nil {
		return nil, classified
	}
	f.metrics.IncRequest("succeeded")

	body, _ := rctx.GetAny(ctxBody).([]byte)
	headers, _ := rctx.GetAny(ctxHeaders).(http.Header)
	return &Response{
		URL:        rawURL,
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}, nil
}

func (f *Fetcher) recordFailure(rawURL string) {
	if f.failed.Add(rawURL) {
		f.metrics.IncFailedURL()
	}
}

// randomDelay draws uniformly from [DelayMin, DelayMax].
func (f *Fetcher) randomDelay() time.Duration {
	span := f.cfg.DelayMax - f.cfg.DelayMin
	if span <= 0 {
		return f.cfg.DelayMin
	}
	return f.cfg.DelayMin + rand.N(span+1)
}

// FailedURLs returns the URLs that exhausted their retries, in first-failure order.
func (f *Fetcher) FailedURLs() []string {
	return f.failed.URLs()
}

// Stats reports request, error and retry counters.
func (f *Fetcher) Stats() (requests, errs, retries int, byType map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byType = make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		byType[k] = v
	}
	return f.requestCount, f.errorCount, f.retryCount, byType
}

// contextTransport attaches the caller's context to the requests colly
// builds, which carry none of their own. Requests through it are serialised.
type contextTransport struct {
	base http.RoundTripper

	reqMu sync.Mutex
	mu    sync.Mutex
	ctx   context.Context
}

func (t *contextTransport) with(ctx context.Context, fn func() error) error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.ctx = nil
		t.mu.Unlock()
	}()
	return fn()
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return t.base.RoundTrip(req)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
