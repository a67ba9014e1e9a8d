// Package apiclient talks to JSON REST endpoints and walks paginated
// collections.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-harvest/config"
	"github.com/aluiziolira/go-harvest/metrics"
	"github.com/aluiziolira/go-harvest/models"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// ErrUnsupportedMethod is returned for anything other than GET and POST.
var ErrUnsupportedMethod = errors.New("apiclient: unsupported HTTP method")

// StatusError reports a non-2xx API response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// Option customises a Client.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	transport http.RoundTripper
}

// WithLogger injects the logger used for request and pagination events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics injects the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTransport replaces the HTTP transport under the resty client.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// Client is a session against one API base URL.
type Client struct {
	http         *resty.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pageInterval time.Duration
}

// New builds a client from the API section of cfg. Every request carries
// a JSON content type, the configured User-Agent and, when a token is
// set, a bearer Authorization header.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("api base url %q: must be absolute", cfg.APIBaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	userAgent := cfg.APIUserAgent
	if userAgent == "" {
		userAgent = config.DefaultConfig().APIUserAgent
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/"))
	httpClient.SetTimeout(cfg.Timeout)
	httpClient.SetCookieJar(jar)
	httpClient.SetLogger(restyLogger{o.logger})
	httpClient.SetHeader("Content-Type", "application/json")
	httpClient.SetHeader("User-Agent", userAgent)
	if cfg.APIToken != "" {
		httpClient.SetAuthToken(cfg.APIToken)
	}
	if o.transport != nil {
		httpClient.SetTransport(o.transport)
	}

	return &Client{
		http:         httpClient,
		logger:       o.logger,
		metrics:      o.metrics,
		pageInterval: cfg.APIPageInterval,
	}, nil
}

// Request issues one call against endpoint and returns the raw JSON body.
// GET sends params as the query string; POST sends payload as a JSON body.
func (c *Client) Request(ctx context.Context, method, endpoint string, params map[string]string, payload any) (json.RawMessage, error) {
	path := "/" + strings.TrimLeft(endpoint, "/")
	req := c.http.R().SetContext(ctx)

	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		resp, err = req.SetQueryParams(params).Get(path)
	case http.MethodPost:
		if payload != nil {
			req.SetBody(payload)
		}
		resp, err = req.Post(path)
	default:
		c.logger.Error("unsupported method", slog.String("method", method), slog.String("endpoint", endpoint))
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", strings.ToUpper(method), path, err)
	}

	if !resp.IsSuccess() {
		return nil, &StatusError{
			Method: resp.Request.Method,
			URL:    resp.Request.URL,
			Code:   resp.StatusCode(),
			Body:   resp.String(),
		}
	}
	return json.RawMessage(resp.Body()), nil
}

// Paginate walks endpoint from page 1 up to maxPages, setting the "page"
// query parameter on a copy of params. After every page that continues the
// walk, Paginate pauses for the configured interval before the next
// request. Any request or decode failure ends the walk and whatever was
// collected so far is returned.
func (c *Client) Paginate(ctx context.Context, endpoint string, params map[string]string, maxPages int) []*models.Record {
	query := make(map[string]string, len(params)+1)
	for k, v := range params {
		query[k] = v
	}

	var records []*models.Record
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("pagination interrupted", slog.String("endpoint", endpoint), slog.Any("error", err))
			break
		}

		query["page"] = strconv.Itoa(page)
		body, err := c.Request(ctx, http.MethodGet, endpoint, query, nil)
		if err != nil {
			c.metrics.IncAPIPage("error")
			c.logger.Error("api request failed",
				slog.String("endpoint", endpoint),
				slog.Int("page", page),
				slog.Any("error", err),
			)
			break
		}

		decoded, err := DecodePage(body)
		if err != nil {
			c.metrics.IncAPIPage("decode_error")
			c.logger.Error("api page rejected",
				slog.String("endpoint", endpoint),
				slog.Int("page", page),
				slog.Any("error", err),
			)
			break
		}
		c.metrics.IncAPIPage("ok")

		records = append(records, decoded.Records...)
		c.logger.Debug("api page",
			slog.String("endpoint", endpoint),
			slog.Int("page", page),
			slog.String("kind", decoded.Kind.String()),
			slog.Int("records", len(decoded.Records)),
		)
		if !decoded.HasMore || page == maxPages {
			break
		}
		if err := c.pause(ctx); err != nil {
			c.logger.Warn("pagination interrupted", slog.String("endpoint", endpoint), slog.Any("error", err))
			break
		}
	}
	return records
}

// pause blocks for one full page interval counted from now.
func (c *Client) pause(ctx context.Context) error {
	if c.pageInterval <= 0 {
		return ctx.Err()
	}
	limiter := rate.NewLimiter(rate.Every(c.pageInterval), 1)
	// The bucket starts full; spend its token so Wait covers the interval.
	limiter.Allow()
	return limiter.Wait(ctx)
}

type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
