package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-harvest/apiclient"
	"github.com/aluiziolira/go-harvest/config"
	"github.com/aluiziolira/go-harvest/metrics"
	"github.com/aluiziolira/go-harvest/pipeline"
	"github.com/aluiziolira/go-harvest/scraper"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout)
	if err := a.applyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares: configuration, logger,
// metrics and the optional metrics server.
type app struct {
	cfg     *config.Config
	logOut  io.Writer
	logger  *slog.Logger
	metrics *metrics.Metrics
	server  *http.Server
	now     func() time.Time

	scraperOpts []scraper.Option
	apiOpts     []apiclient.Option
}

func newApp(logOut io.Writer) *app {
	return &app{
		cfg:    config.DefaultConfig(),
		logOut: logOut,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
}

func (a *app) applyEnv() error {
	return a.cfg.ApplyEnv()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "harvest",
		Short:         "harvest scrapes pages and REST APIs, then cleans, analyses and exports the records.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.cfg.Verbose, "verbose", "v", a.cfg.Verbose, "Enable verbose logging")
	flags.StringVar(&a.cfg.OutputDir, "output-dir", a.cfg.OutputDir, "Directory for exported files")
	flags.StringVar(&a.cfg.OutputFormat, "format", a.cfg.OutputFormat, "Output format: csv, json, or dual")
	flags.StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	flags.StringVar(&a.cfg.BaseURL, "base-url", a.cfg.BaseURL, "Base URL to scrape or crawl")
	flags.StringVar(&a.cfg.UserAgent, "user-agent", a.cfg.UserAgent, "User-Agent sent with page requests")
	flags.StringToStringVar(&a.cfg.Headers, "header", a.cfg.Headers, "Extra request header as name=value (repeatable)")
	flags.DurationVar(&a.cfg.DelayMin, "delay-min", a.cfg.DelayMin, "Lower bound of the randomized delay")
	flags.DurationVar(&a.cfg.DelayMax, "delay-max", a.cfg.DelayMax, "Upper bound of the randomized delay")
	flags.IntVar(&a.cfg.MaxRetries, "max-retries", a.cfg.MaxRetries, "Retries per URL before it is recorded as failed")
	flags.DurationVar(&a.cfg.Timeout, "timeout", a.cfg.Timeout, "Per-request timeout")
	flags.IntVar(&a.cfg.MaxPages, "max-pages", a.cfg.MaxPages, "Maximum pages scraped per run")

	flags.StringVar(&a.cfg.APIBaseURL, "api-base-url", a.cfg.APIBaseURL, "REST API base URL")
	flags.StringVar(&a.cfg.APIToken, "api-token", a.cfg.APIToken, "Bearer token for the REST API")
	flags.DurationVar(&a.cfg.APIPageInterval, "api-page-interval", a.cfg.APIPageInterval, "Pause between API pages")

	root.AddCommand(
		newScrapeCmd(a),
		newCrawlCmd(a),
		newAPICmd(a),
		newAnalyzeCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) setup() error {
	a.cfg.OutputFormat = strings.ToLower(a.cfg.OutputFormat)
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger = newLogger(a.logOut, a.cfg.Verbose)
	a.metrics = metrics.New()

	if a.cfg.MetricsAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", slog.Any("error", err))
			}
		}(a.server)
		a.logger.Info("metrics server enabled", slog.String("addr", a.cfg.MetricsAddr))
	}
	return nil
}

func (a *app) teardown() error {
	if a.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

func (a *app) newScraper() (*scraper.Scraper, error) {
	opts := append([]scraper.Option{
		scraper.WithLogger(a.logger),
		scraper.WithMetrics(a.metrics),
	}, a.scraperOpts...)
	return scraper.NewScraper(a.cfg, opts...)
}

func (a *app) newAPIClient() (*apiclient.Client, error) {
	opts := append([]apiclient.Option{
		apiclient.WithLogger(a.logger),
		apiclient.WithMetrics(a.metrics),
	}, a.apiOpts...)
	return apiclient.New(a.cfg, opts...)
}

func createWriter(format, dir, base string) (pipeline.OutputWriter, error) {
	csvPath := outputPath(dir, base, "csv")
	jsonPath := outputPath(dir, base, "json")
	switch format {
	case "json":
		return pipeline.NewJSONWriter(jsonPath)
	case "csv":
		return pipeline.NewCSVWriter(csvPath)
	case "dual":
		return pipeline.NewDualWriter(csvPath, jsonPath)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func outputPath(dir, base, ext string) string {
	return filepath.Join(dir, base+"."+ext)
}

func newLogger(out io.Writer, verbose bool) *slog.Logger {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	if f, ok := out.(*os.File); ok && isTerminal(f) {
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
