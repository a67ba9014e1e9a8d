package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-harvest/dataset"
	"github.com/aluiziolira/go-harvest/models"
	"github.com/aluiziolira/go-harvest/parser"
	"github.com/aluiziolira/go-harvest/pipeline"
	"github.com/spf13/cobra"
)

// hackerNewsSelectors are the demo selectors for the default base URL.
var hackerNewsSelectors = []parser.Selector{
	{Name: "title", CSS: ".titleline > a"},
	{Name: "score", CSS: ".score"},
	{Name: "author", CSS: ".hnuser"},
	{Name: "comments", CSS: ".subtext > a:last-child"},
}

func newScrapeCmd(a *app) *cobra.Command {
	var (
		urls      []string
		selectors []string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "scrape [--url <url>]... [--selector name=css]...",
		Short: "Scrapes the given pages with CSS selectors and exports one record per page.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := selectorsOrDefault(selectors)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				urls = []string{a.cfg.BaseURL}
			}
			return a.runScrape(cmd, urls, fields, output)
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "Page URL to scrape (repeatable, defaults to --base-url)")
	cmd.Flags().StringArrayVar(&selectors, "selector", nil, "Field selector as name=css (repeatable, kept in order)")
	cmd.Flags().StringVar(&output, "output", "scraped_data", "Output file name without extension")
	return cmd
}

func newCrawlCmd(a *app) *cobra.Command {
	var (
		selectors []string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "crawl [--selector name=css]...",
		Short: "Discovers same-host links on the base URL and scrapes them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := selectorsOrDefault(selectors)
			if err != nil {
				return err
			}
			s, err := a.newScraper()
			if err != nil {
				return err
			}
			links, err := s.DiscoverLinks(cmd.Context(), a.cfg.BaseURL)
			if err != nil {
				return fmt.Errorf("discover links: %w", err)
			}
			a.logger.Info("discovered links", slog.String("url", a.cfg.BaseURL), slog.Int("links", len(links)))
			return a.runScrape(cmd, links, fields, output)
		},
	}
	cmd.Flags().StringArrayVar(&selectors, "selector", nil, "Field selector as name=css (repeatable, kept in order)")
	cmd.Flags().StringVar(&output, "output", "crawled_data", "Output file name without extension")
	return cmd
}

func (a *app) runScrape(cmd *cobra.Command, urls []string, selectors []parser.Selector, output string) error {
	s, err := a.newScraper()
	if err != nil {
		return err
	}

	a.logger.Info("starting scrape",
		slog.String("base_url", a.cfg.BaseURL),
		slog.Int("urls", len(urls)),
		slog.Int("max_pages", a.cfg.MaxPages),
	)
	start := a.now()
	scraped, err := s.ScrapeMany(cmd.Context(), urls, selectors)
	if err != nil {
		return fmt.Errorf("scraping interrupted: %w", err)
	}

	records := make([]*models.Record, 0, len(scraped))
	for _, r := range scraped {
		records = append(records, r.Record())
	}
	exported, err := a.export(records, output)
	if err != nil {
		return err
	}

	printScrapeSummary(cmd.OutOrStdout(), s.Result(), a.now().Sub(start), exported)
	return nil
}

func newAPICmd(a *app) *cobra.Command {
	var (
		endpoint string
		params   map[string]string
		pages    int
		postFile string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "api [--endpoint <path>] [--param key=value]... [--post payload.json]",
		Short: "Walks a paginated REST endpoint, or POSTs a JSON payload to it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.newAPIClient()
			if err != nil {
				return err
			}

			if postFile != "" {
				payload, err := os.ReadFile(postFile)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				if !json.Valid(payload) {
					return fmt.Errorf("payload %s is not valid JSON", postFile)
				}
				body, err := client.Request(cmd.Context(), "POST", endpoint, nil, json.RawMessage(payload))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}

			if pages <= 0 {
				return fmt.Errorf("--pages must be positive")
			}
			records := client.Paginate(cmd.Context(), endpoint, params, pages)
			a.logger.Info("fetched api records", slog.String("endpoint", endpoint), slog.Int("records", len(records)))

			exported, err := a.export(records, output)
			if err != nil {
				return err
			}
			printExport(cmd.OutOrStdout(), len(records), exported)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "posts", "Endpoint relative to --api-base-url")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().IntVar(&pages, "pages", a.cfg.APIMaxPages, "Maximum pages to request")
	cmd.Flags().StringVar(&postFile, "post", "", "POST this JSON file instead of paginating")
	cmd.Flags().StringVar(&output, "output", "api_data", "Output file name without extension")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var report string
	cmd := &cobra.Command{
		Use:   "analyze <file.csv|file.json|file.xlsx>",
		Short: "Loads a tabular file, summarises its columns and writes a JSON report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := dataset.Load(args[0])
			if err != nil {
				a.logger.Error("loading data", slog.String("path", args[0]), slog.Any("error", err))
				return err
			}
			summary := pipeline.Analyze(records)
			a.logger.Info("data loaded",
				slog.String("path", args[0]),
				slog.Int("rows", summary.TotalRecords),
				slog.Int("columns", len(summary.Columns)),
			)

			path := filepath.Join(a.cfg.OutputDir, report)
			if err := pipeline.WriteReport(path, summary, a.now()); err != nil {
				return err
			}
			printAnalysis(cmd.OutOrStdout(), summary)
			fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&report, "report", "analysis_report.json", "Report file name inside --output-dir")
	return cmd
}

func newDemoCmd(a *app) *cobra.Command {
	var apiPages int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Scrapes the base page, fetches API posts, then combines, cleans, analyses and saves them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDemo(cmd.Context(), cmd, apiPages)
		},
	}
	cmd.Flags().IntVar(&apiPages, "api-pages", 2, "API pages to fetch")
	return cmd
}

func (a *app) runDemo(ctx context.Context, cmd *cobra.Command, apiPages int) error {
	out := cmd.OutOrStdout()

	s, err := a.newScraper()
	if err != nil {
		return err
	}
	var all []*models.Record
	page, err := s.ScrapePage(ctx, a.cfg.BaseURL, hackerNewsSelectors)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("main page not scraped", slog.String("url", a.cfg.BaseURL), slog.Any("error", err))
	} else {
		all = append(all, page.Record())
		fmt.Fprintf(out, "Scraped main page, title: %s\n", orNA(page.Field("title")))
	}

	client, err := a.newAPIClient()
	if err != nil {
		return err
	}
	posts := client.Paginate(ctx, "posts", nil, apiPages)
	fmt.Fprintf(out, "Fetched %d posts from API\n", len(posts))
	if len(posts) > 0 {
		fmt.Fprintf(out, "First post title: %s\n", orNA(stringField(posts[0], "title")))
	}
	all = append(all, posts...)

	processed := pipeline.ProcessRecords(all)
	summary := pipeline.Analyze(processed)
	printAnalysis(out, summary)

	exported, err := a.export(processed, "combined_data")
	if err != nil {
		return err
	}
	printExport(out, len(processed), exported)
	return nil
}

// export runs records through the cleaning pipeline into the configured
// writer and returns the files produced.
func (a *app) export(records []*models.Record, base string) ([]string, error) {
	writer, err := createWriter(a.cfg.OutputFormat, a.cfg.OutputDir, base)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}

	p := pipeline.NewPipeline(writer, pipeline.WithLogger(a.logger))
	if err := p.Process(records); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("processing records: %w", err)
	}
	if err := p.Close(); err != nil {
		return nil, fmt.Errorf("pipeline shutdown failed: %w", err)
	}

	processed, _ := p.GetMetrics()["processed_records"].(int64)
	if processed == 0 {
		return nil, nil
	}
	if err := writer.Validate(); err != nil {
		return nil, fmt.Errorf("output validation failed: %w", err)
	}

	var files []string
	switch w := writer.(type) {
	case *pipeline.DualWriter:
		csvPath, jsonPath := w.Paths()
		files = append(files, csvPath, jsonPath)
	case *pipeline.CSVWriter:
		files = append(files, w.Path())
	case *pipeline.JSONWriter:
		files = append(files, w.Path())
	}
	a.logger.Info("records saved", slog.Int64("records", processed), slog.Any("files", files))
	return files, nil
}

func selectorsOrDefault(pairs []string) ([]parser.Selector, error) {
	if len(pairs) == 0 {
		return hackerNewsSelectors, nil
	}
	return parser.ParseSelectors(pairs)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func stringField(r *models.Record, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
