// Package pipeline cleans, aggregates and exports harvested records.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-harvest/models"
	"github.com/aluiziolira/go-harvest/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.Record) error
	Close() error
	Validate() error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger injects the logger used for pipeline events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithBatchSize sets how many cleaned records are handed to the writer at once.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// Pipeline validates and cleans records in arrival order, then hands them
// to the writer in batches. It runs on the caller's goroutine.
type Pipeline struct {
	writer    OutputWriter
	logger    *slog.Logger
	batchSize int
	batch     []*models.Record

	metrics metrics

	mu     sync.Mutex // guards closed/err/batch
	closed bool
	err    error
}

// NewPipeline builds a pipeline around writer.
func NewPipeline(writer OutputWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		writer:    writer,
		logger:    slog.New(slog.DiscardHandler),
		batchSize: 64,
		metrics:   newMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, cleans and buffers records. Invalid records are
// dropped and counted.
func (p *Pipeline) Process(records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}

	for _, record := range records {
		prepared := p.prepare(record)
		if prepared == nil {
			continue
		}
		p.batch = append(p.batch, prepared)
		if len(p.batch) >= p.batchSize {
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes the last batch and closes the writer. With nothing
// processed it logs a warning and the writer creates no file. Close is
// idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.err
	}
	p.closed = true

	if p.err == nil {
		_ = p.flush()
	}
	if p.metrics.processedCount() == 0 {
		p.logger.Warn("no data to save")
	}
	if err := p.writer.Close(); err != nil && p.err == nil {
		p.err = fmt.Errorf("close writer: %w", err)
	}
	return p.err
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) flush() error {
	if len(p.batch) == 0 {
		return nil
	}
	if err := p.writer.Write(p.batch); err != nil {
		p.err = fmt.Errorf("write batch: %w", err)
		return p.err
	}
	p.logger.Debug("batch written", slog.Int("records", len(p.batch)))
	p.batch = nil
	return nil
}

func (p *Pipeline) prepare(record *models.Record) *models.Record {
	if err := parser.ValidateRecord(record); err != nil {
		p.metrics.addValidation("invalid_record")
		p.logger.Debug("dropping record", slog.Any("error", err))
		return nil
	}
	p.metrics.incrementProcessed()
	return parser.CleanRecord(record)
}

// ProcessRecords cleans every string field of every record, preserving
// record order and field sets. Inputs are not modified.
func ProcessRecords(records []*models.Record) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, record := range records {
		out = append(out, parser.CleanRecord(record))
	}
	return out
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) processedCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
