package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
)

// ErrExporterClosed is returned when Export is called after Close.
var ErrExporterClosed = errors.New("exporter: closed")

// OutputWriter is the sink of an export.
type OutputWriter interface {
	Write(events []models.HistoryEvent) error
	Close() error
	Validate() error
}

// Filter narrows an export. Zero fields match everything.
type Filter struct {
	Since time.Time
	Until time.Time
	Kind  models.TargetKind
	URL   string
}

func (f Filter) match(ev models.HistoryEvent) bool {
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.Timestamp.Before(f.Until) {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.URL != "" && ev.URL != f.URL {
		return false
	}
	return true
}

// Exporter validates, de-duplicates and writes events in batches.
type Exporter struct {
	writer    OutputWriter
	batchSize int

	seen map[string]struct{}

	mu      sync.Mutex
	closed  bool
	written int64
	skipped map[string]int
}

// NewExporter builds an exporter writing to writer.
func NewExporter(writer OutputWriter) *Exporter {
	return &Exporter{
		writer:    writer,
		batchSize: 64,
		seen:      make(map[string]struct{}),
		skipped:   make(map[string]int),
	}
}

// Export writes every event accepted by filter.
func (e *Exporter) Export(ctx context.Context, events []models.HistoryEvent, filter Filter) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExporterClosed
	}

	batch := make([]models.HistoryEvent, 0, e.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.writer.Write(batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		e.written += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.match(ev) {
			e.skipped["filtered"]++
			continue
		}
		if reason := e.reject(ev); reason != "" {
			e.skipped[reason]++
			continue
		}
		batch = append(batch, ev)
		if len(batch) >= e.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (e *Exporter) reject(ev models.HistoryEvent) string {
	switch {
	case ev.Timestamp.IsZero():
		return "invalid_record"
	case ev.Kind == models.KindPageReference && ev.PageID == "":
		return "invalid_record"
	case ev.Kind == models.KindDirectURL && ev.URL == "":
		return "invalid_record"
	case ev.Kind != models.KindPageReference && ev.Kind != models.KindDirectURL:
		return "invalid_record"
	}

	key := fmt.Sprintf("%d|%s|%s|%s|%s", ev.Timestamp.UnixNano(), ev.Kind, ev.PageID, ev.Country, ev.URL)
	if _, ok := e.seen[key]; ok {
		return "duplicate_event"
	}
	e.seen[key] = struct{}{}
	return ""
}

// Close closes the writer and prevents further exports.
func (e *Exporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.writer.Close()
}

// GetMetrics returns a snapshot of the export counters.
func (e *Exporter) GetMetrics() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	skipped := make(map[string]int, len(e.skipped))
	for k, v := range e.skipped {
		skipped[k] = v
	}
	return map[string]interface{}{
		"exported_events": e.written,
		"skipped_events":  skipped,
	}
}
