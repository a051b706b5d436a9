package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
)

var exportTS = time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)

func sampleEvent() models.HistoryEvent {
	return models.HistoryEvent{
		Timestamp: exportTS,
		Kind:      models.KindDirectURL,
		URL:       "https://www.facebook.com/ads/library/?id=1",
		Count:     42,
		Source:    "raw-direct",
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]models.HistoryEvent{sampleEvent()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "ts" || records[0][5] != "count" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "2025-11-04T13:09:13Z" || records[1][5] != "42" || records[1][6] != "raw-direct" {
		t.Fatalf("unexpected record: %v", records[1])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	events := []models.HistoryEvent{sampleEvent(), {Timestamp: exportTS, Kind: models.KindPageReference, PageID: "9", Country: "PT", Count: 3}}
	if err := writer.Write(events); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	var got []models.HistoryEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev models.HistoryEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[1].PageID != "9" || !got[0].Timestamp.Equal(exportTS) {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDualWriter(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "history.csv")
	jsonPath := filepath.Join(dir, "history.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]models.HistoryEvent{sampleEvent()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, p := range []string{csvPath, jsonPath} {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			t.Fatalf("%s not written: %v", p, err)
		}
	}
}

type mockWriter struct {
	mu      sync.Mutex
	batches [][]models.HistoryEvent
	closed  bool
}

func (mw *mockWriter) Write(events []models.HistoryEvent) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.batches = append(mw.batches, append([]models.HistoryEvent(nil), events...))
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error { return nil }

func (mw *mockWriter) total() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	n := 0
	for _, b := range mw.batches {
		n += len(b)
	}
	return n
}

func TestExporterFiltersAndDeduplicates(t *testing.T) {
	writer := &mockWriter{}
	exp := NewExporter(writer)

	events := []models.HistoryEvent{
		sampleEvent(),
		sampleEvent(),
		{Timestamp: exportTS, Kind: models.KindDirectURL},
		{Timestamp: exportTS.Add(-48 * time.Hour), Kind: models.KindPageReference, PageID: "1", Country: "PT"},
		{Timestamp: exportTS.Add(time.Hour), Kind: models.KindPageReference, PageID: "2", Country: "PT"},
	}
	if err := exp.Export(context.Background(), events, Filter{Since: exportTS.Add(-time.Hour)}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.total(); got != 2 {
		t.Fatalf("written = %d, want 2", got)
	}
	m := exp.GetMetrics()
	skipped := m["skipped_events"].(map[string]int)
	if skipped["duplicate_event"] != 1 || skipped["invalid_record"] != 1 || skipped["filtered"] != 1 {
		t.Fatalf("unexpected skip counts: %v", skipped)
	}
	if m["exported_events"].(int64) != 2 {
		t.Fatalf("exported = %v", m["exported_events"])
	}
	if !writer.closed {
		t.Fatal("writer should be closed")
	}
	if err := exp.Export(context.Background(), events, Filter{}); err != ErrExporterClosed {
		t.Fatalf("expected ErrExporterClosed, got %v", err)
	}
}

func TestExporterBatches(t *testing.T) {
	writer := &mockWriter{}
	exp := NewExporter(writer)

	events := make([]models.HistoryEvent, 150)
	for i := range events {
		events[i] = models.HistoryEvent{Timestamp: exportTS.Add(time.Duration(i) * time.Second), Kind: models.KindPageReference, PageID: "p", Country: "PT"}
	}
	if err := exp.Export(context.Background(), events, Filter{Kind: models.KindPageReference}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(writer.batches) != 3 || len(writer.batches[0]) != 64 || writer.total() != 150 {
		t.Fatalf("unexpected batching: %d batches, %d events", len(writer.batches), writer.total())
	}
}
