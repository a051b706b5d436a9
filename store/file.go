// Package store provides persistence media for the history store: JSON
// files on disk or a SQLite database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-adwatch/models"
)

// EventFile is a JSONL event log. Appends rewrite the whole file through a
// temporary file and a rename.
type EventFile struct {
	path string
	mu   sync.Mutex
}

// NewEventFile returns an event log stored at path.
func NewEventFile(path string) *EventFile {
	return &EventFile{path: path}
}

// Load reads every event. A missing file is an empty log.
func (f *EventFile) Load(ctx context.Context) ([]models.HistoryEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(ctx)
}

func (f *EventFile) load(ctx context.Context) ([]models.HistoryEvent, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var events []models.HistoryEvent
	dec := json.NewDecoder(file)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ev models.HistoryEvent
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Append reads the log, appends events and writes it back.
func (f *EventFile) Append(ctx context.Context, events []models.HistoryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.load(ctx)
	if err != nil {
		return err
	}
	all := append(existing, events...)

	return writeAtomic(f.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, ev := range all {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
		}
		return nil
	})
}

// CollectionFile stores collections as one JSON array.
type CollectionFile struct {
	path string
	mu   sync.Mutex
}

// NewCollectionFile returns a collection store at path.
func NewCollectionFile(path string) *CollectionFile {
	return &CollectionFile{path: path}
}

// Load reads every collection. A missing file is an empty list.
func (f *CollectionFile) Load(_ context.Context) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collections: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var collections []models.Collection
	if err := json.Unmarshal(data, &collections); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}
	return collections, nil
}

// Save replaces the stored list.
func (f *CollectionFile) Save(_ context.Context, collections []models.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if collections == nil {
		collections = []models.Collection{}
	}
	return writeAtomic(f.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(collections); err != nil {
			return fmt.Errorf("encode collections: %w", err)
		}
		return nil
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
