// Package history owns the extraction event log and the collection
// aggregates derived from it.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
	"github.com/aluiziolira/go-adwatch/parser"
	"github.com/google/uuid"
)

var (
	// ErrCollectionNotFound is returned when no collection has the given id.
	ErrCollectionNotFound = errors.New("history: collection not found")
	// ErrDuplicateCollection is returned when a collection already tracks the URL.
	ErrDuplicateCollection = errors.New("history: collection url already tracked")
)

// EventLog is the persistence medium of the event log: an ordered list of
// events, loaded fully into memory on read.
type EventLog interface {
	Load(ctx context.Context) ([]models.HistoryEvent, error)
	// Append persists events after the existing ones. It is not required
	// to be atomic; callers serialize writers.
	Append(ctx context.Context, events []models.HistoryEvent) error
}

// CollectionStore persists collections keyed by their stable id.
type CollectionStore interface {
	Load(ctx context.Context) ([]models.Collection, error)
	Save(ctx context.Context, collections []models.Collection) error
}

// Store appends events and keeps collection aggregates in sync.
type Store struct {
	log         EventLog
	collections CollectionStore
	now         func() time.Time
	logger      *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for new collections.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore wires a store over its persistence media.
func NewStore(log EventLog, collections CollectionStore, opts ...Option) *Store {
	s := &Store{
		log:         log,
		collections: collections,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists events after the existing log.
func (s *Store) Append(ctx context.Context, events []models.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(ctx, events); err != nil {
		return fmt.Errorf("append %d events: %w", len(events), err)
	}
	return nil
}

// Events returns the full event log.
func (s *Store) Events(ctx context.Context) ([]models.HistoryEvent, error) {
	events, err := s.log.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// RollupMerge merges direct-URL events into the collections tracking their
// URL. Page-reference events and events with an error are ignored.
func (s *Store) RollupMerge(ctx context.Context, events ...models.HistoryEvent) error {
	var relevant []models.HistoryEvent
	for _, ev := range events {
		if ev.Kind == models.KindDirectURL && ev.URL != "" && ev.Error == "" {
			relevant = append(relevant, ev)
		}
	}
	if len(relevant) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.collections.Load(ctx)
	if err != nil {
		return fmt.Errorf("load collections: %w", err)
	}

	byURL := make(map[string][]int, len(collections))
	for i, c := range collections {
		byURL[c.URL] = append(byURL[c.URL], i)
	}

	changed := 0
	for _, ev := range relevant {
		for _, i := range byURL[ev.URL] {
			Merge(&collections[i], ev)
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	if err := s.collections.Save(ctx, collections); err != nil {
		return fmt.Errorf("save collections: %w", err)
	}
	s.logger.Debug("collections rolled up", slog.Int("merged", changed))
	return nil
}

// Collections returns every tracked collection.
func (s *Store) Collections(ctx context.Context) ([]models.Collection, error) {
	collections, err := s.collections.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}
	return collections, nil
}

// CollectionURLs returns the URL of every collection, in store order.
func (s *Store) CollectionURLs(ctx context.Context) ([]string, error) {
	collections, err := s.Collections(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(collections))
	for _, c := range collections {
		urls = append(urls, c.URL)
	}
	return urls, nil
}

// NewCollection describes a collection to add.
type NewCollection struct {
	Name         string
	URL          string
	FolderID     string
	Observations string
}

// AddCollection validates and stores a new collection.
func (s *Store) AddCollection(ctx context.Context, nc NewCollection) (models.Collection, error) {
	nc.URL = strings.TrimSpace(nc.URL)
	nc.Name = strings.TrimSpace(nc.Name)
	if nc.Name == "" {
		return models.Collection{}, fmt.Errorf("collection name cannot be empty")
	}
	if err := parser.ValidateLibraryURL(nc.URL); err != nil {
		return models.Collection{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.collections.Load(ctx)
	if err != nil {
		return models.Collection{}, fmt.Errorf("load collections: %w", err)
	}
	for _, c := range collections {
		if c.URL == nc.URL {
			return models.Collection{}, fmt.Errorf("%w: %s", ErrDuplicateCollection, nc.URL)
		}
	}

	c := models.Collection{
		ID:           uuid.NewString(),
		Name:         nc.Name,
		URL:          nc.URL,
		FolderID:     nc.FolderID,
		Observations: nc.Observations,
		CreatedAt:    s.now().UTC(),
		DailyHistory: []models.DailyEntry{},
	}
	collections = append(collections, c)
	if err := s.collections.Save(ctx, collections); err != nil {
		return models.Collection{}, fmt.Errorf("save collections: %w", err)
	}
	return c, nil
}

// RemoveCollection deletes the collection with id.
func (s *Store) RemoveCollection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.collections.Load(ctx)
	if err != nil {
		return fmt.Errorf("load collections: %w", err)
	}
	for i, c := range collections {
		if c.ID != id {
			continue
		}
		collections = append(collections[:i], collections[i+1:]...)
		if err := s.collections.Save(ctx, collections); err != nil {
			return fmt.Errorf("save collections: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
}
