package store

import (
	"fmt"
	"path/filepath"

	"github.com/aluiziolira/go-adwatch/config"
	"github.com/aluiziolira/go-adwatch/history"
)

// File names inside the data directory.
const (
	EventsFileName      = "history.jsonl"
	CollectionsFileName = "libraries.json"
	DatabaseFileName    = "adwatch.db"
)

// Media bundles the two persistence media of a history store.
type Media struct {
	Events      history.EventLog
	Collections history.CollectionStore
	close       func() error
}

// Close releases the underlying resources.
func (m *Media) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}

// Open returns the media selected by backend under dataDir.
func Open(backend, dataDir string) (*Media, error) {
	switch backend {
	case config.StorageFile, "":
		return &Media{
			Events:      NewEventFile(filepath.Join(dataDir, EventsFileName)),
			Collections: NewCollectionFile(filepath.Join(dataDir, CollectionsFileName)),
		}, nil
	case config.StorageSQLite:
		if err := ensureDir(filepath.Join(dataDir, DatabaseFileName)); err != nil {
			return nil, err
		}
		db, err := OpenSQLite(filepath.Join(dataDir, DatabaseFileName))
		if err != nil {
			return nil, err
		}
		return &Media{
			Events:      db.Events(),
			Collections: db.Collections(),
			close:       db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
