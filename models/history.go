package models

import "time"

// HistoryEvent is one immutable row of the extraction event log.
type HistoryEvent struct {
	Timestamp time.Time      `json:"ts" csv:"ts"`
	Kind      TargetKind     `json:"type" csv:"type"`
	PageID    string         `json:"pageId,omitempty" csv:"page_id"`
	Country   string         `json:"country,omitempty" csv:"country"`
	URL       string         `json:"url,omitempty" csv:"url"`
	Count     int            `json:"count" csv:"count"`
	Source    StrategySource `json:"source" csv:"source"`
	Error     string         `json:"error,omitempty" csv:"error"`
}

// Collection tracks the time series of one direct-URL target. The CRUD
// layer owns its lifecycle; the history store updates the counters.
type Collection struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	URL           string       `json:"url"`
	FolderID      string       `json:"folderId,omitempty"`
	Observations  string       `json:"observations,omitempty"`
	CurrentCount  int          `json:"lastActiveAds"`
	LastUpdatedAt time.Time    `json:"lastUpdate"`
	CreatedAt     time.Time    `json:"createdAt"`
	DailyHistory  []DailyEntry `json:"history"`
}

// DailyEntry is the per-date rollup. Date is formatted as YYYY-MM-DD.
type DailyEntry struct {
	Date      string    `json:"date"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"timestamp"`
}

// BatchResult holds the outcome of one batch run.
type BatchResult struct {
	Events    []HistoryEvent
	StartTime time.Time
	EndTime   time.Time
	Failed    int
	LastError string
}

// LastRun is the observable summary of the most recent batch.
type LastRun struct {
	Timestamp  time.Time `json:"ts"`
	EventCount int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
}

// SchedulerState is a snapshot of the scheduler.
type SchedulerState struct {
	Running bool      `json:"enabled"`
	Cadence string    `json:"cadence,omitempty"`
	Country string    `json:"country,omitempty"`
	Targets []Target  `json:"targets"`
	NextRun time.Time `json:"next,omitempty"`
	LastRun *LastRun  `json:"lastRun"`
}
