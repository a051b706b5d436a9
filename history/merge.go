package history

import (
	"sort"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
)

// MaxDailyEntries bounds Collection.DailyHistory.
const MaxDailyEntries = 30

// DateLayout is the calendar-date format of DailyEntry.Date.
const DateLayout = "2006-01-02"

// Merge folds one event into c. The daily entry for the event's UTC date
// keeps the maximum count seen for that date, so merge order does not
// matter. currentCount follows the newest event. History is kept sorted by
// date and pruned to the most recent MaxDailyEntries dates.
func Merge(c *models.Collection, ev models.HistoryEvent) {
	ts := ev.Timestamp.UTC()
	date := ts.Format(DateLayout)

	merged := false
	for i := range c.DailyHistory {
		entry := &c.DailyHistory[i]
		if entry.Date != date {
			continue
		}
		if ev.Count > entry.Count {
			entry.Count = ev.Count
		}
		if ts.After(entry.UpdatedAt) {
			entry.UpdatedAt = ts
		}
		merged = true
		break
	}
	if !merged {
		c.DailyHistory = append(c.DailyHistory, models.DailyEntry{
			Date:      date,
			Count:     ev.Count,
			UpdatedAt: ts,
		})
	}

	if !ts.Before(c.LastUpdatedAt) {
		c.CurrentCount = ev.Count
		c.LastUpdatedAt = ts
	}

	sort.SliceStable(c.DailyHistory, func(i, j int) bool {
		return c.DailyHistory[i].Date < c.DailyHistory[j].Date
	})
	if n := len(c.DailyHistory); n > MaxDailyEntries {
		c.DailyHistory = append([]models.DailyEntry(nil), c.DailyHistory[n-MaxDailyEntries:]...)
	}
}

// Today returns the UTC calendar date of t.
func Today(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
