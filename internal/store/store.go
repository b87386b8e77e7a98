// Package store declares the persistence contract for resumable
// frontier progress records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/docpress/docpress/internal/docpress"
)

// ErrNotFound signals that no snapshot has been persisted yet.
var ErrNotFound = errors.New("progress snapshot not found")

// Record is the persisted form of one frontier entry.
type Record struct {
	ID          string               `json:"id"`
	URL         string               `json:"url"`
	Category    string               `json:"category"`
	Status      docpress.EntryStatus `json:"status"`
	Priority    int                  `json:"priority,omitempty"`
	Attempts    int                  `json:"attempts"`
	BlockReason string               `json:"block_reason,omitempty"`
	AddedAt     time.Time            `json:"added_at"`
}

// Snapshot is one complete frontier capture. Restoring a snapshot must
// never re-serve COMPLETED or BLOCKED entries.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Entries []Record  `json:"entries"`
}

// Repository persists and reloads frontier snapshots.
type Repository interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns the most recent snapshot or ErrNotFound.
	Load(ctx context.Context) (Snapshot, error)
}

// FromEntries converts frontier entries into a snapshot.
func FromEntries(entries []docpress.Entry, takenAt time.Time) Snapshot {
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, Record{
			ID:          e.ID,
			URL:         e.URL,
			Category:    e.Category,
			Status:      e.Status,
			Priority:    e.Priority,
			Attempts:    e.Attempts,
			BlockReason: e.BlockReason,
			AddedAt:     e.AddedAt,
		})
	}
	return Snapshot{TakenAt: takenAt, Entries: records}
}

// ToEntries converts a snapshot back into frontier entries.
func (s Snapshot) ToEntries() []docpress.Entry {
	entries := make([]docpress.Entry, 0, len(s.Entries))
	for _, r := range s.Entries {
		entries = append(entries, docpress.Entry{
			ID:          r.ID,
			URL:         r.URL,
			Category:    r.Category,
			Status:      r.Status,
			Priority:    r.Priority,
			Attempts:    r.Attempts,
			BlockReason: r.BlockReason,
			AddedAt:     r.AddedAt,
		})
	}
	return entries
}
