// Package frontier implements the in-memory deduplicated work collection.
package frontier

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

// Frontier is a mutex-guarded URL collection with status tracking and
// insertion-order scheduling. It satisfies docpress.Frontier.
type Frontier struct {
	mu      sync.RWMutex
	entries map[string]*docpress.Entry
	byURL   map[string]string
	order   []string

	ids    docpress.IDGenerator
	clock  docpress.Clock
	logger *zap.Logger
}

// New creates an empty frontier.
func New(ids docpress.IDGenerator, clock docpress.Clock, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		entries: make(map[string]*docpress.Entry),
		byURL:   make(map[string]string),
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Add inserts a URL as PENDING with default priority. Inserting a URL
// whose normalized form is already present returns the existing id.
func (f *Frontier) Add(url, category string) (string, error) {
	return f.AddWithPriority(url, category, 0)
}

// AddWithPriority inserts a URL with an explicit scheduling priority;
// lower values are served first by NextPending.
func (f *Frontier) AddWithPriority(url, category string, priority int) (string, error) {
	normalized, err := docpress.NormalizeURL(url)
	if err != nil {
		return "", fmt.Errorf("add %q: %w", url, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.byURL[normalized]; ok {
		return id, nil
	}

	id := f.ids.NewID()
	f.entries[id] = &docpress.Entry{
		ID:       id,
		URL:      normalized,
		Category: category,
		Status:   docpress.StatusPending,
		Priority: priority,
		AddedAt:  f.clock.Now(),
	}
	f.byURL[normalized] = id
	f.order = append(f.order, id)
	return id, nil
}

// BulkAdd inserts many URLs; malformed items are logged and skipped
// without aborting the batch.
func (f *Frontier) BulkAdd(urls []string, category string) []string {
	ids := make([]string, 0, len(urls))
	for _, url := range urls {
		id, err := f.Add(url, category)
		if err != nil {
			f.logger.Debug("Skipping malformed url in bulk add",
				zap.String("url", url), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// UpdateStatus transitions an entry. Unknown ids return
// docpress.ErrUnknownEntry; updates on terminal entries are logged no-ops.
func (f *Frontier) UpdateStatus(id string, status docpress.EntryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("update status %s: %w", id, docpress.ErrUnknownEntry)
	}
	if entry.Status.Terminal() {
		f.logger.Debug("Ignoring status update on terminal entry",
			zap.String("id", id),
			zap.String("current", string(entry.Status)),
			zap.String("requested", string(status)))
		return nil
	}
	entry.Status = status
	return nil
}

// NextPending atomically claims the next PENDING entry as PROCESSING.
// Selection prefers lower priority values; ties break by insertion order.
func (f *Frontier) NextPending() (docpress.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *docpress.Entry
	for _, id := range f.order {
		entry := f.entries[id]
		if entry.Status != docpress.StatusPending {
			continue
		}
		if best == nil || entry.Priority < best.Priority {
			best = entry
		}
	}
	if best == nil {
		return docpress.Entry{}, false
	}
	best.Status = docpress.StatusProcessing
	return *best, true
}

// Requeue returns a claimed entry to PENDING, counting one attempt.
func (f *Frontier) Requeue(id string) error {
	return f.unclaim(id, true)
}

// Release returns a claimed entry to PENDING without counting an
// attempt, so interrupted work resumes on restart.
func (f *Frontier) Release(id string) error {
	return f.unclaim(id, false)
}

func (f *Frontier) unclaim(id string, countAttempt bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("unclaim %s: %w", id, docpress.ErrUnknownEntry)
	}
	if entry.Status.Terminal() {
		f.logger.Debug("Ignoring unclaim on terminal entry", zap.String("id", id))
		return nil
	}
	entry.Status = docpress.StatusPending
	if countAttempt {
		entry.Attempts++
	}
	return nil
}

// Block marks the entry BLOCKED, recording the reason and a timestamp.
// Blocking an already terminal entry is a no-op.
func (f *Frontier) Block(id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[id]
	if !ok {
		return fmt.Errorf("block %s: %w", id, docpress.ErrUnknownEntry)
	}
	if entry.Status.Terminal() {
		return nil
	}
	now := f.clock.Now()
	entry.Status = docpress.StatusBlocked
	entry.BlockReason = reason
	entry.BlockedAt = &now
	return nil
}

// BlockedCategory marks sentinel entries created by BlockURL.
const BlockedCategory = "blocked"

// BlockURL records a sentinel BLOCKED entry for the URL's block key.
// The sentinel is deduplicated separately from regular entries, so the
// page currently processing the same URL keeps its own record.
func (f *Frontier) BlockURL(url, reason string) (string, error) {
	key := docpress.BlockKey(url)

	f.mu.Lock()
	defer f.mu.Unlock()

	lookup := sentinelKey(key)
	if id, ok := f.byURL[lookup]; ok {
		return id, nil
	}

	now := f.clock.Now()
	id := f.ids.NewID()
	f.entries[id] = &docpress.Entry{
		ID:          id,
		URL:         key,
		Category:    BlockedCategory,
		Status:      docpress.StatusBlocked,
		AddedAt:     now,
		BlockReason: reason,
		BlockedAt:   &now,
	}
	f.byURL[lookup] = id
	f.order = append(f.order, id)
	return id, nil
}

func sentinelKey(url string) string {
	return "blocked\x00" + url
}

func entryKey(e *docpress.Entry) string {
	if e.Category == BlockedCategory {
		return sentinelKey(e.URL)
	}
	return e.URL
}

// Get returns a copy of one entry.
func (f *Frontier) Get(id string) (docpress.Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, ok := f.entries[id]
	if !ok {
		return docpress.Entry{}, fmt.Errorf("get %s: %w", id, docpress.ErrUnknownEntry)
	}
	return *entry, nil
}

// IDForURL returns the entry id for a normalized URL, if present.
func (f *Frontier) IDForURL(normalized string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	id, ok := f.byURL[normalized]
	return id, ok
}

// CountByStatus counts entries currently in the given status.
func (f *Frontier) CountByStatus(status docpress.EntryStatus) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	count := 0
	for _, entry := range f.entries {
		if entry.Status == status {
			count++
		}
	}
	return count
}

// GetByStatus returns copies of entries in the given status, in
// insertion order.
func (f *Frontier) GetByStatus(status docpress.EntryStatus) []docpress.Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []docpress.Entry
	for _, id := range f.order {
		if entry := f.entries[id]; entry.Status == status {
			out = append(out, *entry)
		}
	}
	return out
}

// Snapshot returns a copy of every entry in insertion order.
func (f *Frontier) Snapshot() []docpress.Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]docpress.Entry, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.entries[id])
	}
	return out
}

// Restore rebuilds the frontier from persisted entries, preserving ids
// and statuses. Entries claimed as PROCESSING when the snapshot was
// taken are demoted to PENDING so they run again. Duplicate normalized
// URLs keep the first record.
func (f *Frontier) Restore(entries []docpress.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, entry := range entries {
		restored := entry
		key := entryKey(&restored)
		if _, ok := f.byURL[key]; ok {
			continue
		}
		if restored.Status == docpress.StatusProcessing {
			restored.Status = docpress.StatusPending
		}
		f.entries[restored.ID] = &restored
		f.byURL[key] = restored.ID
		f.order = append(f.order, restored.ID)
	}
}
