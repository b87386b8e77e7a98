package frontier

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/docpress/docpress/internal/docpress"
)

type seqIDs struct {
	n int
}

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%03d", g.n)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func newTestFrontier() *Frontier {
	return New(&seqIDs{}, &fixedClock{now: time.Unix(1000, 0)}, zap.NewNop())
}

func TestAddDeduplicatesByNormalizedURL(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	first, err := f.Add("https://Docs.Example.com/guide#intro", "doc")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	second, err := f.Add("https://docs.example.com/guide", "doc")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if first != second {
		t.Fatalf("expected same id for duplicate url, got %s and %s", first, second)
	}

	total := 0
	for _, s := range []docpress.EntryStatus{
		docpress.StatusPending, docpress.StatusProcessing,
		docpress.StatusCompleted, docpress.StatusFailed, docpress.StatusBlocked,
	} {
		total += f.CountByStatus(s)
	}
	if total != 1 {
		t.Fatalf("expected 1 entry across all statuses, got %d", total)
	}
}

func TestAddRejectsMalformedURL(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	if _, err := f.Add("not a url", "doc"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestBulkAddSkipsMalformed(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	ids := f.BulkAdd([]string{
		"https://example.com/a",
		"::::not-a-url",
		"https://example.com/b",
	}, "doc")
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if f.CountByStatus(docpress.StatusPending) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", f.CountByStatus(docpress.StatusPending))
	}
}

func TestNextPendingClaimsFIFO(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	a, _ := f.Add("https://example.com/a", "doc")
	b, _ := f.Add("https://example.com/b", "doc")

	got, ok := f.NextPending()
	if !ok || got.ID != a {
		t.Fatalf("expected first claim of %s, got %+v ok=%v", a, got, ok)
	}
	if got.Status != docpress.StatusProcessing {
		t.Fatalf("claimed entry status = %s, want PROCESSING", got.Status)
	}

	got, ok = f.NextPending()
	if !ok || got.ID != b {
		t.Fatalf("expected second claim of %s, got %+v", b, got)
	}
	if _, ok := f.NextPending(); ok {
		t.Fatal("expected empty frontier after both claims")
	}
}

func TestNextPendingPrefersLowerPriority(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	f.AddWithPriority("https://example.com/later", "doc", 10)
	urgent, _ := f.AddWithPriority("https://example.com/urgent", "doc", 1)
	tied, _ := f.AddWithPriority("https://example.com/tied", "doc", 1)

	got, _ := f.NextPending()
	if got.ID != urgent {
		t.Fatalf("expected lowest priority first, got %s", got.ID)
	}
	// Equal priorities break by insertion order.
	got, _ = f.NextPending()
	if got.ID != tied {
		t.Fatalf("expected insertion-order tie break, got %s", got.ID)
	}
}

func TestUpdateStatusUnknownEntry(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	err := f.UpdateStatus("missing", docpress.StatusCompleted)
	if !errors.Is(err, docpress.ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestUpdateStatusTerminalIsNoOp(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	id, _ := f.Add("https://example.com/a", "doc")
	if err := f.UpdateStatus(id, docpress.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := f.UpdateStatus(id, docpress.StatusFailed); err != nil {
		t.Fatalf("terminal update should be a no-op, got %v", err)
	}
	entry, _ := f.Get(id)
	if entry.Status != docpress.StatusCompleted {
		t.Fatalf("terminal status changed to %s", entry.Status)
	}
}

func TestBlockRecordsReasonAndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	id, _ := f.Add("https://example.com/slow", "resource")
	if err := f.Block(id, "slow responses"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	entry, _ := f.Get(id)
	if entry.Status != docpress.StatusBlocked {
		t.Fatalf("status = %s, want BLOCKED", entry.Status)
	}
	if entry.BlockReason != "slow responses" || entry.BlockedAt == nil {
		t.Fatalf("block metadata missing: %+v", entry)
	}

	if err := f.Block(id, "different reason"); err != nil {
		t.Fatalf("second Block() error = %v", err)
	}
	entry, _ = f.Get(id)
	if entry.BlockReason != "slow responses" {
		t.Fatal("idempotent block must not overwrite the original reason")
	}

	if err := f.Block("missing", "x"); !errors.Is(err, docpress.ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestBlockURLCreatesDistinctSentinel(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	pageID, _ := f.Add("https://example.com/page", "doc")
	f.NextPending()

	sentinelID, err := f.BlockURL("https://example.com/page?cache=1", "failed requests")
	if err != nil {
		t.Fatalf("BlockURL() error = %v", err)
	}
	if sentinelID == pageID {
		t.Fatal("sentinel must get a fresh id distinct from the page entry")
	}

	// The loading page is unaffected by the block.
	page, _ := f.Get(pageID)
	if page.Status != docpress.StatusProcessing {
		t.Fatalf("page status = %s, want PROCESSING", page.Status)
	}
	sentinel, _ := f.Get(sentinelID)
	if sentinel.Status != docpress.StatusBlocked || sentinel.BlockReason != "failed requests" {
		t.Fatalf("sentinel = %+v", sentinel)
	}
	if sentinel.URL != "https://example.com/page" {
		t.Fatalf("sentinel url should be the query-stripped block key, got %q", sentinel.URL)
	}

	// Query variants collapse onto the same sentinel.
	again, err := f.BlockURL("https://example.com/page?cache=2", "slow requests")
	if err != nil {
		t.Fatalf("second BlockURL() error = %v", err)
	}
	if again != sentinelID {
		t.Fatal("expected idempotent sentinel per block key")
	}
	if f.CountByStatus(docpress.StatusBlocked) != 1 {
		t.Fatalf("blocked count = %d, want 1", f.CountByStatus(docpress.StatusBlocked))
	}
}

func TestRestoreKeepsSentinelsSeparate(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	f.Restore([]docpress.Entry{
		{ID: "p1", URL: "https://example.com/page", Category: "doc", Status: docpress.StatusPending},
		{ID: "b1", URL: "https://example.com/page", Category: BlockedCategory, Status: docpress.StatusBlocked},
	})
	if f.CountByStatus(docpress.StatusPending) != 1 || f.CountByStatus(docpress.StatusBlocked) != 1 {
		t.Fatalf("restore collapsed sentinel and page entries: %+v", f.Snapshot())
	}
	id, err := f.BlockURL("https://example.com/page", "again")
	if err != nil {
		t.Fatalf("BlockURL() error = %v", err)
	}
	if id != "b1" {
		t.Fatalf("expected restored sentinel id b1, got %s", id)
	}
}

func TestRequeueIncrementsAttempts(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	id, _ := f.Add("https://example.com/a", "doc")
	f.NextPending()
	if err := f.Requeue(id); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	entry, _ := f.Get(id)
	if entry.Status != docpress.StatusPending || entry.Attempts != 1 {
		t.Fatalf("after requeue got status=%s attempts=%d", entry.Status, entry.Attempts)
	}

	f.NextPending()
	if err := f.Release(id); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	entry, _ = f.Get(id)
	if entry.Status != docpress.StatusPending || entry.Attempts != 1 {
		t.Fatalf("release must not count an attempt, got %+v", entry)
	}
}

func TestRestoreSkipsTerminalAndDemotesProcessing(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	f.Restore([]docpress.Entry{
		{ID: "r1", URL: "https://example.com/done", Status: docpress.StatusCompleted},
		{ID: "r2", URL: "https://example.com/blocked", Status: docpress.StatusBlocked},
		{ID: "r3", URL: "https://example.com/inflight", Status: docpress.StatusProcessing, Attempts: 1},
		{ID: "r4", URL: "https://example.com/todo", Status: docpress.StatusPending},
	})

	var served []string
	for {
		entry, ok := f.NextPending()
		if !ok {
			break
		}
		served = append(served, entry.ID)
	}
	if len(served) != 2 {
		t.Fatalf("expected 2 servable entries after restore, got %v", served)
	}
	for _, id := range served {
		if id == "r1" || id == "r2" {
			t.Fatalf("terminal entry %s must never be served", id)
		}
	}

	entry, _ := f.Get("r3")
	if entry.Attempts != 1 {
		t.Fatalf("restore must preserve attempts, got %d", entry.Attempts)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	t.Parallel()

	f := newTestFrontier()
	id, _ := f.Add("https://example.com/a", "doc")
	snapshot := f.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("snapshot len = %d", len(snapshot))
	}
	snapshot[0].Status = docpress.StatusFailed
	entry, _ := f.Get(id)
	if entry.Status != docpress.StatusPending {
		t.Fatal("snapshot mutation leaked into the frontier")
	}
}
