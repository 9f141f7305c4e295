package dlq

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
)

// Queue is the per-job dead-letter queue: one atomically-written JSON
// file per item under <storage_root>/dlq/<job_id>/<item_id>.json.
type Queue struct {
	fs     afero.Fs
	layout storage.Layout
	jobID  string

	mu    sync.Mutex
	items map[string]Item
}

func NewQueue(fs afero.Fs, layout storage.Layout, jobID string) *Queue {
	return &Queue{fs: fs, layout: layout, jobID: jobID, items: map[string]Item{}}
}

// Enqueue is idempotent by item_id: a re-enqueue updates last_attempt,
// increments failure_count, and appends to failure_history (spec
// section 4.9).
func (q *Queue) Enqueue(itemID string, itemData map[string]interface{}, entry FailureEntry, worktree *WorktreeArtifacts) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, ok := q.items[itemID]
	now := entry.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var item Item
	if ok {
		item = existing
		item.LastAttempt = now
		item.FailureCount++
		item.FailureHistory = append(item.FailureHistory, entry)
	} else {
		item = Item{
			ItemID:         itemID,
			ItemData:       itemData,
			FirstAttempt:   now,
			LastAttempt:    now,
			FailureCount:   1,
			FailureHistory: []FailureEntry{entry},
		}
	}

	item.ErrorSignature = Signature(entry.Message)
	kind, reprocess, manual := Classify(entry.Message, entry.ErrorKind == KindTimeout)
	if entry.ErrorKind == "" {
		item.FailureHistory[len(item.FailureHistory)-1].ErrorKind = kind
	}
	item.ReprocessEligible = reprocess
	item.ManualReviewRequired = manual
	if worktree != nil {
		item.Worktree = worktree
	}

	path := q.layout.DLQItemPath(q.jobID, itemID)
	if err := storage.AtomicWriteJSON(q.fs, path, item, true); err != nil {
		return Item{}, fmt.Errorf("persist dlq item %s: %w", itemID, err)
	}

	q.items[itemID] = item
	return item, nil
}

// List returns every item currently in the queue.
func (q *Queue) List() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item)
	}
	return out
}

// ListEligibleForReprocess returns only items marked reprocess_eligible.
func (q *Queue) ListEligibleForReprocess() []Item {
	all := q.List()
	out := make([]Item, 0, len(all))
	for _, item := range all {
		if item.ReprocessEligible {
			out = append(out, item)
		}
	}
	return out
}

// Remove deletes an item from the queue and its backing file.
func (q *Queue) Remove(itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.items, itemID)
	path := q.layout.DLQItemPath(q.jobID, itemID)
	if err := q.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dlq item %s: %w", itemID, err)
	}
	return nil
}

// Load hydrates the in-memory index from whatever item files already
// exist on disk, used when resuming a job.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	dir := q.layout.DLQDir(q.jobID)
	entries, err := afero.ReadDir(q.fs, dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var item Item
		path := filepath.Join(dir, e.Name())
		if err := storage.ReadJSON(q.fs, path, &item); err != nil {
			continue
		}
		q.items[item.ItemID] = item
	}
	return nil
}
