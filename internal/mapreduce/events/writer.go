package events

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
)

// Writer is implemented by anything that durably persists a batch of
// events. Writers are composable: a Logger fans each flushed batch out
// to every configured Writer.
type Writer interface {
	Write(batch []Event) error
}

// JSONLWriter appends each event as one JSON line to
// <storage_root>/events/<job_id>/<start-timestamp>.jsonl, and maintains
// a side-car index (counts per kind, total events, time range, and
// per-event byte offsets) alongside it.
type JSONLWriter struct {
	fs     afero.Fs
	layout storage.Layout
	jobID  string
	path   string

	mu     sync.Mutex
	offset int64
	index  Index
}

// NewJSONLWriter creates a writer targeting a single log file name
// derived from the writer's creation time, per spec section 4.8's
// <timestamp>.jsonl naming.
func NewJSONLWriter(fs afero.Fs, layout storage.Layout, jobID string, startedAt time.Time) *JSONLWriter {
	name := startedAt.UTC().Format("20060102T150405.000000000Z")
	path := filepath.Join(layout.EventsDir(jobID), name+".jsonl")
	return &JSONLWriter{
		fs:     fs,
		layout: layout,
		jobID:  jobID,
		path:   path,
		index:  NewIndex(),
	}
}

func (w *JSONLWriter) Write(batch []Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range batch {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		if err := storage.AppendLine(w.fs, w.path, line); err != nil {
			return fmt.Errorf("append event %s: %w", e.ID, err)
		}
		w.index.Record(e, w.offset)
		w.offset += int64(len(line)) + 1
	}

	indexPath := w.layout.EventsIndexPath(w.jobID)
	return storage.AtomicWriteJSON(w.fs, indexPath, w.index, true)
}

// Index summarizes an event log: counts per kind, total events, time
// range, and byte offsets for random access by id (spec section 4.8).
type Index struct {
	TotalEvents int              `json:"total_events"`
	CountsByKind map[Kind]int    `json:"counts_by_kind"`
	FirstEvent  *time.Time       `json:"first_event,omitempty"`
	LastEvent   *time.Time       `json:"last_event,omitempty"`
	Offsets     map[string]int64 `json:"offsets"`
}

func NewIndex() Index {
	return Index{
		CountsByKind: map[Kind]int{},
		Offsets:      map[string]int64{},
	}
}

// Record updates the index for one appended event at the given byte
// offset within the log file.
func (idx *Index) Record(e Event, offset int64) {
	idx.TotalEvents++
	idx.CountsByKind[e.Kind]++
	idx.Offsets[e.ID] = offset

	ts := e.Timestamp
	if idx.FirstEvent == nil || ts.Before(*idx.FirstEvent) {
		idx.FirstEvent = &ts
	}
	if idx.LastEvent == nil || ts.After(*idx.LastEvent) {
		idx.LastEvent = &ts
	}
}
