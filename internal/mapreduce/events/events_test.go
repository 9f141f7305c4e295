package events

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
)

type recordingWriter struct {
	batches [][]Event
}

func (w *recordingWriter) Write(batch []Event) error {
	w.batches = append(w.batches, batch)
	return nil
}

func TestLoggerFlushesOnBatchSize(t *testing.T) {
	rec := &recordingWriter{}
	l := NewLogger(rec)
	l.batchSize = 2

	require.NoError(t, l.Log(NewEvent("1", time.Now(), "c1", KindJobStarted, nil)))
	assert.Empty(t, rec.batches)

	require.NoError(t, l.Log(NewEvent("2", time.Now(), "c1", KindAgentStarted, nil)))
	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 2)
}

func TestLoggerExplicitFlush(t *testing.T) {
	rec := &recordingWriter{}
	l := NewLogger(rec)

	require.NoError(t, l.Log(NewEvent("1", time.Now(), "c1", KindJobStarted, nil)))
	require.NoError(t, l.Flush())
	require.Len(t, rec.batches, 1)
}

func TestLoggerTimestampsMonotonic(t *testing.T) {
	rec := &recordingWriter{}
	l := NewLogger(rec)

	now := time.Now()
	earlier := now.Add(-time.Hour)

	require.NoError(t, l.Log(NewEvent("1", now, "c1", KindJobStarted, nil)))
	require.NoError(t, l.Log(NewEvent("2", earlier, "c1", KindAgentStarted, nil)))
	require.NoError(t, l.Flush())

	require.Len(t, rec.batches[0], 2)
	assert.False(t, rec.batches[0][1].Timestamp.Before(rec.batches[0][0].Timestamp))
}

func TestJSONLWriterAppendsAndIndexes(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := storage.NewLayout("/root")
	w := NewJSONLWriter(fs, layout, "job-1", time.Now())

	e1 := NewEvent("1", time.Now(), "c1", KindJobStarted, nil)
	e2 := NewEvent("2", time.Now(), "c1", KindJobCompleted, nil)
	require.NoError(t, w.Write([]Event{e1, e2}))

	exists, err := afero.Exists(fs, w.path)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, 2, w.index.TotalEvents)
	assert.Equal(t, 1, w.index.CountsByKind[KindJobStarted])
	assert.Contains(t, w.index.Offsets, "1")
	assert.Contains(t, w.index.Offsets, "2")

	indexPath := layout.EventsIndexPath("job-1")
	indexExists, err := afero.Exists(fs, indexPath)
	require.NoError(t, err)
	assert.True(t, indexExists)
}
