package checkpoint

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
)

func newTestManager() *Manager {
	fs := afero.NewMemMapFs()
	layout := storage.NewLayout("/root")
	return NewManager(fs, layout, nil)
}

func sampleCheckpoint() Checkpoint {
	return Checkpoint{
		WorkflowID: "job-1",
		Phase:      "map",
		CreatedAt:  time.Now(),
		WorkItemState: WorkItemState{
			Pending: []json.RawMessage{json.RawMessage(`{"id":"a"}`)},
			InProgress: map[string]json.RawMessage{
				"b": json.RawMessage(`{"id":"b"}`),
			},
			Completed: nil,
			Failed:    nil,
		},
		VariableState: map[string]interface{}{},
	}
}

func TestSaveRollsBackInProgressToPending(t *testing.T) {
	m := newTestManager()
	saved, err := m.SaveCheckpoint(sampleCheckpoint(), ReasonPhaseTransition)
	require.NoError(t, err)

	assert.Len(t, saved.WorkItemState.Pending, 2)
	assert.Empty(t, saved.WorkItemState.InProgress)
	assert.Equal(t, 1, saved.Version)
	assert.NotEmpty(t, saved.IntegrityHash)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTestManager()
	saved, err := m.SaveCheckpoint(sampleCheckpoint(), ReasonManual)
	require.NoError(t, err)

	loaded, err := m.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, saved.Version, loaded.Version)
	assert.Equal(t, saved.IntegrityHash, loaded.IntegrityHash)
}

func TestVersionMonotonicallyIncreases(t *testing.T) {
	m := newTestManager()
	c := sampleCheckpoint()

	first, err := m.SaveCheckpoint(c, ReasonInterval)
	require.NoError(t, err)
	second, err := m.SaveCheckpoint(first, ReasonInterval)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
}

func TestLoadFallsBackOnCorruptedLatest(t *testing.T) {
	m := newTestManager()
	c := sampleCheckpoint()

	good, err := m.SaveCheckpoint(c, ReasonInterval)
	require.NoError(t, err)
	corrupted, err := m.SaveCheckpoint(good, ReasonInterval)
	require.NoError(t, err)

	corrupted.IntegrityHash = "deadbeef"
	path := "/root/checkpoints/job-1/v2.json"
	fs := m.fs
	data, err := json.Marshal(corrupted)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	loaded, err := m.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)
}

func TestLoadReturnsCorruptedWhenNoVersionValidates(t *testing.T) {
	m := newTestManager()
	_, err := m.Load("missing-job")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestPruneRetainsOnlyLastNVersions(t *testing.T) {
	m := newTestManager()
	m.retain = 2
	c := sampleCheckpoint()

	saved := c
	var err error
	for i := 0; i < 5; i++ {
		saved, err = m.SaveCheckpoint(saved, ReasonInterval)
		require.NoError(t, err)
	}

	versions, err := m.listVersions("job-1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}
