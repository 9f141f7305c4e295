package dlq

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
)

func TestClassifyOrderedRules(t *testing.T) {
	cases := []struct {
		message      string
		timedOut     bool
		wantKind     ErrorKind
		wantReproc   bool
		wantManual   bool
	}{
		{"commit required before merge", false, KindCommitValidationFailed, false, true},
		{"operation timed out after 30s", false, KindTimeout, true, false},
		{"merge conflict in file.go", false, KindMergeConflict, false, false},
		{"worktree locked", false, KindWorktreeError, false, false},
		{"validation failed: missing field", false, KindValidationFailed, false, true},
		{"resource exhausted: out of memory", false, KindResourceExhausted, true, false},
		{"permission denied writing file", false, KindPermissionDenied, false, true},
		{"process exited with exit code: 7", false, KindCommandFailed, false, false},
		{"something unexpected happened", false, KindUnknown, false, false},
	}

	for _, c := range cases {
		kind, reproc, manual := Classify(c.message, c.timedOut)
		assert.Equal(t, c.wantKind, kind, c.message)
		assert.Equal(t, c.wantReproc, reproc, c.message)
		assert.Equal(t, c.wantManual, manual, c.message)
	}
}

func TestClassifyTimeoutFlagOverridesMessage(t *testing.T) {
	kind, reproc, _ := Classify("agent did not respond", true)
	assert.Equal(t, KindTimeout, kind)
	assert.True(t, reproc)
}

func TestSignatureStableAndNormalized(t *testing.T) {
	a := Signature("  Timeout Occurred  ")
	b := Signature("timeout occurred")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func newTestQueue() *Queue {
	fs := afero.NewMemMapFs()
	layout := storage.NewLayout("/root")
	return NewQueue(fs, layout, "job-1")
}

func TestEnqueueIdempotentByItemID(t *testing.T) {
	q := newTestQueue()

	item, err := q.Enqueue("item-1", map[string]interface{}{"id": "item-1"}, FailureEntry{
		Attempt: 1, Timestamp: time.Now(), Message: "timeout while running",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, item.FailureCount)

	item, err = q.Enqueue("item-1", map[string]interface{}{"id": "item-1"}, FailureEntry{
		Attempt: 2, Timestamp: time.Now(), Message: "timeout while running",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, item.FailureCount)
	assert.Len(t, item.FailureHistory, 2)
	assert.Len(t, q.List(), 1)
}

func TestListEligibleForReprocess(t *testing.T) {
	q := newTestQueue()
	_, err := q.Enqueue("reprocessable", nil, FailureEntry{Message: "timed out"}, nil)
	require.NoError(t, err)
	_, err = q.Enqueue("not-reprocessable", nil, FailureEntry{Message: "merge conflict"}, nil)
	require.NoError(t, err)

	eligible := q.ListEligibleForReprocess()
	require.Len(t, eligible, 1)
	assert.Equal(t, "reprocessable", eligible[0].ItemID)
}

func TestRemove(t *testing.T) {
	q := newTestQueue()
	_, err := q.Enqueue("item-1", nil, FailureEntry{Message: "unknown failure"}, nil)
	require.NoError(t, err)

	require.NoError(t, q.Remove("item-1"))
	assert.Empty(t, q.List())
}
