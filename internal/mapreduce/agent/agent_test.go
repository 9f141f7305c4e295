package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu         sync.Mutex
	created    int32
	mergeFail  bool
	commitless bool
	destroyed  []string
}

func (f *fakeProvider) Create(ctx context.Context, baseRef, sessionID string) (Worktree, error) {
	atomic.AddInt32(&f.created, 1)
	return Worktree{Path: "/tmp/wt" + sessionID, BranchName: "agent/" + sessionID, SessionID: sessionID}, nil
}

func (f *fakeProvider) CommitsSince(ctx context.Context, wt Worktree, baseRef string) ([]string, error) {
	if f.commitless {
		return nil, nil
	}
	return []string{"abc123"}, nil
}

func (f *fakeProvider) ModifiedFiles(ctx context.Context, wt Worktree) ([]string, error) {
	return []string{"file.txt"}, nil
}

func (f *fakeProvider) MergeBack(ctx context.Context, wt Worktree) error {
	if f.mergeFail {
		return assertErr
	}
	return nil
}

func (f *fakeProvider) Destroy(ctx context.Context, wt Worktree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, wt.Path)
	return nil
}

var assertErr = &mergeError{"merge conflict"}

type mergeError struct{ msg string }

func (e *mergeError) Error() string { return e.msg }

type fakeExecutor struct {
	fail bool
}

func (f *fakeExecutor) Exec(ctx context.Context, shell, workdir string, timeout time.Duration) (ExecResult, error) {
	if f.fail {
		return ExecResult{ExitCode: 1, Stderr: "boom"}, nil
	}
	return ExecResult{ExitCode: 0, Stdout: "ok"}, nil
}

func TestDispatchOneSuccess(t *testing.T) {
	provider := &fakeProvider{}
	executor := &fakeExecutor{}
	d := NewDispatcher(provider, executor, "main", nil)

	items := []ItemTemplate{{
		ItemID: "item-1",
		Item:   map[string]interface{}{"id": "item-1"},
		Steps:  []Step{{Shell: "echo ${item.id}"}},
	}}

	results := drainDispatch(d, items, 2)
	require.Len(t, results, 1)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, []string{"abc123"}, results[0].Commits)
	assert.Len(t, provider.destroyed, 1)
}

// drainDispatch runs Dispatch to completion and collects every Result,
// mirroring how the old batch DispatchAll behaved for tests that don't
// care about streaming/early-stop behavior.
func drainDispatch(d *Dispatcher, items []ItemTemplate, maxParallel int) []Result {
	stop := make(chan struct{})
	var out []Result
	for r := range d.Dispatch(context.Background(), items, maxParallel, stop) {
		out = append(out, r)
	}
	return out
}

func TestDispatchOneCommandFailure(t *testing.T) {
	provider := &fakeProvider{}
	executor := &fakeExecutor{fail: true}
	d := NewDispatcher(provider, executor, "main", nil)

	items := []ItemTemplate{{ItemID: "item-1", Item: map[string]interface{}{}, Steps: []Step{{Shell: "false"}}}}
	results := drainDispatch(d, items, 1)

	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "exited 1")
}

func TestDispatchMergeBackFailureIsFailed(t *testing.T) {
	provider := &fakeProvider{mergeFail: true}
	executor := &fakeExecutor{}
	d := NewDispatcher(provider, executor, "main", nil)

	items := []ItemTemplate{{ItemID: "item-1", Item: map[string]interface{}{}, Steps: []Step{{Shell: "echo hi"}}}}
	results := drainDispatch(d, items, 1)

	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "merge-back failed")
}

func TestDispatchAllBoundsParallelism(t *testing.T) {
	provider := &fakeProvider{}
	executor := &fakeExecutor{}
	d := NewDispatcher(provider, executor, "main", nil)

	items := make([]ItemTemplate, 5)
	for i := range items {
		items[i] = ItemTemplate{ItemID: "item", Item: map[string]interface{}{}, Steps: []Step{{Shell: "echo hi"}}}
	}

	results := drainDispatch(d, items, 2)
	assert.Len(t, results, 5)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hello-world", slugify("Hello, World!  "))
}

func TestDispatchStopHaltsUndispatchedItems(t *testing.T) {
	provider := &fakeProvider{}
	executor := &fakeExecutor{}
	d := NewDispatcher(provider, executor, "main", nil)

	items := make([]ItemTemplate, 20)
	for i := range items {
		items[i] = ItemTemplate{ItemID: "item", Item: map[string]interface{}{}, Steps: []Step{{Shell: "echo hi"}}}
	}

	stop := make(chan struct{})
	close(stop)
	results := d.Dispatch(context.Background(), items, 1, stop)

	n := 0
	for range results {
		n++
	}
	assert.Less(t, n, len(items))
}

type panicProvider struct{ fakeProvider }

func (p *panicProvider) Create(ctx context.Context, baseRef, sessionID string) (Worktree, error) {
	panic("boom")
}

func TestDispatchOneRecoversFromPanic(t *testing.T) {
	provider := &panicProvider{}
	executor := &fakeExecutor{}
	d := NewDispatcher(provider, executor, "main", nil)

	items := []ItemTemplate{{ItemID: "item-1", Item: map[string]interface{}{}, Steps: []Step{{Shell: "echo hi"}}}}
	results := drainDispatch(d, items, 1)

	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "panicked")
}

func TestDispatchCommitRequiredFailureIsFlagged(t *testing.T) {
	provider := &fakeProvider{}
	provider.commitless = true
	executor := &fakeExecutor{}
	d := NewDispatcher(provider, executor, "main", nil)

	items := []ItemTemplate{{ItemID: "item-1", Item: map[string]interface{}{}, Steps: []Step{{Shell: "echo hi", CommitRequired: true}}}}
	results := drainDispatch(d, items, 1)

	require.Len(t, results, 1)
	assert.True(t, results[0].CommitValidationFailed)
}
