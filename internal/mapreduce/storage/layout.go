// Package storage offers path-joining helpers for the on-disk layout
// rooted at a caller-supplied StorageRoot (spec section 6). The core
// never decides where StorageRoot itself lives — that is an external
// collaborator's concern (CLI/config layer).
package storage

import (
	"fmt"
	"path/filepath"
)

// Layout resolves paths under a single StorageRoot.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) CheckpointsDir(jobID string) string {
	return filepath.Join(l.Root, "checkpoints", jobID)
}

func (l Layout) CheckpointVersionPath(jobID string, version int) string {
	return filepath.Join(l.CheckpointsDir(jobID), fmt.Sprintf("v%d.json", version))
}

func (l Layout) CheckpointLatestPath(jobID string) string {
	return filepath.Join(l.CheckpointsDir(jobID), "latest")
}

func (l Layout) EventsDir(jobID string) string {
	return filepath.Join(l.Root, "events", jobID)
}

func (l Layout) EventsIndexPath(jobID string) string {
	return filepath.Join(l.EventsDir(jobID), "index.json")
}

func (l Layout) DLQDir(jobID string) string {
	return filepath.Join(l.Root, "dlq", jobID)
}

func (l Layout) DLQItemPath(jobID, itemID string) string {
	return filepath.Join(l.DLQDir(jobID), itemID+".json")
}

func (l Layout) SessionPath(jobID string) string {
	return filepath.Join(l.Root, "state", jobID, "session.json")
}

func (l Layout) WorktreesDir() string {
	return filepath.Join(l.Root, "worktrees")
}

func (l Layout) WorktreePath(worktreeName string) string {
	return filepath.Join(l.WorktreesDir(), worktreeName)
}
