package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/iepathos/prodigy-sub010/internal/logging"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/storage"
)

// ErrCorrupted is returned by Load when no retained checkpoint version
// passes its integrity check.
var ErrCorrupted = errors.New("checkpoint corrupted: no valid version found")

// RetainVersions is the default number of checkpoint versions kept per
// job (spec section 3: "at most N most-recent versions (default N=10)").
const RetainVersions = 10

// Manager saves and loads Checkpoints through an afero.Fs rooted at a
// storage.Layout, following the atomic write protocol in spec section 6.
type Manager struct {
	fs      afero.Fs
	layout  storage.Layout
	retain  int
	log     *logging.Logger
	lastVer map[string]int
}

func NewManager(fs afero.Fs, layout storage.Layout, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	return &Manager{fs: fs, layout: layout, retain: RetainVersions, log: log, lastVer: map[string]int{}}
}

// SaveCheckpoint implements the seven-step protocol from spec section
// 4.6: clone, roll back in_progress to pending, stamp
// version/time/reason, compute the integrity hash, write atomically,
// update the latest pointer, then prune old versions only after the new
// latest is visible.
func (m *Manager) SaveCheckpoint(c Checkpoint, reason Reason) (Checkpoint, error) {
	next, err := c.Clone()
	if err != nil {
		return Checkpoint{}, err
	}

	rollbackInProgress(&next)

	next.Version = m.nextVersion(next.WorkflowID, next.Version)
	next.CreatedAt = time.Now()
	next.CheckpointReason = reason
	next.IntegrityHash = computeIntegrityHash(next)

	path := m.layout.CheckpointVersionPath(next.WorkflowID, next.Version)
	if err := storage.AtomicWriteJSON(m.fs, path, next, true); err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint v%d: %w", next.Version, err)
	}

	latestPath := m.layout.CheckpointLatestPath(next.WorkflowID)
	if err := storage.AtomicWriteJSON(m.fs, latestPath, map[string]int{"version": next.Version}, false); err != nil {
		return Checkpoint{}, fmt.Errorf("update latest pointer: %w", err)
	}

	m.lastVer[next.WorkflowID] = next.Version
	m.prune(next.WorkflowID, next.Version)

	m.log.Debug("checkpoint saved: job=%s version=%d reason=%s", next.WorkflowID, next.Version, reason)
	return next, nil
}

func (m *Manager) nextVersion(jobID string, current int) int {
	if v, ok := m.lastVer[jobID]; ok && v >= current {
		return v + 1
	}
	return current + 1
}

// prune deletes versions older than the retained window, walking
// backward from the newest version outside that window; it only ever
// touches versions at or below latest-retain, so it never removes the
// currently-visible latest version.
func (m *Manager) prune(jobID string, latest int) {
	oldest := latest - m.retain
	if oldest < 1 {
		return
	}
	for v := oldest; v >= 1; v-- {
		path := m.layout.CheckpointVersionPath(jobID, v)
		exists, err := afero.Exists(m.fs, path)
		if err != nil || !exists {
			continue
		}
		if err := m.fs.Remove(path); err != nil {
			m.log.Error("prune checkpoint v%d for job %s: %v", v, jobID, err)
		}
	}
}

// Load locates the highest version, validating its integrity hash; on
// mismatch it falls through to progressively older versions, returning
// ErrCorrupted only when none validate (spec section 4.6).
func (m *Manager) Load(jobID string) (Checkpoint, error) {
	versions, err := m.listVersions(jobID)
	if err != nil {
		return Checkpoint{}, err
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, v := range versions {
		var c Checkpoint
		path := m.layout.CheckpointVersionPath(jobID, v)
		if err := storage.ReadJSON(m.fs, path, &c); err != nil {
			m.log.Error("read checkpoint v%d for job %s: %v", v, jobID, err)
			continue
		}
		want := c.IntegrityHash
		c.IntegrityHash = ""
		got := computeIntegrityHash(c)
		c.IntegrityHash = want
		if got != want {
			m.log.Error("checkpoint v%d for job %s failed integrity check", v, jobID)
			continue
		}
		m.lastVer[jobID] = c.Version
		return c, nil
	}

	return Checkpoint{}, fmt.Errorf("job %s: %w", jobID, ErrCorrupted)
}

func (m *Manager) listVersions(jobID string) ([]int, error) {
	dir := m.layout.CheckpointsDir(jobID)
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return nil, nil
	}
	var versions []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json")
		v, err := strconv.Atoi(trimmed)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}
