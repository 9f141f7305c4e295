// Package agent implements the per-agent worktree lifecycle and
// command execution backends used by the Map phase dispatcher (spec
// section 4.4).
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Worktree describes an isolated checkout handed to one agent.
type Worktree struct {
	Path       string
	BranchName string
	SessionID  string
}

// WorktreeProvider grants and reclaims isolated per-agent worktrees. No
// two agents ever share a worktree (spec section 5).
type WorktreeProvider interface {
	Create(ctx context.Context, baseRef, sessionID string) (Worktree, error)
	CommitsSince(ctx context.Context, wt Worktree, baseRef string) ([]string, error)
	ModifiedFiles(ctx context.Context, wt Worktree) ([]string, error)
	MergeBack(ctx context.Context, wt Worktree) error
	Destroy(ctx context.Context, wt Worktree) error
}

// GitWorktreeProvider implements WorktreeProvider over real `git
// worktree` directories rooted under worktreesDir, rather than the
// same-directory branch checkout the teacher's pkg/harness/git.Manager
// performs: every agent gets its own filesystem path, satisfying the
// spec's "no two agents share a worktree" invariant.
type GitWorktreeProvider struct {
	repoPath     string
	worktreesDir string
	branchPrefix string
}

func NewGitWorktreeProvider(repoPath, worktreesDir, branchPrefix string) *GitWorktreeProvider {
	if branchPrefix == "" {
		branchPrefix = "agent/"
	}
	return &GitWorktreeProvider{repoPath: repoPath, worktreesDir: worktreesDir, branchPrefix: branchPrefix}
}

func (p *GitWorktreeProvider) Create(ctx context.Context, baseRef, sessionID string) (Worktree, error) {
	slug := slugify(sessionID)
	if len(slug) > 30 {
		slug = slug[:30]
	}
	timestamp := time.Now().Format("20060102-150405")
	branch := fmt.Sprintf("%s%s-%s", p.branchPrefix, slug, timestamp)
	path := fmt.Sprintf("%s/%s", p.worktreesDir, slug+"-"+timestamp)

	if err := p.git(ctx, p.repoPath, "worktree", "add", "-b", branch, path, baseRef); err != nil {
		return Worktree{}, fmt.Errorf("create worktree for session %s: %w", sessionID, err)
	}

	return Worktree{Path: path, BranchName: branch, SessionID: sessionID}, nil
}

func (p *GitWorktreeProvider) CommitsSince(ctx context.Context, wt Worktree, baseRef string) ([]string, error) {
	out, err := p.gitOutput(ctx, wt.Path, "log", fmt.Sprintf("%s..%s", baseRef, wt.BranchName), "--format=%H")
	if err != nil {
		return nil, fmt.Errorf("list commits on %s: %w", wt.BranchName, err)
	}
	return splitNonEmptyLines(out), nil
}

func (p *GitWorktreeProvider) ModifiedFiles(ctx context.Context, wt Worktree) ([]string, error) {
	out, err := p.gitOutput(ctx, wt.Path, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("status for %s: %w", wt.Path, err)
	}
	var files []string
	for _, line := range splitNonEmptyLines(out) {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// MergeBack merges the agent's branch into the job's working directory
// (the main repoPath checkout), non-fast-forward so the agent's commits
// remain individually visible in history.
func (p *GitWorktreeProvider) MergeBack(ctx context.Context, wt Worktree) error {
	if err := p.git(ctx, p.repoPath, "merge", "--no-ff", wt.BranchName, "-m",
		fmt.Sprintf("Merge agent branch %s", wt.BranchName)); err != nil {
		return fmt.Errorf("merge back %s: %w", wt.BranchName, err)
	}
	return nil
}

// Destroy removes the worktree directory and deletes its branch only if
// that branch is already merged. An unmerged branch (e.g. after a failed
// merge-back) is kept, so the agent's original commits stay on it for
// forensic inspection, matching spec section 4.4.
func (p *GitWorktreeProvider) Destroy(ctx context.Context, wt Worktree) error {
	if err := p.git(ctx, p.repoPath, "worktree", "remove", "--force", wt.Path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", wt.Path, err)
	}
	_ = p.git(ctx, p.repoPath, "branch", "-d", wt.BranchName)
	return nil
}

func (p *GitWorktreeProvider) git(ctx context.Context, dir string, args ...string) error {
	_, err := p.gitOutput(ctx, dir, args...)
	return err
}

func (p *GitWorktreeProvider) gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)
	}
	return string(output), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces   = regexp.MustCompile(`[\s_]+`)
	slugDashes   = regexp.MustCompile(`-+`)
)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
