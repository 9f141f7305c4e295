// Package dlq implements the dead-letter queue: failure classification,
// error signatures, and per-item atomic persistence (spec section 4.9).
package dlq

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a failure for reprocessing/review decisions.
type ErrorKind string

const (
	KindCommitValidationFailed ErrorKind = "CommitValidationFailed"
	KindTimeout                ErrorKind = "Timeout"
	KindMergeConflict          ErrorKind = "MergeConflict"
	KindWorktreeError          ErrorKind = "WorktreeError"
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindResourceExhausted      ErrorKind = "ResourceExhausted"
	KindPermissionDenied       ErrorKind = "PermissionDenied"
	KindCommandFailed          ErrorKind = "CommandFailed"
	KindUnknown                ErrorKind = "Unknown"
)

// FailureEntry is one attempt recorded in an item's failure_history.
type FailureEntry struct {
	Attempt     int       `json:"attempt"`
	Timestamp   time.Time `json:"timestamp"`
	ErrorKind   ErrorKind `json:"error_kind"`
	Message     string    `json:"message"`
	LogRef      string    `json:"log_ref,omitempty"`
	ContextTrail string   `json:"context_trail,omitempty"`
}

// WorktreeArtifacts preserves forensic worktree state for manual review.
type WorktreeArtifacts struct {
	Path        string `json:"path"`
	Branch      string `json:"branch"`
	Uncommitted bool   `json:"uncommitted"`
}

// Item is a quarantined WorkItem (spec section 3's DeadLetteredItem).
type Item struct {
	ItemID               string                 `json:"item_id"`
	ItemData              map[string]interface{} `json:"item_data"`
	FirstAttempt          time.Time              `json:"first_attempt"`
	LastAttempt           time.Time              `json:"last_attempt"`
	FailureCount          int                    `json:"failure_count"`
	FailureHistory        []FailureEntry         `json:"failure_history"`
	ErrorSignature        string                 `json:"error_signature"`
	Worktree              *WorktreeArtifacts     `json:"worktree,omitempty"`
	ReprocessEligible     bool                   `json:"reprocess_eligible"`
	ManualReviewRequired  bool                   `json:"manual_review_required"`
}

type classificationRule struct {
	kind       ErrorKind
	reprocess  bool
	manual     bool
	signals    []string
}

// orderedRules implements the first-match-wins table from spec section
// 4.9. Order matters: e.g. a message containing both "timeout" and
// "validation" classifies as Timeout because it is checked first.
var orderedRules = []classificationRule{
	{kind: KindCommitValidationFailed, reprocess: false, manual: true, signals: []string{"commit required", "commit validation"}},
	{kind: KindTimeout, reprocess: true, manual: false, signals: []string{"timeout", "timed out"}},
	{kind: KindMergeConflict, reprocess: false, manual: false, signals: []string{"merge", "conflict"}},
	{kind: KindWorktreeError, reprocess: false, manual: false, signals: []string{"worktree"}},
	{kind: KindValidationFailed, reprocess: false, manual: true, signals: []string{"validation", "invalid"}},
	{kind: KindResourceExhausted, reprocess: true, manual: false, signals: []string{"resource", "out of memory"}},
	{kind: KindPermissionDenied, reprocess: false, manual: true, signals: []string{"permission", "access denied"}},
}

// extraManualSignals mark manual_review_required regardless of which
// rule matched first (spec section 4.9: "additionally marked... on any
// of...").
var extraManualSignals = []string{
	"permission", "access denied", "critical", "fatal", "corrupted", "validation", "commit required",
}

var exitCodePattern = regexp.MustCompile(`(?i)exit code:\s*(-?\d+)`)

// Classify normalizes message and applies the ordered rule table,
// first match wins, falling back to a parsed "exit code: N" or Unknown.
func Classify(message string, timedOut bool) (kind ErrorKind, reprocessEligible, manualReview bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))

	if timedOut {
		kind, reprocessEligible, manualReview = KindTimeout, true, false
	} else {
		kind, reprocessEligible, manualReview = classifyBySignal(normalized)
	}

	for _, s := range extraManualSignals {
		if strings.Contains(normalized, s) {
			manualReview = true
			break
		}
	}

	return kind, reprocessEligible, manualReview
}

func classifyBySignal(normalized string) (ErrorKind, bool, bool) {
	for _, rule := range orderedRules {
		for _, signal := range rule.signals {
			if strings.Contains(normalized, signal) {
				return rule.kind, rule.reprocess, rule.manual
			}
		}
	}

	if m := exitCodePattern.FindStringSubmatch(normalized); len(m) == 2 {
		if _, err := strconv.Atoi(m[1]); err == nil {
			return KindCommandFailed, false, false
		}
	}

	return KindUnknown, false, false
}

// Signature computes the stable error_signature used for grouping and
// deduplication: SHA256(normalized_message)[0..16].
func Signature(message string) string {
	normalized := strings.ToLower(strings.TrimSpace(message))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
