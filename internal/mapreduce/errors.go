package mapreduce

import "errors"

var (
	ErrIllegalTransition    = errors.New("illegal phase transition")
	ErrCheckpointCorrupted  = errors.New("checkpoint corrupted: no valid version found")
	ErrInputNotArray        = errors.New("map input json_path did not select an array")
	ErrCircuitBreakerOpen   = errors.New("circuit breaker open")
	ErrMaxFailuresExceeded  = errors.New("cumulative failure count exceeded max_failures")
	ErrFailureRateExceeded  = errors.New("failure rate exceeded configured threshold")
	ErrHardStop             = errors.New("continue_on_failure is false and an item failed")
	ErrCommitValidationFail = errors.New("command declared commit_required but produced no new commits")
	ErrJobCancelled         = errors.New("job cancelled")
	ErrWorktreeConflict     = errors.New("worktree path already in use")
)
