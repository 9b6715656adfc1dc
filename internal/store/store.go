// Package store persists the job aggregate and enforces the lifecycle
// invariants at the storage boundary: resolve-once, claim-once, status
// monotonicity and set-once timestamps. Callers above this package never
// check-then-write; every guarded transition is a single atomic unit here.
package store

import (
	"context"
	"time"

	"jobplane/internal/job"
)

// Store is the job lifecycle persistence contract.
type Store interface {
	// CreateJob persists a new job in INIT status. Returns AlreadyExists if the
	// id is taken.
	CreateJob(ctx context.Context, j *job.Job) error

	// GetJob returns the full job aggregate.
	GetJob(ctx context.Context, id string) (*job.Job, error)

	// GetJobStatus returns just the current status.
	GetJobStatus(ctx context.Context, id string) (job.Status, error)

	// SaveResolvedJob commits the resolution outcome: bindings, the resolved
	// flag and the RESOLVED status, atomically. If the job was already resolved,
	// or its status no longer permits resolution, the call is a silent no-op so
	// duplicate resolution attempts are harmless.
	SaveResolvedJob(ctx context.Context, id string, resolved *job.ResolvedJob) error

	// ClaimJob atomically assigns the job to the agent. Exactly one concurrent
	// claimer succeeds, ever: later attempts get AlreadyClaimed, and attempts
	// against a job that is not in a claimable status get InvalidStatus.
	ClaimJob(ctx context.Context, id string, agent job.AgentIdentity) error

	// UpdateJobStatus performs the guarded transition expected -> next.
	// expected == next is rejected with InvalidStatus, as is a stored status
	// that differs from expected. A job already in a finished status ignores the
	// update and reports its stored status. Moving to RUNNING stamps the started
	// time once; moving to a finished status stamps the finished time once,
	// provided the job had started. The returned status is the job's status
	// after the call.
	UpdateJobStatus(ctx context.Context, id string, expected, next job.Status, message string) (job.Status, error)

	// SetJobRunningInformation records the agent process id and the effective
	// timeout together with the CLAIMED -> RUNNING transition, as one unit.
	SetJobRunningInformation(ctx context.Context, id string, pid int, timeoutSeconds int) error

	// SetJobCompletionInformation records the exit code and output sizes
	// together with the transition to the given finished status, as one unit.
	SetJobCompletionInformation(ctx context.Context, id string, expected, final job.Status, message string, exitCode int, stdoutSize, stderrSize int64) error

	// JobsWithStatusIn returns all jobs whose status is in the given set.
	JobsWithStatusIn(ctx context.Context, statuses ...job.Status) ([]job.Job, error)

	// ActiveJobIDs returns the ids of all jobs in an active status.
	ActiveJobIDs(ctx context.Context) ([]string, error)

	// UnclaimedJobIDs returns the ids of unclaimed jobs still awaiting an agent.
	UnclaimedJobIDs(ctx context.Context) ([]string, error)

	// ActiveJobsStartedBefore returns active jobs whose started timestamp is set
	// and earlier than the cutoff. Used by the timeout sweep as a coarse
	// prefilter; the sweep applies each job's own timeout.
	ActiveJobsStartedBefore(ctx context.Context, cutoff time.Time) ([]job.Job, error)

	// DeleteJobsFinishedBefore removes finished jobs whose finished timestamp is
	// earlier than the cutoff and returns how many were deleted.
	DeleteJobsFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
