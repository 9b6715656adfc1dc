package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"jobplane/internal/apperrors"
	"jobplane/internal/job"
)

// MemoryStore is the in-memory Store used by tests and single-process setups.
// A single mutex guards every operation, which trivially gives each guarded
// transition the atomicity the contract demands.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*job.Job)}
}

// CreateJob persists a new job in INIT status.
func (s *MemoryStore) CreateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return apperrors.AlreadyExists("job", j.ID)
	}
	stored := cloneJob(j)
	now := time.Now().UTC()
	if stored.Created.IsZero() {
		stored.Created = now
	}
	stored.Updated = now
	if stored.Status == "" {
		stored.Status = job.StatusInit
	}
	s.jobs[j.ID] = stored
	return nil
}

// GetJob returns the full job aggregate.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("job", id)
	}
	return cloneJob(stored), nil
}

// GetJobStatus returns just the current status.
func (s *MemoryStore) GetJobStatus(ctx context.Context, id string) (job.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return "", apperrors.NotFound("job", id)
	}
	return stored.Status, nil
}

// SaveResolvedJob commits the resolution outcome, or silently does nothing when
// the job was already resolved or moved past a resolvable status.
func (s *MemoryStore) SaveResolvedJob(ctx context.Context, id string, resolved *job.ResolvedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if stored.Resolved || !stored.Status.IsResolvable() {
		return nil
	}

	stored.ClusterID = resolved.ClusterID
	stored.CommandID = resolved.CommandID
	stored.ApplicationIDs = slices.Clone(resolved.ApplicationIDs)
	stored.Environment = maps.Clone(resolved.Environment)
	stored.Resources = resolved.Resources
	stored.Images = maps.Clone(resolved.Images)
	stored.JobDirectory = resolved.JobDirectory
	stored.ArchiveLocation = resolved.ArchiveLocation
	stored.TimeoutSeconds = resolved.TimeoutSeconds
	stored.Resolved = true
	stored.Status = job.StatusResolved
	stored.Updated = time.Now().UTC()
	return nil
}

// ClaimJob atomically assigns the job to the agent.
func (s *MemoryStore) ClaimJob(ctx context.Context, id string, agent job.AgentIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if stored.Claimed {
		return apperrors.AlreadyClaimed(id)
	}
	if !stored.Status.IsClaimable() {
		return apperrors.InvalidStatus("job " + id + " in status " + string(stored.Status) + " cannot be claimed")
	}

	stored.Claimed = true
	stored.Status = job.StatusClaimed
	stored.AgentHostname = agent.Hostname
	stored.AgentVersion = agent.Version
	pid := agent.PID
	stored.AgentPID = &pid
	stored.Updated = time.Now().UTC()
	return nil
}

// UpdateJobStatus performs the guarded transition expected -> next.
func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id string, expected, next job.Status, message string) (job.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return "", apperrors.NotFound("job", id)
	}
	if stored.Status.IsFinished() {
		return stored.Status, nil
	}
	if expected == next {
		return stored.Status, apperrors.InvalidStatus("status transition must change the status, got " + string(next) + " twice")
	}
	if stored.Status != expected {
		return stored.Status, apperrors.InvalidStatus("job " + id + " is in status " + string(stored.Status) + ", not " + string(expected))
	}

	applyTransition(stored, next, message, time.Now().UTC())
	return stored.Status, nil
}

// SetJobRunningInformation records the agent pid and effective timeout with the
// CLAIMED -> RUNNING transition.
func (s *MemoryStore) SetJobRunningInformation(ctx context.Context, id string, pid int, timeoutSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if stored.Status.IsFinished() {
		return nil
	}
	if stored.Status != job.StatusClaimed {
		return apperrors.InvalidStatus("job " + id + " is in status " + string(stored.Status) + ", not " + string(job.StatusClaimed))
	}

	stored.AgentPID = &pid
	stored.TimeoutSeconds = &timeoutSeconds
	applyTransition(stored, job.StatusRunning, "", time.Now().UTC())
	return nil
}

// SetJobCompletionInformation records the final outcome with the transition to
// the finished status.
func (s *MemoryStore) SetJobCompletionInformation(ctx context.Context, id string, expected, final job.Status, message string, exitCode int, stdoutSize, stderrSize int64) error {
	if !final.IsFinished() {
		return apperrors.InvalidStatus("completion status must be a finished status, got " + string(final))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if stored.Status.IsFinished() {
		return nil
	}
	if stored.Status != expected {
		return apperrors.InvalidStatus("job " + id + " is in status " + string(stored.Status) + ", not " + string(expected))
	}

	stored.ExitCode = &exitCode
	stored.StdoutSize = &stdoutSize
	stored.StderrSize = &stderrSize
	applyTransition(stored, final, message, time.Now().UTC())
	return nil
}

// JobsWithStatusIn returns all jobs whose status is in the given set.
func (s *MemoryStore) JobsWithStatusIn(ctx context.Context, statuses ...job.Status) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []job.Job
	for _, stored := range s.jobs {
		if slices.Contains(statuses, stored.Status) {
			out = append(out, *cloneJob(stored))
		}
	}
	return out, nil
}

// ActiveJobIDs returns the ids of all jobs in an active status.
func (s *MemoryStore) ActiveJobIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, stored := range s.jobs {
		if stored.Status.IsActive() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// UnclaimedJobIDs returns the ids of unclaimed jobs still awaiting an agent.
func (s *MemoryStore) UnclaimedJobIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, stored := range s.jobs {
		if !stored.Claimed && stored.Status.IsResolvable() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ActiveJobsStartedBefore returns active jobs started before the cutoff.
func (s *MemoryStore) ActiveJobsStartedBefore(ctx context.Context, cutoff time.Time) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []job.Job
	for _, stored := range s.jobs {
		if stored.Status.IsActive() && stored.Started != nil && stored.Started.Before(cutoff) {
			out = append(out, *cloneJob(stored))
		}
	}
	return out, nil
}

// DeleteJobsFinishedBefore removes finished jobs older than the cutoff. Jobs
// that reached a terminal status without ever starting carry no finished
// timestamp, so the last update time stands in for them.
func (s *MemoryStore) DeleteJobsFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, stored := range s.jobs {
		if !stored.Status.IsFinished() {
			continue
		}
		terminal := stored.Updated
		if stored.Finished != nil {
			terminal = *stored.Finished
		}
		if terminal.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// applyTransition mutates the job for a validated transition. Started is
// stamped once on the move to RUNNING; finished is stamped once on a finished
// status, and only for jobs that actually started.
func applyTransition(j *job.Job, next job.Status, message string, now time.Time) {
	j.Status = next
	j.StatusMessage = message
	j.Updated = now
	if next == job.StatusRunning && j.Started == nil {
		started := now
		j.Started = &started
	}
	if next.IsFinished() && j.Finished == nil && j.Started != nil {
		finished := now
		j.Finished = &finished
	}
}

func cloneJob(j *job.Job) *job.Job {
	c := *j
	c.Request.CommandArgs = slices.Clone(j.Request.CommandArgs)
	c.Request.ClusterCriteria = slices.Clone(j.Request.ClusterCriteria)
	c.Request.ApplicationIDs = slices.Clone(j.Request.ApplicationIDs)
	c.Request.Environment = maps.Clone(j.Request.Environment)
	c.Request.Images = maps.Clone(j.Request.Images)
	c.Request.Tags = slices.Clone(j.Request.Tags)
	c.ApplicationIDs = slices.Clone(j.ApplicationIDs)
	c.Environment = maps.Clone(j.Environment)
	c.Images = maps.Clone(j.Images)
	return &c
}

var _ Store = (*MemoryStore)(nil)
