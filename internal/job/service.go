package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"jobplane/internal/apperrors"
	"jobplane/internal/observability"
)

// Validation limits
const (
	maxJobIDLength     = 128
	maxNameLength      = 255
	maxClusterCriteria = 10
	maxCPU             = 64         // cores
	maxMemoryMB        = 256 * 1024 // 256GB
	maxTimeoutSecs     = 30 * 24 * 3600
	maxEnvEntries      = 128
	maxEnvKeyLength    = 255
	maxEnvValueLength  = 1024
)

// jobIDPattern allows alphanumeric, hyphens, and underscores
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// LifecycleStore is what the service needs from job persistence. Implemented
// by the lifecycle store.
type LifecycleStore interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobStatus(ctx context.Context, id string) (Status, error)
	SaveResolvedJob(ctx context.Context, id string, resolved *ResolvedJob) error
	ClaimJob(ctx context.Context, id string, agent AgentIdentity) error
	UpdateJobStatus(ctx context.Context, id string, expected, next Status, message string) (Status, error)
	SetJobRunningInformation(ctx context.Context, id string, pid int, timeoutSeconds int) error
	SetJobCompletionInformation(ctx context.Context, id string, expected, final Status, message string, exitCode int, stdoutSize, stderrSize int64) error
}

// Resolver computes the execution plan for a request.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, req *Request) (*ResolvedJob, error)
}

// AgentLauncher starts and stops agents for jobs.
type AgentLauncher interface {
	Launch(ctx context.Context, j *Job) error
	Stop(ctx context.Context, jobID string) error
}

// Notifier receives successful status transitions.
type Notifier interface {
	JobStatusChanged(jobID string, previous, current Status, message string)
}

// ModeSelector decides whether a job gets a server-launched agent.
type ModeSelector interface {
	LaunchAgent(ctx context.Context, req *Request) bool
}

// Service drives the job lifecycle: submission with synchronous resolution,
// claiming, status reporting and kill. All state lives in the store; the
// service itself is stateless, so instances scale horizontally.
type Service struct {
	store    LifecycleStore
	resolver Resolver
	launcher AgentLauncher
	notifier Notifier
	mode     ModeSelector
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService creates a job service. launcher, notifier, mode and metrics may
// be nil.
func NewService(store LifecycleStore, resolver Resolver, launcher AgentLauncher, notifier Notifier, mode ModeSelector, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		launcher: launcher,
		notifier: notifier,
		mode:     mode,
		metrics:  metrics,
		logger:   slog.With("component", "jobservice"),
	}
}

// Submit validates the request, persists the job and resolves it synchronously.
// A request that no cluster can serve comes back as NoResourcesFound with the
// job left behind in INVALID status for inspection.
func (s *Service) Submit(ctx context.Context, req *Request) (*Job, error) {
	applyDefaults(req)
	if err := validate(req); err != nil {
		return nil, err
	}

	logger := s.logger.With("jobId", req.ID, "user", req.User)

	j := &Job{ID: req.ID, Request: *req, Status: StatusInit}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	s.notifyStatus(req.ID, "", StatusInit, "")
	if s.metrics != nil {
		s.metrics.RecordJobSubmitted(ctx, req.User)
	}

	start := time.Now()
	resolved, err := s.resolver.Resolve(ctx, req.ID, req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordResolutionFailed(ctx, time.Since(start).Seconds())
		}
		if errors.Is(err, apperrors.ErrNoResourcesFound) {
			logger.WarnContext(ctx, "Job resolution found no resources", "error", err)
			if _, uerr := s.store.UpdateJobStatus(ctx, req.ID, StatusInit, StatusInvalid, err.Error()); uerr == nil {
				s.notifyStatus(req.ID, StatusInit, StatusInvalid, err.Error())
				if s.metrics != nil {
					s.metrics.RecordJobFinished(ctx, string(StatusInvalid), 0)
				}
			}
		}
		return nil, err
	}

	if err := s.store.SaveResolvedJob(ctx, req.ID, resolved); err != nil {
		return nil, err
	}
	s.notifyStatus(req.ID, StatusInit, StatusResolved, "")
	if s.metrics != nil {
		s.metrics.RecordJobResolved(ctx, resolved.ClusterID, time.Since(start).Seconds())
	}
	logger.InfoContext(ctx, "Job submitted",
		"cluster", resolved.ClusterID, "command", resolved.CommandID)

	committed, err := s.store.GetJob(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if s.launcher != nil && s.shouldLaunch(ctx, req) {
		if err := s.launcher.Launch(ctx, committed); err != nil {
			// The job stays RESOLVED; an out-of-band agent can still claim it.
			logger.ErrorContext(ctx, "Agent launch failed", "error", err)
		}
	}

	return committed, nil
}

// Claim assigns the job to the agent, exactly once.
func (s *Service) Claim(ctx context.Context, id string, agent AgentIdentity) error {
	if agent.Hostname == "" {
		return apperrors.Validation("hostname", "agent hostname is required")
	}
	if err := s.store.ClaimJob(ctx, id, agent); err != nil {
		return err
	}
	s.notifyStatus(id, StatusResolved, StatusClaimed, "")
	if s.metrics != nil {
		s.metrics.RecordJobClaimed(ctx)
	}
	s.logger.InfoContext(ctx, "Job claimed", "jobId", id, "agent", agent.Hostname)
	return nil
}

// MarkRunning records the agent's process id and moves the job to RUNNING.
func (s *Service) MarkRunning(ctx context.Context, id string, pid int) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	timeout := 0
	if j.TimeoutSeconds != nil {
		timeout = *j.TimeoutSeconds
	}
	if err := s.store.SetJobRunningInformation(ctx, id, pid, timeout); err != nil {
		return err
	}
	s.notifyStatus(id, StatusClaimed, StatusRunning, "")
	return nil
}

// UpdateStatus performs the guarded transition expected -> next on behalf of an
// agent. The returned status is the job's status after the call.
func (s *Service) UpdateStatus(ctx context.Context, id string, expected, next Status, message string) (Status, error) {
	if _, err := ParseStatus(string(next)); err != nil {
		return "", apperrors.Validation("status", err.Error())
	}
	got, err := s.store.UpdateJobStatus(ctx, id, expected, next, message)
	if err != nil {
		return got, err
	}
	if got == next {
		s.notifyStatus(id, expected, next, message)
		if next.IsFinished() {
			s.recordFinished(ctx, id, next)
		}
	}
	return got, nil
}

// Complete records the final outcome reported by the agent.
func (s *Service) Complete(ctx context.Context, id string, expected, final Status, message string, exitCode int, stdoutSize, stderrSize int64) error {
	if err := s.store.SetJobCompletionInformation(ctx, id, expected, final, message, exitCode, stdoutSize, stderrSize); err != nil {
		return err
	}
	s.notifyStatus(id, expected, final, message)
	s.recordFinished(ctx, id, final)
	s.logger.InfoContext(ctx, "Job completed", "jobId", id, "status", final, "exitCode", exitCode)
	return nil
}

// Get returns the full job aggregate.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// GetStatus returns the status projection.
func (s *Service) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:            j.ID,
		Status:        j.Status,
		StatusMessage: j.StatusMessage,
		Started:       j.Started,
		Finished:      j.Finished,
		ExitCode:      j.ExitCode,
	}, nil
}

// Kill moves the job to KILLED from whatever active status it is in and stops
// its agent. Killing an already finished job is a no-op.
func (s *Service) Kill(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "Job killed by user"
	}

	stored, err := s.store.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}
	if stored.IsFinished() {
		return nil
	}

	got, err := s.store.UpdateJobStatus(ctx, id, stored, StatusKilled, reason)
	if err != nil {
		return err
	}
	if got == StatusKilled {
		s.notifyStatus(id, stored, StatusKilled, reason)
		s.recordFinished(ctx, id, StatusKilled)
	}

	if s.launcher != nil {
		if err := s.launcher.Stop(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "Failed to stop agent", "jobId", id, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "Job killed", "jobId", id, "reason", reason)
	return nil
}

func (s *Service) shouldLaunch(ctx context.Context, req *Request) bool {
	if s.mode == nil {
		return true
	}
	return s.mode.LaunchAgent(ctx, req)
}

func (s *Service) notifyStatus(id string, previous, current Status, message string) {
	if s.notifier != nil {
		s.notifier.JobStatusChanged(id, previous, current, message)
	}
}

func (s *Service) recordFinished(ctx context.Context, id string, final Status) {
	if s.metrics == nil {
		return
	}
	duration := 0.0
	if j, err := s.store.GetJob(ctx, id); err == nil && j.Started != nil && j.Finished != nil {
		duration = j.Finished.Sub(*j.Started).Seconds()
	}
	s.metrics.RecordJobFinished(ctx, string(final), duration)
}

// applyDefaults fills in the fields submission may omit.
func applyDefaults(req *Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Version == "" {
		req.Version = "1.0"
	}
	for i := range req.ClusterCriteria {
		req.ClusterCriteria[i] = req.ClusterCriteria[i].Normalize()
	}
	req.CommandCriterion = req.CommandCriterion.Normalize()
}

// validate checks a job request. Does not modify the request.
func validate(req *Request) error {
	if len(req.ID) > maxJobIDLength {
		return apperrors.Validation("id", fmt.Sprintf("job ID exceeds maximum length of %d", maxJobIDLength))
	}
	if !jobIDPattern.MatchString(req.ID) {
		return apperrors.Validation("id", "job ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	if req.Name == "" {
		return apperrors.Validation("name", "job name is required")
	}
	if len(req.Name) > maxNameLength {
		return apperrors.Validation("name", fmt.Sprintf("job name exceeds maximum length of %d", maxNameLength))
	}
	if req.User == "" {
		return apperrors.Validation("user", "user is required")
	}
	if len(req.ClusterCriteria) == 0 {
		return apperrors.Validation("clusterCriteria", "at least one cluster criterion is required")
	}
	if len(req.ClusterCriteria) > maxClusterCriteria {
		return apperrors.Validation("clusterCriteria", fmt.Sprintf("cluster criteria exceed maximum of %d", maxClusterCriteria))
	}

	if err := validateResources(req.Resources); err != nil {
		return err
	}

	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 1 {
			return apperrors.Validation("timeoutSeconds", "timeout must be at least 1 second")
		}
		if *req.TimeoutSeconds > maxTimeoutSecs {
			return apperrors.Validation("timeoutSeconds", fmt.Sprintf("timeout exceeds maximum of %d seconds", maxTimeoutSecs))
		}
	}

	if len(req.Environment) > maxEnvEntries {
		return apperrors.Validation("environment", fmt.Sprintf("environment exceeds maximum of %d entries", maxEnvEntries))
	}
	for k, v := range req.Environment {
		if k == "" || len(k) > maxEnvKeyLength {
			return apperrors.Validation("environment", fmt.Sprintf("environment key must be 1-%d characters", maxEnvKeyLength))
		}
		if len(v) > maxEnvValueLength {
			return apperrors.Validation("environment", fmt.Sprintf("environment value exceeds maximum length of %d", maxEnvValueLength))
		}
	}
	return nil
}

// validateResources rejects requested overrides below 1. Absent fields are
// fine; they fall through to the defaults during resolution.
func validateResources(r ComputeResources) error {
	if r.CPU != nil {
		if *r.CPU < 1 {
			return apperrors.Validation("resources.cpu", "cpu must be at least 1")
		}
		if *r.CPU > maxCPU {
			return apperrors.Validation("resources.cpu", fmt.Sprintf("cpu exceeds maximum of %d cores", maxCPU))
		}
	}
	if r.GPU != nil && *r.GPU < 1 {
		return apperrors.Validation("resources.gpu", "gpu must be at least 1")
	}
	if r.MemoryMB != nil {
		if *r.MemoryMB < 1 {
			return apperrors.Validation("resources.memoryMb", "memory must be at least 1 MB")
		}
		if *r.MemoryMB > maxMemoryMB {
			return apperrors.Validation("resources.memoryMb", fmt.Sprintf("memory exceeds maximum of %d MB", maxMemoryMB))
		}
	}
	if r.DiskMB != nil && *r.DiskMB < 1 {
		return apperrors.Validation("resources.diskMb", "disk must be at least 1 MB")
	}
	if r.NetworkMbps != nil && *r.NetworkMbps < 1 {
		return apperrors.Validation("resources.networkMbps", "network must be at least 1 Mbps")
	}
	return nil
}
