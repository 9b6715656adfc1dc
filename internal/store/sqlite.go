package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"jobplane/internal/apperrors"
	"jobplane/internal/job"
)

// SQLiteStore is the Store implementation over the embedded relational store.
//
// Every lifecycle transition is a single guarded UPDATE whose WHERE clause
// restates the precondition; SQLite serializes writers, so a transition either
// lands atomically or matches zero rows and is classified after the fact. No
// transition ever does a separate check-then-write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the jobs table if needed and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize job schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		created TEXT NOT NULL,
		updated TEXT NOT NULL,
		request TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		claimed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		status_message TEXT NOT NULL DEFAULT '',
		started TEXT,
		finished TEXT,
		cluster_id TEXT NOT NULL DEFAULT '',
		command_id TEXT NOT NULL DEFAULT '',
		application_ids TEXT NOT NULL DEFAULT '[]',
		environment TEXT NOT NULL DEFAULT '{}',
		resources TEXT NOT NULL DEFAULT '{}',
		images TEXT NOT NULL DEFAULT '{}',
		job_directory TEXT NOT NULL DEFAULT '',
		archive_location TEXT NOT NULL DEFAULT '',
		timeout_seconds INTEGER,
		agent_hostname TEXT NOT NULL DEFAULT '',
		agent_version TEXT NOT NULL DEFAULT '',
		agent_pid INTEGER,
		exit_code INTEGER,
		stdout_size INTEGER,
		stderr_size INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_claimed ON jobs(claimed, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

const finishedStatusSet = `('SUCCEEDED', 'FAILED', 'KILLED', 'INVALID')`

const activeStatusSet = `('INIT', 'RESOLVED', 'CLAIMED', 'RUNNING')`

// CreateJob persists a new job in INIT status.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	if j.Created.IsZero() {
		j.Created = now
	}
	j.Updated = now
	if j.Status == "" {
		j.Status = job.StatusInit
	}
	request, err := json.Marshal(j.Request)
	if err != nil {
		return apperrors.Internal("store.createJob", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, created, updated, request, status, status_message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		j.ID, j.Created.Format(time.RFC3339Nano), j.Updated.Format(time.RFC3339Nano),
		string(request), string(j.Status), j.StatusMessage)
	if err != nil {
		return apperrors.Internal("store.createJob", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("store.createJob", err)
	}
	if affected == 0 {
		return apperrors.AlreadyExists("job", j.ID)
	}
	return nil
}

// GetJob returns the full job aggregate.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	jobs, err := s.queryJobs(ctx, selectJob+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, apperrors.NotFound("job", id)
	}
	return &jobs[0], nil
}

// GetJobStatus returns just the current status.
func (s *SQLiteStore) GetJobStatus(ctx context.Context, id string) (job.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", apperrors.NotFound("job", id)
	}
	if err != nil {
		return "", apperrors.Internal("store.getJobStatus", err)
	}
	return job.Status(status), nil
}

// SaveResolvedJob commits the resolution outcome. The WHERE clause carries the
// idempotency guard: an already-resolved or no-longer-resolvable job matches
// zero rows and the call silently succeeds.
func (s *SQLiteStore) SaveResolvedJob(ctx context.Context, id string, resolved *job.ResolvedJob) error {
	applicationIDs, err := json.Marshal(emptyIfNil(resolved.ApplicationIDs))
	if err != nil {
		return apperrors.Internal("store.saveResolvedJob", err)
	}
	environment, err := json.Marshal(resolved.Environment)
	if err != nil {
		return apperrors.Internal("store.saveResolvedJob", err)
	}
	resources, err := json.Marshal(resolved.Resources)
	if err != nil {
		return apperrors.Internal("store.saveResolvedJob", err)
	}
	images, err := json.Marshal(resolved.Images)
	if err != nil {
		return apperrors.Internal("store.saveResolvedJob", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			resolved = 1, status = ?, updated = ?,
			cluster_id = ?, command_id = ?, application_ids = ?,
			environment = ?, resources = ?, images = ?,
			job_directory = ?, archive_location = ?, timeout_seconds = ?
		WHERE id = ? AND resolved = 0 AND status IN ('INIT', 'RESOLVED')`,
		string(job.StatusResolved), nowString(),
		resolved.ClusterID, resolved.CommandID, string(applicationIDs),
		string(environment), string(resources), string(images),
		resolved.JobDirectory, resolved.ArchiveLocation, resolved.TimeoutSeconds,
		id)
	if err != nil {
		return apperrors.Internal("store.saveResolvedJob", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("store.saveResolvedJob", err)
	}
	if affected == 1 {
		return nil
	}

	// Zero rows: either the job does not exist or the guard rejected the write.
	if _, err := s.GetJobStatus(ctx, id); err != nil {
		return err
	}
	return nil
}

// ClaimJob atomically assigns the job to the agent. The guarded UPDATE is the
// whole claim race: exactly one concurrent claimer matches the row.
func (s *SQLiteStore) ClaimJob(ctx context.Context, id string, agent job.AgentIdentity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			claimed = 1, status = ?, status_message = '', updated = ?,
			agent_hostname = ?, agent_version = ?, agent_pid = ?
		WHERE id = ? AND claimed = 0 AND status = ?`,
		string(job.StatusClaimed), nowString(),
		agent.Hostname, agent.Version, agent.PID,
		id, string(job.StatusResolved))
	if err != nil {
		return apperrors.Internal("store.claimJob", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("store.claimJob", err)
	}
	if affected == 1 {
		return nil
	}

	var claimed bool
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT claimed, status FROM jobs WHERE id = ?`, id).Scan(&claimed, &status)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("job", id)
	}
	if err != nil {
		return apperrors.Internal("store.claimJob", err)
	}
	if claimed {
		return apperrors.AlreadyClaimed(id)
	}
	return apperrors.InvalidStatus("job " + id + " in status " + status + " cannot be claimed")
}

// UpdateJobStatus performs the guarded transition expected -> next.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, expected, next job.Status, message string) (job.Status, error) {
	if expected == next {
		// Finished jobs still win: they ignore updates rather than erroring.
		stored, err := s.GetJobStatus(ctx, id)
		if err != nil {
			return "", err
		}
		if stored.IsFinished() {
			return stored, nil
		}
		return stored, apperrors.InvalidStatus("status transition must change the status, got " + string(next) + " twice")
	}

	now := nowString()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, status_message = ?, updated = ?,
			started = CASE WHEN ? AND started IS NULL THEN ? ELSE started END,
			finished = CASE WHEN ? AND finished IS NULL AND started IS NOT NULL THEN ? ELSE finished END
		WHERE id = ? AND status = ? AND status NOT IN `+finishedStatusSet,
		string(next), message, now,
		next == job.StatusRunning, now,
		next.IsFinished(), now,
		id, string(expected))
	if err != nil {
		return "", apperrors.Internal("store.updateJobStatus", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", apperrors.Internal("store.updateJobStatus", err)
	}
	if affected == 1 {
		return next, nil
	}

	stored, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return "", err
	}
	if stored.IsFinished() {
		return stored, nil
	}
	return stored, apperrors.InvalidStatus("job " + id + " is in status " + string(stored) + ", not " + string(expected))
}

// SetJobRunningInformation records the agent pid and effective timeout with the
// CLAIMED -> RUNNING transition, in one statement.
func (s *SQLiteStore) SetJobRunningInformation(ctx context.Context, id string, pid int, timeoutSeconds int) error {
	now := nowString()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, status_message = '', updated = ?,
			started = CASE WHEN started IS NULL THEN ? ELSE started END,
			agent_pid = ?, timeout_seconds = ?
		WHERE id = ? AND status = ?`,
		string(job.StatusRunning), now, now,
		pid, timeoutSeconds,
		id, string(job.StatusClaimed))
	if err != nil {
		return apperrors.Internal("store.setJobRunningInformation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("store.setJobRunningInformation", err)
	}
	if affected == 1 {
		return nil
	}

	stored, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}
	if stored.IsFinished() {
		return nil
	}
	return apperrors.InvalidStatus("job " + id + " is in status " + string(stored) + ", not " + string(job.StatusClaimed))
}

// SetJobCompletionInformation records the final outcome with the transition to
// the finished status, in one statement.
func (s *SQLiteStore) SetJobCompletionInformation(ctx context.Context, id string, expected, final job.Status, message string, exitCode int, stdoutSize, stderrSize int64) error {
	if !final.IsFinished() {
		return apperrors.InvalidStatus("completion status must be a finished status, got " + string(final))
	}

	now := nowString()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, status_message = ?, updated = ?,
			finished = CASE WHEN finished IS NULL AND started IS NOT NULL THEN ? ELSE finished END,
			exit_code = ?, stdout_size = ?, stderr_size = ?
		WHERE id = ? AND status = ? AND status NOT IN `+finishedStatusSet,
		string(final), message, now, now,
		exitCode, stdoutSize, stderrSize,
		id, string(expected))
	if err != nil {
		return apperrors.Internal("store.setJobCompletionInformation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("store.setJobCompletionInformation", err)
	}
	if affected == 1 {
		return nil
	}

	stored, err := s.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}
	if stored.IsFinished() {
		return nil
	}
	return apperrors.InvalidStatus("job " + id + " is in status " + string(stored) + ", not " + string(expected))
}

// JobsWithStatusIn returns all jobs whose status is in the given set.
func (s *SQLiteStore) JobsWithStatusIn(ctx context.Context, statuses ...job.Status) ([]job.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(statuses)-1) + "?"
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryJobs(ctx, selectJob+` WHERE status IN (`+placeholders+`)`, args...)
}

// ActiveJobIDs returns the ids of all jobs in an active status.
func (s *SQLiteStore) ActiveJobIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM jobs WHERE status IN `+activeStatusSet+` ORDER BY id`)
}

// UnclaimedJobIDs returns the ids of unclaimed jobs still awaiting an agent.
func (s *SQLiteStore) UnclaimedJobIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx,
		`SELECT id FROM jobs WHERE claimed = 0 AND status IN ('INIT', 'RESOLVED') ORDER BY id`)
}

// ActiveJobsStartedBefore returns active jobs started before the cutoff. The
// timestamp comparison happens in process: RFC 3339 strings with mixed
// fractional precision do not order correctly under SQL string comparison.
func (s *SQLiteStore) ActiveJobsStartedBefore(ctx context.Context, cutoff time.Time) ([]job.Job, error) {
	candidates, err := s.queryJobs(ctx,
		selectJob+` WHERE status IN `+activeStatusSet+` AND started IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	var out []job.Job
	for _, j := range candidates {
		if j.Started != nil && j.Started.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

// DeleteJobsFinishedBefore removes finished jobs older than the cutoff. Jobs
// that reached a terminal status without ever starting carry no finished
// timestamp, so the last update time stands in for them.
func (s *SQLiteStore) DeleteJobsFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	finished, err := s.queryJobs(ctx,
		selectJob+` WHERE status IN `+finishedStatusSet)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, j := range finished {
		terminal := j.Updated
		if j.Finished != nil {
			terminal = *j.Finished
		}
		if !terminal.Before(cutoff) {
			continue
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		if err != nil {
			return deleted, apperrors.Internal("store.deleteJobsFinishedBefore", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, apperrors.Internal("store.deleteJobsFinishedBefore", err)
		}
		deleted += n
	}
	return deleted, nil
}

// Ping verifies the backing store is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectJob = `
	SELECT id, created, updated, request, resolved, claimed, status, status_message,
		started, finished, cluster_id, command_id, application_ids, environment,
		resources, images, job_directory, archive_location, timeout_seconds,
		agent_hostname, agent_version, agent_pid, exit_code, stdout_size, stderr_size
	FROM jobs`

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("store.queryJobs", err)
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Internal("store.queryJobs", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("store.queryIDs", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Internal("store.queryIDs", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanJob(rows *sql.Rows) (job.Job, error) {
	var (
		j                                  job.Job
		created, updated, request, status  string
		started, finished                  sql.NullString
		applicationIDs, environment        string
		resources, images                  string
		timeoutSeconds, agentPID, exitCode sql.NullInt64
		stdoutSize, stderrSize             sql.NullInt64
	)
	if err := rows.Scan(&j.ID, &created, &updated, &request, &j.Resolved, &j.Claimed,
		&status, &j.StatusMessage, &started, &finished, &j.ClusterID, &j.CommandID,
		&applicationIDs, &environment, &resources, &images, &j.JobDirectory,
		&j.ArchiveLocation, &timeoutSeconds, &j.AgentHostname, &j.AgentVersion,
		&agentPID, &exitCode, &stdoutSize, &stderrSize); err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	if err := json.Unmarshal([]byte(request), &j.Request); err != nil {
		return job.Job{}, err
	}
	if err := json.Unmarshal([]byte(applicationIDs), &j.ApplicationIDs); err != nil {
		return job.Job{}, err
	}
	if environment != "{}" && environment != "" {
		if err := json.Unmarshal([]byte(environment), &j.Environment); err != nil {
			return job.Job{}, err
		}
	}
	if err := json.Unmarshal([]byte(resources), &j.Resources); err != nil {
		return job.Job{}, err
	}
	if images != "{}" && images != "" {
		if err := json.Unmarshal([]byte(images), &j.Images); err != nil {
			return job.Job{}, err
		}
	}

	j.Created, _ = time.Parse(time.RFC3339Nano, created)
	j.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	j.Started = parseNullTime(started)
	j.Finished = parseNullTime(finished)
	if timeoutSeconds.Valid {
		v := int(timeoutSeconds.Int64)
		j.TimeoutSeconds = &v
	}
	if agentPID.Valid {
		v := int(agentPID.Int64)
		j.AgentPID = &v
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		j.ExitCode = &v
	}
	if stdoutSize.Valid {
		v := stdoutSize.Int64
		j.StdoutSize = &v
	}
	if stderrSize.Valid {
		v := stderrSize.Int64
		j.StderrSize = &v
	}
	return j, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)
