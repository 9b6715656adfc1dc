// Package launcher starts agent processes for resolved jobs. The server never
// executes job payloads itself; it launches an agent, and the agent claims the
// job and runs it.
package launcher

import (
	"context"

	"jobplane/internal/job"
)

// Launcher starts and stops agents for jobs.
type Launcher interface {
	// Launch starts an agent for the resolved job.
	Launch(ctx context.Context, j *job.Job) error

	// Stop terminates the agent for the job, if one is running.
	Stop(ctx context.Context, jobID string) error

	// Ready reports whether the launcher backend is reachable.
	Ready(ctx context.Context) error
}

// Noop is the launcher used when agents run out-of-band and claim jobs on
// their own schedule.
type Noop struct{}

func (Noop) Launch(ctx context.Context, j *job.Job) error { return nil }
func (Noop) Stop(ctx context.Context, jobID string) error { return nil }
func (Noop) Ready(ctx context.Context) error              { return nil }

var _ Launcher = Noop{}
