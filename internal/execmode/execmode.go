// Package execmode decides whether a submitted job gets a server-launched
// agent. Checks run in order; the first one with an opinion wins.
package execmode

import (
	"context"
	"log/slog"
	"slices"

	"jobplane/internal/job"
)

// Check inspects a request and returns true (launch an agent), false (agents
// attach out-of-band) or nil (no opinion, ask the next check).
type Check func(ctx context.Context, req *job.Request) *bool

// Selector runs an ordered check chain with a fallback answer.
type Selector struct {
	checks   []Check
	fallback bool
	logger   *slog.Logger
}

// NewSelector creates a selector. The fallback is used when no check has an
// opinion.
func NewSelector(fallback bool, checks ...Check) *Selector {
	return &Selector{
		checks:   checks,
		fallback: fallback,
		logger:   slog.With("component", "execmode"),
	}
}

// LaunchAgent reports whether the server should launch an agent for the
// request.
func (s *Selector) LaunchAgent(ctx context.Context, req *job.Request) bool {
	for i, check := range s.checks {
		if decision := check(ctx, req); decision != nil {
			s.logger.DebugContext(ctx, "Execution mode decided",
				"jobId", req.ID, "check", i, "launchAgent", *decision)
			return *decision
		}
	}
	return s.fallback
}

// TagCheck returns a check that decides when the request carries the tag.
func TagCheck(tag string, launchAgent bool) Check {
	return func(ctx context.Context, req *job.Request) *bool {
		if slices.Contains(req.Tags, tag) {
			decision := launchAgent
			return &decision
		}
		return nil
	}
}

// UserCheck returns a check that decides for requests from the given user.
func UserCheck(user string, launchAgent bool) Check {
	return func(ctx context.Context, req *job.Request) *bool {
		if req.User == user {
			decision := launchAgent
			return &decision
		}
		return nil
	}
}
