package job

import "fmt"

// Status is the closed enumeration of job lifecycle states.
type Status string

const (
	StatusInit      Status = "INIT"
	StatusResolved  Status = "RESOLVED"
	StatusClaimed   Status = "CLAIMED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusKilled    Status = "KILLED"
	StatusInvalid   Status = "INVALID"
)

// Statuses returns every member of the enumeration.
func Statuses() []Status {
	return []Status{
		StatusInit, StatusResolved, StatusClaimed, StatusRunning,
		StatusSucceeded, StatusFailed, StatusKilled, StatusInvalid,
	}
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	switch status {
	case StatusInit, StatusResolved, StatusClaimed, StatusRunning,
		StatusSucceeded, StatusFailed, StatusKilled, StatusInvalid:
		return status, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// IsActive reports whether the job has not yet finished.
func (s Status) IsActive() bool {
	switch s {
	case StatusInit, StatusResolved, StatusClaimed, StatusRunning:
		return true
	default:
		return false
	}
}

// IsResolvable reports whether resolution may commit from this status. RESOLVED is
// included so that a duplicate resolution commit stays an idempotent no-op instead
// of an error.
func (s Status) IsResolvable() bool {
	return s == StatusInit || s == StatusResolved
}

// IsClaimable reports whether an agent may claim a job in this status.
func (s Status) IsClaimable() bool {
	return s == StatusResolved
}

// IsFinished reports whether the status is terminal.
func (s Status) IsFinished() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusKilled, StatusInvalid:
		return true
	default:
		return false
	}
}
