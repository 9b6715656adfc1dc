// Package stateevent defines the job state-change event delivered to webhook
// destinations and the HTTP sender that delivers it.
package stateevent

import "time"

// Event describes one observed job status transition.
type Event struct {
	ID        string    `json:"id"`       // unique event id
	JobID     string    `json:"jobId"`    // subject job
	Previous  string    `json:"previous"` // status before the transition, "" for creation
	Current   string    `json:"current"`  // status after the transition
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(id, jobID, previous, current, message string) *Event {
	return &Event{
		ID:        id,
		JobID:     jobID,
		Previous:  previous,
		Current:   current,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
