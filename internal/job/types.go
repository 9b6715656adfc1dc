// Package job defines the job aggregate, its lifecycle status machine and the
// service that drives submission, resolution, claiming and status reporting.
package job

import (
	"time"

	"jobplane/internal/criterion"
)

// ComputeResources describes the compute envelope for a job. Each field is
// independently optional; a nil field means "use the default from the next
// precedence level". Present values must be >= 1.
type ComputeResources struct {
	CPU         *int   `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	GPU         *int   `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	MemoryMB    *int64 `json:"memoryMb,omitempty" yaml:"memoryMb,omitempty"`
	DiskMB      *int64 `json:"diskMb,omitempty" yaml:"diskMb,omitempty"`
	NetworkMbps *int64 `json:"networkMbps,omitempty" yaml:"networkMbps,omitempty"`
}

// Image identifies a container image by name and tag. Either field may be empty
// at a given precedence level; only non-empty fields overwrite during merging.
type Image struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Tag  string `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// Request holds the original submission: abstract selection criteria instead of
// concrete machines, plus requested overrides for resources, images, environment
// and agent behavior.
type Request struct {
	ID               string                `json:"id,omitempty"`
	Name             string                `json:"name"`
	User             string                `json:"user"`
	Version          string                `json:"version,omitempty"`
	CommandArgs      []string              `json:"commandArgs,omitempty"`
	ClusterCriteria  []criterion.Criterion `json:"clusterCriteria"`
	CommandCriterion criterion.Criterion   `json:"commandCriterion"`
	ApplicationIDs   []string              `json:"applicationIds,omitempty"`
	Resources        ComputeResources      `json:"resources,omitempty"`
	Images           map[string]Image      `json:"images,omitempty"`
	Environment      map[string]string     `json:"environment,omitempty"`
	Tags             []string              `json:"tags,omitempty"`
	TimeoutSeconds   *int                  `json:"timeoutSeconds,omitempty"`
	ArchiveLocation  string                `json:"archiveLocation,omitempty"`
}

// ResolvedJob is the output of resolution: the concrete execution plan the
// lifecycle store commits. It is a pure value; producing one has no side effects.
type ResolvedJob struct {
	ClusterID       string            `json:"clusterId"`
	CommandID       string            `json:"commandId"`
	ApplicationIDs  []string          `json:"applicationIds,omitempty"`
	Environment     map[string]string `json:"environment"`
	Resources       ComputeResources  `json:"resources"`
	Images          map[string]Image  `json:"images,omitempty"`
	JobDirectory    string            `json:"jobDirectory"`
	ArchiveLocation string            `json:"archiveLocation,omitempty"`
	TimeoutSeconds  *int              `json:"timeoutSeconds,omitempty"`
}

// AgentIdentity identifies the agent process that claimed a job.
type AgentIdentity struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	PID      int    `json:"pid"`
}

// Job is the mutable aggregate: one record per submitted job, created once and
// mutated through its lifecycle by the lifecycle store only.
//
// Resolved and Claimed are one-shot booleans kept deliberately separate from
// Status: a concurrent actor may move the job out of RESOLVED between an
// idempotency check and a write, and the flags keep resolve and claim permanently
// one-shot regardless of that drift.
type Job struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	Request Request `json:"request"`

	Resolved      bool   `json:"resolved"`
	Claimed       bool   `json:"claimed"`
	Status        Status `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`

	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`

	// Bindings populated by resolution.
	ClusterID       string            `json:"clusterId,omitempty"`
	CommandID       string            `json:"commandId,omitempty"`
	ApplicationIDs  []string          `json:"applicationIds,omitempty"`
	Environment     map[string]string `json:"environment,omitempty"`
	Resources       ComputeResources  `json:"resources,omitempty"`
	Images          map[string]Image  `json:"images,omitempty"`
	JobDirectory    string            `json:"jobDirectory,omitempty"`
	ArchiveLocation string            `json:"archiveLocation,omitempty"`
	TimeoutSeconds  *int              `json:"timeoutSeconds,omitempty"`

	// Agent identity populated by claim.
	AgentHostname string `json:"agentHostname,omitempty"`
	AgentVersion  string `json:"agentVersion,omitempty"`
	AgentPID      *int   `json:"agentPid,omitempty"`

	// Completion info populated by the final status report.
	ExitCode   *int   `json:"exitCode,omitempty"`
	StdoutSize *int64 `json:"stdoutSize,omitempty"`
	StderrSize *int64 `json:"stderrSize,omitempty"`
}

// StatusView is the read projection returned by status lookups.
type StatusView struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	Started       *time.Time `json:"started,omitempty"`
	Finished      *time.Time `json:"finished,omitempty"`
	ExitCode      *int       `json:"exitCode,omitempty"`
}

// IntPtr returns a pointer to v. Convenience for optional numeric fields.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
