// Package registry owns the catalog of clusters, commands and applications that
// jobs can be bound to, and the criterion queries over it.
package registry

import (
	"time"

	"jobplane/internal/criterion"
	"jobplane/internal/job"
)

// Cluster statuses. UP is the default active status an unqualified criterion
// implicitly requires.
const (
	ClusterStatusUp           = "UP"
	ClusterStatusOutOfService = "OUT_OF_SERVICE"
	ClusterStatusTerminated   = "TERMINATED"
)

// Command and application statuses. ACTIVE is the default active status.
const (
	CommandStatusActive     = "ACTIVE"
	CommandStatusDeprecated = "DEPRECATED"
	CommandStatusInactive   = "INACTIVE"
)

// Cluster is a registered execution cluster. Its linked commands are held in a
// separate association managed by the store.
type Cluster struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Status  string    `json:"status"`
	Tags    []string  `json:"tags,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Attributes returns the matcher view of the cluster.
func (c Cluster) Attributes() criterion.Attributes {
	return criterion.Attributes{
		ID:                  c.ID,
		Name:                c.Name,
		Version:             c.Version,
		Status:              c.Status,
		Tags:                c.Tags,
		DefaultActiveStatus: ClusterStatusUp,
	}
}

// Command is a registered executable template carrying the defaults merged into a
// resolved job: compute resources, images and an ordered default application list.
type Command struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Version    string               `json:"version"`
	Status     string               `json:"status"`
	Tags       []string             `json:"tags,omitempty"`
	Executable []string             `json:"executable"`
	Resources  job.ComputeResources `json:"resources,omitempty"`
	Images     map[string]job.Image `json:"images,omitempty"`
	Created    time.Time            `json:"created"`
	Updated    time.Time            `json:"updated"`
}

// Attributes returns the matcher view of the command.
func (c Command) Attributes() criterion.Attributes {
	return criterion.Attributes{
		ID:                  c.ID,
		Name:                c.Name,
		Version:             c.Version,
		Status:              c.Status,
		Tags:                c.Tags,
		DefaultActiveStatus: CommandStatusActive,
	}
}

// Application is a registered dependency bundle referenced by commands.
type Application struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Status  string    `json:"status"`
	Tags    []string  `json:"tags,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Attributes returns the matcher view of the application.
func (a Application) Attributes() criterion.Attributes {
	return criterion.Attributes{
		ID:                  a.ID,
		Name:                a.Name,
		Version:             a.Version,
		Status:              a.Status,
		Tags:                a.Tags,
		DefaultActiveStatus: CommandStatusActive,
	}
}
