// Package resolve implements the resolution algorithm: turning a job's ordered
// abstract criteria into a concrete cluster/command/application binding with
// merged resource, image and environment defaults.
//
// Resolution is a pure computation over the registry: it never mutates the job.
// Committing the result is the lifecycle store's concern.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"sort"
	"strconv"
	"strings"

	"jobplane/internal/apperrors"
	"jobplane/internal/config"
	"jobplane/internal/job"
	"jobplane/internal/registry"
)

// Environment variables injected into every resolved job.
const (
	EnvJobID                = "JOBPLANE_JOB_ID"
	EnvJobName              = "JOBPLANE_JOB_NAME"
	EnvJobMemory            = "JOBPLANE_JOB_MEMORY_MB"
	EnvJobTags              = "JOBPLANE_JOB_TAGS"
	EnvUser                 = "JOBPLANE_USER"
	EnvClusterID            = "JOBPLANE_CLUSTER_ID"
	EnvClusterName          = "JOBPLANE_CLUSTER_NAME"
	EnvCommandID            = "JOBPLANE_COMMAND_ID"
	EnvCommandName          = "JOBPLANE_COMMAND_NAME"
	EnvRequestedCommandTags = "JOBPLANE_REQUESTED_COMMAND_TAGS"
	EnvRequestedClusterTags = "JOBPLANE_REQUESTED_CLUSTER_TAGS"
)

// Resolver drives the registry queries and default merging that produce a
// ResolvedJob.
type Resolver struct {
	registry registry.Store
	defaults *config.Defaults
	logger   *slog.Logger
}

// New creates a Resolver over the given registry with the given system defaults.
func New(reg registry.Store, defaults *config.Defaults) *Resolver {
	return &Resolver{
		registry: reg,
		defaults: defaults,
		logger:   slog.With("component", "resolver"),
	}
}

// Resolve computes the execution plan for the request.
//
// The ordered cluster criteria are walked in priority order; the first criterion
// with at least one cluster that also has an eligible command wins and the rest
// are never queried. Among several matching clusters (or commands) the one with
// the lowest id is chosen; the tie-break is an implementation choice callers
// must not depend on, but it keeps resolution deterministic.
func (r *Resolver) Resolve(ctx context.Context, jobID string, req *job.Request) (*job.ResolvedJob, error) {
	cluster, err := r.resolveCluster(ctx, req)
	if err != nil {
		return nil, err
	}

	command, err := r.resolveCommand(ctx, cluster, req)
	if err != nil {
		return nil, err
	}

	applicationIDs, err := r.resolveApplications(ctx, command, req)
	if err != nil {
		return nil, err
	}

	resources := MergeComputeResources(req.Resources, command.Resources, r.defaults.Resources)
	images := MergeImages(r.defaults.Images, command.Images, req.Images)

	resolved := &job.ResolvedJob{
		ClusterID:      cluster.ID,
		CommandID:      command.ID,
		ApplicationIDs: applicationIDs,
		Resources:      resources,
		Images:         images,
		Environment:    r.resolveEnvironment(jobID, req, cluster, command, resources),
		JobDirectory:   path.Join(r.defaults.JobDirRoot, jobID),
	}

	resolved.ArchiveLocation = req.ArchiveLocation
	if resolved.ArchiveLocation == "" {
		resolved.ArchiveLocation = r.defaults.ArchivePrefix + "/" + jobID
	}

	timeout := r.defaults.TimeoutSeconds
	if req.TimeoutSeconds != nil {
		timeout = *req.TimeoutSeconds
	}
	resolved.TimeoutSeconds = &timeout

	r.logger.InfoContext(ctx, "Job resolved",
		"jobId", jobID,
		"cluster", cluster.ID,
		"command", command.ID,
		"applications", len(applicationIDs),
	)

	return resolved, nil
}

// resolveCluster walks the ordered cluster criteria and picks the winning
// cluster.
func (r *Resolver) resolveCluster(ctx context.Context, req *job.Request) (*registry.Cluster, error) {
	for i, clusterCrit := range req.ClusterCriteria {
		candidates, err := r.registry.FindClustersWithMatchingCommand(ctx, clusterCrit, req.CommandCriterion)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}
		chosen := lowestClusterID(candidates)
		r.logger.DebugContext(ctx, "Cluster criterion satisfied",
			"priority", i, "criterion", clusterCrit.String(), "cluster", chosen.ID)
		return chosen, nil
	}

	return nil, apperrors.NoResourcesFound("cluster", noClusterMessage(req))
}

// resolveCommand re-filters the chosen cluster's commands against the command
// criterion. The existential join in resolveCluster makes an empty result here
// unlikely, but the two queries may race with concurrent registry mutation, so
// the check is repeated rather than assumed.
func (r *Resolver) resolveCommand(ctx context.Context, cluster *registry.Cluster, req *job.Request) (*registry.Command, error) {
	commands, err := r.registry.CommandsForCluster(ctx, cluster.ID, req.CommandCriterion)
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return nil, apperrors.NoResourcesFound("command", fmt.Sprintf(
			"no command on cluster %s satisfies criterion %s",
			cluster.ID, req.CommandCriterion.String(),
		))
	}

	sort.Slice(commands, func(i, j int) bool { return commands[i].ID < commands[j].ID })
	return &commands[0], nil
}

// resolveApplications uses the caller's explicit application ids verbatim when
// supplied, otherwise the command's default ordered list.
func (r *Resolver) resolveApplications(ctx context.Context, command *registry.Command, req *job.Request) ([]string, error) {
	if len(req.ApplicationIDs) > 0 {
		for _, id := range req.ApplicationIDs {
			if _, err := r.registry.GetApplication(ctx, id); err != nil {
				return nil, err
			}
		}
		return req.ApplicationIDs, nil
	}

	apps, err := r.registry.ApplicationsForCommand(ctx, command.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.ID)
	}
	return ids, nil
}

// resolveEnvironment composes the server-provided variables with the requested
// environment; requested values win on key collision.
func (r *Resolver) resolveEnvironment(jobID string, req *job.Request, cluster *registry.Cluster, command *registry.Command, resources job.ComputeResources) map[string]string {
	env := map[string]string{
		EnvJobID:                jobID,
		EnvJobName:              req.Name,
		EnvJobMemory:            strconv.FormatInt(*resources.MemoryMB, 10),
		EnvJobTags:              strings.Join(req.Tags, ","),
		EnvUser:                 req.User,
		EnvClusterID:            cluster.ID,
		EnvClusterName:          cluster.Name,
		EnvCommandID:            command.ID,
		EnvCommandName:          command.Name,
		EnvRequestedCommandTags: strings.Join(req.CommandCriterion.Tags, ","),
	}

	criteriaTags := make([]string, 0, len(req.ClusterCriteria))
	for i, c := range req.ClusterCriteria {
		tags := strings.Join(c.Tags, ",")
		env[fmt.Sprintf("%s_%d", EnvRequestedClusterTags, i)] = tags
		criteriaTags = append(criteriaTags, "["+tags+"]")
	}
	env[EnvRequestedClusterTags] = "[" + strings.Join(criteriaTags, ",") + "]"

	maps.Copy(env, req.Environment)
	return env
}

// MergeComputeResources merges field-by-field with precedence
// requested > command default > system default. The system default populates
// every field, so the result has no holes.
func MergeComputeResources(requested, commandDefault, systemDefault job.ComputeResources) job.ComputeResources {
	return job.ComputeResources{
		CPU:         firstInt(requested.CPU, commandDefault.CPU, systemDefault.CPU),
		GPU:         firstInt(requested.GPU, commandDefault.GPU, systemDefault.GPU),
		MemoryMB:    firstInt64(requested.MemoryMB, commandDefault.MemoryMB, systemDefault.MemoryMB),
		DiskMB:      firstInt64(requested.DiskMB, commandDefault.DiskMB, systemDefault.DiskMB),
		NetworkMbps: firstInt64(requested.NetworkMbps, commandDefault.NetworkMbps, systemDefault.NetworkMbps),
	}
}

// MergeImages overlays per logical image name: system defaults first, then
// command defaults, then requested. At each layer only non-empty name/tag
// fields overwrite.
func MergeImages(systemDefault, commandDefault, requested map[string]job.Image) map[string]job.Image {
	merged := make(map[string]job.Image)
	for _, layer := range []map[string]job.Image{systemDefault, commandDefault, requested} {
		for key, img := range layer {
			current := merged[key]
			if img.Name != "" {
				current.Name = img.Name
			}
			if img.Tag != "" {
				current.Tag = img.Tag
			}
			merged[key] = current
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func lowestClusterID(clusters []registry.Cluster) *registry.Cluster {
	chosen := &clusters[0]
	for i := range clusters[1:] {
		if clusters[i+1].ID < chosen.ID {
			chosen = &clusters[i+1]
		}
	}
	return chosen
}

func noClusterMessage(req *job.Request) string {
	var b strings.Builder
	b.WriteString("no cluster matched any criterion; tried in priority order: ")
	for i, c := range req.ClusterCriteria {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d:%s", i, c.String())
	}
	fmt.Fprintf(&b, " with command criterion %s", req.CommandCriterion.String())
	return b.String()
}

func firstInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			value := *v
			return &value
		}
	}
	return nil
}

func firstInt64(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			value := *v
			return &value
		}
	}
	return nil
}
