package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"jobplane/internal/job"
)

// DockerLauncher runs one agent container per resolved job on the host Docker
// daemon. Containers are labeled so restarts and Stop can find them.
type DockerLauncher struct {
	client     *client.Client
	agentImage string
	serverURL  string
	logger     *slog.Logger
}

// DockerConfig holds configuration for the Docker launcher.
type DockerConfig struct {
	AgentImage string // agent container image (required)
	ServerURL  string // URL the agent uses to reach this server (required)
}

// NewDocker creates a Docker launcher from the environment's Docker settings.
func NewDocker(cfg DockerConfig) (*DockerLauncher, error) {
	if cfg.AgentImage == "" || cfg.ServerURL == "" {
		return nil, fmt.Errorf("agent image and server url are required")
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerLauncher{
		client:     dockerClient,
		agentImage: cfg.AgentImage,
		serverURL:  cfg.ServerURL,
		logger:     slog.With("component", "launcher"),
	}, nil
}

// Launch starts an agent container for the job. The agent receives the job id
// and server URL and claims the job itself; the container carries no job
// payload.
func (l *DockerLauncher) Launch(ctx context.Context, j *job.Job) error {
	if err := l.pullImageIfNeeded(ctx, l.agentImage); err != nil {
		return fmt.Errorf("failed to pull agent image: %w", err)
	}

	env := []string{
		fmt.Sprintf("JOBPLANE_SERVER_URL=%s", l.serverURL),
		fmt.Sprintf("JOBPLANE_JOB_ID=%s", j.ID),
	}
	if j.TimeoutSeconds != nil {
		env = append(env, fmt.Sprintf("JOBPLANE_TIMEOUT_SECONDS=%d", *j.TimeoutSeconds))
	}

	containerConfig := &container.Config{
		Image: l.agentImage,
		Env:   env,
		Labels: map[string]string{
			"job.id":     j.ID,
			"managed-by": "jobplane",
		},
	}

	hostConfig := &container.HostConfig{}
	if cpu := j.Resources.CPU; cpu != nil {
		hostConfig.Resources.NanoCPUs = int64(*cpu) * 1e9
	}
	if mem := j.Resources.MemoryMB; mem != nil {
		hostConfig.Resources.Memory = *mem * 1024 * 1024
	}

	name := fmt.Sprintf("jobplane-agent-%s", j.ID)
	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create agent container: %w", err)
	}
	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start agent container: %w", err)
	}

	l.logger.InfoContext(ctx, "Agent launched", "jobId", j.ID, "container", resp.ID[:12])
	return nil
}

// Stop terminates and removes the job's agent container, if present.
func (l *DockerLauncher) Stop(ctx context.Context, jobID string) error {
	containers, err := l.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", "managed-by=jobplane"),
			filters.Arg("label", fmt.Sprintf("job.id=%s", jobID)),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list agent containers: %w", err)
	}

	const stopTimeout = 10
	for _, c := range containers {
		timeout := stopTimeout
		_ = l.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})
		_ = l.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		l.logger.InfoContext(ctx, "Agent stopped", "jobId", jobID, "container", c.ID[:12])
	}
	return nil
}

// Ready reports whether the Docker daemon is reachable.
func (l *DockerLauncher) Ready(ctx context.Context) error {
	_, err := l.client.Ping(ctx)
	return err
}

func (l *DockerLauncher) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := l.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := l.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

var _ Launcher = (*DockerLauncher)(nil)
