package resolve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"jobplane/internal/apperrors"
	"jobplane/internal/config"
	"jobplane/internal/criterion"
	"jobplane/internal/job"
	"jobplane/internal/registry"
)

// seedRegistry builds an in-memory registry with a small fleet:
//
//	cl-h2   UP             tags [prod h2 sla]  -> cmd-hive (ACTIVE), cmd-pig (DEPRECATED)
//	cl-prod UP             tags [prod]         -> cmd-hive2 (ACTIVE, name hive)
//	cl-oos  OUT_OF_SERVICE tags [prod h2]      -> cmd-hive
func seedRegistry(t *testing.T) registry.Store {
	t.Helper()
	ctx := context.Background()
	store := registry.NewMemoryStore()

	clusters := []*registry.Cluster{
		{ID: "cl-h2", Name: "hadoop-h2", Version: "2.7", Status: registry.ClusterStatusUp, Tags: []string{"prod", "h2", "sla"}},
		{ID: "cl-prod", Name: "hadoop-prod", Version: "2.7", Status: registry.ClusterStatusUp, Tags: []string{"prod"}},
		{ID: "cl-oos", Name: "hadoop-oos", Version: "2.7", Status: registry.ClusterStatusOutOfService, Tags: []string{"prod", "h2"}},
	}
	for _, c := range clusters {
		if err := store.SaveCluster(ctx, c); err != nil {
			t.Fatalf("SaveCluster(%s): %v", c.ID, err)
		}
	}

	commands := []*registry.Command{
		{
			ID: "cmd-hive", Name: "hive", Version: "1.2", Status: registry.CommandStatusActive,
			Tags:       []string{"type:hive"},
			Executable: []string{"/usr/bin/hive"},
			Resources:  job.ComputeResources{MemoryMB: job.Int64Ptr(4096)},
			Images:     map[string]job.Image{"runtime": {Name: "jobplane/hive"}},
		},
		{
			ID: "cmd-hive2", Name: "hive", Version: "1.2", Status: registry.CommandStatusActive,
			Tags:       []string{"type:hive"},
			Executable: []string{"/usr/bin/hive"},
		},
		{
			ID: "cmd-pig", Name: "pig", Version: "0.15", Status: registry.CommandStatusDeprecated,
			Executable: []string{"/usr/bin/pig"},
		},
	}
	for _, c := range commands {
		if err := store.SaveCommand(ctx, c); err != nil {
			t.Fatalf("SaveCommand(%s): %v", c.ID, err)
		}
	}

	apps := []*registry.Application{
		{ID: "app-hadoop", Name: "hadoop", Version: "2.7", Status: registry.CommandStatusActive},
		{ID: "app-hive-libs", Name: "hive-libs", Version: "1.2", Status: registry.CommandStatusActive},
	}
	for _, a := range apps {
		if err := store.SaveApplication(ctx, a); err != nil {
			t.Fatalf("SaveApplication(%s): %v", a.ID, err)
		}
	}

	links := map[string][]string{
		"cl-h2":   {"cmd-hive", "cmd-pig"},
		"cl-prod": {"cmd-hive2"},
		"cl-oos":  {"cmd-hive"},
	}
	for clusterID, commandIDs := range links {
		if err := store.SetClusterCommands(ctx, clusterID, commandIDs); err != nil {
			t.Fatalf("SetClusterCommands(%s): %v", clusterID, err)
		}
	}
	if err := store.SetCommandApplications(ctx, "cmd-hive", []string{"app-hadoop", "app-hive-libs"}); err != nil {
		t.Fatalf("SetCommandApplications: %v", err)
	}

	return store
}

func baseRequest() *job.Request {
	return &job.Request{
		Name: "nightly-report",
		User: "etl",
		ClusterCriteria: []criterion.Criterion{
			{Tags: []string{"prod", "h2"}},
			{Tags: []string{"prod"}},
		},
		CommandCriterion: criterion.Criterion{Name: "hive"},
	}
}

func TestResolvePicksFirstSatisfiableCriterion(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	resolved, err := r.Resolve(context.Background(), "job-1", baseRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if resolved.ClusterID != "cl-h2" {
		t.Errorf("expected cluster cl-h2, got %s", resolved.ClusterID)
	}
	if resolved.CommandID != "cmd-hive" {
		t.Errorf("expected command cmd-hive, got %s", resolved.CommandID)
	}
	if len(resolved.ApplicationIDs) != 2 || resolved.ApplicationIDs[0] != "app-hadoop" {
		t.Errorf("unexpected applications: %v", resolved.ApplicationIDs)
	}
}

func TestResolveFallsBackToLowerPriorityCriterion(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	req := baseRequest()
	// First criterion matches nothing: no UP cluster carries the "h3" tag.
	req.ClusterCriteria = []criterion.Criterion{
		{Tags: []string{"prod", "h3"}},
		{Tags: []string{"prod"}},
	}

	resolved, err := r.Resolve(context.Background(), "job-2", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Both UP clusters match the second criterion; the lowest id wins.
	if resolved.ClusterID != "cl-h2" {
		t.Errorf("expected cl-h2 from fallback criterion, got %s", resolved.ClusterID)
	}
}

func TestResolveIgnoresOutOfServiceClusters(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	req := baseRequest()
	// Only the OUT_OF_SERVICE cluster has this exact name.
	req.ClusterCriteria = []criterion.Criterion{{Name: "hadoop-oos"}}

	_, err := r.Resolve(context.Background(), "job-3", req)
	if !errors.Is(err, apperrors.ErrNoResourcesFound) {
		t.Fatalf("expected ErrNoResourcesFound, got %v", err)
	}
}

func TestResolveIgnoresClustersWithoutEligibleCommand(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	req := baseRequest()
	// cl-h2 matches the cluster criterion but its only pig command is
	// DEPRECATED, so the unqualified command criterion rejects it.
	req.ClusterCriteria = []criterion.Criterion{{Tags: []string{"h2"}}}
	req.CommandCriterion = criterion.Criterion{Name: "pig"}

	_, err := r.Resolve(context.Background(), "job-4", req)
	if !errors.Is(err, apperrors.ErrNoResourcesFound) {
		t.Fatalf("expected ErrNoResourcesFound, got %v", err)
	}
}

func TestResolveNoClusterErrorNamesCriteriaInOrder(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	req := baseRequest()
	req.ClusterCriteria = []criterion.Criterion{
		{Tags: []string{"nope"}},
		{Name: "missing"},
	}

	_, err := r.Resolve(context.Background(), "job-5", req)
	if !errors.Is(err, apperrors.ErrNoResourcesFound) {
		t.Fatalf("expected ErrNoResourcesFound, got %v", err)
	}
	msg := err.Error()
	first := "0:{id=, name=, version=, status=, tags=[nope]}"
	second := "1:{id=, name=missing, version=, status=, tags=[]}"
	if !strings.Contains(msg, first) || !strings.Contains(msg, second) {
		t.Errorf("error should list criteria in priority order, got: %s", msg)
	}
}

func TestResolveResourceMergePrecedence(t *testing.T) {
	t.Parallel()

	// System default memory is 1024, the matched command declares 4096 and the
	// request asks for 2048. The request wins; untouched fields fall through to
	// the lower layers.
	defaults := config.BuiltinDefaults()
	defaults.Resources.MemoryMB = job.Int64Ptr(1024)

	r := New(seedRegistry(t), defaults)
	req := baseRequest()
	req.Resources.MemoryMB = job.Int64Ptr(2048)

	resolved, err := r.Resolve(context.Background(), "job-6", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := *resolved.Resources.MemoryMB; got != 2048 {
		t.Errorf("expected requested memory 2048, got %d", got)
	}
	if got := *resolved.Resources.CPU; got != 1 {
		t.Errorf("expected system default cpu 1, got %d", got)
	}

	// Without a requested value the command default wins over the system one.
	req2 := baseRequest()
	resolved2, err := r.Resolve(context.Background(), "job-7", req2)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := *resolved2.Resources.MemoryMB; got != 4096 {
		t.Errorf("expected command default memory 4096, got %d", got)
	}
}

func TestResolveImageMergePerKey(t *testing.T) {
	t.Parallel()

	defaults := config.BuiltinDefaults()
	defaults.Images = map[string]job.Image{
		"runtime": {Name: "jobplane/base", Tag: "v1"},
		"sidecar": {Name: "jobplane/sidecar", Tag: "v1"},
	}

	r := New(seedRegistry(t), defaults)
	req := baseRequest()
	req.Images = map[string]job.Image{"runtime": {Tag: "v9"}}

	resolved, err := r.Resolve(context.Background(), "job-8", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Command overrides the runtime name, request overrides only the tag.
	runtime := resolved.Images["runtime"]
	if runtime.Name != "jobplane/hive" || runtime.Tag != "v9" {
		t.Errorf("unexpected runtime image: %+v", runtime)
	}
	// Keys absent from the higher layers pass through untouched.
	if sidecar := resolved.Images["sidecar"]; sidecar.Name != "jobplane/sidecar" || sidecar.Tag != "v1" {
		t.Errorf("unexpected sidecar image: %+v", sidecar)
	}
}

func TestResolveEnvironmentComposition(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	req := baseRequest()
	req.Environment = map[string]string{
		"HADOOP_OPTS":  "-Xmx2g",
		EnvClusterName: "overridden", // requested values win, even for server keys
	}

	resolved, err := r.Resolve(context.Background(), "job-9", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	env := resolved.Environment
	expectations := map[string]string{
		EnvJobID:       "job-9",
		EnvJobName:     "nightly-report",
		EnvUser:        "etl",
		EnvClusterID:   "cl-h2",
		EnvClusterName: "overridden",
		EnvCommandID:   "cmd-hive",
		EnvCommandName: "hive",
		EnvJobMemory:   "4096",
		"HADOOP_OPTS":  "-Xmx2g",
	}
	for key, want := range expectations {
		if got := env[key]; got != want {
			t.Errorf("env[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestResolvePathsAndTimeout(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())

	resolved, err := r.Resolve(context.Background(), "job-10", baseRequest())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.JobDirectory != "/tmp/jobplane/jobs/job-10" {
		t.Errorf("unexpected job directory: %s", resolved.JobDirectory)
	}
	if resolved.ArchiveLocation != "s3://jobplane-archive/jobs/job-10" {
		t.Errorf("unexpected archive location: %s", resolved.ArchiveLocation)
	}
	if *resolved.TimeoutSeconds != 604800 {
		t.Errorf("unexpected timeout: %d", *resolved.TimeoutSeconds)
	}

	req := baseRequest()
	req.ArchiveLocation = "s3://custom/archive"
	req.TimeoutSeconds = job.IntPtr(3600)
	resolved2, err := r.Resolve(context.Background(), "job-11", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved2.ArchiveLocation != "s3://custom/archive" {
		t.Errorf("requested archive location should win, got %s", resolved2.ArchiveLocation)
	}
	if *resolved2.TimeoutSeconds != 3600 {
		t.Errorf("requested timeout should win, got %d", *resolved2.TimeoutSeconds)
	}
}

func TestResolveExplicitApplicationsVerbatim(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())

	req := baseRequest()
	req.ApplicationIDs = []string{"app-hive-libs"}
	resolved, err := r.Resolve(context.Background(), "job-12", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved.ApplicationIDs) != 1 || resolved.ApplicationIDs[0] != "app-hive-libs" {
		t.Errorf("expected verbatim application list, got %v", resolved.ApplicationIDs)
	}

	req2 := baseRequest()
	req2.ApplicationIDs = []string{"app-missing"}
	if _, err := r.Resolve(context.Background(), "job-13", req2); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown application, got %v", err)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	t.Parallel()

	r := New(seedRegistry(t), config.BuiltinDefaults())
	req := baseRequest()
	req.ClusterCriteria = []criterion.Criterion{{Tags: []string{"prod"}}}

	first, err := r.Resolve(context.Background(), "job-14", req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for range 10 {
		again, err := r.Resolve(context.Background(), "job-14", req)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if again.ClusterID != first.ClusterID || again.CommandID != first.CommandID {
			t.Fatalf("resolution not deterministic: %s/%s vs %s/%s",
				first.ClusterID, first.CommandID, again.ClusterID, again.CommandID)
		}
	}
}
