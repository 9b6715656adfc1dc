package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobplane/internal/config"
	"jobplane/internal/criterion"
	"jobplane/internal/health"
	"jobplane/internal/job"
	"jobplane/internal/registry"
	"jobplane/internal/resolve"
	"jobplane/internal/store"
)

func newTestRouter(t *testing.T, apiKey string) http.Handler {
	return newTestRouterKeys(t, apiKey, "")
}

func newTestRouterKeys(t *testing.T, apiKey, agentAPIKey string) http.Handler {
	t.Helper()

	reg := registry.NewMemoryStore()
	seedCatalog(t, reg)

	jobStore := store.NewMemoryStore()
	resolver := resolve.New(reg, config.BuiltinDefaults())
	svc := job.NewService(jobStore, resolver, nil, nil, nil, nil)
	checker := health.NewChecker(map[string]health.Check{
		"store": jobStore.Ping,
	})

	return NewRouter(RouterConfig{
		JobService:    svc,
		Registry:      reg,
		Resolver:      resolver,
		HealthChecker: checker,
		APIKey:        apiKey,
		AgentAPIKey:   agentAPIKey,
	})
}

func seedCatalog(t *testing.T, reg registry.Store) {
	t.Helper()
	ctx := context.Background()

	cluster := &registry.Cluster{
		ID: "cl-1", Name: "prod-h2", Version: "1", Status: registry.ClusterStatusUp,
		Tags: []string{"prod"},
	}
	command := &registry.Command{
		ID: "cmd-1", Name: "hive", Version: "3", Status: registry.CommandStatusActive,
		Executable: []string{"hive", "-f"},
	}
	app := &registry.Application{
		ID: "app-1", Name: "hadoop", Version: "3", Status: registry.CommandStatusActive,
	}
	if err := reg.SaveCluster(ctx, cluster); err != nil {
		t.Fatalf("SaveCluster: %v", err)
	}
	if err := reg.SaveCommand(ctx, command); err != nil {
		t.Fatalf("SaveCommand: %v", err)
	}
	if err := reg.SaveApplication(ctx, app); err != nil {
		t.Fatalf("SaveApplication: %v", err)
	}
	if err := reg.SetClusterCommands(ctx, "cl-1", []string{"cmd-1"}); err != nil {
		t.Fatalf("SetClusterCommands: %v", err)
	}
	if err := reg.SetCommandApplications(ctx, "cmd-1", []string{"app-1"}); err != nil {
		t.Fatalf("SetCommandApplications: %v", err)
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func submitBody(id string) *job.Request {
	return &job.Request{
		ID:               id,
		Name:             "nightly-report",
		User:             "etl",
		ClusterCriteria:  []criterion.Criterion{{Tags: []string{"prod"}}},
		CommandCriterion: criterion.Criterion{Name: "hive"},
	}
}

func TestSubmitAndFetchJob(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/jobs", submitBody("job-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != job.StatusResolved || created.ClusterID != "cl-1" || created.CommandID != "cmd-1" {
		t.Errorf("unexpected bindings: status=%s cluster=%s command=%s",
			created.Status, created.ClusterID, created.CommandID)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/jobs/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/jobs/job-1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var view job.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != job.StatusResolved {
		t.Errorf("expected RESOLVED, got %s", view.Status)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	body := submitBody("job-bad")
	body.User = ""
	rec := doJSON(t, router, http.MethodPost, "/v1/jobs", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitNoMatchingClusterIs404(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	body := submitBody("job-nomatch")
	body.ClusterCriteria = []criterion.Criterion{{Tags: []string{"does-not-exist"}}}
	rec := doJSON(t, router, http.MethodPost, "/v1/jobs", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}

	// The job is left behind INVALID for inspection.
	rec = doJSON(t, router, http.MethodGet, "/v1/jobs/job-nomatch/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view job.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != job.StatusInvalid {
		t.Errorf("expected INVALID, got %s", view.Status)
	}
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	if rec := doJSON(t, router, http.MethodPost, "/v1/jobs", submitBody("job-agent")); rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/jobs/job-agent/claim",
		job.AgentIdentity{Hostname: "agent-1", Version: "1.0", PID: 41})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("claim: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	// Second claim loses with a conflict.
	rec = doJSON(t, router, http.MethodPost, "/v1/jobs/job-agent/claim",
		job.AgentIdentity{Hostname: "agent-2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second claim: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/jobs/job-agent/running", runningRequest{PID: 4242})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("running: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/jobs/job-agent/completion", completionRequest{
		Expected: job.StatusRunning, Status: job.StatusSucceeded, ExitCode: 0, StdoutSize: 128,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("completion: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/jobs/job-agent/status", nil)
	var view job.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != job.StatusSucceeded || view.ExitCode == nil || *view.ExitCode != 0 {
		t.Errorf("unexpected final view: %+v", view)
	}
}

func TestUpdateStatusOnFinishedJobReportsStored(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	if rec := doJSON(t, router, http.MethodPost, "/v1/jobs", submitBody("job-late")); rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodDelete, "/v1/jobs/job-late", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("kill: %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodPut, "/v1/jobs/job-late/status", statusUpdateRequest{
		Expected: job.StatusResolved, Status: job.StatusClaimed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("late update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusUpdateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != job.StatusKilled {
		t.Errorf("expected stored KILLED status, got %s", resp.Status)
	}
}

func TestDryRunResolveDoesNotPersist(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/v1/resolve", submitBody("ignored"))
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resolved job.ResolvedJob
	if err := json.Unmarshal(rec.Body.Bytes(), &resolved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resolved.ClusterID != "cl-1" {
		t.Errorf("expected cl-1, got %s", resolved.ClusterID)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/jobs/ignored", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("dry run must not create a job, got %d", rec.Code)
	}
}

func TestRegistryAdmin(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPut, "/v1/clusters/cl-2", registry.Cluster{
		Name: "staging", Version: "1", Status: registry.ClusterStatusUp, Tags: []string{"staging"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save cluster: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPut, "/v1/clusters/cl-2/commands", []string{"cmd-1"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("link commands: expected 204, got %d", rec.Code)
	}

	// Criterion query params filter the listing.
	rec = doJSON(t, router, http.MethodGet, "/v1/clusters?tag=staging", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var clusters []registry.Cluster
	if err := json.Unmarshal(rec.Body.Bytes(), &clusters); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(clusters) != 1 || clusters[0].ID != "cl-2" {
		t.Errorf("expected only cl-2, got %v", clusters)
	}

	rec = doJSON(t, router, http.MethodPut, "/v1/commands/cmd-2", registry.Command{Name: "pig"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("command without executable: expected 400, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	if rec := doJSON(t, router, http.MethodGet, "/livez", nil); rec.Code != http.StatusOK {
		t.Errorf("livez: expected 200, got %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "secret-key")

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret-key", http.StatusUnauthorized},
		{"wrong key", "Bearer wrong", http.StatusUnauthorized},
		{"valid key", "Bearer secret-key", http.StatusCreated},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(submitBody(fmt.Sprintf("auth-job-%d", i))); err != nil {
				t.Fatalf("encode: %v", err)
			}
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &buf)
			req.Header.Set("Content-Type", "application/json")
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	// Health endpoints never require auth.
	if rec := doJSON(t, router, http.MethodGet, "/livez", nil); rec.Code != http.StatusOK {
		t.Errorf("livez with auth enabled: expected 200, got %d", rec.Code)
	}
}

func TestAgentKeySeparateFromOperatorKey(t *testing.T) {
	t.Parallel()
	router := newTestRouterKeys(t, "op-key", "agent-key")

	doAuth := func(method, path, key string, body any) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := doAuth(http.MethodPost, "/v1/jobs", "op-key", submitBody("split-key-job")); rec.Code != http.StatusCreated {
		t.Fatalf("submit with operator key: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	agent := job.AgentIdentity{Hostname: "agent-1", Version: "1.0.0", PID: 42}
	if rec := doAuth(http.MethodPost, "/v1/jobs/split-key-job/claim", "op-key", agent); rec.Code != http.StatusUnauthorized {
		t.Errorf("claim with operator key: expected 401, got %d", rec.Code)
	}
	if rec := doAuth(http.MethodPost, "/v1/jobs/split-key-job/claim", "agent-key", agent); rec.Code != http.StatusNoContent {
		t.Errorf("claim with agent key: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doAuth(http.MethodPost, "/v1/jobs", "agent-key", submitBody("agent-key-job")); rec.Code != http.StatusUnauthorized {
		t.Errorf("submit with agent key: expected 401, got %d", rec.Code)
	}
}

func TestContentTypeEnforced(t *testing.T) {
	t.Parallel()
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("<job/>"))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", rec.Code)
	}
}
