package api

import (
	"net/http"

	"jobplane/internal/health"
	"jobplane/internal/job"
	"jobplane/internal/observability"
	"jobplane/internal/registry"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *job.Service
	Registry      registry.Store
	Resolver      Resolver
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
	AgentAPIKey   string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.Registry, cfg.Resolver, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Submission and read endpoints - operator auth
	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", auth(http.HandlerFunc(handler.SubmitJob)))
	mux.Handle("GET /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.GetJob)))
	mux.Handle("GET /v1/jobs/{jobId}/status", auth(http.HandlerFunc(handler.GetJobStatus)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(handler.KillJob)))
	mux.Handle("POST /v1/resolve", auth(http.HandlerFunc(handler.DryRunResolve)))

	// Agent endpoints - agent auth (falls back to the operator key)
	agentKey := cfg.AgentAPIKey
	if agentKey == "" {
		agentKey = cfg.APIKey
	}
	agentAuth := AuthMiddleware(agentKey)
	mux.Handle("POST /v1/jobs/{jobId}/claim", agentAuth(http.HandlerFunc(handler.ClaimJob)))
	mux.Handle("POST /v1/jobs/{jobId}/running", agentAuth(http.HandlerFunc(handler.MarkJobRunning)))
	mux.Handle("PUT /v1/jobs/{jobId}/status", agentAuth(http.HandlerFunc(handler.UpdateJobStatus)))
	mux.Handle("POST /v1/jobs/{jobId}/completion", agentAuth(http.HandlerFunc(handler.CompleteJob)))

	// Registry administration - operator auth
	mux.Handle("GET /v1/clusters", auth(http.HandlerFunc(handler.ListClusters)))
	mux.Handle("GET /v1/clusters/{id}", auth(http.HandlerFunc(handler.GetCluster)))
	mux.Handle("PUT /v1/clusters/{id}", auth(http.HandlerFunc(handler.SaveCluster)))
	mux.Handle("PUT /v1/clusters/{id}/commands", auth(http.HandlerFunc(handler.SetClusterCommands)))
	mux.Handle("GET /v1/commands", auth(http.HandlerFunc(handler.ListCommands)))
	mux.Handle("GET /v1/commands/{id}", auth(http.HandlerFunc(handler.GetCommand)))
	mux.Handle("PUT /v1/commands/{id}", auth(http.HandlerFunc(handler.SaveCommand)))
	mux.Handle("PUT /v1/commands/{id}/applications", auth(http.HandlerFunc(handler.SetCommandApplications)))
	mux.Handle("GET /v1/applications/{id}", auth(http.HandlerFunc(handler.GetApplication)))
	mux.Handle("PUT /v1/applications/{id}", auth(http.HandlerFunc(handler.SaveApplication)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
