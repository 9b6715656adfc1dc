// Package api provides the HTTP API handlers and routing for the control plane.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"jobplane/internal/apperrors"
	"jobplane/internal/criterion"
	"jobplane/internal/health"
	"jobplane/internal/job"
	"jobplane/internal/registry"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Resolver computes an execution plan without persisting anything. Used by the
// dry-run endpoint.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, req *job.Request) (*job.ResolvedJob, error)
}

// Handler contains HTTP handlers for the control-plane API
type Handler struct {
	svc      *job.Service
	registry registry.Store
	resolver Resolver
	health   *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(svc *job.Service, reg registry.Store, resolver Resolver, healthChecker *health.Checker) *Handler {
	return &Handler{
		svc:      svc,
		registry: reg,
		resolver: resolver,
		health:   healthChecker,
	}
}

// SubmitJob handles POST /v1/jobs. The job is resolved synchronously; the
// response carries the committed bindings.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	j, err := h.svc.Submit(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, j)
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	j, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, j)
}

// GetJobStatus handles GET /v1/jobs/{jobId}/status
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetStatus(r.Context(), r.PathValue("jobId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// ClaimJob handles POST /v1/jobs/{jobId}/claim. Exactly one agent wins; the
// rest get 409.
func (h *Handler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var agent job.AgentIdentity
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.svc.Claim(r.Context(), r.PathValue("jobId"), agent); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// runningRequest is the body for POST /v1/jobs/{jobId}/running.
type runningRequest struct {
	PID int `json:"pid"`
}

// MarkJobRunning handles POST /v1/jobs/{jobId}/running
func (h *Handler) MarkJobRunning(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req runningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.svc.MarkRunning(r.Context(), r.PathValue("jobId"), req.PID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statusUpdateRequest is the body for PUT /v1/jobs/{jobId}/status.
type statusUpdateRequest struct {
	Expected job.Status `json:"expected"`
	Status   job.Status `json:"status"`
	Message  string     `json:"message,omitempty"`
}

// statusUpdateResponse reports the job's status after the update, which may be
// the stored status when the job had already finished.
type statusUpdateResponse struct {
	Status job.Status `json:"status"`
}

// UpdateJobStatus handles PUT /v1/jobs/{jobId}/status
func (h *Handler) UpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	got, err := h.svc.UpdateStatus(r.Context(), r.PathValue("jobId"), req.Expected, req.Status, req.Message)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, statusUpdateResponse{Status: got})
}

// completionRequest is the body for POST /v1/jobs/{jobId}/completion.
type completionRequest struct {
	Expected   job.Status `json:"expected"`
	Status     job.Status `json:"status"`
	Message    string     `json:"message,omitempty"`
	ExitCode   int        `json:"exitCode"`
	StdoutSize int64      `json:"stdoutSize"`
	StderrSize int64      `json:"stderrSize"`
}

// CompleteJob handles POST /v1/jobs/{jobId}/completion
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	err := h.svc.Complete(r.Context(), r.PathValue("jobId"),
		req.Expected, req.Status, req.Message, req.ExitCode, req.StdoutSize, req.StderrSize)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// KillJob handles DELETE /v1/jobs/{jobId}. Killing a finished job is a no-op.
func (h *Handler) KillJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Kill(r.Context(), r.PathValue("jobId"), r.URL.Query().Get("reason")); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DryRunResolve handles POST /v1/resolve - resolves a request without
// creating a job. Useful for validating criteria before submission.
func (h *Handler) DryRunResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	for i := range req.ClusterCriteria {
		req.ClusterCriteria[i] = req.ClusterCriteria[i].Normalize()
	}
	req.CommandCriterion = req.CommandCriterion.Normalize()

	resolved, err := h.resolver.Resolve(r.Context(), "dry-run", &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resolved)
}

// criterionFromQuery builds a criterion from query parameters: id, name,
// version, status and repeated tag params.
func criterionFromQuery(q url.Values) criterion.Criterion {
	return criterion.Criterion{
		ID:      q.Get("id"),
		Name:    q.Get("name"),
		Version: q.Get("version"),
		Status:  q.Get("status"),
		Tags:    q["tag"],
	}.Normalize()
}

// ListClusters handles GET /v1/clusters with criterion query params.
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.registry.FindClusters(r.Context(), criterionFromQuery(r.URL.Query()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, clusters)
}

// GetCluster handles GET /v1/clusters/{id}
func (h *Handler) GetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := h.registry.GetCluster(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cluster)
}

// SaveCluster handles PUT /v1/clusters/{id}
func (h *Handler) SaveCluster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var cluster registry.Cluster
	if err := json.NewDecoder(r.Body).Decode(&cluster); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	cluster.ID = r.PathValue("id")
	if cluster.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Cluster name is required")
		return
	}
	now := time.Now().UTC()
	if cluster.Created.IsZero() {
		cluster.Created = now
	}
	cluster.Updated = now

	if err := h.registry.SaveCluster(r.Context(), &cluster); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cluster)
}

// SetClusterCommands handles PUT /v1/clusters/{id}/commands with a JSON array
// of command ids.
func (h *Handler) SetClusterCommands(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var commandIDs []string
	if err := json.NewDecoder(r.Body).Decode(&commandIDs); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.registry.SetClusterCommands(r.Context(), r.PathValue("id"), commandIDs); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCommands handles GET /v1/commands with criterion query params.
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := h.registry.FindCommands(r.Context(), criterionFromQuery(r.URL.Query()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, commands)
}

// GetCommand handles GET /v1/commands/{id}
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	command, err := h.registry.GetCommand(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, command)
}

// SaveCommand handles PUT /v1/commands/{id}
func (h *Handler) SaveCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var command registry.Command
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	command.ID = r.PathValue("id")
	if command.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Command name is required")
		return
	}
	if len(command.Executable) == 0 {
		h.writeError(w, http.StatusBadRequest, "Command executable is required")
		return
	}
	now := time.Now().UTC()
	if command.Created.IsZero() {
		command.Created = now
	}
	command.Updated = now

	if err := h.registry.SaveCommand(r.Context(), &command); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, command)
}

// SetCommandApplications handles PUT /v1/commands/{id}/applications with an
// ordered JSON array of application ids.
func (h *Handler) SetCommandApplications(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var applicationIDs []string
	if err := json.NewDecoder(r.Body).Decode(&applicationIDs); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.registry.SetCommandApplications(r.Context(), r.PathValue("id"), applicationIDs); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetApplication handles GET /v1/applications/{id}
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.registry.GetApplication(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

// SaveApplication handles PUT /v1/applications/{id}
func (h *Handler) SaveApplication(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var app registry.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	app.ID = r.PathValue("id")
	if app.Name == "" {
		h.writeError(w, http.StatusBadRequest, "Application name is required")
		return
	}
	now := time.Now().UTC()
	if app.Created.IsZero() {
		app.Created = now
	}
	app.Updated = now

	if err := h.registry.SaveApplication(r.Context(), &app); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, app)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if a dependency is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
