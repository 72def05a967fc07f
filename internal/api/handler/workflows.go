package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/panoptes/internal/api/response"
	"github.com/kiranshivaraju/panoptes/internal/workflow"
	"github.com/kiranshivaraju/panoptes/pkg/models"
)

// WorkflowService defines the interface the workflow handlers depend on.
type WorkflowService interface {
	Create(ctx context.Context) (*models.Workflow, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	Get(ctx context.Context, id int64) (*models.Workflow, error)
	UpdateName(ctx context.Context, id int64, name string) (*models.Workflow, error)
	ListJobs(ctx context.Context, workflowID int64) ([]*models.WorkflowJob, error)
}

type serviceInfoResponse struct {
	Status string `json:"status"`
}

type listWorkflowsResponse struct {
	Workflows []*models.Workflow `json:"workflows"`
	Count     int                `json:"count"`
}

type listJobsResponse struct {
	Jobs  []*models.WorkflowJob `json:"jobs"`
	Count int                   `json:"count"`
}

// NewServiceInfoHandler returns an http.HandlerFunc for GET /api/service-info.
func NewServiceInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, serviceInfoResponse{Status: "running"})
	}
}

// NewListWorkflowsHandler returns an http.HandlerFunc for GET /api/workflows.
func NewListWorkflowsHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflows, err := svc.List(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if workflows == nil {
			workflows = []*models.Workflow{}
		}
		response.JSON(w, listWorkflowsResponse{Workflows: workflows, Count: len(workflows)})
	}
}

// NewCreateWorkflowHandler returns an http.HandlerFunc for POST /workflows/.
// The request body is ignored.
func NewCreateWorkflowHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := svc.Create(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		slog.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name)
		response.JSON(w, wf)
	}
}

// NewGetWorkflowHandler returns an http.HandlerFunc for GET /workflows/{id}.
func NewGetWorkflowHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		wf, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, wf)
	}
}

// NewUpdateWorkflowNameHandler returns an http.HandlerFunc for
// PUT /workflows/{id}. The new name comes from the "name" query parameter,
// or from a JSON body {"name": "..."} when the parameter is absent.
func NewUpdateWorkflowNameHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		name, ok := requestedName(w, r)
		if !ok {
			return
		}

		wf, err := svc.UpdateName(r.Context(), id, name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		slog.Info("workflow renamed", "workflow_id", wf.ID, "name", wf.Name)
		response.JSON(w, wf)
	}
}

// NewListWorkflowJobsHandler returns an http.HandlerFunc for
// GET /workflows/{id}/jobs.
func NewListWorkflowJobsHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		jobs, err := svc.ListJobs(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []*models.WorkflowJob{}
		}
		response.JSON(w, listJobsResponse{Jobs: jobs, Count: len(jobs)})
	}
}

const maxBodyBytes = 1 << 20

func workflowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"workflow id must be an integer", map[string]string{"id": raw})
		return 0, false
	}
	return id, true
}

func requestedName(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.URL.Query().Has("name") {
		return r.URL.Query().Get("name"), true
	}

	var req struct {
		Name *string `json:"name"`
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
				"Request body too large", map[string]int64{"limit_bytes": tooLarge.Limit})
			return "", false
		}
		if errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return "", false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return "", false
	}
	if req.Name == nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
		return "", false
	}
	return *req.Name, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Workflow not found", nil)
	case errors.Is(err, workflow.ErrNameConflict):
		response.Error(w, http.StatusConflict, "CONFLICT",
			"A workflow with this name already exists", nil)
	case errors.Is(err, workflow.ErrInvalidName):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	default:
		slog.Error("workflow request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
