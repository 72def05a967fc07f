package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/panoptes/internal/api"
	"github.com/kiranshivaraju/panoptes/internal/api/handler"
	mw "github.com/kiranshivaraju/panoptes/internal/api/middleware"
	"github.com/kiranshivaraju/panoptes/internal/cache"
	"github.com/kiranshivaraju/panoptes/internal/store"
	"github.com/kiranshivaraju/panoptes/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub cache with a controllable counter ---

type stubCache struct {
	count int64
}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) SetNX(_ context.Context, _ string, _ []byte, _ time.Duration) (bool, error) {
	return true, nil
}
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *stubCache) Ping(_ context.Context) error                                      { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.count++
	return c.count, nil
}

var _ cache.Cache = (*stubCache)(nil)

// --- router tests ---

type workflowBody struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Done        int     `json:"done"`
	Total       int     `json:"total"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

type listBody struct {
	Workflows []workflowBody `json:"workflows"`
	Count     int            `json:"count"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite:///"+filepath.Join(t.TempDir(), "panoptes.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, store.RunMigrations(s))

	svc := workflow.NewService(s, cache.Noop{}, time.Minute)
	return api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(cache.Noop{}, 1000),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		ServiceInfoHandler: handler.NewServiceInfoHandler(),
		ListWorkflows:      handler.NewListWorkflowsHandler(svc),
		CreateWorkflow:     handler.NewCreateWorkflowHandler(svc),
		GetWorkflow:        handler.NewGetWorkflowHandler(svc),
		UpdateWorkflowName: handler.NewUpdateWorkflowNameHandler(svc),
		ListWorkflowJobs:   handler.NewListWorkflowJobsHandler(svc),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func create(t *testing.T, h http.Handler) workflowBody {
	t.Helper()
	w := do(t, h, http.MethodPost, "/workflows/", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[workflowBody](t, w)
}

func TestRouter_ServiceInfo(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/api/service-info", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"running"}`, w.Body.String())
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CreateYieldsUniqueRunningWorkflows(t *testing.T) {
	router := newTestRouter(t)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		wf := create(t, router)
		assert.NotEmpty(t, wf.Name)
		assert.False(t, seen[wf.Name], "name %q reused", wf.Name)
		seen[wf.Name] = true
		assert.Equal(t, "Running", wf.Status)
		assert.Equal(t, 0, wf.Done)
		assert.Equal(t, 1, wf.Total)
		assert.NotEmpty(t, wf.StartedAt)
		assert.Nil(t, wf.CompletedAt)
	}
}

func TestRouter_CreateWithoutTrailingSlash(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/workflows", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ReadAfterCreate(t *testing.T) {
	router := newTestRouter(t)
	created := create(t, router)

	w := do(t, router, http.MethodGet, "/workflows/"+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[workflowBody](t, w)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Status, got.Status)
}

func TestRouter_ReadNonexistent(t *testing.T) {
	router := newTestRouter(t)
	created := create(t, router)

	w := do(t, router, http.MethodGet, "/workflows/"+itoa(created.ID+100), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	errObj := decode[map[string]map[string]any](t, w)["error"]
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestRouter_ReadBadID(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/workflows/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_UpdateNameThenRead(t *testing.T) {
	router := newTestRouter(t)
	created := create(t, router)
	path := "/workflows/" + itoa(created.ID)

	w := do(t, router, http.MethodPut, path+"?name=nightly-import", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[workflowBody](t, w)
	assert.Equal(t, "nightly-import", updated.Name)

	w = do(t, router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[workflowBody](t, w)
	assert.Equal(t, "nightly-import", got.Name)
	assert.Equal(t, created.Status, got.Status)
	assert.Equal(t, created.Done, got.Done)
	assert.Equal(t, created.Total, got.Total)
	createdAt, err := time.Parse(time.RFC3339Nano, created.StartedAt)
	require.NoError(t, err)
	gotAt, err := time.Parse(time.RFC3339Nano, got.StartedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, createdAt, gotAt, time.Millisecond)
}

func TestRouter_UpdateNameFromBody(t *testing.T) {
	router := newTestRouter(t)
	created := create(t, router)

	w := do(t, router, http.MethodPut, "/workflows/"+itoa(created.ID), `{"name":"via-body"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "via-body", decode[workflowBody](t, w).Name)
}

func TestRouter_UpdateNameNonexistent(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPut, "/workflows/41?name=x", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_UpdateNameDuplicate(t *testing.T) {
	router := newTestRouter(t)
	a := create(t, router)
	b := create(t, router)

	w := do(t, router, http.MethodPut, "/workflows/"+itoa(b.ID)+"?name="+a.Name, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decode[map[string]map[string]any](t, w)["error"]
	assert.Equal(t, "CONFLICT", errObj["code"])
}

func TestRouter_UpdateNameMissing(t *testing.T) {
	router := newTestRouter(t)
	created := create(t, router)

	w := do(t, router, http.MethodPut, "/workflows/"+itoa(created.ID), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ListCountMatchesCreated(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/api/workflows", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"workflows":[],"count":0}`, w.Body.String())

	for i := 1; i <= 4; i++ {
		create(t, router)

		w := do(t, router, http.MethodGet, "/api/workflows", "")
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[listBody](t, w)
		assert.Equal(t, i, list.Count)
		assert.Len(t, list.Workflows, i)
	}
}

func TestRouter_ListWorkflowJobs(t *testing.T) {
	router := newTestRouter(t)
	created := create(t, router)

	w := do(t, router, http.MethodGet, "/workflows/"+itoa(created.ID)+"/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[],"count":0}`, w.Body.String())

	w = do(t, router, http.MethodGet, "/workflows/999/jobs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/api/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	errObj := decode[map[string]map[string]any](t, w)["error"]
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodDelete, "/workflows/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_UnwiredHandlerIsNotImplemented(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	w := do(t, router, http.MethodGet, "/api/workflows", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_RateLimited(t *testing.T) {
	c := &stubCache{}
	router := api.NewRouter(api.Dependencies{
		RateLimit:          mw.NewRateLimit(c, 2),
		ServiceInfoHandler: handler.NewServiceInfoHandler(),
	})

	for i := 0; i < 2; i++ {
		w := do(t, router, http.MethodGet, "/api/workflows", "")
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	}
	w := do(t, router, http.MethodGet, "/api/workflows", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// service-info is outside the limited group.
	w = do(t, router, http.MethodGet, "/api/service-info", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
