// Package workflow implements the workflow tracking operations on top of the
// store, keeping the optional read cache coherent with it.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/panoptes/internal/cache"
	"github.com/kiranshivaraju/panoptes/internal/store"
	"github.com/kiranshivaraju/panoptes/pkg/models"
)

var (
	ErrNotFound     = errors.New("workflow not found")
	ErrNameConflict = errors.New("workflow name already in use")
	ErrInvalidName  = errors.New("invalid workflow name")
)

// Service is safe for concurrent use. Concurrent renames of the same workflow
// are last-writer-wins.
type Service struct {
	store store.Store
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a Service. Pass cache.Noop{} to disable caching.
func NewService(s store.Store, c cache.Cache, ttl time.Duration) *Service {
	return &Service{store: s, cache: c, ttl: ttl, now: time.Now}
}

// Create persists a new running workflow with a freshly generated name.
// Every call creates a new record.
func (s *Service) Create(ctx context.Context) (*models.Workflow, error) {
	wf := &models.Workflow{
		Name:      uuid.NewString(),
		Status:    models.WorkflowStatusRunning,
		Done:      0,
		Total:     models.DefaultWorkflowTotal,
		StartedAt: s.now().UTC().Truncate(time.Microsecond),
	}

	err := s.store.WithSession(ctx, func(sess store.Session) error {
		return sess.CreateWorkflow(ctx, wf)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrNameConflict
		}
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	s.cacheWorkflow(ctx, wf)
	return wf, nil
}

// List returns every workflow in id order.
func (s *Service) List(ctx context.Context) ([]*models.Workflow, error) {
	var workflows []*models.Workflow
	err := s.store.WithSession(ctx, func(sess store.Session) error {
		var err error
		workflows, err = sess.ListWorkflows(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

// Get returns the workflow with the given id, from the cache when possible.
func (s *Service) Get(ctx context.Context, id int64) (*models.Workflow, error) {
	if wf, ok := s.cachedWorkflow(ctx, id); ok {
		return wf, nil
	}

	var wf *models.Workflow
	err := s.store.WithSession(ctx, func(sess store.Session) error {
		var err error
		wf, err = sess.GetWorkflow(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	s.fillCache(ctx, wf)
	return wf, nil
}

// UpdateName replaces the name of a workflow and leaves every other field as is.
func (s *Service) UpdateName(ctx context.Context, id int64, name string) (*models.Workflow, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var wf *models.Workflow
	err := s.store.WithSession(ctx, func(sess store.Session) error {
		var err error
		wf, err = sess.UpdateWorkflowName(ctx, id, name)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrDuplicateKey):
		return nil, ErrNameConflict
	case err != nil:
		return nil, fmt.Errorf("update workflow name: %w", err)
	}

	s.cacheWorkflow(ctx, wf)
	return wf, nil
}

// ListJobs returns the jobs of a workflow.
func (s *Service) ListJobs(ctx context.Context, workflowID int64) ([]*models.WorkflowJob, error) {
	var jobs []*models.WorkflowJob
	err := s.store.WithSession(ctx, func(sess store.Session) error {
		if _, err := sess.GetWorkflow(ctx, workflowID); err != nil {
			return err
		}
		var err error
		jobs, err = sess.ListWorkflowJobs(ctx, workflowID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("list workflow jobs: %w", err)
	}
	return jobs, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > models.MaxWorkflowNameLen {
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidName, models.MaxWorkflowNameLen)
	}
	return nil
}

// Cache failures never fail a request; the store stays authoritative.
// Writes overwrite the entry, while fills after a read only populate an absent
// one so a read that raced a rename cannot restore the old record.

func (s *Service) cachedWorkflow(ctx context.Context, id int64) (*models.Workflow, bool) {
	data, found, err := s.cache.Get(ctx, cache.WorkflowKey(id))
	if err != nil {
		slog.Warn("workflow cache read failed", "workflow_id", id, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var wf models.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		slog.Warn("discarding corrupt cached workflow", "workflow_id", id, "error", err)
		return nil, false
	}
	return &wf, true
}

func (s *Service) cacheWorkflow(ctx context.Context, wf *models.Workflow) {
	data, err := json.Marshal(wf)
	if err != nil {
		return
	}
	key := cache.WorkflowKey(wf.ID)
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("workflow cache write failed", "workflow_id", wf.ID, "error", err)
		if err := s.cache.Delete(ctx, key); err != nil {
			slog.Warn("workflow cache invalidation failed", "workflow_id", wf.ID, "error", err)
		}
	}
}

func (s *Service) fillCache(ctx context.Context, wf *models.Workflow) {
	data, err := json.Marshal(wf)
	if err != nil {
		return
	}
	if _, err := s.cache.SetNX(ctx, cache.WorkflowKey(wf.ID), data, s.ttl); err != nil {
		slog.Warn("workflow cache fill failed", "workflow_id", wf.ID, "error", err)
	}
}
