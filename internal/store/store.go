package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/panoptes/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the process-wide handle on the database. It is opened once at
// startup and closed at shutdown; all record access goes through a Session.
type Store interface {
	Ping(ctx context.Context) error

	// WithSession runs fn inside a transaction scoped to the call. The
	// transaction is committed when fn returns nil and rolled back on any
	// other exit, including a panic, which is re-raised after rollback.
	WithSession(ctx context.Context, fn func(Session) error) error

	Close()
}

// Session is the data access interface available for the lifetime of one
// WithSession call. It must not be retained after fn returns.
type Session interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	UpdateWorkflowName(ctx context.Context, id int64, name string) (*models.Workflow, error)

	// CreateWorkflowJob is only used to seed jobs; no HTTP route creates them.
	CreateWorkflowJob(ctx context.Context, job *models.WorkflowJob) error
	ListWorkflowJobs(ctx context.Context, workflowID int64) ([]*models.WorkflowJob, error)
}
