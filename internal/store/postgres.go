package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/panoptes/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	url  string
}

// Connect opens a pgx pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, opts Options) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		poolCfg.MaxConns = poolConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		poolCfg.MinConns = min(poolConns(opts.MaxIdleConns), poolCfg.MaxConns)
	}
	if opts.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStore(pool, databaseURL), nil
}

// NewPostgresStore wraps an existing pool. databaseURL is used for migrations.
func NewPostgresStore(pool *pgxpool.Pool, databaseURL string) *PostgresStore {
	return &PostgresStore{pool: pool, url: databaseURL}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) WithSession(ctx context.Context, fn func(Session) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(&pgSession{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

type pgSession struct {
	tx pgx.Tx
}

const workflowColumns = `id, name, status, done, total, started_at, completed_at`

// --- Workflows ---

func (s *pgSession) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	err := s.tx.QueryRow(ctx,
		`INSERT INTO workflows (name, status, done, total, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		wf.Name, wf.Status, wf.Done, wf.Total, wf.StartedAt,
	).Scan(&wf.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *pgSession) GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error) {
	var wf models.Workflow
	err := s.tx.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id,
	).Scan(&wf.ID, &wf.Name, &wf.Status, &wf.Done, &wf.Total, &wf.StartedAt, &wf.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

func (s *pgSession) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []*models.Workflow{}
	for rows.Next() {
		var wf models.Workflow
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Status, &wf.Done, &wf.Total,
			&wf.StartedAt, &wf.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, &wf)
	}
	return workflows, rows.Err()
}

func (s *pgSession) UpdateWorkflowName(ctx context.Context, id int64, name string) (*models.Workflow, error) {
	var wf models.Workflow
	err := s.tx.QueryRow(ctx,
		`UPDATE workflows SET name = $2 WHERE id = $1 RETURNING `+workflowColumns, id, name,
	).Scan(&wf.ID, &wf.Name, &wf.Status, &wf.Done, &wf.Total, &wf.StartedAt, &wf.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update workflow name: %w", err)
	}
	return &wf, nil
}

// --- Workflow Jobs ---

func (s *pgSession) CreateWorkflowJob(ctx context.Context, job *models.WorkflowJob) error {
	err := s.tx.QueryRow(ctx,
		`INSERT INTO workflow_jobs (jobid, wf_id, status) VALUES ($1, $2, $3) RETURNING id`,
		job.JobID, job.WorkflowID, job.Status,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("create workflow job: %w", err)
	}
	return nil
}

func (s *pgSession) ListWorkflowJobs(ctx context.Context, workflowID int64) ([]*models.WorkflowJob, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT id, jobid, wf_id, status FROM workflow_jobs WHERE wf_id = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.WorkflowJob{}
	for rows.Next() {
		var j models.WorkflowJob
		if err := rows.Scan(&j.ID, &j.JobID, &j.WorkflowID, &j.Status); err != nil {
			return nil, fmt.Errorf("scan workflow job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
