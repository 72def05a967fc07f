package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/panoptes/pkg/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements the Store interface on an *sql.DB opened with the
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the SQLite database at dsn. The pool is pinned to one
// long-lived connection: writers are serialised by database/sql instead of
// failing with SQLITE_BUSY, and an in-memory database survives for the life
// of the store. Pool sizing options therefore do not apply.
func OpenSQLite(ctx context.Context, dsn string, _ Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an existing database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) WithSession(ctx context.Context, fn func(Session) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteSession{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

type sqliteSession struct {
	tx *sql.Tx
}

// --- Workflows ---

func (s *sqliteSession) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO workflows (name, status, done, total, started_at) VALUES (?, ?, ?, ?, ?)`,
		wf.Name, wf.Status, wf.Done, wf.Total, wf.StartedAt.UTC())
	if err != nil {
		if isSQLiteUniqueError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	wf.ID = id
	return nil
}

func (s *sqliteSession) GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanSQLiteWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *sqliteSession) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []*models.Workflow{}
	for rows.Next() {
		wf, err := scanSQLiteWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *sqliteSession) UpdateWorkflowName(ctx context.Context, id int64, name string) (*models.Workflow, error) {
	res, err := s.tx.ExecContext(ctx, `UPDATE workflows SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		if isSQLiteUniqueError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update workflow name: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update workflow name: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetWorkflow(ctx, id)
}

// --- Workflow Jobs ---

func (s *sqliteSession) CreateWorkflowJob(ctx context.Context, job *models.WorkflowJob) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO workflow_jobs (jobid, wf_id, status) VALUES (?, ?, ?)`,
		job.JobID, job.WorkflowID, job.Status)
	if err != nil {
		return fmt.Errorf("create workflow job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create workflow job: %w", err)
	}
	job.ID = id
	return nil
}

func (s *sqliteSession) ListWorkflowJobs(ctx context.Context, workflowID int64) ([]*models.WorkflowJob, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, jobid, wf_id, status FROM workflow_jobs WHERE wf_id = ? ORDER BY id`, workflowID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		wf          models.Workflow
		completedAt sql.NullTime
	)
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Status, &wf.Done, &wf.Total,
		&wf.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	wf.StartedAt = wf.StartedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		wf.CompletedAt = &t
	}
	return &wf, nil
}

// isSQLiteUniqueError checks if a modernc sqlite error is a unique constraint violation.
func isSQLiteUniqueError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
		// Primary result code only, when extended codes are not reported.
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
