package models

import "time"

const (
	WorkflowStatusPending = "Pending"
	WorkflowStatusRunning = "Running"

	// DefaultWorkflowTotal is the progress total a new workflow starts with.
	DefaultWorkflowTotal = 1

	// MaxWorkflowNameLen matches the width of the workflows.name column.
	MaxWorkflowNameLen = 50
)

// Workflow is a tracked unit of work. Status is free-form and set by callers;
// no transition rules are enforced, and Done is not checked against Total.
type Workflow struct {
	ID          int64      `db:"id"           json:"id"`
	Name        string     `db:"name"         json:"name"`
	Status      string     `db:"status"       json:"status"`
	Done        int        `db:"done"         json:"done"`
	Total       int        `db:"total"        json:"total"`
	StartedAt   time.Time  `db:"started_at"   json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
}
