package models

const WorkflowJobStatusRunning = "Running"

// WorkflowJob is a sub-unit belonging to exactly one Workflow.
// JobID is caller-supplied and carries no uniqueness guarantee.
type WorkflowJob struct {
	ID         int64  `db:"id"     json:"id"`
	JobID      int64  `db:"jobid"  json:"jobid"`
	WorkflowID int64  `db:"wf_id"  json:"wf_id"`
	Status     string `db:"status" json:"status"`
}
