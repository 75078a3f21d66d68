package domain

import "time"

// Lifecycle operations. "up" is the wire name for apply.
const (
	OperationPreview = "preview"
	OperationUp      = "up"
	OperationDestroy = "destroy"
	OperationRefresh = "refresh"
)

// Deployment statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DeploymentSummary counts the resource changes of one lifecycle
// operation. Counts the engine omits normalize to zero, never to a
// missing field.
type DeploymentSummary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// DeploymentResult is the uniform outcome of any lifecycle operation.
// DeploymentID is generated per invocation and correlates event
// subscriptions. Outputs are populated only for "up".
type DeploymentResult struct {
	DeploymentID string            `json:"deploymentId"`
	StackName    string            `json:"stackName"`
	Operation    string            `json:"operation"`
	Status       string            `json:"status"`
	Summary      DeploymentSummary `json:"summary"`
	Outputs      map[string]any    `json:"outputs,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// DeploymentRecord is the persisted history row for one lifecycle
// invocation.
type DeploymentRecord struct {
	ID         string     `json:"id" db:"id"`
	StackName  string     `json:"stackName" db:"stack_name"`
	Operation  string     `json:"operation" db:"operation"`
	Status     string     `json:"status" db:"status"`
	Created    int        `json:"created" db:"created"`
	Updated    int        `json:"updated" db:"updated"`
	Deleted    int        `json:"deleted" db:"deleted"`
	Unchanged  int        `json:"unchanged" db:"unchanged"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
}
