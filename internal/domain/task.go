package domain

import "time"

// Task is the one persistent entity: a scheduled occurrence pending
// execution. See the scheduled_tasks table for the column mapping.
type Task struct {
	TaskName            string
	TaskInstance        string
	ExecutionTime       time.Time
	Data                []byte
	Picked              bool
	PickedBy            *string
	LastHeartbeat       *time.Time
	LastSuccess         *time.Time
	LastFailure         *time.Time
	ConsecutiveFailures int
	Version             int64
}

// Outcome is the result a pipeline reports back to Store.Reschedule.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// PublishPayloadTaskName is the single task kind this deployment registers.
const PublishPayloadTaskName = "publish-payload"
