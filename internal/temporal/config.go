package temporal

import "time"

// TaskQueueName is the Temporal task queue of the replication tick workflow.
const TaskQueueName = "STRATUM_REPLICATION"

// TickWorkflowIDPrefix prefixes the cron workflow ID; the task ID follows.
const TickWorkflowIDPrefix = "stratum-replication-tick-"

// ActivityTimeoutMargin is added to the tick timeout so the scheduler's own
// deadline fires before Temporal abandons the activity.
const ActivityTimeoutMargin = 30 * time.Second

// DefaultActivityTimeout bounds a tick activity started without an explicit
// timeout.
const DefaultActivityTimeout = 4*time.Minute + ActivityTimeoutMargin

// TickParams is the input of the tick workflow.
type TickParams struct {
	TaskID          string
	ActivityTimeout time.Duration
}

// ActivityTimeout returns the start-to-close timeout for a tick bounded by
// tickTimeout.
func ActivityTimeout(tickTimeout time.Duration) time.Duration {
	if tickTimeout <= 0 {
		return DefaultActivityTimeout
	}
	return tickTimeout + ActivityTimeoutMargin
}

// TickActivityResult is the serialisable summary of one tick.
type TickActivityResult struct {
	TickID  string
	TaskID  string
	Outcome string
	State   string
	Error   string
}

func TickWorkflowID(taskID string) string {
	return TickWorkflowIDPrefix + taskID
}
