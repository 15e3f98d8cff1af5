package replication

import "fmt"

// DescribeError is returned by Refresh when the describe call fails or its
// result cannot be used. The tick that sees it must not start the task.
type DescribeError struct {
	TaskID string
	Err    error
}

func (e *DescribeError) Error() string {
	return fmt.Sprintf("describe replication task %s: %v", e.TaskID, e.Err)
}

func (e *DescribeError) Unwrap() error { return e.Err }

// UnknownStateError reports a status string the model has no mapping for.
// The cached state is left untouched.
type UnknownStateError struct {
	TaskID    string
	RawStatus string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("replication task %s reported unknown status %q", e.TaskID, e.RawStatus)
}
