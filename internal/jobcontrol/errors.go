package jobcontrol

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// JobNotFoundError is a fatal misconfiguration: the configured task handle
// does not exist on the job-control side. An operator has to fix it.
type JobNotFoundError struct {
	TaskID string
	Err    error
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("replication task %s not found: %v", e.TaskID, e.Err)
}

func (e *JobNotFoundError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt: an explicit
// ErrUnavailable, any network error, or an expired per-call deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
