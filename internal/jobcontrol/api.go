package jobcontrol

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stanstork/stratum-replicator/internal/models"
)

// Sentinel errors an API implementation wraps to let the controller classify
// failures.
var (
	// ErrTaskNotFound means the task handle does not exist. Never retried.
	ErrTaskNotFound = errors.New("replication task not found")
	// ErrAlreadyRunning is a start rejection because a run is in progress.
	ErrAlreadyRunning = errors.New("replication task already running")
	// ErrUnavailable marks a transient failure worth retrying.
	ErrUnavailable = errors.New("job-control API unavailable")
	// ErrOutcomeUnknown is returned by Start when the caller gave up while
	// the call was in flight. The task may have started anyway.
	ErrOutcomeUnknown = errors.New("start outcome unknown")
)

// RawStatus is the job-control API's own view of the task.
type RawStatus struct {
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

type StartRequest struct {
	Mode          models.MigrationMode    `json:"mode"`
	PrepPolicy    models.TargetPrepPolicy `json:"prep_policy"`
	StartType     models.StartType        `json:"start_type"`
	TableMappings []models.TableMapping   `json:"table_mappings,omitempty"`
}

// Ack is the answer to start and stop. AlreadyRunning is set by the
// controller when a start was rejected because a run is in progress.
type Ack struct {
	Accepted       bool `json:"accepted"`
	AlreadyRunning bool `json:"already_running,omitempty"`
}

// API is the external job-control service that owns the authoritative
// lifecycle of a replication task.
type API interface {
	Describe(ctx context.Context, taskID string) (RawStatus, error)
	Start(ctx context.Context, taskID string, req StartRequest) (Ack, error)
	Stop(ctx context.Context, taskID string) (Ack, error)
}
