package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stanstork/stratum-replicator/internal/models"
)

// Observation is what a describe call reports about the task.
type Observation struct {
	Status    string
	LastError string
}

// DescribeFunc queries the authoritative task state. It is supplied by the
// job controller; the model itself performs no I/O.
type DescribeFunc func(ctx context.Context) (Observation, error)

// Job caches the last observed state of one replication task. The cache is
// only trusted for the tick that refreshed it.
type Job struct {
	def models.JobDefinition

	mu         sync.RWMutex
	state      models.State
	lastError  string
	observedAt time.Time
	now        func() time.Time
}

func NewJob(def models.JobDefinition) *Job {
	return &Job{def: def, now: time.Now}
}

func (j *Job) ID() string                       { return j.def.ID }
func (j *Job) Definition() models.JobDefinition { return j.def }

// CurrentState returns the cached state without any I/O.
func (j *Job) CurrentState() models.State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// LastError is the error message reported with the last observation, if any.
func (j *Job) LastError() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastError
}

// ObservedAt is when the cached state was last refreshed.
func (j *Job) ObservedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.observedAt
}

// Refresh re-derives the cached state from the describe call. Unknown
// statuses leave the cache as it was.
func (j *Job) Refresh(ctx context.Context, describe DescribeFunc) (models.State, error) {
	obs, err := describe(ctx)
	if err != nil {
		return j.CurrentState(), &DescribeError{TaskID: j.def.ID, Err: err}
	}

	state, ok := models.ParseState(obs.Status)
	if !ok {
		return j.CurrentState(), &DescribeError{
			TaskID: j.def.ID,
			Err:    &UnknownStateError{TaskID: j.def.ID, RawStatus: obs.Status},
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.lastError = obs.LastError
	j.observedAt = j.now()
	return state, nil
}

// CanStart is true only in READY, STOPPED or FAILED. At most one run may be
// active per task, whatever the job-control API would accept.
func (j *Job) CanStart() bool {
	return j.CurrentState().Startable()
}

// StartType picks between a first run and a full reload of the target.
func (j *Job) StartType() models.StartType {
	if j.CurrentState() == models.StateReady {
		return models.StartTypeStart
	}
	return models.StartTypeReload
}

// MarkStarting records that a run is now in progress: either a start was
// accepted or the job-control API reported one already running.
func (j *Job) MarkStarting() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Startable() {
		return fmt.Errorf("replication task %s cannot start from state %s", j.def.ID, j.state)
	}
	j.state = models.StateStarting
	return nil
}
