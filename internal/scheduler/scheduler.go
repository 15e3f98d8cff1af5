// Package scheduler implements the per-tick decision: observe the
// replication task, then start it or leave it alone.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/replication"
)

// Values of the "event" field. Operators alert on these.
const (
	EventTickStart      = "tick_start"
	EventDescribeResult = "describe_result"
	EventStartIssued    = "start_issued"
	EventStartSkipped   = "start_skipped_already_running"
	EventTickError      = "tick_error"
)

type Outcome string

const (
	OutcomeStarted        Outcome = "started"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeAlreadyRunning Outcome = "already_running"
	OutcomeDescribeFailed Outcome = "describe_failed"
	OutcomeStartFailed    Outcome = "start_failed"
	OutcomeStartUnknown   Outcome = "start_outcome_unknown"
)

// Result summarises one tick.
type Result struct {
	TickID  string
	TaskID  string
	Outcome Outcome
	State   models.State
	Err     error
}

// Failed reports whether the tick ended in an error worth surfacing.
func (r Result) Failed() bool { return r.Err != nil }

// Controller is the part of jobcontrol.Controller a tick needs.
type Controller interface {
	Describe(ctx context.Context, taskID string) (jobcontrol.RawStatus, error)
	Start(ctx context.Context, taskID string, req jobcontrol.StartRequest) (jobcontrol.Ack, error)
}

// Alerter raises operator alerts. notification.Service satisfies it.
type Alerter interface {
	NotifyTaskNotFound(ctx context.Context, taskID, tickID, reason string) error
	NotifyTickFailed(ctx context.Context, taskID, tickID, reason string) error
	NotifyStartOutcomeUnknown(ctx context.Context, taskID, tickID string) error
}

type Option func(*Scheduler)

// WithTickTimeout bounds a whole tick. Zero leaves the caller's deadline.
func WithTickTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.tickTimeout = d }
}

func WithAlerter(a Alerter) Option {
	return func(s *Scheduler) { s.alerts = a }
}

type Scheduler struct {
	job         *replication.Job
	ctrl        Controller
	alerts      Alerter
	tickTimeout time.Duration
	logger      zerolog.Logger
}

func New(job *replication.Job, ctrl Controller, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		job:    job,
		ctrl:   ctrl,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) TaskID() string { return s.job.ID() }

// Job exposes the cached model, e.g. for health output.
func (s *Scheduler) Job() *replication.Job { return s.job }

// Tick runs one trigger invocation. It never panics on a bad tick; every
// failure is contained in the returned Result and the log.
func (s *Scheduler) Tick(ctx context.Context) Result {
	res := Result{TickID: uuid.NewString(), TaskID: s.job.ID()}
	logger := s.logger.With().Str("tick_id", res.TickID).Str("task_id", res.TaskID).Logger()

	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	logger.Info().Str("event", EventTickStart).Msg("tick started")

	state, err := s.job.Refresh(ctx, s.describe)
	if err != nil {
		res.Outcome = OutcomeDescribeFailed
		res.State = s.job.CurrentState()
		res.Err = err

		evt := logger.Error().Str("event", EventTickError).Str("stage", "describe").Err(err)
		var unknown *replication.UnknownStateError
		if errors.As(err, &unknown) {
			evt = evt.Str("raw_status", unknown.RawStatus)
		}
		evt.Msg("could not observe replication task, not starting")

		var notFound *jobcontrol.JobNotFoundError
		if errors.As(err, &notFound) {
			s.alert(ctx, logger, func(ctx context.Context, a Alerter) error {
				return a.NotifyTaskNotFound(ctx, res.TaskID, res.TickID, err.Error())
			})
		}
		return res
	}

	logger.Info().
		Str("event", EventDescribeResult).
		Str("state", state.String()).
		Str("last_error", s.job.LastError()).
		Msg("replication task observed")

	if !s.job.CanStart() {
		res.Outcome = OutcomeSkipped
		res.State = state
		logger.Info().
			Str("event", EventStartSkipped).
			Str("state", state.String()).
			Msg("replication task is already in progress, skipping start")
		return res
	}

	def := s.job.Definition()
	req := jobcontrol.StartRequest{
		Mode:          def.MigrationMode,
		PrepPolicy:    def.PrepPolicy,
		StartType:     s.job.StartType(),
		TableMappings: def.TableMappings,
	}

	ack, err := s.ctrl.Start(ctx, res.TaskID, req)
	if err == nil && !ack.Accepted && !ack.AlreadyRunning {
		err = errors.Errorf("start of task %s was not accepted", res.TaskID)
	}

	switch {
	case err == nil:
		if err := s.job.MarkStarting(); err != nil {
			// A concurrent tick recorded the start already.
			logger.Debug().Err(err).Msg("cached state not updated after start")
		}
		res.State = s.job.CurrentState()
		if ack.AlreadyRunning {
			res.Outcome = OutcomeAlreadyRunning
			logger.Info().
				Str("event", EventStartSkipped).
				Str("reason", "start_rejected_already_running").
				Msg("replication task is already running, start was a no-op")
			return res
		}
		res.Outcome = OutcomeStarted
		logger.Info().
			Str("event", EventStartIssued).
			Str("mode", string(req.Mode)).
			Str("prep_policy", string(req.PrepPolicy)).
			Str("start_type", string(req.StartType)).
			Msg("replication task start issued")
		return res

	case errors.Is(err, jobcontrol.ErrOutcomeUnknown):
		res.Outcome = OutcomeStartUnknown
		res.State = s.job.CurrentState()
		res.Err = err
		logger.Warn().
			Str("event", EventTickError).
			Str("stage", "start").
			Err(err).
			Msg("start outcome unknown, next tick will observe the task")
		s.alert(ctx, logger, func(ctx context.Context, a Alerter) error {
			return a.NotifyStartOutcomeUnknown(ctx, res.TaskID, res.TickID)
		})
		return res

	default:
		res.Outcome = OutcomeStartFailed
		res.State = s.job.CurrentState()
		res.Err = err
		logger.Error().
			Str("event", EventTickError).
			Str("stage", "start").
			Err(err).
			Msg("start failed, next tick will retry")

		var notFound *jobcontrol.JobNotFoundError
		s.alert(ctx, logger, func(ctx context.Context, a Alerter) error {
			if errors.As(err, &notFound) {
				return a.NotifyTaskNotFound(ctx, res.TaskID, res.TickID, err.Error())
			}
			return a.NotifyTickFailed(ctx, res.TaskID, res.TickID, err.Error())
		})
		return res
	}
}

func (s *Scheduler) describe(ctx context.Context) (replication.Observation, error) {
	raw, err := s.ctrl.Describe(ctx, s.job.ID())
	if err != nil {
		return replication.Observation{}, err
	}
	return replication.Observation{Status: raw.Status, LastError: raw.LastError}, nil
}

// alert delivers outside the tick deadline so an expired tick still alerts.
func (s *Scheduler) alert(ctx context.Context, logger zerolog.Logger, fn func(context.Context, Alerter) error) {
	if s.alerts == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), s.alerts); err != nil {
		logger.Warn().Err(err).Msg("failed to raise operator alert")
	}
}
