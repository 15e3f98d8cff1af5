package jobcontrol

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultAttempts    = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultCallTimeout = 30 * time.Second
	MaxCallTimeout     = 30 * time.Second
)

type controllerOptions struct {
	attempts    int
	backoffBase time.Duration
	callTimeout time.Duration
}

type Option func(*controllerOptions)

func WithAttempts(n int) Option {
	return func(o *controllerOptions) { o.attempts = n }
}

func WithBackoffBase(d time.Duration) Option {
	return func(o *controllerOptions) { o.backoffBase = d }
}

// WithCallTimeout bounds every single attempt. Values above MaxCallTimeout
// are capped.
func WithCallTimeout(d time.Duration) Option {
	return func(o *controllerOptions) { o.callTimeout = d }
}

// Controller is the retrying client over the job-control API. All retry
// policy lives here; callers decide what to do with the result.
type Controller struct {
	api    API
	opts   controllerOptions
	logger zerolog.Logger
}

func NewController(api API, logger zerolog.Logger, opts ...Option) *Controller {
	o := controllerOptions{
		attempts:    DefaultAttempts,
		backoffBase: DefaultBackoffBase,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}
	if o.backoffBase <= 0 {
		o.backoffBase = DefaultBackoffBase
	}
	if o.callTimeout <= 0 || o.callTimeout > MaxCallTimeout {
		o.callTimeout = MaxCallTimeout
	}
	return &Controller{
		api:    api,
		opts:   o,
		logger: logger.With().Str("component", "jobcontrol").Logger(),
	}
}

// Describe returns the raw status of the task. Transient failures are retried
// with exponential backoff; a missing task fails at once with
// *JobNotFoundError.
func (c *Controller) Describe(ctx context.Context, taskID string) (RawStatus, error) {
	status, err := do(ctx, c, "describe", taskID, func(ctx context.Context) (RawStatus, error) {
		return c.api.Describe(ctx, taskID)
	})
	if err != nil {
		return RawStatus{}, errors.Wrapf(err, "describe task %s", taskID)
	}
	return status, nil
}

// Start issues a run. A rejection because a run is already in progress is
// reported as success with AlreadyRunning set. If ctx ends while the call is
// in flight the error wraps ErrOutcomeUnknown.
func (c *Controller) Start(ctx context.Context, taskID string, req StartRequest) (Ack, error) {
	ack, err := do(ctx, c, "start", taskID, func(ctx context.Context) (Ack, error) {
		ack, err := c.api.Start(ctx, taskID, req)
		if errors.Is(err, ErrAlreadyRunning) {
			return Ack{AlreadyRunning: true}, nil
		}
		return ack, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return Ack{}, errors.Wrapf(ErrOutcomeUnknown, "start task %s: %v", taskID, ctx.Err())
		}
		return Ack{}, errors.Wrapf(err, "start task %s", taskID)
	}
	return ack, nil
}

// Stop asks the job-control API to stop the current run. Accepted is false
// when nothing was running.
func (c *Controller) Stop(ctx context.Context, taskID string) (Ack, error) {
	ack, err := do(ctx, c, "stop", taskID, func(ctx context.Context) (Ack, error) {
		return c.api.Stop(ctx, taskID)
	})
	if err != nil {
		return Ack{}, errors.Wrapf(err, "stop task %s", taskID)
	}
	return ack, nil
}

func (c *Controller) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(c.opts.attempts-1), retry.NewExponential(c.opts.backoffBase))
}

func do[T any](ctx context.Context, c *Controller, op, taskID string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return retry.DoValue(ctx, c.backoff(), func(ctx context.Context) (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.opts.callTimeout)
		defer cancel()

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrTaskNotFound) {
			return v, &JobNotFoundError{TaskID: taskID, Err: err}
		}
		// A cancelled caller is not a transient failure.
		if ctx.Err() != nil || !IsTransient(err) || attempt >= c.opts.attempts {
			return v, err
		}
		c.logger.Warn().
			Err(err).
			Str("operation", op).
			Str("task_id", taskID).
			Int("attempt", attempt).
			Int("max_attempts", c.opts.attempts).
			Msg("transient job-control error, retrying")
		return v, retry.RetryableError(err)
	})
}
