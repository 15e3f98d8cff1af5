package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/resolver"
)

const (
	LabelTaskID    = "stratum.task-id"
	LabelStartType = "stratum.start-type"

	configDir  = "/app"
	configName = "config.json"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ContainerName is the deterministic container name of a task. Docker
// refuses a second container with the same name, which makes start atomic.
func ContainerName(taskID string) string {
	return "stratum-" + invalidNameChars.ReplaceAllString(taskID, "-")
}

type clientOptions struct {
	Image       string
	CPUShares   int64
	MemoryBytes int64
	StopTimeout time.Duration
	PullTimeout time.Duration
}

type ClientOpt func(*clientOptions)

func WithImage(ref string) ClientOpt {
	return func(o *clientOptions) { o.Image = ref }
}

func WithResources(cpuShares, memoryBytes int64) ClientOpt {
	return func(o *clientOptions) { o.CPUShares = cpuShares; o.MemoryBytes = memoryBytes }
}

// WithStopTimeout is the grace period before Docker kills a stopping run.
func WithStopTimeout(d time.Duration) ClientOpt {
	return func(o *clientOptions) { o.StopTimeout = d }
}

// WithPullTimeout bounds a background pull of the engine image.
func WithPullTimeout(d time.Duration) ClientOpt {
	return func(o *clientOptions) { o.PullTimeout = d }
}

// Client runs replication tasks as containers of the stratum engine image.
// It implements jobcontrol.API.
type Client struct {
	docker   DockerAPI
	resolver resolver.Resolver
	opts     clientOptions
	logger   zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]models.JobDefinition

	pulls singleflight.Group
}

var _ jobcontrol.API = (*Client)(nil)

func NewClient(docker DockerAPI, res resolver.Resolver, logger zerolog.Logger, opts ...ClientOpt) *Client {
	o := clientOptions{
		Image:       "stanstork/stratum:latest",
		StopTimeout: 30 * time.Second,
		PullTimeout: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		docker:   docker,
		resolver: res,
		opts:     o,
		logger:   logger.With().Str("component", "engine").Logger(),
		tasks:    make(map[string]models.JobDefinition),
	}
}

// Register makes a task known to the adapter. Unregistered task IDs are
// reported as jobcontrol.ErrTaskNotFound.
func (c *Client) Register(def models.JobDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[def.ID] = def
}

// PullImage pulls the engine image unless it is already present. Concurrent
// callers share one pull.
func (c *Client) PullImage(ctx context.Context) error {
	present, err := imagePresent(ctx, c.docker, c.opts.Image)
	if err != nil || present {
		return err
	}
	ch := c.pulls.DoChan(c.opts.Image, c.pull)
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) pullInBackground() {
	_ = c.pulls.DoChan(c.opts.Image, c.pull)
}

func (c *Client) pull() (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PullTimeout)
	defer cancel()

	c.logger.Info().Str("image", c.opts.Image).Msg("Pulling engine image")
	if err := pullImage(ctx, c.docker, c.opts.Image); err != nil {
		c.logger.Error().Err(err).Str("image", c.opts.Image).Msg("Failed to pull engine image")
		return nil, err
	}
	c.logger.Info().Str("image", c.opts.Image).Msg("Pulled engine image")
	return nil, nil
}

func (c *Client) task(taskID string) (models.JobDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.tasks[taskID]
	if !ok {
		return models.JobDefinition{}, errors.Wrapf(jobcontrol.ErrTaskNotFound, "task %q is not registered", taskID)
	}
	return def, nil
}

// inspect returns the task container, or nil when there is none.
func (c *Client) inspect(ctx context.Context, taskID string) (*container.InspectResponse, error) {
	insp, err := c.docker.ContainerInspect(ctx, ContainerName(taskID))
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, classify(err, "inspect container")
	}
	return &insp, nil
}

func (c *Client) Describe(ctx context.Context, taskID string) (jobcontrol.RawStatus, error) {
	if _, err := c.task(taskID); err != nil {
		return jobcontrol.RawStatus{}, err
	}
	insp, err := c.inspect(ctx, taskID)
	if err != nil {
		return jobcontrol.RawStatus{}, err
	}
	return statusOf(insp), nil
}

func (c *Client) Start(ctx context.Context, taskID string, req jobcontrol.StartRequest) (jobcontrol.Ack, error) {
	def, err := c.task(taskID)
	if err != nil {
		return jobcontrol.Ack{}, err
	}
	name := ContainerName(taskID)
	logger := c.logger.With().Str("task_id", taskID).Str("container", name).Logger()

	insp, err := c.inspect(ctx, taskID)
	if err != nil {
		return jobcontrol.Ack{}, err
	}
	if insp != nil {
		if err := c.clearFinished(ctx, insp); err != nil {
			return jobcontrol.Ack{}, err
		}
		logger.Info().Msg("Removed finished container")
	}

	cfg, err := buildConfig(ctx, c.resolver, def, req)
	if err != nil {
		return jobcontrol.Ack{}, err
	}

	present, err := imagePresent(ctx, c.docker, c.opts.Image)
	if err != nil {
		return jobcontrol.Ack{}, err
	}
	if !present {
		// A pull can outlast any single call; let it finish in the
		// background and have a later attempt or tick pick it up.
		c.pullInBackground()
		return jobcontrol.Ack{}, errors.Wrapf(jobcontrol.ErrUnavailable, "engine image %s is being pulled", c.opts.Image)
	}

	resp, err := c.docker.ContainerCreate(ctx,
		&container.Config{
			Image: c.opts.Image,
			Cmd:   []string{"migrate", "--config", configDir + "/" + configName, "--from-ast"},
			Labels: map[string]string{
				LabelTaskID:    taskID,
				LabelStartType: string(req.StartType),
			},
		},
		&container.HostConfig{
			Resources: container.Resources{
				CPUShares: c.opts.CPUShares,
				Memory:    c.opts.MemoryBytes,
			},
		}, nil, nil, name)
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return jobcontrol.Ack{}, errors.Wrapf(jobcontrol.ErrAlreadyRunning, "create container %s: %v", name, err)
		}
		return jobcontrol.Ack{}, classify(err, "create container")
	}
	logger.Info().Str("container_id", resp.ID).Msg("Container created")

	if err := copyTo(ctx, c.docker, resp.ID, configDir, cfg, configName); err != nil {
		c.discard(resp.ID)
		return jobcontrol.Ack{}, err
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// A cancelled start may still have reached the daemon; leave the
		// container for the next describe to find.
		if ctx.Err() == nil {
			c.discard(resp.ID)
		}
		return jobcontrol.Ack{}, classify(err, "start container")
	}
	logger.Info().
		Str("container_id", resp.ID).
		Str("start_type", string(req.StartType)).
		Msg("Replication container started")
	return jobcontrol.Ack{Accepted: true}, nil
}

// clearFinished removes the container of a previous run so a new one can take
// its name. A container that was created but never started is the leftover
// of an interrupted start and is removed as well. Live containers mean a run
// is in progress.
func (c *Client) clearFinished(ctx context.Context, insp *container.InspectResponse) error {
	st := stateOf(insp)
	force := true
	switch {
	case st.Status == container.StateExited, st.Status == container.StateDead:
	case neverStarted(st):
		// Without force Docker refuses to remove a container that another
		// caller has started in the meantime.
		force = false
	case st.Status == container.StateRemoving:
		return errors.Wrapf(jobcontrol.ErrUnavailable, "container %s is being removed", insp.ID)
	default:
		return errors.Wrapf(jobcontrol.ErrAlreadyRunning, "container %s is %s", insp.ID, st.Status)
	}
	if err := c.docker.ContainerRemove(ctx, insp.ID, container.RemoveOptions{Force: force}); err != nil {
		switch {
		case cerrdefs.IsNotFound(err):
		case cerrdefs.IsConflict(err):
			return errors.Wrapf(jobcontrol.ErrAlreadyRunning, "container %s started while being cleared", insp.ID)
		default:
			return classify(err, "remove finished container")
		}
	}
	return nil
}

// discard removes a container whose start sequence failed halfway.
func (c *Client) discard(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		c.logger.Warn().Err(err).Str("container_id", containerID).Msg("Failed to remove half-started container")
	}
}

func (c *Client) Stop(ctx context.Context, taskID string) (jobcontrol.Ack, error) {
	if _, err := c.task(taskID); err != nil {
		return jobcontrol.Ack{}, err
	}
	insp, err := c.inspect(ctx, taskID)
	if err != nil {
		return jobcontrol.Ack{}, err
	}
	if insp == nil {
		return jobcontrol.Ack{Accepted: false}, nil
	}
	st := stateOf(insp)
	if neverStarted(st) {
		if err := c.docker.ContainerRemove(ctx, insp.ID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
			return jobcontrol.Ack{}, classify(err, "remove unstarted container")
		}
		c.logger.Info().Str("task_id", taskID).Str("container_id", insp.ID).Msg("Removed unstarted replication container")
		return jobcontrol.Ack{Accepted: true}, nil
	}
	if !st.Running {
		return jobcontrol.Ack{Accepted: false}, nil
	}

	timeout := int(c.opts.StopTimeout.Seconds())
	if err := c.docker.ContainerStop(ctx, insp.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		if cerrdefs.IsNotFound(err) {
			return jobcontrol.Ack{Accepted: false}, nil
		}
		return jobcontrol.Ack{}, classify(err, "stop container")
	}
	c.logger.Info().Str("task_id", taskID).Str("container_id", insp.ID).Msg("Replication container stopped")
	return jobcontrol.Ack{Accepted: true}, nil
}

func stateOf(insp *container.InspectResponse) container.State {
	if insp == nil || insp.ContainerJSONBase == nil || insp.State == nil {
		return container.State{}
	}
	return *insp.State
}

// statusOf maps the container onto the job-control status vocabulary. No
// container means the task has never run. A container that was created but
// never started belongs to an interrupted start and is reported as failed so
// the next tick starts again. Paused and removing containers are passed
// through as-is; the job model reports them as unknown.
func statusOf(insp *container.InspectResponse) jobcontrol.RawStatus {
	if insp == nil {
		return jobcontrol.RawStatus{Status: string(models.StateReady)}
	}
	st := stateOf(insp)
	switch st.Status {
	case container.StateCreated:
		if neverStarted(st) {
			return jobcontrol.RawStatus{Status: string(models.StateFailed), LastError: errStartInterrupted}
		}
		return jobcontrol.RawStatus{Status: string(models.StateStarting)}
	case container.StateRunning, container.StateRestarting:
		return jobcontrol.RawStatus{Status: string(models.StateRunning)}
	case container.StateExited:
		if st.ExitCode == 0 {
			return jobcontrol.RawStatus{Status: string(models.StateStopped)}
		}
		return jobcontrol.RawStatus{Status: string(models.StateFailed), LastError: lastError(st)}
	case container.StateDead:
		return jobcontrol.RawStatus{Status: string(models.StateFailed), LastError: lastError(st)}
	default:
		return jobcontrol.RawStatus{Status: string(st.Status)}
	}
}

const errStartInterrupted = "previous start did not complete"

// neverStarted reports a created container whose start was never carried out.
func neverStarted(st container.State) bool {
	if st.Status != container.StateCreated {
		return false
	}
	return st.StartedAt == "" || strings.HasPrefix(st.StartedAt, "0001-01-01")
}

func lastError(st container.State) string {
	if st.Error != "" {
		return st.Error
	}
	if st.OOMKilled {
		return "container was killed: out of memory"
	}
	return fmt.Sprintf("engine exited with code %d", st.ExitCode)
}
