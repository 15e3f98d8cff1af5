package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/replication"
)

// fakeJobControl behaves like the external job-control service: start is
// atomic server-side and rejects a second run while one is outstanding.
type fakeJobControl struct {
	mu             sync.Mutex
	status         string
	lastError      string
	describeErrs   []error
	startErr       error
	startDelay     time.Duration
	blockStart     bool
	onStart        func()
	describes      int
	starts         int
	accepted       int
	outstanding    int
	maxOutstanding int
	requests       []jobcontrol.StartRequest
}

func (f *fakeJobControl) Describe(_ context.Context, _ string) (jobcontrol.RawStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describes++
	if len(f.describeErrs) > 0 {
		err := f.describeErrs[0]
		f.describeErrs = f.describeErrs[1:]
		return jobcontrol.RawStatus{}, err
	}
	return jobcontrol.RawStatus{Status: f.status, LastError: f.lastError}, nil
}

func (f *fakeJobControl) Start(ctx context.Context, _ string, req jobcontrol.StartRequest) (jobcontrol.Ack, error) {
	f.mu.Lock()
	f.starts++
	f.requests = append(f.requests, req)
	delay, block, startErr, onStart := f.startDelay, f.blockStart, f.startErr, f.onStart
	f.mu.Unlock()

	if onStart != nil {
		onStart()
	}

	if block {
		<-ctx.Done()
		return jobcontrol.Ack{}, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if startErr != nil {
		return jobcontrol.Ack{}, startErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.status {
	case "ready", "stopped", "failed":
	default:
		return jobcontrol.Ack{}, errors.Wrap(jobcontrol.ErrAlreadyRunning, "task is "+f.status)
	}
	f.status = "starting"
	f.accepted++
	f.outstanding++
	if f.outstanding > f.maxOutstanding {
		f.maxOutstanding = f.outstanding
	}
	return jobcontrol.Ack{Accepted: true}, nil
}

func (f *fakeJobControl) Stop(_ context.Context, _ string) (jobcontrol.Ack, error) {
	return jobcontrol.Ack{}, nil
}

// finish completes the outstanding run with the given terminal status.
func (f *fakeJobControl) finish(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	if f.outstanding > 0 {
		f.outstanding--
	}
}

type apiSnapshot struct {
	describes      int
	starts         int
	accepted       int
	maxOutstanding int
	requests       []jobcontrol.StartRequest
}

func (f *fakeJobControl) snapshot() apiSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return apiSnapshot{
		describes:      f.describes,
		starts:         f.starts,
		accepted:       f.accepted,
		maxOutstanding: f.maxOutstanding,
		requests:       append([]jobcontrol.StartRequest(nil), f.requests...),
	}
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerter) record(evt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingAlerter) NotifyTaskNotFound(_ context.Context, _, _, _ string) error {
	return r.record(string(models.NotificationEventTaskNotFound))
}

func (r *recordingAlerter) NotifyTickFailed(_ context.Context, _, _, _ string) error {
	return r.record(string(models.NotificationEventTickFailed))
}

func (r *recordingAlerter) NotifyStartOutcomeUnknown(_ context.Context, _, _ string) error {
	return r.record(string(models.NotificationEventStartOutcomeUnknown))
}

type harness struct {
	api    *fakeJobControl
	alerts *recordingAlerter
	logs   *syncBuffer
	sched  *Scheduler
	job    *replication.Job
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// events returns the "event" field of every log line, in order.
func (b *syncBuffer) events(t *testing.T) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if evt, ok := line["event"].(string); ok {
			out = append(out, evt)
		}
	}
	return out
}

// lines returns every log line with the given level.
func (b *syncBuffer) lines(t *testing.T, level string) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if line["level"] == level {
			out = append(out, line)
		}
	}
	return out
}

func newHarness(t *testing.T, status string, opts ...Option) *harness {
	t.Helper()
	src, err := models.NewEndpoint(models.EndpointSource, "postgres", "rds-source", models.EndpointSettings{})
	require.NoError(t, err)
	dst, err := models.NewEndpoint(models.EndpointTarget, "s3", "landing", models.EndpointSettings{})
	require.NoError(t, err)
	def, err := models.NewJobDefinition("rds-to-s3", src, dst, models.MigrationModeFullLoad, models.PrepDropAndRecreate, nil)
	require.NoError(t, err)

	h := &harness{
		api:    &fakeJobControl{status: status},
		alerts: &recordingAlerter{},
		logs:   &syncBuffer{},
		job:    replication.NewJob(def),
	}
	logger := zerolog.New(h.logs)
	ctrl := jobcontrol.NewController(h.api, logger,
		jobcontrol.WithBackoffBase(time.Millisecond),
		jobcontrol.WithCallTimeout(time.Second))
	h.sched = New(h.job, ctrl, logger, append([]Option{WithAlerter(h.alerts)}, opts...)...)
	return h
}

func TestTick_ReadyStartsAndCachesStarting(t *testing.T) {
	h := newHarness(t, "ready")

	res := h.sched.Tick(context.Background())
	require.NoError(t, res.Err)

	assert.NotEmpty(t, res.TickID)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, models.StateStarting, h.job.CurrentState())

	api := h.api.snapshot()
	require.Len(t, api.requests, 1)
	assert.Equal(t, models.MigrationModeFullLoad, api.requests[0].Mode)
	assert.Equal(t, models.PrepDropAndRecreate, api.requests[0].PrepPolicy)
	assert.Equal(t, models.StartTypeStart, api.requests[0].StartType)
	assert.Equal(t, models.DefaultTableMappings(), api.requests[0].TableMappings)

	assert.Equal(t, []string{EventTickStart, EventDescribeResult, EventStartIssued}, h.logs.events(t))
}

func TestTick_RunningSkips(t *testing.T) {
	h := newHarness(t, "RUNNING")

	res := h.sched.Tick(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, models.StateRunning, res.State)
	assert.Equal(t, 0, h.api.snapshot().starts)
	assert.Equal(t, []string{EventTickStart, EventDescribeResult, EventStartSkipped}, h.logs.events(t))
}

func TestTick_TransientDescribeErrorsThenSuccess(t *testing.T) {
	h := newHarness(t, "ready")
	h.api.describeErrs = []error{
		errors.Wrap(jobcontrol.ErrUnavailable, "connection refused"),
		errors.Wrap(jobcontrol.ErrUnavailable, "connection reset"),
	}

	res := h.sched.Tick(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, OutcomeStarted, res.Outcome)
	api := h.api.snapshot()
	assert.Equal(t, 3, api.describes)
	assert.Equal(t, 1, api.starts)
}

func TestTick_FailedRestartsWithReload(t *testing.T) {
	h := newHarness(t, "failed")
	h.api.lastError = "engine exited with code 1"

	res := h.sched.Tick(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, models.StateStarting, h.job.CurrentState())
	api := h.api.snapshot()
	require.Len(t, api.requests, 1)
	assert.Equal(t, models.StartTypeReload, api.requests[0].StartType)
}

func TestTick_UnknownStatusNeverStarts(t *testing.T) {
	h := newHarness(t, "stopped")
	require.Equal(t, OutcomeStarted, h.sched.Tick(context.Background()).Outcome)
	h.api.finish("modifying")

	res := h.sched.Tick(context.Background())
	assert.Equal(t, OutcomeDescribeFailed, res.Outcome)

	var unknown *replication.UnknownStateError
	require.ErrorAs(t, res.Err, &unknown)
	assert.Equal(t, "modifying", unknown.RawStatus)
	var describeErr *replication.DescribeError
	require.ErrorAs(t, res.Err, &describeErr)

	assert.Equal(t, models.StateStarting, h.job.CurrentState())
	assert.Equal(t, 1, h.api.snapshot().starts)
	assert.Contains(t, h.logs.events(t), EventTickError)
}

func TestTick_TaskNotFoundAlertsOperator(t *testing.T) {
	h := newHarness(t, "ready")
	h.api.describeErrs = []error{errors.Wrap(jobcontrol.ErrTaskNotFound, "no such task")}

	res := h.sched.Tick(context.Background())

	var notFound *jobcontrol.JobNotFoundError
	require.ErrorAs(t, res.Err, &notFound)
	assert.Equal(t, OutcomeDescribeFailed, res.Outcome)
	assert.Equal(t, 0, h.api.snapshot().starts)
	assert.Equal(t, []string{string(models.NotificationEventTaskNotFound)}, h.alerts.events)
}

func TestTick_AlreadyRunningRejectionIsNotAnError(t *testing.T) {
	h := newHarness(t, "ready")
	h.api.startErr = errors.Wrap(jobcontrol.ErrAlreadyRunning, "started by another tick")

	res := h.sched.Tick(context.Background())
	require.NoError(t, res.Err)

	assert.Equal(t, OutcomeAlreadyRunning, res.Outcome)
	assert.Equal(t, models.StateStarting, h.job.CurrentState())
	assert.NotContains(t, h.logs.events(t), EventTickError)
	assert.Contains(t, h.logs.events(t), EventStartSkipped)
	assert.Empty(t, h.alerts.events)
}

func TestTick_StartRecordedConcurrentlyIsLogged(t *testing.T) {
	h := newHarness(t, "ready")
	h.api.startErr = errors.Wrap(jobcontrol.ErrAlreadyRunning, "started by another tick")
	// Another tick caches STARTING while this one's start is in flight.
	h.api.onStart = func() { require.NoError(t, h.job.MarkStarting()) }

	res := h.sched.Tick(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeAlreadyRunning, res.Outcome)
	assert.Equal(t, models.StateStarting, h.job.CurrentState())

	debug := h.logs.lines(t, "debug")
	require.Len(t, debug, 1)
	assert.Equal(t, "cached state not updated after start", debug[0]["message"])
	assert.Contains(t, debug[0]["error"], "cannot start from state starting")
}

func TestTick_StartFailureIsNotRetriedWithinTick(t *testing.T) {
	h := newHarness(t, "ready")
	h.api.startErr = errors.New("invalid engine configuration")

	res := h.sched.Tick(context.Background())
	require.Error(t, res.Err)

	assert.Equal(t, OutcomeStartFailed, res.Outcome)
	assert.Equal(t, models.StateReady, h.job.CurrentState())
	assert.Equal(t, 1, h.api.snapshot().starts)
	assert.Equal(t, []string{EventTickStart, EventDescribeResult, EventTickError}, h.logs.events(t))
	assert.Equal(t, []string{string(models.NotificationEventTickFailed)}, h.alerts.events)
}

func TestTick_CancelledStartIsOutcomeUnknown(t *testing.T) {
	h := newHarness(t, "ready", WithTickTimeout(50*time.Millisecond))
	h.api.blockStart = true

	res := h.sched.Tick(context.Background())

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, jobcontrol.ErrOutcomeUnknown)
	assert.Equal(t, OutcomeStartUnknown, res.Outcome)
	assert.Equal(t, []string{string(models.NotificationEventStartOutcomeUnknown)}, h.alerts.events)
}

func TestTick_OverlappingTicksNeverDoubleStart(t *testing.T) {
	h := newHarness(t, "ready")
	h.api.startDelay = 5 * time.Millisecond

	for round, terminal := range []string{"stopped", "failed", "stopped"} {
		var wg sync.WaitGroup
		results := make(chan Result, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- h.sched.Tick(context.Background())
			}()
		}
		wg.Wait()
		close(results)

		started := 0
		for res := range results {
			assert.NoError(t, res.Err)
			if res.Outcome == OutcomeStarted {
				started++
			}
		}
		assert.Equal(t, 1, started, "round %d", round)
		h.api.finish(terminal)
	}

	api := h.api.snapshot()
	assert.Equal(t, 3, api.accepted)
	assert.Equal(t, 1, api.maxOutstanding)
	assert.NotContains(t, h.logs.events(t), EventTickError)
}
