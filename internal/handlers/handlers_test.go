package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stanstork/stratum-replicator/internal/config"
	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/scheduler"
)

type fakeTicker struct {
	result scheduler.Result
	calls  int
}

func (f *fakeTicker) Tick(context.Context) scheduler.Result {
	f.calls++
	return f.result
}

type fakeStopper struct {
	ack   jobcontrol.Ack
	err   error
	calls []string
}

func (f *fakeStopper) Stop(_ context.Context, taskID string) (jobcontrol.Ack, error) {
	f.calls = append(f.calls, taskID)
	return f.ack, f.err
}

func withTask(r *http.Request, taskID string) *http.Request {
	return mux.SetURLVars(r, map[string]string{"taskID": taskID})
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func newAuthHandler(t *testing.T) *AuthHandler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{
		JWTSecret: "test-secret",
		Admin:     config.AdminConfig{Username: "ops", PasswordHash: string(hash)},
	}
	return NewAuthHandler(cfg, zerolog.Nop())
}

func TestAuthHandler_Token(t *testing.T) {
	h := newAuthHandler(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "valid", body: `{"username":"ops","password":"s3cret"}`, status: http.StatusOK},
		{name: "wrong password", body: `{"username":"ops","password":"nope"}`, status: http.StatusUnauthorized},
		{name: "wrong user", body: `{"username":"root","password":"s3cret"}`, status: http.StatusUnauthorized},
		{name: "bad body", body: `{`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Token(rec, httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp["token"])
			}
		})
	}
}

func TestAuthHandler_NoAdminConfigured(t *testing.T) {
	h := NewAuthHandler(&config.Config{JWTSecret: "x"}, zerolog.Nop())
	rec := httptest.NewRecorder()
	h.Token(rec, httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(`{"username":"","password":""}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTaskHandler_Tick(t *testing.T) {
	ticker := &fakeTicker{result: scheduler.Result{
		TickID:  "tick-1",
		TaskID:  "task-a",
		Outcome: scheduler.OutcomeStartFailed,
		State:   models.StateReady,
		Err:     errors.New("engine unavailable"),
	}}
	h := NewTaskHandler(map[string]Ticker{"task-a": ticker}, &fakeStopper{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Tick(rec, withTask(httptest.NewRequest(http.MethodPost, "/api/tasks/task-a/tick", nil), "task-a"))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp tickResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "start_failed", resp.Outcome)
	assert.Equal(t, "ready", resp.State)
	assert.Equal(t, "engine unavailable", resp.Error)
	assert.Equal(t, 1, ticker.calls)
}

func TestTaskHandler_UnknownTask(t *testing.T) {
	stopper := &fakeStopper{}
	h := NewTaskHandler(map[string]Ticker{}, stopper, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Tick(rec, withTask(httptest.NewRequest(http.MethodPost, "/", nil), "ghost"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Stop(rec, withTask(httptest.NewRequest(http.MethodPost, "/", nil), "ghost"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, stopper.calls)
}

func TestTaskHandler_Stop(t *testing.T) {
	tests := []struct {
		name   string
		ack    jobcontrol.Ack
		err    error
		status int
	}{
		{name: "accepted", ack: jobcontrol.Ack{Accepted: true}, status: http.StatusAccepted},
		{name: "not running", ack: jobcontrol.Ack{}, status: http.StatusOK},
		{name: "gone at job control", err: &jobcontrol.JobNotFoundError{TaskID: "task-a", Err: jobcontrol.ErrTaskNotFound}, status: http.StatusNotFound},
		{name: "unavailable", err: errors.Wrap(jobcontrol.ErrUnavailable, "daemon"), status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stopper := &fakeStopper{ack: tt.ack, err: tt.err}
			h := NewTaskHandler(map[string]Ticker{"task-a": &fakeTicker{}}, stopper, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.Stop(rec, withTask(httptest.NewRequest(http.MethodPost, "/", nil), "task-a"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, []string{"task-a"}, stopper.calls)
		})
	}
}
