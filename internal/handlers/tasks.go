package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/authz"
	"github.com/stanstork/stratum-replicator/internal/jobcontrol"
	"github.com/stanstork/stratum-replicator/internal/scheduler"
)

// Ticker runs one tick for a task. *scheduler.Scheduler satisfies it.
type Ticker interface {
	Tick(ctx context.Context) scheduler.Result
}

// Stopper asks job control to stop a task. *jobcontrol.Controller satisfies it.
type Stopper interface {
	Stop(ctx context.Context, taskID string) (jobcontrol.Ack, error)
}

type TaskHandler struct {
	tickers map[string]Ticker
	stopper Stopper
	logger  zerolog.Logger
}

type tickResponse struct {
	TickID  string `json:"tick_id"`
	TaskID  string `json:"task_id"`
	Outcome string `json:"outcome"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

func NewTaskHandler(tickers map[string]Ticker, stopper Stopper, logger zerolog.Logger) *TaskHandler {
	return &TaskHandler{
		tickers: tickers,
		stopper: stopper,
		logger:  logger.With().Str("handler", "tasks").Logger(),
	}
}

// Tick runs one out-of-schedule tick and reports its outcome. A failed tick
// still answers 200; the outcome carries the failure.
func (h *TaskHandler) Tick(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	ticker, ok := h.tickers[taskID]
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	sub, _ := authz.SubjectFromRequest(r)
	h.logger.Info().Str("task_id", taskID).Str("subject", sub).Msg("manual tick requested")

	res := ticker.Tick(r.Context())
	resp := tickResponse{
		TickID:  res.TickID,
		TaskID:  res.TaskID,
		Outcome: string(res.Outcome),
		State:   res.State.String(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Stop(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if _, ok := h.tickers[taskID]; !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	sub, _ := authz.SubjectFromRequest(r)
	h.logger.Info().Str("task_id", taskID).Str("subject", sub).Msg("stop requested")

	ack, err := h.stopper.Stop(r.Context(), taskID)
	if err != nil {
		var notFound *jobcontrol.JobNotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("stop failed")
		http.Error(w, "Failed to stop task: "+err.Error(), http.StatusBadGateway)
		return
	}

	status := http.StatusAccepted
	if !ack.Accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, ack)
}
