package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stanstork/stratum-replicator/internal/handlers"
)

// NewRouter sets up the admin API routes. requireToken guards everything
// under /api except the token endpoint.
func NewRouter(auth *handlers.AuthHandler, tasks *handlers.TaskHandler, requireToken mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public auth endpoint
	router.HandleFunc("/api/token", auth.Token).Methods(http.MethodPost)

	// Task routes sit on the root router so a wrong method answers 405.
	router.Handle("/api/tasks/{taskID}/tick", requireToken(http.HandlerFunc(tasks.Tick))).Methods(http.MethodPost)
	router.Handle("/api/tasks/{taskID}/stop", requireToken(http.HandlerFunc(tasks.Stop))).Methods(http.MethodPost)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return router
}
