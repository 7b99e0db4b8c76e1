package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"crewdash/internal/config"
	"crewdash/internal/event"
	"crewdash/internal/operator"
)

// Context holds the dependencies shared by all handlers.
type Context struct {
	Operator *operator.Operator
	Config   *config.Config
	Log      *zap.SugaredLogger
}

// Routes mounts every handler on the router.
func (c *Context) Routes(r chi.Router) {
	r.Get("/healthz", c.HandleHealth)
	r.Post("/session", c.HandleCreateSession)
	r.Get("/session/{sessionID}/qr", c.HandleQR)
	r.Post("/join", c.HandleJoin)
	r.Post("/leave", c.HandleLeave)
	r.Post("/start", c.HandleStart)
	r.Post("/config", c.HandleConfig)
	r.Post("/do-widget", c.HandleDoWidget)
	r.Get("/events/{sessionID}/{deviceID}", c.HandleSSE)
	r.Get("/ws/{sessionID}/{deviceID}", c.HandleWS)
}

// HandleHealth reports liveness.
func (c *Context) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeEvent(r *http.Request) (event.Event, error) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps operator errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, operator.ErrMissingIdentifier):
		status = http.StatusBadRequest
	case errors.Is(err, operator.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, operator.ErrNotJoined):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}
