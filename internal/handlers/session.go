package handlers

import (
	"net/http"

	"crewdash/internal/ident"
)

// HandleCreateSession mints a fresh session id. The session itself is
// created lazily by the first join that references the id.
func (c *Context) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"gameId": ident.NewSessionID()})
}

// HandleJoin registers a device on a session, creating the session
// from the supplied params when the id is unknown. The event stream is
// attached separately via the SSE or websocket endpoint.
func (c *Context) HandleJoin(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	deviceID := ev.DeviceID
	if deviceID == "" {
		deviceID = ident.NewDeviceID()
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	if _, err := c.Operator.GetOrCreateSession(ev, deviceID, refresh); err != nil {
		writeError(w, err)
		return
	}
	if err := c.Operator.AddDevice(ev.GameID, deviceID, ev.DeviceAlias, nil); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"gameId":   ev.GameID,
		"deviceId": deviceID,
	})
}

// HandleLeave removes a device from a session's roster.
func (c *Context) HandleLeave(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c.Operator.RemoveDevice(ev.GameID, ev.DeviceID, true)
	w.WriteHeader(http.StatusNoContent)
}

// HandleStart starts (or restarts) a session's command loop.
func (c *Context) HandleStart(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.Operator.StartSession(ev.GameID, ev.DeviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleConfig applies a config diff and rebroadcasts it.
func (c *Context) HandleConfig(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.Operator.ApplyConfig(ev); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleDoWidget resolves a player action against the active command.
func (c *Context) HandleDoWidget(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := c.Operator.DoWidget(ev); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
