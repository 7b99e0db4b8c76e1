package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
)

// HandleQR serves a QR code PNG of the session's join URL, so other
// devices can join by scanning a hosting device's screen.
func (c *Context) HandleQR(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := c.Operator.Game(sessionID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	joinURL := c.Config.BaseURL + "/join?gameId=" + sessionID
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		c.Log.Errorw("qr encode failed", "session", sessionID, "err", err)
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
