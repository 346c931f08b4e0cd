package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/oauthflow"
	"github.com/BTreeMap/CareDesk/internal/toast"
)

const (
	// readyWait bounds how long starting a handshake waits for the consent URL.
	readyWait = 15 * time.Second
	// eventWait is how long an event post waits for the handshake to finish,
	// so the page learns the outcome in the same round trip.
	eventWait = time.Second
	// maxEventBytes bounds a posted handshake event.
	maxEventBytes = 16 << 10
)

// handshakeResponse is what the page script receives.
type handshakeResponse struct {
	oauthflow.Status
	Popup string `json:"popup"`
}

var providerLabels = map[string]string{
	string(models.IntegrationCalendar): "Calendar",
	string(models.IntegrationDrive):    "Drive",
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("web.writeJSON: failed to marshal response", "error", err)
		http.Error(w, `{"status":"error","message":"Internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("web.writeJSON: write failed", "error", err)
	}
}

func (s *Server) urlFunc(provider string) oauthflow.URLFunc {
	if provider == string(models.IntegrationDrive) {
		return func(ctx context.Context) (string, error) {
			au, err := s.api.DriveAuthURL(ctx)
			return au.URL, err
		}
	}
	return func(ctx context.Context) (string, error) {
		au, err := s.api.CalendarAuthURL(ctx)
		return au.URL, err
	}
}

// handshakeDone turns the terminal result of a handshake into a toast and,
// once connected, drops the cached integration queries.
func (s *Server) handshakeDone(provider string) func(oauthflow.Result, error) {
	label := providerLabels[provider]
	return func(res oauthflow.Result, err error) {
		switch res.Effect {
		case oauthflow.EffectMarkConnected:
			if provider == string(models.IntegrationDrive) {
				s.api.InvalidateDrive()
			} else {
				s.api.InvalidateCalendar()
			}
			s.toasts.Push(toast.Success(label+" connected", ""))
		case oauthflow.EffectNotifyError:
			s.toasts.Push(toast.Failure(label+" authorization failed", err))
		case oauthflow.EffectNotifyBlocked:
			s.toasts.Push(toast.Warning("Popup blocked", "Allow popups for this site and try again."))
		case oauthflow.EffectNotifyCancelled:
			s.toasts.Push(toast.Info("Authorization cancelled", "The "+label+" window was closed."))
		case oauthflow.EffectNotifyURLFailed:
			s.toasts.Push(toast.Failure("Could not start "+label+" authorization", err))
		default:
			slog.Warn("Server.handshakeDone: handshake ended without effect", "provider", provider, "state", res.State, "error", err)
		}
	}
}

// startHandshake handles POST /calendar-sync/handshakes
func (s *Server) startHandshake(w http.ResponseWriter, r *http.Request) {
	provider := r.FormValue("provider")
	if provider == "" {
		provider = string(models.IntegrationCalendar)
	}
	if _, ok := providerLabels[provider]; !ok {
		writeJSON(w, http.StatusBadRequest, models.Error("Unknown provider"))
		return
	}

	runner := oauthflow.NewRunner(s.origin, s.urlFunc(provider), s.opener,
		oauthflow.WithPollInterval(s.poll),
		oauthflow.WithOnTransition(func(from, to oauthflow.State, eff oauthflow.Effect) {
			slog.Debug("Server.startHandshake: transition", "provider", provider, "from", from, "to", to, "effect", eff)
		}))
	h := s.handshakes.Start(provider, runner, s.handshakeDone(provider))

	ctx, cancel := context.WithTimeout(r.Context(), readyWait)
	defer cancel()
	if err := h.WaitReady(ctx); err != nil {
		slog.Warn("Server.startHandshake: consent URL not ready", "id", h.ID, "error", err)
	}
	if h.Status().State.Terminal() {
		if err := h.Wait(ctx); err != nil {
			slog.Warn("Server.startHandshake: handshake did not finish", "id", h.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, models.Success(handshakeResponse{Status: h.Status(), Popup: oauthflow.PopupName}))
}

// handshakeStatus handles GET /calendar-sync/handshakes/{id}
func (s *Server) handshakeStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := s.handshakes.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, models.Error("Handshake not found"))
		return
	}
	writeJSON(w, http.StatusOK, models.Success(handshakeResponse{Status: h.Status(), Popup: oauthflow.PopupName}))
}

// handshakeEvent handles POST /calendar-sync/handshakes/{id}/events. The
// page reports popup blocks, closes and messages received from the popup.
func (s *Server) handshakeEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var e oauthflow.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&e); err != nil {
		slog.Warn("Server.handshakeEvent: invalid event body", "id", id, "error", err)
		writeJSON(w, http.StatusBadRequest, models.Error("Invalid event"))
		return
	}
	switch e.Kind {
	case oauthflow.EventMessage, oauthflow.EventPopupBlocked, oauthflow.EventPopupClosed:
	default:
		writeJSON(w, http.StatusBadRequest, models.Error("Unsupported event kind"))
		return
	}

	h, err := s.handshakes.Deliver(id, e)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.Error("Handshake not found"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), eventWait)
	defer cancel()
	_ = h.Wait(ctx)
	writeJSON(w, http.StatusOK, models.Success(handshakeResponse{Status: h.Status(), Popup: oauthflow.PopupName}))
}
