package api

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CareDesk/internal/integrations"
	"github.com/BTreeMap/CareDesk/internal/models"
)

// OAuth result message types posted by the callback page.
const (
	OAuthMessageSuccess = "oauth-success"
	OAuthMessageError   = "oauth-error"
)

// oauthProvider is the part of a calendar or drive provider the auth
// endpoints need.
type oauthProvider interface {
	Configured() bool
	AuthURL() (models.AuthURL, error)
	Complete(ctx context.Context, state, code string) error
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>CareDesk</title></head>
<body style="font-family: sans-serif; background: #F2F3F1; color: #344C3D;">
<p>{{.Text}}</p>
<script>
(function () {
  var payload = {type: {{.Type}}, provider: {{.Provider}}};
  if (window.opener) {
    window.opener.postMessage(payload, {{.Origin}});
  }
  window.close();
})();
</script>
</body>
</html>
`))

type callbackView struct {
	Type     string
	Provider string
	Origin   string
	Text     string
}

// writeIntegrationError maps provider errors onto HTTP statuses.
func writeIntegrationError(w http.ResponseWriter, op, label string, err error) {
	switch {
	case errors.Is(err, integrations.ErrNotConfigured):
		slog.Warn(op+": integration not configured", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(label+" integration not configured"))
	case errors.Is(err, integrations.ErrNotConnected):
		slog.Warn(op+": integration not connected", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Error(label+" not connected"))
	case errors.Is(err, integrations.ErrInvalidState), errors.Is(err, integrations.ErrMissingCode):
		slog.Warn(op+": invalid OAuth callback", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error(op+": provider request failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error(label+" request failed"))
	}
}

func (s *Server) authURL(w http.ResponseWriter, op, label string, p oauthProvider) {
	au, err := p.AuthURL()
	if err != nil {
		writeIntegrationError(w, op, label, err)
		return
	}
	slog.Debug(op+": auth URL issued", "provider", label)
	writeJSONResponse(w, http.StatusOK, models.Success(au))
}

// oauthCallback completes the code exchange and renders a page that reports
// the outcome to the console window that opened the popup.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request, op, provider string, p oauthProvider) {
	q := r.URL.Query()
	view := callbackView{Type: OAuthMessageSuccess, Provider: provider, Origin: s.consoleOrigin, Text: "Connected. You can close this window."}
	status := http.StatusOK

	if e := q.Get("error"); e != "" {
		slog.Warn(op+": provider returned error", "provider", provider, "error", e)
		view.Type, view.Text = OAuthMessageError, "Authorization was not granted."
		status = http.StatusBadRequest
	} else if err := p.Complete(r.Context(), q.Get("state"), q.Get("code")); err != nil {
		slog.Warn(op+": authorization failed", "provider", provider, "error", err)
		view.Type, view.Text = OAuthMessageError, "Authorization failed. Close this window and try again."
		status = http.StatusBadRequest
		if !errors.Is(err, integrations.ErrInvalidState) && !errors.Is(err, integrations.ErrMissingCode) {
			status = http.StatusBadGateway
		}
	} else {
		slog.Info(op+": authorization complete", "provider", provider)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, view); err != nil {
		slog.Error(op+": failed to render callback page", "error", err)
	}
}

// calendarStatusHandler handles GET /api/calendar/status
func (s *Server) calendarStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.calendar.Status(r.Context())
	if err != nil {
		writeIntegrationError(w, "Server.calendarStatusHandler", "Calendar", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

// calendarAuthURLHandler handles GET /api/calendar/auth-url
func (s *Server) calendarAuthURLHandler(w http.ResponseWriter, r *http.Request) {
	s.authURL(w, "Server.calendarAuthURLHandler", "Calendar", s.calendar)
}

// calendarCallbackHandler handles GET /api/calendar/callback
func (s *Server) calendarCallbackHandler(w http.ResponseWriter, r *http.Request) {
	s.oauthCallback(w, r, "Server.calendarCallbackHandler", string(models.IntegrationCalendar), s.calendar)
}

// listCalendarsHandler handles GET /api/calendar/calendars
func (s *Server) listCalendarsHandler(w http.ResponseWriter, r *http.Request) {
	cals, err := s.calendar.ListCalendars(r.Context())
	if err != nil {
		writeIntegrationError(w, "Server.listCalendarsHandler", "Calendar", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(cals)))
}

// calendarSyncHandler handles POST /api/calendar/sync
func (s *Server) calendarSyncHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.calendar.Sync(r.Context(), s.now())
	if err != nil {
		writeIntegrationError(w, "Server.calendarSyncHandler", "Calendar", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Calendar synced", res))
}

// driveStatusHandler handles GET /api/drive/status
func (s *Server) driveStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.drive.Status(r.Context())
	if err != nil {
		writeIntegrationError(w, "Server.driveStatusHandler", "Drive", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

// driveAuthURLHandler handles GET /api/drive/auth-url
func (s *Server) driveAuthURLHandler(w http.ResponseWriter, r *http.Request) {
	s.authURL(w, "Server.driveAuthURLHandler", "Drive", s.drive)
}

// driveCallbackHandler handles GET /api/drive/callback
func (s *Server) driveCallbackHandler(w http.ResponseWriter, r *http.Request) {
	s.oauthCallback(w, r, "Server.driveCallbackHandler", string(models.IntegrationDrive), s.drive)
}

// driveSyncHandler handles POST /api/drive/sync
func (s *Server) driveSyncHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.drive.Sync(r.Context(), s.now())
	if err != nil {
		writeIntegrationError(w, "Server.driveSyncHandler", "Drive", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Drive synced", res))
}
