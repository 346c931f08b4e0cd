package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"ai":        s.gaClient != nil,
		"calendar":  s.calendar.Configured(),
		"drive":     s.drive.Configured(),
	}

	// Listing clients doubles as a storage round trip
	if clients, err := s.st.ListClients(ctx, ""); err != nil {
		slog.Warn("Health check: failed to query store", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to query store"
	} else {
		healthData["clients"] = len(clients)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}
