package http

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"ledgerlink/internal/domain/connection"
	"ledgerlink/internal/shared/middleware"
)

type ConnectionHandler struct {
	connRepo connection.Repository
	log      *logrus.Logger
}

func NewConnectionHandler(connRepo connection.Repository, log *logrus.Logger) *ConnectionHandler {
	return &ConnectionHandler{connRepo: connRepo, log: log}
}

// HandleListConnections returns the caller's active connections with their
// sync status and last-synced timestamps. Credentials and cursors never
// leave the server (see the model's json tags).
func (h *ConnectionHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conns, err := h.connRepo.ListActiveByUserID(r.Context(), userID)
	if err != nil {
		h.log.WithField("user_id", userID).WithError(err).Error("Failed to list connections")
		http.Error(w, "Failed to list connections", http.StatusInternalServerError)
		return
	}
	if conns == nil {
		conns = []*connection.Connection{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conns)
}
