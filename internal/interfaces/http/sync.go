package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"ledgerlink/internal/domain/ledgersync"
	"ledgerlink/internal/shared/middleware"
)

// SyncService is the trigger interface consumed by this thin API layer.
type SyncService interface {
	SyncUser(ctx context.Context, userID int64, connectionID string) (*ledgersync.Result, error)
}

type SyncHandler struct {
	syncService SyncService
	log         *logrus.Logger
}

func NewSyncHandler(syncService SyncService, log *logrus.Logger) *SyncHandler {
	return &SyncHandler{syncService: syncService, log: log}
}

// HandleSync triggers a sync for all of the caller's active connections, or
// for a single connection when the route carries a connectionId. The call
// succeeds with aggregate counts even when individual connections fail;
// those failures are visible in the per-connection reports and the persisted
// connection status.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	connectionID := mux.Vars(r)["connectionId"]

	result, err := h.syncService.SyncUser(r.Context(), userID, connectionID)
	if err != nil {
		if errors.Is(err, ledgersync.ErrNoActiveConnections) {
			http.Error(w, "No active connections found", http.StatusNotFound)
			return
		}
		h.log.WithField("user_id", userID).WithError(err).Error("Sync request failed")
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
