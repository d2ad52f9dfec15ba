package api

import (
	"net/http"

	"github.com/mailchat/mailchat/internal/sync"
)

// SyncHandler triggers on-demand sync cycles and reports sync health.
type SyncHandler struct {
	syncer *sync.Syncer
}

func NewSyncHandler(syncer *sync.Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

type syncRequest struct {
	AccountID int64 `json:"account_id"`
}

// Trigger runs a sync cycle for the account now. A request arriving while a
// cycle is in flight joins that cycle instead of opening a second session.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.syncer.Sync(r.Context(), req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Status returns the last known sync health for the account.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.syncer.Health(accountID))
}
