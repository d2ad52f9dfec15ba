package api

import (
	"net/http"

	"github.com/mailchat/mailchat/internal/store"
)

// SettingsHandler serves the engine settings.
type SettingsHandler struct {
	store store.ChatStore
}

func NewSettingsHandler(chatStore store.ChatStore) *SettingsHandler {
	return &SettingsHandler{store: chatStore}
}

// Get returns the current settings snapshot.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.EncodeSettings(settings))
}

// Put applies a partial settings update. An invalid value rejects the whole
// update; running poll cycles pick the change up on their next tick.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := decodeJSON(r, &updates); err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.SaveSettings(r.Context(), updates); err != nil {
		writeError(w, err)
		return
	}

	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.EncodeSettings(settings))
}
