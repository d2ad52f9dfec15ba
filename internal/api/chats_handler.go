package api

import (
	"net/http"
	"strings"

	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// ChatsHandler serves the sidebar and per-chat message timelines.
type ChatsHandler struct {
	store store.ChatStore
}

func NewChatsHandler(chatStore store.ChatStore) *ChatsHandler {
	return &ChatsHandler{store: chatStore}
}

// scopeFromQuery builds the chat scope from account_id plus exactly one of
// contact_email / group_id.
func scopeFromQuery(r *http.Request) (models.ChatScope, error) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		return models.ChatScope{}, err
	}

	contactEmail := strings.TrimSpace(r.URL.Query().Get("contact_email"))
	groupID, err := queryInt64Default(r, "group_id", 0)
	if err != nil {
		return models.ChatScope{}, err
	}

	switch {
	case contactEmail != "" && groupID != 0:
		return models.ChatScope{}, mailerr.New(mailerr.KindValidation, "contact_email and group_id are mutually exclusive")
	case groupID != 0:
		return models.GroupScope(accountID, groupID), nil
	case contactEmail != "":
		return models.ContactScope(accountID, contactEmail), nil
	}
	return models.ChatScope{}, mailerr.New(mailerr.KindValidation, "contact_email or group_id is required")
}

// ListChats returns the account's sidebar entries, most recent first.
func (h *ChatsHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	chats, err := h.store.ListChats(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	if chats == nil {
		chats = []*models.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// ListMessages returns a scope's messages with seq greater than since. With
// mark_read=1 the scope's inbound messages are marked read in the same call.
func (h *ChatsHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	since, err := queryInt64Default(r, "since", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := h.store.ListMessagesSince(r.Context(), scope, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	if r.URL.Query().Get("mark_read") == "1" {
		if err := h.store.MarkScopeRead(r.Context(), scope); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, messages)
}

type markReadRequest struct {
	AccountID int64 `json:"account_id"`
	Seq       int64 `json:"id"`
}

// MarkRead marks one message read.
func (h *ChatsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.MarkMessageRead(r.Context(), req.AccountID, req.Seq); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage hard-deletes a message. Its external id stays tombstoned so
// the next sync cannot resurrect it.
func (h *ChatsHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	seq, err := pathInt64(r, "seq")
	if err != nil {
		writeError(w, err)
		return
	}
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.DeleteMessage(r.Context(), accountID, seq); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
