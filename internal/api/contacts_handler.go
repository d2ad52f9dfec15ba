package api

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// ContactsHandler manages 1:1 chat peers.
type ContactsHandler struct {
	store store.ChatStore
}

func NewContactsHandler(chatStore store.ChatStore) *ContactsHandler {
	return &ContactsHandler{store: chatStore}
}

// List returns the account's contacts.
func (h *ContactsHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	contacts, err := h.store.ListContacts(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	if contacts == nil {
		contacts = []*models.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

type createContactRequest struct {
	AccountID   int64  `json:"account_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Create adds or updates a contact explicitly (contacts are otherwise
// created lazily on first message).
func (h *ContactsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, mailerr.New(mailerr.KindValidation, "invalid email address %q", req.Email))
		return
	}

	contact := &models.Contact{
		AccountID:   req.AccountID,
		Email:       req.Email,
		DisplayName: strings.TrimSpace(req.DisplayName),
	}
	if err := h.store.UpsertContact(r.Context(), contact); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

// Delete removes a contact together with its chat history.
func (h *ContactsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}
	email := strings.TrimSpace(r.PathValue("email"))
	if email == "" {
		writeError(w, mailerr.New(mailerr.KindValidation, "email is required"))
		return
	}

	if err := h.store.DeleteContact(r.Context(), accountID, email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
