package api

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// GroupsHandler manages named recipient sets.
type GroupsHandler struct {
	store store.ChatStore
}

func NewGroupsHandler(chatStore store.ChatStore) *GroupsHandler {
	return &GroupsHandler{store: chatStore}
}

// List returns the account's groups with their member sets.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	groups, err := h.store.ListGroups(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type createGroupRequest struct {
	AccountID int64    `json:"account_id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
}

// Create registers a group.
func (h *GroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, mailerr.New(mailerr.KindValidation, "name is required"))
		return
	}
	if len(req.Members) == 0 {
		writeError(w, mailerr.New(mailerr.KindValidation, "members are required"))
		return
	}
	for _, member := range req.Members {
		if _, err := mail.ParseAddress(strings.TrimSpace(member)); err != nil {
			writeError(w, mailerr.New(mailerr.KindValidation, "invalid member address %q", member))
			return
		}
	}

	group := &models.Group{
		AccountID: req.AccountID,
		Name:      req.Name,
		Members:   req.Members,
	}
	if _, err := h.store.CreateGroup(r.Context(), group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// Delete removes a group together with its chat history.
func (h *GroupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.DeleteGroup(r.Context(), accountID, groupID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
