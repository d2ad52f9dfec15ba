package api

import (
	"net/http"

	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/smtp"
)

// SendHandler dispatches outbound chat messages.
type SendHandler struct {
	dispatcher *smtp.Dispatcher
}

func NewSendHandler(dispatcher *smtp.Dispatcher) *SendHandler {
	return &SendHandler{dispatcher: dispatcher}
}

type sendRequest struct {
	AccountID         int64               `json:"account_id"`
	To                string              `json:"to,omitempty"`
	GroupID           int64               `json:"group_id,omitempty"`
	Body              string              `json:"body"`
	IsHTML            bool                `json:"is_html,omitempty"`
	Attachments       []models.Attachment `json:"attachments,omitempty"`
	ReplyToExternalID string              `json:"reply_to_external_id,omitempty"`
}

// SendToContact sends to a single address. A failed send records nothing
// and returns the transport error verbatim.
func (h *SendHandler) SendToContact(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.To == "" {
		writeError(w, mailerr.New(mailerr.KindValidation, "to is required"))
		return
	}
	if req.Body == "" && len(req.Attachments) == 0 {
		writeError(w, mailerr.New(mailerr.KindValidation, "body or attachments are required"))
		return
	}

	msg, err := h.dispatcher.SendToContact(r.Context(), req.AccountID, req.To, smtp.SendRequest{
		Body:              req.Body,
		IsHTML:            req.IsHTML,
		Attachments:       req.Attachments,
		ReplyToExternalID: req.ReplyToExternalID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// SendToGroup broadcasts one email to all group members and records one
// message in the group scope.
func (h *SendHandler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.GroupID == 0 {
		writeError(w, mailerr.New(mailerr.KindValidation, "group_id is required"))
		return
	}
	if req.Body == "" && len(req.Attachments) == 0 {
		writeError(w, mailerr.New(mailerr.KindValidation, "body or attachments are required"))
		return
	}

	msg, err := h.dispatcher.SendToGroup(r.Context(), req.AccountID, req.GroupID, smtp.SendRequest{
		Body:              req.Body,
		IsHTML:            req.IsHTML,
		Attachments:       req.Attachments,
		ReplyToExternalID: req.ReplyToExternalID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
