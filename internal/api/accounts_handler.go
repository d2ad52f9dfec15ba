package api

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/mailchat/mailchat/internal/crypto"
	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// AccountsHandler manages mail accounts.
type AccountsHandler struct {
	store     store.ChatStore
	encryptor *crypto.Encryptor
}

func NewAccountsHandler(chatStore store.ChatStore, encryptor *crypto.Encryptor) *AccountsHandler {
	return &AccountsHandler{store: chatStore, encryptor: encryptor}
}

type createAccountRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	UseSSL       *bool  `json:"use_ssl"`
	SMTPSecurity string `json:"smtp_security"`
}

// List returns all configured accounts. Passwords never leave the store.
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// Create registers a new account. The password is encrypted at rest.
func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, mailerr.New(mailerr.KindValidation, "invalid email address %q", req.Email))
		return
	}
	if req.Password == "" {
		writeError(w, mailerr.New(mailerr.KindValidation, "password is required"))
		return
	}
	if req.IMAPHost == "" || req.IMAPPort == 0 || req.SMTPHost == "" || req.SMTPPort == 0 {
		writeError(w, mailerr.New(mailerr.KindValidation, "imap and smtp endpoints are required"))
		return
	}

	security := models.SMTPSecurity(req.SMTPSecurity)
	if security == "" {
		security = models.SMTPSecurityAuto
	}
	if !models.ValidSMTPSecurity(security) {
		writeError(w, mailerr.New(mailerr.KindValidation, "unknown smtp_security %q", req.SMTPSecurity))
		return
	}

	encrypted, err := h.encryptor.Encrypt(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	useSSL := true
	if req.UseSSL != nil {
		useSSL = *req.UseSSL
	}

	account := &models.Account{
		Name:              req.Name,
		Email:             req.Email,
		IMAPHost:          req.IMAPHost,
		IMAPPort:          req.IMAPPort,
		IMAPUsername:      strings.TrimSpace(req.IMAPUsername),
		SMTPHost:          req.SMTPHost,
		SMTPPort:          req.SMTPPort,
		EncryptedPassword: encrypted,
		UseSSL:            useSSL,
		SMTPSecurity:      security,
	}

	if _, err := h.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// Delete removes an account and everything belonging to it. The account's
// scheduled sync task stops before its next tick.
func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.DeleteAccount(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
