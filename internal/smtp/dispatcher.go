// Package smtp is the outbound dispatcher: it builds MIME messages, drives
// the security-mode negotiation against the account's SMTP endpoint, and
// records sent messages in the chat store. Nothing is recorded for a failed
// send.
package smtp

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/mailchat/mailchat/internal/crypto"
	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// chatSubject is the fixed subject line for outbound chat mail. Threading
// runs over Message-ID headers, not subjects.
const chatSubject = "Chat-Nachricht"

// Dispatcher sends chat messages over SMTP.
type Dispatcher struct {
	store     store.ChatStore
	encryptor *crypto.Encryptor
	timeout   time.Duration
}

// SendRequest carries the caller-supplied parts of an outbound message.
type SendRequest struct {
	Body              string
	IsHTML            bool
	Attachments       []models.Attachment
	ReplyToExternalID string
}

func NewDispatcher(chatStore store.ChatStore, encryptor *crypto.Encryptor, timeout time.Duration) *Dispatcher {
	return &Dispatcher{store: chatStore, encryptor: encryptor, timeout: timeout}
}

// SendToContact sends a message to a single address and appends it to the
// 1:1 chat scope. The contact is created lazily if unseen.
func (d *Dispatcher) SendToContact(ctx context.Context, accountID int64, toEmail string, req SendRequest) (*models.Message, error) {
	account, err := d.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	toEmail = strings.ToLower(strings.TrimSpace(toEmail))
	if _, err := mail.ParseAddress(toEmail); err != nil {
		return nil, mailerr.New(mailerr.KindValidation, "invalid recipient address %q", toEmail)
	}

	externalID, err := d.transmit(account, []string{toEmail}, req)
	if err != nil {
		return nil, err
	}

	if err := d.store.UpsertContact(ctx, &models.Contact{AccountID: accountID, Email: toEmail}); err != nil {
		return nil, err
	}

	return d.record(ctx, models.ContactScope(accountID, toEmail), account, externalID, req)
}

// SendToGroup sends one email addressed to all group members (broadcast)
// and records exactly one message in the group's chat scope.
func (d *Dispatcher) SendToGroup(ctx context.Context, accountID, groupID int64, req SendRequest) (*models.Message, error) {
	account, err := d.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	group, err := d.store.GetGroup(ctx, accountID, groupID)
	if err != nil {
		return nil, err
	}
	if len(group.Members) == 0 {
		return nil, mailerr.New(mailerr.KindValidation, "group %q has no members", group.Name)
	}

	externalID, err := d.transmit(account, group.Members, req)
	if err != nil {
		return nil, err
	}

	return d.record(ctx, models.GroupScope(accountID, groupID), account, externalID, req)
}

// transmit builds the MIME message and pushes it through the negotiated
// SMTP connection. Returns the generated Message-ID.
func (d *Dispatcher) transmit(account *models.Account, recipients []string, req SendRequest) (string, error) {
	password, err := d.encryptor.Decrypt(account.EncryptedPassword)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt account password: %w", err)
	}

	externalID := newMessageID(account.Email)
	raw, err := buildMessage(account.Email, recipients, externalID, req)
	if err != nil {
		return "", err
	}

	client, err := d.connect(account, password)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	if err := client.Mail(account.Email, nil); err != nil {
		return "", mailerr.Wrap(mailerr.KindSend, err, "sender rejected")
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient, nil); err != nil {
			return "", mailerr.Wrap(mailerr.KindSend, err, "recipient %s rejected", recipient)
		}
	}

	w, err := client.Data()
	if err != nil {
		return "", mailerr.Wrap(mailerr.KindSend, err, "DATA rejected")
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", mailerr.Wrap(mailerr.KindSend, err, "failed to write message")
	}
	if err := w.Close(); err != nil {
		return "", mailerr.Wrap(mailerr.KindSend, err, "message rejected")
	}

	_ = client.Quit()
	return externalID, nil
}

// record appends the sent message to its chat scope.
func (d *Dispatcher) record(ctx context.Context, scope models.ChatScope, account *models.Account, externalID string, req SendRequest) (*models.Message, error) {
	body := req.Body
	bodyHTML := ""
	if req.IsHTML {
		bodyHTML = req.Body
		body = htmlToText(req.Body)
	}

	msg := &models.Message{
		Scope:          scope,
		ExternalID:     externalID,
		Direction:      models.DirectionOutbound,
		SenderEmail:    account.Email,
		Subject:        chatSubject,
		Body:           body,
		BodyHTML:       bodyHTML,
		Attachments:    req.Attachments,
		InReplyTo:      req.ReplyToExternalID,
		SentAt:         time.Now().UTC(),
		IsRead:         true,
		DeliveryStatus: models.DeliverySent,
	}

	if _, _, err := d.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// buildMessage assembles the outbound MIME message. Read-receipt request
// headers are always attached so inbound MDNs can upgrade the delivery
// status later.
func buildMessage(from string, recipients []string, externalID string, req SendRequest) ([]byte, error) {
	builder := enmime.Builder().
		From("", from).
		Subject(chatSubject).
		Header("Message-ID", externalID).
		Header("Disposition-Notification-To", from).
		Header("Return-Receipt-To", from)

	for _, recipient := range recipients {
		builder = builder.To("", recipient)
	}

	if req.ReplyToExternalID != "" {
		builder = builder.
			Header("In-Reply-To", req.ReplyToExternalID).
			Header("References", req.ReplyToExternalID)
	}

	if req.IsHTML {
		fallback := htmlToText(req.Body)
		if fallback == "" {
			fallback = "HTML Nachricht"
		}
		builder = builder.Text([]byte(fallback)).HTML([]byte(req.Body))
	} else {
		builder = builder.Text([]byte(req.Body))
	}

	for _, att := range req.Attachments {
		builder = builder.AddAttachment(att.Content, att.ContentType, att.Name)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, mailerr.Wrap(mailerr.KindSend, err, "failed to build message")
	}

	var buf strings.Builder
	if err := part.Encode(&buf); err != nil {
		return nil, mailerr.Wrap(mailerr.KindSend, err, "failed to encode message")
	}
	return []byte(buf.String()), nil
}

// newMessageID generates an outbound Message-ID under the sender's domain.
func newMessageID(from string) string {
	domain := "mailchat.local"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

var (
	htmlTag    = regexp.MustCompile(`<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
)

func htmlToText(html string) string {
	text := htmlTag.ReplaceAllString(html, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
