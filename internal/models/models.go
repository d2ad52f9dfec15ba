package models

import (
	"fmt"
	"strings"
	"time"
)

// SMTPSecurity selects how the dispatcher secures the SMTP connection.
type SMTPSecurity string

const (
	// SMTPSecurityAuto tries implicit TLS, then STARTTLS, then plaintext.
	SMTPSecurityAuto SMTPSecurity = "auto"
	// SMTPSecuritySSL forces implicit TLS on the configured port.
	SMTPSecuritySSL SMTPSecurity = "ssl"
	// SMTPSecurityStartTLS forces a plaintext connection upgraded via STARTTLS.
	SMTPSecurityStartTLS SMTPSecurity = "starttls"
	// SMTPSecurityPlain forces an unencrypted connection.
	SMTPSecurityPlain SMTPSecurity = "plain"
)

// ValidSMTPSecurity reports whether s is a recognized security mode.
func ValidSMTPSecurity(s SMTPSecurity) bool {
	switch s {
	case SMTPSecurityAuto, SMTPSecuritySSL, SMTPSecurityStartTLS, SMTPSecurityPlain:
		return true
	}
	return false
}

// Account is one mail account: IMAP endpoint for polling, SMTP endpoint for
// dispatch, and the sync cursor (last INBOX UID persisted by the poller).
type Account struct {
	ID                int64        `json:"id"`
	Name              string       `json:"name"`
	Email             string       `json:"email"`
	IMAPHost          string       `json:"imap_host"`
	IMAPPort          int          `json:"imap_port"`
	IMAPUsername      string       `json:"imap_username,omitempty"`
	SMTPHost          string       `json:"smtp_host"`
	SMTPPort          int          `json:"smtp_port"`
	EncryptedPassword []byte       `json:"-"`
	UseSSL            bool         `json:"use_ssl"`
	SMTPSecurity      SMTPSecurity `json:"smtp_security"`
	LastUID           uint32       `json:"last_uid"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Contact is a 1:1 chat peer, created lazily on first contact.
type Contact struct {
	AccountID   int64  `json:"account_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// Group is a named recipient set. Group chats are a storage abstraction
// layered on ordinary email addressed to all members.
type Group struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatScope identifies one conversation thread: either a contact or a group
// within one account, never both.
type ChatScope struct {
	AccountID    int64  `json:"account_id"`
	ContactEmail string `json:"contact_email,omitempty"`
	GroupID      int64  `json:"group_id,omitempty"`
}

// LoginUsername is the IMAP login name, defaulting to the account email
// for providers without a separate username.
func (a *Account) LoginUsername() string {
	if a.IMAPUsername != "" {
		return a.IMAPUsername
	}
	return a.Email
}

// ContactScope returns the scope of a 1:1 chat with the given address.
func ContactScope(accountID int64, email string) ChatScope {
	return ChatScope{AccountID: accountID, ContactEmail: strings.ToLower(strings.TrimSpace(email))}
}

// GroupScope returns the scope of a group chat.
func GroupScope(accountID, groupID int64) ChatScope {
	return ChatScope{AccountID: accountID, GroupID: groupID}
}

// IsGroup reports whether the scope addresses a group chat.
func (s ChatScope) IsGroup() bool {
	return s.GroupID != 0
}

// Key returns a stable map key for the scope.
func (s ChatScope) Key() string {
	if s.IsGroup() {
		return fmt.Sprintf("%d/g/%d", s.AccountID, s.GroupID)
	}
	return fmt.Sprintf("%d/c/%s", s.AccountID, s.ContactEmail)
}

// Direction of a message relative to the account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks what we know about an outbound message's fate.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Attachment is a named byte payload carried by a message. Size is advisory
// metadata; transport limits are not enforced here.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"content,omitempty"`
}

// Message is one chat message. Seq is assigned by the store and is strictly
// increasing within a chat scope. ExternalID is the transport-level
// Message-ID used for dedup and threading; it is unique within an account.
type Message struct {
	Seq            int64          `json:"id"`
	Scope          ChatScope      `json:"scope"`
	ExternalID     string         `json:"external_message_id,omitempty"`
	Direction      Direction      `json:"direction"`
	SenderEmail    string         `json:"sender_email,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	Body           string         `json:"body"`
	BodyHTML       string         `json:"body_html,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	InReplyTo      string         `json:"in_reply_to,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
	IsRead         bool           `json:"is_read"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
}

// ChatSummary is one sidebar entry: a chat scope with its incrementally
// maintained unread counter and preview.
type ChatSummary struct {
	Scope       ChatScope `json:"scope"`
	DisplayName string    `json:"display_name"`
	LastBody    string    `json:"last_body"`
	LastAt      time.Time `json:"last_at"`
	UnreadCount int       `json:"unread_count"`
	MemberCount int       `json:"member_count,omitempty"`
}

// Settings is the immutable per-cycle snapshot of the engine options. It is
// read at the start of each poll cycle; changes take effect on the next one.
type Settings struct {
	PollInterval        time.Duration `json:"poll_interval_ms"`
	AutoSyncEnabled     bool          `json:"auto_sync_enabled"`
	FilterNoReply       bool          `json:"filter_noreply"`
	FilterInfoAddresses bool          `json:"filter_info_addresses"`
	FilterPromotions    bool          `json:"filter_promotions"`
	StripReplies        bool          `json:"strip_replies"`
	MarkReadOnOpen      bool          `json:"mark_read_on_open"`
}

// MinPollInterval is the enforced floor for the poll cadence.
const MinPollInterval = 500 * time.Millisecond

// DefaultSettings returns the settings seeded on first start.
func DefaultSettings() Settings {
	return Settings{
		PollInterval:        time.Second,
		AutoSyncEnabled:     true,
		FilterNoReply:       true,
		FilterInfoAddresses: true,
		FilterPromotions:    true,
		StripReplies:        true,
		MarkReadOnOpen:      true,
	}
}
