package imap

import (
	"io"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/mailchat/mailchat/internal/filter"
	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
)

// ParsedMail is the normalized form of one fetched message, ready for
// filtering and classification.
type ParsedMail struct {
	UID         uint32
	ExternalID  string
	From        string
	FromName    string
	Recipients  []string // To plus Cc, addresses only
	Subject     string
	Body        string
	BodyHTML    string
	Attachments []models.Attachment
	InReplyTo   string
	SentAt      time.Time
	Headers     filter.Headers

	// Read-receipt (MDN) detection. A receipt is consumed by the sync
	// engine and never enters the chat timeline.
	IsReadReceipt     bool
	ReceiptMessageIDs []string
}

var (
	htmlTag    = regexp.MustCompile(`<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// ParseRaw parses a raw RFC 822 message into a ParsedMail. MIME-level
// failures come back as KindParse so the sync engine can skip the one
// message and continue its batch.
func ParseRaw(uid uint32, r io.Reader) (*ParsedMail, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, mailerr.Wrap(mailerr.KindParse, err, "failed to parse message uid %d", uid)
	}

	parsed := &ParsedMail{
		UID:        uid,
		ExternalID: strings.TrimSpace(envelope.GetHeader("Message-ID")),
		Subject:    envelope.GetHeader("Subject"),
		InReplyTo:  strings.TrimSpace(envelope.GetHeader("In-Reply-To")),
		Headers: filter.Headers{
			ListID:          envelope.GetHeader("List-ID"),
			ListUnsubscribe: envelope.GetHeader("List-Unsubscribe"),
			Precedence:      envelope.GetHeader("Precedence"),
			AutoSubmitted:   envelope.GetHeader("Auto-Submitted"),
		},
	}

	if from, err := envelope.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = strings.ToLower(strings.TrimSpace(from[0].Address))
		parsed.FromName = strings.TrimSpace(from[0].Name)
	}
	for _, header := range []string{"To", "Cc"} {
		if list, err := envelope.AddressList(header); err == nil {
			for _, addr := range list {
				parsed.Recipients = append(parsed.Recipients, strings.ToLower(strings.TrimSpace(addr.Address)))
			}
		}
	}

	if date, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		parsed.SentAt = date.UTC()
	} else {
		parsed.SentAt = time.Now().UTC()
	}

	parsed.Body = strings.TrimSpace(envelope.Text)
	parsed.BodyHTML = envelope.HTML
	// enmime synthesizes Text from the HTML part when the message carries no
	// text/plain part, with markdown-style markers. Prefer a plain
	// tag-stripped rendering for those.
	if parsed.BodyHTML != "" && !hasTextPart(envelope) {
		parsed.Body = htmlToText(parsed.BodyHTML)
	}

	for _, part := range envelope.Attachments {
		if len(part.Content) == 0 {
			continue
		}
		name := part.FileName
		if name == "" {
			name = "attachment"
		}
		contentType := part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		parsed.Attachments = append(parsed.Attachments, models.Attachment{
			Name:        name,
			ContentType: contentType,
			Size:        int64(len(part.Content)),
			Content:     part.Content,
		})
	}

	detectReadReceipt(envelope, parsed)
	return parsed, nil
}

// detectReadReceipt recognizes MDN-style read receipts: proper
// multipart/report messages as well as the loose formats common providers
// emit, matched by subject or body markers.
func detectReadReceipt(envelope *enmime.Envelope, parsed *ParsedMail) {
	contentType := strings.ToLower(envelope.GetHeader("Content-Type"))
	subject := strings.ToLower(parsed.Subject)
	body := strings.ToLower(parsed.Body)

	isMDN := strings.Contains(contentType, "disposition-notification") ||
		strings.Contains(contentType, "multipart/report") ||
		strings.Contains(subject, "read receipt") ||
		strings.Contains(subject, "empfangsbestätigung") ||
		strings.Contains(subject, "lesebestätigung") ||
		strings.Contains(body, "original-message-id")
	if !isMDN {
		for _, att := range parsed.Attachments {
			if strings.Contains(strings.ToLower(att.Name), "mdn") {
				isMDN = true
				break
			}
		}
	}
	if !isMDN {
		return
	}

	parsed.IsReadReceipt = true
	if mid := strings.TrimSpace(envelope.GetHeader("Original-Message-ID")); mid != "" {
		parsed.ReceiptMessageIDs = append(parsed.ReceiptMessageIDs, mid)
	}
	for _, line := range strings.Split(parsed.Body, "\n") {
		if !strings.Contains(strings.ToLower(line), "original-message-id") {
			continue
		}
		if _, value, ok := strings.Cut(line, ":"); ok {
			if mid := strings.TrimSpace(value); mid != "" {
				parsed.ReceiptMessageIDs = append(parsed.ReceiptMessageIDs, mid)
			}
		}
	}
}

// hasTextPart reports whether the message carries a genuine text/plain part.
func hasTextPart(envelope *enmime.Envelope) bool {
	if envelope.Root == nil {
		return false
	}
	return envelope.Root.DepthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "text/plain"
	}) != nil
}

// htmlToText is the fallback for HTML-only mail: tags out, whitespace
// collapsed.
func htmlToText(html string) string {
	text := htmlTag.ReplaceAllString(html, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
