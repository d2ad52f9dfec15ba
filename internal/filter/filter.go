// Package filter decides which inbound mail belongs in the chat timeline and
// normalizes message bodies. Filtering is a hard drop: a rejected message is
// never stored, not hidden at display time.
package filter

import (
	"regexp"
	"strings"

	"github.com/mailchat/mailchat/internal/models"
)

var (
	noReplyPattern = regexp.MustCompile(`(?i)(^|[._-])(no[._-]?reply|noreply|do[._-]?not[._-]?reply|mailer-daemon|newsletter|marketing)([._-]|$)`)
	promoSubject   = regexp.MustCompile(`(?i)(newsletter|angebot|sale|rabatt|unsubscribe|werbung|promo)`)
)

// infoLocalParts are role addresses treated as broadcast senders rather than
// chat peers.
var infoLocalParts = map[string]struct{}{
	"info":       {},
	"support":    {},
	"newsletter": {},
}

// Headers carries the raw header values the filter inspects.
type Headers struct {
	ListID          string
	ListUnsubscribe string
	Precedence      string
	AutoSubmitted   string
}

// Verdict is the filter decision for one message.
type Verdict struct {
	Keep   bool
	Reason string
}

// Evaluate runs the enabled filter checks against the sender address,
// subject and headers. The first failing check wins.
func Evaluate(sender, subject string, headers Headers, settings models.Settings) Verdict {
	sender = strings.ToLower(strings.TrimSpace(sender))

	// The pattern set describes local parts; the domain never participates.
	if settings.FilterNoReply && noReplyPattern.MatchString(localPart(sender)) {
		return Verdict{Reason: "no-reply sender"}
	}
	if settings.FilterInfoAddresses {
		if _, ok := infoLocalParts[localPart(sender)]; ok {
			return Verdict{Reason: "role address sender"}
		}
	}
	if settings.FilterPromotions {
		if promoSubject.MatchString(subject) {
			return Verdict{Reason: "promotional subject"}
		}
		if headers.ListID != "" || headers.ListUnsubscribe != "" {
			return Verdict{Reason: "mailing list headers"}
		}
		switch strings.ToLower(strings.TrimSpace(headers.Precedence)) {
		case "bulk", "list", "junk":
			return Verdict{Reason: "bulk precedence"}
		}
		if auto := strings.ToLower(strings.TrimSpace(headers.AutoSubmitted)); auto != "" && auto != "no" {
			return Verdict{Reason: "auto-submitted"}
		}
	}

	return Verdict{Keep: true}
}

func localPart(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}
