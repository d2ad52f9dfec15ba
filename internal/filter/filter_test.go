package filter

import (
	"testing"

	"github.com/mailchat/mailchat/internal/models"
)

func allFiltersOn() models.Settings {
	s := models.DefaultSettings()
	s.FilterNoReply = true
	s.FilterInfoAddresses = true
	s.FilterPromotions = true
	return s
}

func TestEvaluateNoReplySenders(t *testing.T) {
	settings := allFiltersOn()

	dropped := []string{
		"noreply@example.com",
		"no-reply@example.com",
		"no_reply@shop.example",
		"donotreply@example.com",
		"do-not-reply@example.com",
		"mailer-daemon@example.com",
		"newsletter@shop.example",
		"marketing@shop.example",
	}
	for _, sender := range dropped {
		t.Run(sender, func(t *testing.T) {
			v := Evaluate(sender, "hello", Headers{}, settings)
			if v.Keep {
				t.Errorf("expected %s to be dropped", sender)
			}
		})
	}

	// Only the local part participates; a matching domain never drops.
	kept := []string{
		"alice@example.com",
		"alice@marketing.example",
		"bob@newsletter-hosting.example",
	}
	for _, sender := range kept {
		t.Run(sender, func(t *testing.T) {
			v := Evaluate(sender, "hello", Headers{}, settings)
			if !v.Keep {
				t.Errorf("expected %s to be kept, dropped for %q", sender, v.Reason)
			}
		})
	}
}

func TestEvaluateNoReplyDisabled(t *testing.T) {
	settings := allFiltersOn()
	settings.FilterNoReply = false

	v := Evaluate("noreply@example.com", "hello", Headers{}, settings)
	if !v.Keep {
		t.Errorf("disabled check must not drop, got reason %q", v.Reason)
	}
}

func TestEvaluateInfoAddresses(t *testing.T) {
	settings := allFiltersOn()

	for _, sender := range []string{"info@example.com", "support@example.com"} {
		if v := Evaluate(sender, "hello", Headers{}, settings); v.Keep {
			t.Errorf("expected %s to be dropped", sender)
		}
	}
	// Only the exact local part matches, not a prefix.
	if v := Evaluate("information@example.com", "hello", Headers{}, settings); !v.Keep {
		t.Errorf("expected information@ to be kept, dropped for %q", v.Reason)
	}
}

func TestEvaluatePromotions(t *testing.T) {
	settings := allFiltersOn()

	tests := []struct {
		name    string
		subject string
		headers Headers
		keep    bool
	}{
		{"list unsubscribe header", "hi", Headers{ListUnsubscribe: "<mailto:u@x>"}, false},
		{"list id header", "hi", Headers{ListID: "dev.lists.example.com"}, false},
		{"bulk precedence", "hi", Headers{Precedence: "Bulk"}, false},
		{"junk precedence", "hi", Headers{Precedence: "junk"}, false},
		{"auto submitted", "hi", Headers{AutoSubmitted: "auto-generated"}, false},
		{"auto submitted no", "hi", Headers{AutoSubmitted: "no"}, true},
		{"promo subject", "Big SALE this weekend", Headers{}, false},
		{"plain mail", "lunch tomorrow?", Headers{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := Evaluate("peer@example.com", tc.subject, tc.headers, settings)
			if v.Keep != tc.keep {
				t.Errorf("keep = %v, want %v (reason %q)", v.Keep, tc.keep, v.Reason)
			}
		})
	}
}

func TestEvaluatePromotionsDisabled(t *testing.T) {
	settings := allFiltersOn()
	settings.FilterPromotions = false

	v := Evaluate("peer@example.com", "sale", Headers{ListUnsubscribe: "<mailto:u@x>"}, settings)
	if !v.Keep {
		t.Errorf("disabled check must not drop, got reason %q", v.Reason)
	}
}

func TestStripQuoted(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"on wrote marker",
			"Sounds good!\n\nOn Mon, Jan 2, 2023 at 9:00 AM Bob <bob@example.com> wrote:\n> earlier text",
			"Sounds good!",
		},
		{
			"german marker",
			"Passt.\n\nAm 02.01.2023 schrieb Bob:\n> vorher",
			"Passt.",
		},
		{
			"quote run",
			"Reply here\n> quoted line one\n> quoted line two",
			"Reply here",
		},
		{
			"original message divider",
			"See below\n-- Original Message --\nold content",
			"See below",
		},
		{
			"forwarded from header",
			"FYI\nFrom: Bob <bob@example.com>\nbody",
			"FYI",
		},
		{
			"no marker preserved",
			"Just a normal message\nwith two lines",
			"Just a normal message\nwith two lines",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripQuoted(tc.in); got != tc.want {
				t.Errorf("StripQuoted(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripQuotedIdempotent(t *testing.T) {
	inputs := []string{
		"Sounds good!\n\nOn Mon Bob wrote:\n> earlier",
		"Reply\n> quoted",
		"No markers at all",
		"",
	}
	for _, in := range inputs {
		once := StripQuoted(in)
		if twice := StripQuoted(once); twice != once {
			t.Errorf("StripQuoted not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestStripQuotedHTML(t *testing.T) {
	in := `<p>Thanks!</p><blockquote type="cite"><p>old mail</p></blockquote>`
	want := `<p>Thanks!</p>`
	if got := StripQuotedHTML(in); got != want {
		t.Errorf("StripQuotedHTML = %q, want %q", got, want)
	}

	// Unbalanced markup is left alone.
	broken := `<p>Hi</p><blockquote><p>never closed`
	if got := StripQuotedHTML(broken); got != broken {
		t.Errorf("expected unbalanced markup untouched, got %q", got)
	}

	if got := StripQuotedHTML(want); got != want {
		t.Errorf("stripping stripped html changed it: %q", got)
	}
}

func TestNormalize(t *testing.T) {
	body := "Hi\n> quoted"
	html := "<p>Hi</p><blockquote>q</blockquote>"

	gotBody, gotHTML := Normalize(body, html, true)
	if gotBody != "Hi" {
		t.Errorf("body = %q, want %q", gotBody, "Hi")
	}
	if gotHTML != "<p>Hi</p>" {
		t.Errorf("html = %q, want %q", gotHTML, "<p>Hi</p>")
	}

	gotBody, gotHTML = Normalize(body, html, false)
	if gotBody != body || gotHTML != html {
		t.Errorf("disabled stripping must preserve content, got %q / %q", gotBody, gotHTML)
	}
}
