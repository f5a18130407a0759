package mailparse

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const greetingWindow = 500

// knownSenders maps sending domains to a service label. Subdomains match too.
var knownSenders = map[string]string{
	"linkedin.com":     "LinkedIn",
	"github.com":       "GitHub",
	"google.com":       "Google",
	"youtube.com":      "YouTube",
	"amazon.com":       "Amazon",
	"amazon.fr":        "Amazon",
	"paypal.com":       "PayPal",
	"facebookmail.com": "Facebook",
	"instagram.com":    "Instagram",
	"x.com":            "X",
	"twitter.com":      "X",
	"medium.com":       "Medium",
	"substack.com":     "Substack",
	"slack.com":        "Slack",
	"notion.so":        "Notion",
	"atlassian.net":    "Atlassian",
	"stripe.com":       "Stripe",
	"mcsv.net":         "Mailchimp",
	"mailchimpapp.net": "Mailchimp",
	"apple.com":        "Apple",
	"microsoft.com":    "Microsoft",
	"uber.com":         "Uber",
	"airbnb.com":       "Airbnb",
	"booking.com":      "Booking.com",
	"dropbox.com":      "Dropbox",
	"spotify.com":      "Spotify",
}

// sharedDomains also host personal mailboxes. On them only automated
// local-parts get the service label.
var sharedDomains = map[string]bool{
	"google.com":    true,
	"apple.com":     true,
	"microsoft.com": true,
	"amazon.com":    true,
	"amazon.fr":     true,
}

// automatedLocalParts are address local-parts used by bulk senders.
var automatedLocalParts = map[string]bool{
	"noreply":          true,
	"no-reply":         true,
	"donotreply":       true,
	"do-not-reply":     true,
	"notifications":    true,
	"notification":     true,
	"newsletter":       true,
	"newsletters":      true,
	"news":             true,
	"updates":          true,
	"alerts":           true,
	"digest":           true,
	"mailer-daemon":    true,
	"messages-noreply": true,
	"invitations":      true,
}

var (
	greeting     = regexp.MustCompile(`\b(?i:hi|hello|hey|dear|bonjour|salut)\s+(\p{Lu}[\p{L}'-]+)`)
	angleAddress = regexp.MustCompile(`<([^<>@\s]+@[^<>\s]+)>`)
)

var notNames = map[string]bool{"there": true, "all": true, "team": true, "everyone": true, "friend": true}

// SenderName derives a readable sender label from a From header.
//
// Automated senders (a known domain or a bulk local-part) get a service label,
// annotated with the recipient name when the body opens with a greeting such
// as "Hi Alice". Other senders get their display name, or the address
// local-part when there is none. This is a best-effort heuristic.
func SenderName(from, body string) string {
	name, addr := splitAddress(from)
	local, domain := splitEmail(addr)

	if label, ok := serviceLabel(name, local, domain); ok {
		if who := greetedName(body); who != "" {
			return fmt.Sprintf("%s (%s)", label, who)
		}
		return label
	}

	if name != "" {
		return name
	}
	if local != "" {
		return local
	}
	return strings.TrimSpace(from)
}

func splitAddress(from string) (name, addr string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	if parsed, err := mail.ParseAddress(from); err == nil {
		return strings.TrimSpace(parsed.Name), strings.ToLower(parsed.Address)
	}
	if m := angleAddress.FindStringSubmatch(from); m != nil {
		name = strings.Trim(strings.TrimSpace(from[:strings.Index(from, "<")]), `"'`)
		return name, strings.ToLower(m[1])
	}
	if strings.Contains(from, "@") && !strings.ContainsAny(from, " <>") {
		return "", strings.ToLower(from)
	}
	return strings.Trim(from, `"'`), ""
}

func splitEmail(addr string) (local, domain string) {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr, ""
	}
	return addr[:at], addr[at+1:]
}

func serviceLabel(name, local, domain string) (string, bool) {
	bulk := automated(local)
	for known, label := range knownSenders {
		if domain == known || strings.HasSuffix(domain, "."+known) {
			if sharedDomains[known] && !bulk {
				return "", false
			}
			return label, true
		}
	}
	if !bulk {
		return "", false
	}
	if name != "" {
		return name, true
	}
	return domainLabel(domain), true
}

func automated(local string) bool {
	return automatedLocalParts[local] || strings.Contains(local, "noreply") || strings.Contains(local, "no-reply")
}

// domainLabel turns "mail.example.co.uk" into "Example".
func domainLabel(domain string) string {
	labels := strings.Split(domain, ".")
	root := domain
	switch {
	case len(labels) >= 3 && len(labels[len(labels)-2]) <= 3:
		root = labels[len(labels)-3]
	case len(labels) >= 2:
		root = labels[len(labels)-2]
	}
	if root == "" {
		return domain
	}
	r, size := utf8.DecodeRuneInString(root)
	return string(unicode.ToUpper(r)) + root[size:]
}

func greetedName(body string) string {
	if utf8.RuneCountInString(body) > greetingWindow {
		body = string([]rune(body)[:greetingWindow])
	}
	for _, m := range greeting.FindAllStringSubmatch(body, -1) {
		if !notNames[strings.ToLower(m[1])] {
			return m[1]
		}
	}
	return ""
}
