// Package mailparse turns provider payloads into Message records.
package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"mailagent-go/internal/model"
	"mailagent-go/internal/provider"
)

const (
	unreadLabel  = "UNREAD"
	snippetLimit = 200
)

// ErrMalformed is returned for payloads that cannot be turned into a Message.
var ErrMalformed = errors.New("malformed message payload")

type content struct {
	headers        []provider.Header
	text           string
	html           string
	hasAttachments bool
}

// Parse converts raw into a Message. Enrichment fields are left empty.
func Parse(raw *provider.RawMessage) (*model.Message, error) {
	if raw == nil || raw.ID == "" {
		return nil, fmt.Errorf("%w: missing message id", ErrMalformed)
	}

	var c content
	switch {
	case raw.Payload != nil:
		c.headers = raw.Payload.Headers
		walkParts(raw.Payload, &c)
	case raw.RFC822 != nil:
		if err := readRFC822(raw.RFC822, &c); err != nil {
			return nil, fmt.Errorf("%w: message %s: %v", ErrMalformed, raw.ID, err)
		}
	default:
		return nil, fmt.Errorf("%w: message %s has no payload", ErrMalformed, raw.ID)
	}

	from := headerValue(c.headers, "From")
	msg := &model.Message{
		ID:             raw.ID,
		ThreadID:       raw.ThreadID,
		FromAddr:       from,
		ToAddr:         headerValue(c.headers, "To"),
		Subject:        headerValue(c.headers, "Subject"),
		Snippet:        raw.Snippet,
		BodyText:       c.text,
		Date:           messageDate(headerValue(c.headers, "Date"), raw.InternalDate),
		Labels:         raw.LabelIDs,
		HasAttachments: c.hasAttachments,
		Status:         model.StatusRead,
	}
	if msg.Labels == nil {
		msg.Labels = []string{}
	}
	if c.html != "" {
		html := c.html
		msg.BodyHTML = &html
	}
	if msg.BodyText == "" && c.html != "" {
		msg.BodyText = HTMLToText(c.html)
	}
	if msg.Snippet == "" {
		msg.Snippet = makeSnippet(msg.BodyText)
	}
	if msg.BodyText == "" {
		msg.BodyText = msg.Snippet
	}
	for _, label := range msg.Labels {
		if label == unreadLabel {
			msg.Status = model.StatusUnread
			break
		}
	}
	msg.FromName = SenderName(from, msg.BodyText)

	return msg, nil
}

func walkParts(p *provider.Part, c *content) {
	if p.Filename != "" {
		c.hasAttachments = true
		return
	}
	mimeType := strings.ToLower(p.MimeType)
	switch {
	case strings.HasPrefix(mimeType, "text/plain") && c.text == "":
		c.text = toUTF8(p.Body)
	case strings.HasPrefix(mimeType, "text/html") && c.html == "":
		c.html = toUTF8(p.Body)
	}
	for _, child := range p.Parts {
		walkParts(child, c)
	}
}

func readRFC822(data []byte, c *content) error {
	mr, err := gomail.CreateReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer mr.Close()

	fields := mr.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		c.headers = append(c.headers, provider.Header{Name: fields.Key(), Value: value})
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return err
			}
			switch {
			case mediaType == "text/plain" && c.text == "":
				c.text = toUTF8(body)
			case mediaType == "text/html" && c.html == "":
				c.html = toUTF8(body)
			}
		case *gomail.AttachmentHeader:
			c.hasAttachments = true
		}
	}
}

func headerValue(headers []provider.Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)",
	time.RFC3339,
}

// messageDate parses the Date header, falling back to the provider's
// internal date and then to now.
func messageDate(header string, internal time.Time) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
		for _, format := range dateFormats {
			if t, err := time.Parse(format, header); err == nil {
				return t.UTC()
			}
		}
	}
	if !internal.IsZero() {
		return internal.UTC()
	}
	return time.Now().UTC()
}

func makeSnippet(text string) string {
	snippet := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(snippet) > snippetLimit {
		snippet = string([]rune(snippet)[:snippetLimit])
	}
	return snippet
}

func toUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
