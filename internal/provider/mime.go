package provider

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// BuildMIME renders msg as an RFC 5322 text/plain message.
func BuildMIME(msg OutgoingMessage) ([]byte, error) {
	to, err := mail.ParseAddressList(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("To", to)
	if msg.From != "" {
		from, err := mail.ParseAddress(msg.From)
		if err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
		}
		h.SetAddressList("From", []*mail.Address{from})
	}
	h.SetSubject(msg.Subject)
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
		h.Set("References", msg.InReplyTo)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}
