// Package provider defines the remote mailbox contract used by the sync loop.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited means the provider asked us to slow down; retrying later is expected to succeed.
	ErrRateLimited = errors.New("provider rate limit exceeded")
	// ErrQuotaExceeded means a longer-lived quota was exhausted.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrNotFound means the requested message does not exist.
	ErrNotFound = errors.New("message not found at provider")
	// ErrAuth means the stored credentials were rejected.
	ErrAuth = errors.New("provider authentication failed")
)

// Throttled reports whether err is a rate-limit or quota condition.
func Throttled(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExceeded)
}

// Query selects messages to list.
type Query struct {
	UnreadOnly bool
	After      time.Time
}

// String renders the query in Gmail search syntax.
func (q Query) String() string {
	s := ""
	if q.UnreadOnly {
		s = "is:unread"
	}
	if !q.After.IsZero() {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("after:%s", q.After.Format("2006/01/02"))
	}
	return s
}

// Header is one message header.
type Header struct {
	Name  string
	Value string
}

// Part is a node of a decoded MIME tree.
type Part struct {
	MimeType string
	Filename string
	Headers  []Header
	Body     []byte
	Parts    []*Part
}

// RawMessage is a message as returned by the provider. Exactly one of
// Payload and RFC822 is set.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate time.Time
	Payload      *Part
	RFC822       []byte
}

// OutgoingMessage is a message to send.
type OutgoingMessage struct {
	From      string
	To        string
	Subject   string
	Body      string
	InReplyTo string
	ThreadID  string
}

// Provider is a remote mailbox.
type Provider interface {
	// Authenticate checks that the stored credentials are accepted.
	Authenticate(ctx context.Context) error
	// ListMessageIDs returns one page of message IDs and the token of the next
	// page, which is empty on the last page.
	ListMessageIDs(ctx context.Context, query Query, pageSize int, pageToken string) ([]string, string, error)
	FetchMessage(ctx context.Context, id string) (*RawMessage, error)
	// Send delivers msg and returns the provider's ID for it.
	Send(ctx context.Context, msg OutgoingMessage) (string, error)
	MarkRead(ctx context.Context, id string) (bool, error)
	Close() error
}
