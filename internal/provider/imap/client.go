// Package imap implements provider.Provider over IMAP for reading and SMTP for sending.
package imap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"mailagent-go/internal/config"
	"mailagent-go/internal/provider"
)

const unreadLabel = "UNREAD"

// Client reads one mailbox over IMAP and sends over SMTP.
// A single IMAP connection is shared and guarded by mu.
type Client struct {
	cfg  config.GmailConfig
	dial func(addr string) (*client.Client, error)

	mu     sync.Mutex
	client *client.Client
}

var _ provider.Provider = (*Client)(nil)

// NewClient connects and logs in.
func NewClient(cfg config.GmailConfig) (*Client, error) {
	c := &Client{
		cfg: cfg,
		dial: func(addr string) (*client.Client, error) {
			return client.DialTLS(addr, nil)
		},
	}
	if cfg.IMAPMailbox == "" {
		c.cfg.IMAPMailbox = "INBOX"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.connLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// connLocked returns a logged-in connection, reconnecting after a drop.
func (c *Client) connLocked() (*client.Client, error) {
	if c.client != nil && c.client.State() != imap.LogoutState {
		return c.client, nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.IMAPHost, c.cfg.IMAPPort)
	conn, err := c.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := conn.Login(c.cfg.IMAPUser, c.cfg.IMAPPassword); err != nil {
		_ = conn.Logout()
		return nil, fmt.Errorf("%w: %w", provider.ErrAuth, err)
	}

	logrus.Infof("Connected to IMAP server %s", addr)
	c.client = conn
	return conn, nil
}

func (c *Client) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	if err := conn.Noop(); err != nil {
		return fmt.Errorf("failed to probe IMAP server: %w", classify(err))
	}
	return nil
}

// ListMessageIDs returns UIDs newest first. The page token is the offset into
// the search result.
func (c *Client) ListMessageIDs(ctx context.Context, query provider.Query, pageSize int, pageToken string) ([]string, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return nil, "", err
	}
	if _, err := conn.Select(c.cfg.IMAPMailbox, true); err != nil {
		return nil, "", fmt.Errorf("failed to select %s: %w", c.cfg.IMAPMailbox, classify(err))
	}

	criteria := imap.NewSearchCriteria()
	if query.UnreadOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	if !query.After.IsZero() {
		criteria.Since = query.After
	}

	uids, err := conn.UidSearch(criteria)
	if err != nil {
		return nil, "", fmt.Errorf("failed to search messages: %w", classify(err))
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	ids, next := page(uids, offset, pageSize)
	return ids, next, nil
}

func page(uids []uint32, offset, pageSize int) ([]string, string) {
	if offset >= len(uids) {
		return []string{}, ""
	}
	end := len(uids)
	if pageSize > 0 && offset+pageSize < end {
		end = offset + pageSize
	}

	ids := make([]string, 0, end-offset)
	for _, uid := range uids[offset:end] {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	next := ""
	if end < len(uids) {
		next = strconv.Itoa(end)
	}
	return ids, next
}

func (c *Client) FetchMessage(ctx context.Context, id string) (*provider.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Select(c.cfg.IMAPMailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", c.cfg.IMAPMailbox, classify(err))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- conn.UidFetch(seqset, items, messages)
	}()

	var raw *provider.RawMessage
	var readErr error
	for msg := range messages {
		raw, readErr = c.toRawMessage(id, msg, section)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, classify(err))
	}
	if readErr != nil {
		return nil, readErr
	}
	if raw == nil {
		return nil, fmt.Errorf("message %s: %w", id, provider.ErrNotFound)
	}
	return raw, nil
}

func (c *Client) toRawMessage(id string, msg *imap.Message, section *imap.BodySectionName) (*provider.RawMessage, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %s has no body", id)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", id, err)
	}
	return &provider.RawMessage{
		ID:           id,
		ThreadID:     id,
		LabelIDs:     labelsFromFlags(c.cfg.IMAPMailbox, msg.Flags),
		InternalDate: msg.InternalDate,
		RFC822:       data,
	}, nil
}

// labelsFromFlags maps IMAP flags onto Gmail-style labels.
func labelsFromFlags(mailbox string, flags []string) []string {
	labels := []string{strings.ToUpper(mailbox)}
	seen := false
	for _, flag := range flags {
		switch flag {
		case imap.SeenFlag:
			seen = true
		case imap.FlaggedFlag:
			labels = append(labels, "STARRED")
		case imap.DraftFlag:
			labels = append(labels, "DRAFT")
		}
	}
	if !seen {
		labels = append(labels, unreadLabel)
	}
	return labels
}

func (c *Client) MarkRead(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	uid, err := parseUID(id)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return false, err
	}
	if _, err := conn.Select(c.cfg.IMAPMailbox, false); err != nil {
		return false, fmt.Errorf("failed to select %s: %w", c.cfg.IMAPMailbox, classify(err))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := conn.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return false, fmt.Errorf("failed to mark message %s read: %w", id, classify(err))
	}
	return true, nil
}

// Send delivers over SMTP with STARTTLS and PLAIN auth.
func (c *Client) Send(ctx context.Context, out provider.OutgoingMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if out.From == "" {
		out.From = c.cfg.IMAPUser
	}
	raw, err := provider.BuildMIME(out)
	if err != nil {
		return "", err
	}

	to, err := recipients(out.To)
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	auth := smtp.PlainAuth("", c.cfg.IMAPUser, c.cfg.IMAPPassword, c.cfg.SMTPHost)
	if err := smtp.SendMail(addr, auth, c.cfg.IMAPUser, to, raw); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return messageID(raw), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	if err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

func parseUID(id string) (uint32, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid IMAP uid %q: %w", id, provider.ErrNotFound)
	}
	return uint32(n), nil
}

// classify maps server throttling responses onto provider.ErrRateLimited.
func classify(err error) error {
	msg := strings.ToUpper(err.Error())
	if strings.Contains(msg, "THROTTLED") || strings.Contains(msg, "TOO MANY") {
		return fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
	}
	if strings.Contains(msg, "OVERQUOTA") || strings.Contains(msg, "LIMIT") {
		return fmt.Errorf("%w: %w", provider.ErrQuotaExceeded, err)
	}
	return err
}

func recipients(list string) ([]string, error) {
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", list, err)
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out, nil
}

func messageID(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer mr.Close()
	id, err := mr.Header.MessageID()
	if err != nil {
		return ""
	}
	return id
}
