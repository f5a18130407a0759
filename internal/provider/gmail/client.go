// Package gmail implements provider.Provider on the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailagent-go/internal/config"
	"mailagent-go/internal/provider"
)

const unreadLabel = "UNREAD"

// Scopes are the OAuth scopes the client needs.
var Scopes = []string{gmail.GmailModifyScope, gmail.GmailSendScope}

// Client talks to one Gmail mailbox.
type Client struct {
	service *gmail.Service
	user    string
}

var _ provider.Provider = (*Client)(nil)

// OAuthConfig returns the OAuth client configuration for cfg.
func OAuthConfig(cfg config.GmailConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
	}
}

// NewClient creates a Gmail client that refreshes access tokens from refreshToken.
func NewClient(ctx context.Context, cfg config.GmailConfig, refreshToken string) (*Client, error) {
	tokenSource := OAuthConfig(cfg, "").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewWithService(service, cfg.UserEmail), nil
}

// NewWithService wraps an existing Gmail service.
func NewWithService(service *gmail.Service, user string) *Client {
	if user == "" {
		user = "me"
	}
	return &Client{service: service, user: user}
}

func (c *Client) Authenticate(ctx context.Context) error {
	if _, err := c.service.Users.GetProfile(c.user).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to get Gmail profile: %w", classify(err))
	}
	return nil
}

func (c *Client) ListMessageIDs(ctx context.Context, query provider.Query, pageSize int, pageToken string) ([]string, string, error) {
	call := c.service.Users.Messages.List(c.user).Q(query.String()).MaxResults(int64(pageSize)).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to list messages: %w", classify(err))
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

func (c *Client) FetchMessage(ctx context.Context, id string) (*provider.RawMessage, error) {
	msg, err := c.service.Users.Messages.Get(c.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, classify(err))
	}
	return toRawMessage(msg)
}

func (c *Client) Send(ctx context.Context, out provider.OutgoingMessage) (string, error) {
	raw, err := provider.BuildMIME(out)
	if err != nil {
		return "", err
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: out.ThreadID,
	}
	sent, err := c.service.Users.Messages.Send(c.user, msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", classify(err))
	}
	return sent.Id, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) (bool, error) {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := c.service.Users.Messages.Modify(c.user, id, req).Context(ctx).Do(); err != nil {
		err = classify(err)
		if errors.Is(err, provider.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	return true, nil
}

func (c *Client) Close() error {
	return nil
}

func toRawMessage(msg *gmail.Message) (*provider.RawMessage, error) {
	raw := &provider.RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
		Snippet:  msg.Snippet,
	}
	if msg.InternalDate > 0 {
		raw.InternalDate = time.UnixMilli(msg.InternalDate)
	}
	if msg.Payload != nil {
		part, err := toPart(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", msg.Id, err)
		}
		raw.Payload = part
	}
	return raw, nil
}

func toPart(p *gmail.MessagePart) (*provider.Part, error) {
	part := &provider.Part{MimeType: p.MimeType, Filename: p.Filename}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, provider.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil && p.Body.Data != "" {
		data, err := decodeBase64URL(p.Body.Data)
		if err != nil {
			return nil, err
		}
		part.Body = data
	}
	for _, child := range p.Parts {
		c, err := toPart(child)
		if err != nil {
			return nil, err
		}
		part.Parts = append(part.Parts, c)
	}
	return part, nil
}

// decodeBase64URL accepts both padded and unpadded URL-safe base64.
func decodeBase64URL(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	data, rawErr := base64.RawURLEncoding.DecodeString(s)
	if rawErr != nil {
		return nil, fmt.Errorf("failed to decode body: %w", err)
	}
	return data, nil
}

// classify maps Gmail API errors onto the provider error kinds.
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case 429:
		return fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
	case 401:
		return fmt.Errorf("%w: %w", provider.ErrAuth, err)
	case 404:
		return fmt.Errorf("%w: %w", provider.ErrNotFound, err)
	case 403:
		for _, item := range apiErr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				return fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
			case "dailyLimitExceeded", "quotaExceeded":
				return fmt.Errorf("%w: %w", provider.ErrQuotaExceeded, err)
			}
		}
		return fmt.Errorf("%w: %w", provider.ErrAuth, err)
	}
	return err
}
