package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailagent-go/internal/provider"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return NewWithService(svc, "")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(code int, reason string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	}
}

func TestListMessageIDs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages", r.URL.Path)
		assert.Equal(t, "after:2024/03/01", r.URL.Query().Get("q"))
		assert.Equal(t, "100", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "tok-1", r.URL.Query().Get("pageToken"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages":      []map[string]string{{"id": "a"}, {"id": "b"}},
			"nextPageToken": "tok-2",
		})
	}))

	query := provider.Query{After: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	ids, next, err := client.ListMessageIDs(context.Background(), query, 100, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, "tok-2", next)
}

func TestFetchMessageDecodesParts(t *testing.T) {
	text := base64.URLEncoding.EncodeToString([]byte("Hello there"))
	html := base64.RawURLEncoding.EncodeToString([]byte("<p>Hello there</p>"))

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "m1",
			"threadId":     "t1",
			"labelIds":     []string{"INBOX", "UNREAD"},
			"snippet":      "Hello",
			"internalDate": "1714564800000",
			"payload": map[string]interface{}{
				"mimeType": "multipart/alternative",
				"headers":  []map[string]string{{"name": "Subject", "value": "Hi"}},
				"parts": []map[string]interface{}{
					{"mimeType": "text/plain", "body": map[string]string{"data": text}},
					{"mimeType": "text/html", "body": map[string]string{"data": html}},
					{"mimeType": "application/pdf", "filename": "a.pdf", "body": map[string]string{"attachmentId": "x"}},
				},
			},
		})
	}))

	raw, err := client.FetchMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "t1", raw.ThreadID)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, raw.LabelIDs)
	assert.Equal(t, int64(1714564800000), raw.InternalDate.UnixMilli())
	require.NotNil(t, raw.Payload)
	require.Len(t, raw.Payload.Parts, 3)
	assert.Equal(t, "Hello there", string(raw.Payload.Parts[0].Body))
	assert.Equal(t, "<p>Hello there</p>", string(raw.Payload.Parts[1].Body))
	assert.Equal(t, "a.pdf", raw.Payload.Parts[2].Filename)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		target error
	}{
		{"too many requests", http.StatusTooManyRequests, "rateLimitExceeded", provider.ErrRateLimited},
		{"user rate limit", http.StatusForbidden, "userRateLimitExceeded", provider.ErrRateLimited},
		{"daily quota", http.StatusForbidden, "dailyLimitExceeded", provider.ErrQuotaExceeded},
		{"forbidden", http.StatusForbidden, "insufficientPermissions", provider.ErrAuth},
		{"unauthorized", http.StatusUnauthorized, "authError", provider.ErrAuth},
		{"missing", http.StatusNotFound, "notFound", provider.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, apiError(tt.code, tt.reason))
			}))
			_, err := client.FetchMessage(context.Background(), "m1")
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestMarkRead(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing/modify") {
			writeJSON(w, http.StatusNotFound, apiError(404, "notFound"))
			return
		}
		var req gmail.ModifyMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"UNREAD"}, req.RemoveLabelIds)
		writeJSON(w, http.StatusOK, map[string]string{"id": "m1"})
	}))

	ok, err := client.MarkRead(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.MarkRead(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendBuildsReply(t *testing.T) {
	var sent gmail.Message
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		writeJSON(w, http.StatusOK, map[string]string{"id": "sent-1"})
	}))

	id, err := client.Send(context.Background(), provider.OutgoingMessage{
		To:        "Bob <bob@example.com>",
		Subject:   "Re: Lunch",
		Body:      "Friday works.",
		InReplyTo: "<abc@example.com>",
		ThreadID:  "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
	assert.Equal(t, "t1", sent.ThreadId)

	raw, err := decodeBase64URL(sent.Raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "In-Reply-To: <abc@example.com>")
	assert.Contains(t, string(raw), "Friday works.")
}
