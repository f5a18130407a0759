package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent-go/internal/config"
	"mailagent-go/internal/metrics"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
}

func newTestClient(url string, timeout time.Duration, rec *sleepRecorder) *Client {
	cfg := config.LLMConfig{
		URL:         url,
		Model:       "test-model",
		Timeout:     timeout,
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
	}
	return NewClient(cfg,
		WithSleep(rec.sleep),
		WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
	)
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"model": "served-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
}

func TestCompleteSendsChatPayload(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "high")
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	out, err := newTestClient(srv.URL, time.Second, rec).Complete(context.Background(), "user text", "system text", 0.3, 50)
	require.NoError(t, err)
	assert.Equal(t, "high", out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "system text"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "user text"}, got.Messages[1])
	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, 50, got.MaxTokens)
	assert.False(t, got.Stream)
	assert.Empty(t, rec.sleeps)
}

func TestCompleteTimeoutExhaustsAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	timeout := 50 * time.Millisecond
	_, err := newTestClient(srv.URL, timeout, rec).Complete(context.Background(), "p", "s", 0.3, 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, 3, transportErr.Attempts)
	assert.Equal(t, timeout, transportErr.Timeout)
	assert.Contains(t, err.Error(), "50ms")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.sleeps)
}

func TestCompleteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	_, err := newTestClient(url, time.Second, rec).Complete(context.Background(), "p", "s", 0.3, 10)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Len(t, rec.sleeps, 2)
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic(http.ErrAbortHandler)
		}
		writeCompletion(w, "recovered")
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	out, err := newTestClient(srv.URL, time.Second, rec).Complete(context.Background(), "p", "s", 0.3, 10)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.sleeps)
}

func TestCompleteRejectionIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"model not loaded"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	_, err := newTestClient(srv.URL, time.Second, rec).Complete(context.Background(), "p", "s", 0.3, 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, errors.Is(err, ErrTransport))
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, http.StatusBadRequest, rejection.StatusCode)
	assert.Contains(t, rejection.Body, "model not loaded")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, rec.sleeps)
}

func TestCompleteMalformedIsNotRetried(t *testing.T) {
	for name, body := range map[string]string{
		"no choices":   `{"choices":[]}`,
		"no message":   `{"choices":[{}]}`,
		"not json":     `<html>oops</html>`,
		"null content": `{"choices":[{"message":{"content":null}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, time.Second, &sleepRecorder{}).Complete(context.Background(), "p", "s", 0.3, 10)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestCompleteStopsRetryingWhenCallerCancels(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	_, err := newTestClient(srv.URL, time.Second, rec).Complete(ctx, "p", "s", 0.3, 10)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, rec.sleeps)
}

func TestVerifyConnection(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "ok")
	}))
	defer srv.Close()

	model, err := newTestClient(srv.URL, time.Second, &sleepRecorder{}).VerifyConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "served-model", model)
	assert.Equal(t, 10, got.MaxTokens)

	srv.Close()
	_, err = newTestClient(srv.URL, time.Second, &sleepRecorder{}).VerifyConnection(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}
