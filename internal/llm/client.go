package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"mailagent-go/internal/config"
	"mailagent-go/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 2 * time.Second
	maxErrorBody       = 512
)

// Client sends chat completion requests to an OpenAI-compatible endpoint.
// It is safe for concurrent use.
type Client struct {
	url         string
	model       string
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	httpClient  *http.Client
	metrics     *metrics.Metrics
	sleep       func(time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is overridden.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a gateway for the configured endpoint.
func NewClient(cfg config.LLMConfig, opts ...Option) *Client {
	c := &Client{
		url:         cfg.URL,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		httpClient:  &http.Client{},
		sleep:       time.Sleep,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.backoffBase <= 0 {
		c.backoffBase = defaultBackoffBase
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one completion request and returns the generated text.
//
// Transport failures are retried with exponential backoff (base, 2*base, ...).
// A non-2xx reply or a reply without choices[0].message.content is returned at
// once. Cancelling ctx stops further attempts but never aborts the attempt in
// flight; each attempt is bounded by the configured timeout instead.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode inference request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.do(ctx, payload)
		if err == nil {
			c.observe("ok", start)
			return resp.content()
		}

		var rejection *RejectionError
		if errors.As(err, &rejection) || errors.Is(err, ErrMalformedResponse) {
			c.observe(outcomeOf(err), start)
			return "", err
		}

		lastErr = err
		if attempt == c.maxAttempts {
			break
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observe("transport_error", start)
			return "", &TransportError{Attempts: attempt, Timeout: c.timeout, Err: errors.Join(lastErr, ctxErr)}
		}

		backoff := c.backoffBase << (attempt - 1)
		logrus.Warnf("Inference attempt %d/%d failed: %v, retrying in %s", attempt, c.maxAttempts, err, backoff)
		if c.metrics != nil {
			c.metrics.InferenceRetries.Inc()
		}
		c.sleep(backoff)
	}

	c.observe("transport_error", start)
	logrus.Errorf("Inference endpoint failed after %d attempts: %v", c.maxAttempts, lastErr)
	return "", &TransportError{Attempts: c.maxAttempts, Timeout: c.timeout, Err: lastErr}
}

// VerifyConnection sends a minimal request and returns the model name the endpoint reports.
func (c *Client) VerifyConnection(ctx context.Context) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: "test"}},
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode probe request: %w", err)
	}

	resp, err := c.do(ctx, payload)
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) || errors.Is(err, ErrMalformedResponse) {
			return "", err
		}
		return "", &TransportError{Attempts: 1, Timeout: c.timeout, Err: err}
	}
	if resp.Model != "" {
		return resp.Model, nil
	}
	return c.model, nil
}

func (c *Client) do(ctx context.Context, payload []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &RejectionError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, err := parsed.content(); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (r *chatResponse) content() (string, error) {
	if len(r.Choices) == 0 || r.Choices[0].Message == nil || r.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("%w: missing choices[0].message.content", ErrMalformedResponse)
	}
	return *r.Choices[0].Message.Content, nil
}

func (c *Client) observe(outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.InferenceCalls.WithLabelValues(outcome).Inc()
	c.metrics.InferenceDuration.Observe(time.Since(start).Seconds())
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "transport_error"
	}
}
