package llm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransport marks connection and timeout failures that survived every retry.
	ErrTransport = errors.New("inference endpoint unreachable")
	// ErrRejected marks a non-2xx reply from the endpoint.
	ErrRejected = errors.New("inference request rejected")
	// ErrMalformedResponse marks a reply that lacks the expected fields.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// TransportError is returned once all attempts have failed at the transport level.
type TransportError struct {
	Attempts int
	Timeout  time.Duration
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference endpoint unreachable after %d attempts (timeout %s): %v", e.Attempts, e.Timeout, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RejectionError carries the status and body of a non-2xx reply.
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("inference request rejected with status %d: %s", e.StatusCode, e.Body)
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }
