package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrMissingAPIKey indicates that no API key is configured
	ErrMissingAPIKey = errors.New("missing OpenAI API key: set OPENAI_API_KEY")

	// ErrMissingPromptID indicates that no stored prompt is configured
	ErrMissingPromptID = errors.New("missing prompt identity: set OPENAI_PROMPT_ID")

	// ErrEmptyText indicates there is no OCR text to analyze
	ErrEmptyText = errors.New("no text to analyze")

	// ErrUnrecognizedResponse indicates the response envelope has no usable text output
	ErrUnrecognizedResponse = errors.New("unrecognized response format")

	// ErrInvalidJSON indicates the model output is not valid JSON
	ErrInvalidJSON = errors.New("model output is not valid JSON")

	// ErrMissingProducts indicates the model output lacks a products list
	ErrMissingProducts = errors.New("missing products field")
)

// ErrorKind groups extraction failures by what the operator has to do about them.
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindUnsupportedInput  ErrorKind = "unsupported_input"
	KindTransport         ErrorKind = "transport"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindQuota             ErrorKind = "quota_exceeded"
	KindUpstream          ErrorKind = "upstream"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// ExtractionError represents a failed model call with the time it took.
type ExtractionError struct {
	Op      string
	Kind    ErrorKind
	Err     error
	Elapsed time.Duration
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is reports whether the wrapped error matches target.
func (e *ExtractionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newExtractionError(op string, kind ErrorKind, err error, start time.Time) *ExtractionError {
	return &ExtractionError{Op: op, Kind: kind, Err: err, Elapsed: time.Since(start)}
}

// classifyTransport picks the kind and a readable wrapper for an HTTP client failure.
func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), strings.Contains(strings.ToLower(err.Error()), "connection refused"):
		return fmt.Errorf("connection refused: the language model API could not be reached: %w", err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("request timed out: the language model API did not respond in time: %w", err)
	}
	return err
}

// classifyStatus maps an API error to its kind.
func classifyStatus(apiErr *openai.APIError) ErrorKind {
	switch apiErr.HTTPStatusCode {
	case 401:
		return KindUnauthorized
	case 429:
		return KindQuota
	}
	return KindUpstream
}
