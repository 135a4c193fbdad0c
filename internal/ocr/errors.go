package ocr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Common OCR processing errors
var (
	// ErrEmptyInput is returned when the document has zero bytes.
	ErrEmptyInput = errors.New("document is empty")

	// ErrDocumentTooLarge is returned when the document exceeds the synchronous processing limit (20MB).
	ErrDocumentTooLarge = errors.New("document exceeds the maximum size limit (20MB)")

	// ErrInvalidPDF is returned when an INVOICE_PDF document has no PDF header.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrUnsupportedDocumentType is returned when a provider cannot handle the document type.
	ErrUnsupportedDocumentType = errors.New("document type not supported by provider")

	// ErrUnknownProvider is returned when no provider is registered under the requested name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderNotAvailable is returned when a provider lacks credentials or could not be constructed.
	ErrProviderNotAvailable = errors.New("provider not available")

	// ErrMissingCredentials is returned when neither GOOGLE_APPLICATION_CREDENTIALS
	// nor GOOGLE_CREDENTIALS environment variables are configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrMissingConfiguration is returned when a provider identifier such as a processor ID is absent.
	ErrMissingConfiguration = errors.New("missing provider configuration")

	// ErrOCRFailed is returned when the upstream service fails to process the document.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrEmptyDocument is returned when the document contains no readable text.
	ErrEmptyDocument = errors.New("document contains no readable text")

	// ErrMalformedResponse is returned when the upstream response lacks the expected structure.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrDuplicateProvider is returned when a provider name is registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")
)

// OCRError wraps errors with additional context about the OCR processing failure.
type OCRError struct {
	// Op is the operation that failed (e.g., "ProcessDocument", "ProcessWithProvider").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewOCRError creates a new OCRError with the specified operation and underlying error.
func NewOCRError(op string, err error, details string) *OCRError {
	return &OCRError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return NewOCRError(op, err, details)
}

// ProviderError is an error the upstream service reported inside an otherwise
// successful response, such as Document.error in Document AI.
type ProviderError struct {
	Provider string
	Code     int32
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s reported error %d: %s", e.Provider, e.Code, e.Message)
}

// Attempt records why one provider in a fallback chain did not produce a result.
type Attempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// FallbackError is returned when every provider in the fallback chain failed or was skipped.
type FallbackError struct {
	DocumentType string
	Attempts     []Attempt
}

func (e *FallbackError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all OCR providers failed for %s:", e.DocumentType)
	if len(e.Attempts) == 0 {
		b.WriteString(" no providers configured")
	}
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  - %s: %s", a.Provider, a.Reason)
	}
	return b.String()
}

// ErrorKind is the coarse failure category shown to operators.
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindUnsupportedInput  ErrorKind = "unsupported_input"
	KindProviderReported  ErrorKind = "provider_reported"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindTimeout           ErrorKind = "timeout"
	KindQuota             ErrorKind = "quota_exceeded"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindUnknown           ErrorKind = "unknown"
)

// ClassifyError maps an upstream failure to a kind and a human-readable message.
// Checks run in a fixed order: provider-reported error, connection refused,
// timeout, quota (429), authentication (401), then the raw message.
func ClassifyError(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return KindProviderReported, fmt.Sprintf("provider error: %s", providerErr.Message)
	}

	switch {
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrMissingConfiguration):
		return KindConfiguration, err.Error()
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrDocumentTooLarge),
		errors.Is(err, ErrInvalidPDF), errors.Is(err, ErrUnsupportedDocumentType):
		return KindUnsupportedInput, err.Error()
	}

	code := grpcCode(err)
	httpStatus := httpStatusCode(err)
	lower := strings.ToLower(err.Error())

	switch {
	case isConnectionRefused(err, lower):
		return KindConnectionRefused, "connection refused: the OCR service could not be reached"
	case isTimeout(err, code, lower):
		return KindTimeout, "request timed out: the OCR service did not respond in time"
	case code == codes.ResourceExhausted || httpStatus == 429 || strings.Contains(lower, "quota"):
		return KindQuota, "quota exceeded (429): wait before retrying or raise the API quota"
	case code == codes.Unauthenticated || httpStatus == 401 || strings.Contains(lower, "unauthenticated"):
		return KindUnauthorized, "authentication failed (401): check the configured credentials"
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrEmptyDocument):
		return KindMalformedResponse, err.Error()
	}

	return KindUnknown, err.Error()
}

func isConnectionRefused(err error, lower string) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(lower, "connection refused")
}

func isTimeout(err error, code codes.Code, lower string) bool {
	if errors.Is(err, context.DeadlineExceeded) || code == codes.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded")
}

// grpcCode digs a gRPC status code out of err, looking through wrapped errors.
func grpcCode(err error) codes.Code {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if s, ok := status.FromError(e); ok && s.Code() != codes.OK && s.Code() != codes.Unknown {
			return s.Code()
		}
	}
	return codes.OK
}

func httpStatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var coded interface{ HTTPStatus() int }
	if errors.As(err, &coded) {
		return coded.HTTPStatus()
	}
	return 0
}
