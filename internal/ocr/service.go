// Package ocr turns receipt and invoice documents into the canonical OcrReceiptData shape.
//
// Providers implement a small capability interface and are registered by name in an
// Orchestrator, which routes documents to the default provider or walks a fallback chain.
//
// Providers in this package:
//   - document-ai: Google Document AI, expense parser for receipt photos and invoice parser
//     for PDF/HTML invoices. Returns fully structured data including line items.
//   - cloud-vision: Google Cloud Vision document text detection. Text only.
//
// The local Tesseract engine lives in the ocr/tesseract subpackage.
//
// Required Environment Variables for the Google providers:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT: Google Cloud project ID (Document AI only)
//
// Limitations:
//   - Maximum file size: 20MB for synchronous processing
//   - Cloud Vision PDF processing handles at most 5 pages synchronously
package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"pantry/pkg/models"
)

const (
	// MaxFileSizeBytes is the maximum file size for synchronous processing (20MB)
	MaxFileSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the maximum number of pages for synchronous PDF processing
	MaxPagesSync = 5
)

// Provider is the capability interface every OCR backend implements.
//
// ProcessDocument never returns an error: every upstream failure is converted
// into a result with Success=false and a classified message.
type Provider interface {
	// Name is the registry key of the provider.
	Name() string

	// SupportsDocumentType reports whether the provider can handle t.
	SupportsDocumentType(t models.DocumentType) bool

	// IsAvailable is true only if the required credentials and configuration are present
	// and the provider could be constructed.
	IsAvailable() bool

	// ProcessDocument runs recognition on data.
	ProcessDocument(ctx context.Context, data []byte, t models.DocumentType) models.OcrProcessingResult

	// Close releases clients and workers held by the provider.
	Close() error
}

// CheckInput validates raw document bytes before any provider call.
func CheckInput(data []byte, t models.DocumentType) error {
	const op = "CheckInput"

	if len(data) == 0 {
		return NewOCRError(op, ErrEmptyInput, "")
	}
	if len(data) > MaxFileSizeBytes {
		return NewOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(data)))
	}
	if !t.Valid() {
		return NewOCRError(op, ErrUnsupportedDocumentType, fmt.Sprintf("unknown document type %q", t))
	}
	if t == models.DocumentTypeInvoicePDF && (len(data) < 4 || string(data[:4]) != "%PDF") {
		return NewOCRError(op, ErrInvalidPDF, "missing PDF header")
	}
	return nil
}

// Succeeded builds the result of a successful attempt.
func Succeeded(provider string, t models.DocumentType, start time.Time, data *models.OcrReceiptData) models.OcrProcessingResult {
	return models.OcrProcessingResult{
		Success:          true,
		Data:             data,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Provider:         provider,
		DocumentType:     t,
	}
}

// Failed builds the result of a failed attempt, classifying err into a readable message.
func Failed(provider string, t models.DocumentType, start time.Time, err error) models.OcrProcessingResult {
	_, msg := ClassifyError(err)
	return models.OcrProcessingResult{
		Success:          false,
		Error:            msg,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Provider:         provider,
		DocumentType:     t,
	}
}

// NormalizeText collapses runs of whitespace inside each line and drops blank lines.
func NormalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			kept = append(kept, collapsed)
		}
	}
	return strings.Join(kept, "\n")
}

// sniffImageMime picks a MIME type from the leading bytes of an image,
// falling back to JPEG for anything unrecognized.
func sniffImageMime(data []byte) string {
	detected := mimetype.Detect(data).String()
	if strings.HasPrefix(detected, "image/") {
		return detected
	}
	return "image/jpeg"
}

// mimeTypeFor returns the MIME type sent upstream for data of type t.
func mimeTypeFor(data []byte, t models.DocumentType) string {
	if t == models.DocumentTypeReceiptImage {
		return sniffImageMime(data)
	}
	return t.MimeType()
}
