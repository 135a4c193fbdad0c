package models

import (
	"fmt"
	"strings"
	"time"
)

// DocumentType tells the OCR layer which upstream model and filename convention to use.
type DocumentType string

const (
	DocumentTypeReceiptImage DocumentType = "RECEIPT_IMAGE"
	DocumentTypeInvoicePDF   DocumentType = "INVOICE_PDF"
	DocumentTypeInvoiceHTML  DocumentType = "INVOICE_HTML"
)

// DefaultCurrency is used whenever a provider does not report one.
const DefaultCurrency = "EUR"

// AllDocumentTypes lists the supported document types in declaration order.
var AllDocumentTypes = []DocumentType{
	DocumentTypeReceiptImage,
	DocumentTypeInvoicePDF,
	DocumentTypeInvoiceHTML,
}

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypeReceiptImage, DocumentTypeInvoicePDF, DocumentTypeInvoiceHTML:
		return true
	}
	return false
}

// IsInvoice reports whether t is routed to the structured-invoice model.
func (t DocumentType) IsInvoice() bool {
	return t == DocumentTypeInvoicePDF || t == DocumentTypeInvoiceHTML
}

// FilenameHint returns the filename whose extension communicates the type upstream.
func (t DocumentType) FilenameHint() string {
	switch t {
	case DocumentTypeInvoicePDF:
		return "invoice.pdf"
	case DocumentTypeInvoiceHTML:
		return "invoice.html"
	default:
		return "receipt.jpg"
	}
}

// MimeType returns the default MIME type sent with raw document bytes.
func (t DocumentType) MimeType() string {
	switch t {
	case DocumentTypeInvoicePDF:
		return "application/pdf"
	case DocumentTypeInvoiceHTML:
		return "text/html"
	default:
		return "image/jpeg"
	}
}

// ParseDocumentType accepts the canonical names as well as the short CLI aliases
// "receipt", "invoice-pdf" and "invoice-html".
func ParseDocumentType(s string) (DocumentType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	switch normalized {
	case "RECEIPT", "RECEIPT_IMAGE", "IMAGE":
		return DocumentTypeReceiptImage, nil
	case "INVOICE", "INVOICE_PDF", "PDF":
		return DocumentTypeInvoicePDF, nil
	case "INVOICE_HTML", "HTML":
		return DocumentTypeInvoiceHTML, nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// DetectDocumentType guesses the document type from a file name extension.
func DetectDocumentType(filename string) DocumentType {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return DocumentTypeInvoicePDF
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return DocumentTypeInvoiceHTML
	default:
		return DocumentTypeReceiptImage
	}
}

var dateFormats = []string{
	"2006-01-02",
	"02.01.2006",
	"02.01.06",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	time.RFC3339,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDate tries the date layouts seen on German and English receipts.
func ParseDate(s string) (time.Time, error) {
	value := strings.TrimSpace(s)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	for _, layout := range dateFormats {
		if date, err := time.Parse(layout, value); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}
