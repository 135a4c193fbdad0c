package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry/internal/ocr"
	"pantry/internal/review"
	"pantry/pkg/models"
)

func TestResolveItem(t *testing.T) {
	r := &review.Receipt{Items: []models.ReceiptItem{{ID: "a"}, {ID: "b"}}}

	id, err := resolveItem(r, "2")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	id, err = resolveItem(r, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	_, err = resolveItem(r, "3")
	assert.ErrorIs(t, err, review.ErrItemNotFound)

	_, err = resolveItem(r, "0")
	assert.ErrorIs(t, err, review.ErrItemNotFound)

	_, err = resolveItem(r, "missing")
	assert.ErrorIs(t, err, review.ErrItemNotFound)
}

func TestFormatItem(t *testing.T) {
	q := 2.0
	item := models.ReceiptItem{
		DetectedName:  "Milch",
		Quantity:      &q,
		UnitPrice:     decimal.NewNullDecimal(decimal.RequireFromString("1.29")),
		CategoryGuess: "dairy",
		Confidence:    0.9,
	}
	assert.Equal(t, "Milch x2  2.58  [dairy]  (90%)", formatItem(item))

	assert.Equal(t, "Brot  -  (50%)", formatItem(models.ReceiptItem{DetectedName: "Brot", Confidence: 0.5}))
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	log := zerolog.Nop()

	photo := filepath.Join(dir, "receipt.jpg")
	require.NoError(t, os.WriteFile(photo, []byte{0xFF, 0xD8, 0xFF}, 0o644))

	data, docType, err := readDocument(photo, "", log)
	require.NoError(t, err)
	assert.Len(t, data, 3)
	assert.Equal(t, models.DocumentTypeReceiptImage, docType)

	_, docType, err = readDocument(photo, "invoice_pdf", log)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentTypeInvoicePDF, docType)

	_, _, err = readDocument(photo, "fax", log)
	assert.Error(t, err)

	_, _, err = readDocument(filepath.Join(dir, "missing.jpg"), "", log)
	assert.ErrorContains(t, err, "file not found")

	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, _, err = readDocument(empty, "", log)
	assert.ErrorContains(t, err, "file is empty")

	_, _, err = readDocument(dir, "", log)
	assert.ErrorContains(t, err, "not a regular file")
}

func TestReadText(t *testing.T) {
	text, err := readText("-", strings.NewReader("REWE\nMILCH 1,29"))
	require.NoError(t, err)
	assert.Equal(t, "REWE\nMILCH 1,29", text)

	_, err = readText("-", strings.NewReader("  \n"))
	assert.ErrorContains(t, err, "no text to analyze")

	_, err = readText(filepath.Join(t.TempDir(), "missing.txt"), nil)
	assert.ErrorContains(t, err, "text file not found")
}

func TestGetNumWorkers(t *testing.T) {
	t.Setenv("SCAN_WORKERS", "")
	assert.Equal(t, 4, getNumWorkers())

	t.Setenv("SCAN_WORKERS", "8")
	assert.Equal(t, 8, getNumWorkers())

	t.Setenv("SCAN_WORKERS", "-1")
	assert.Equal(t, 4, getNumWorkers())
}

func TestHandleOCRError_FallbackListsAttempts(t *testing.T) {
	err := handleOCRError(&ocr.FallbackError{
		DocumentType: "RECEIPT_IMAGE",
		Attempts: []ocr.Attempt{
			{Provider: "document-ai", Reason: "provider not available"},
			{Provider: "tesseract", Reason: "no text recognized"},
		},
	}, nil, zerolog.Nop())

	assert.Equal(t, "no OCR provider could read the document:\n  - document-ai: provider not available\n  - tesseract: no text recognized", err.Error())
}

func TestHandleCommitError_PartialCommitSuggestsRetry(t *testing.T) {
	r := &review.Receipt{ID: "r1"}
	partial := &review.CommitResult{Items: []review.CommittedItem{{ItemID: "i1", Name: "Milch"}}}

	err := handleCommitError(errors.New("sheet unavailable"), r, partial, zerolog.Nop())
	assert.Contains(t, err.Error(), "commit stopped after 1 items (Milch)")
	assert.Contains(t, err.Error(), "pantry commit r1")
}
