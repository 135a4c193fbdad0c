package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pantry/internal/config"
	"pantry/internal/logger"
	"pantry/internal/ocr"
	"pantry/pkg/models"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Recognize a receipt or invoice with the configured OCR providers",
	Long: `Run OCR on a single receipt photo, PDF or HTML invoice and print the
normalized result. Nothing is stored.

By default the configured default provider is tried first and the remaining
providers follow in OCR_FALLBACK_ORDER. Use --provider to force a single one.

Providers:
  document-ai   Google Document AI receipt and invoice processors
  cloud-vision  Google Cloud Vision text detection
  tesseract     local Tesseract engine (images only)

Relevant environment variables:
  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
  GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION
  DOCUMENT_AI_RECEIPT_PROCESSOR_ID, DOCUMENT_AI_INVOICE_PROCESSOR_ID
  OCR_DEFAULT_PROVIDER, OCR_FALLBACK_ENABLED, OCR_FALLBACK_ORDER`,
	Example: `  # Recognize a receipt photo with fallback
  pantry ocr receipt.jpg

  # Force the local engine and print JSON
  pantry ocr receipt.jpg --provider tesseract --json

  # Treat a PDF as an invoice and save the result
  pantry ocr order.pdf --type invoice-pdf --json -o order.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	FileName string                     `json:"file_name"`
	FileSize int                        `json:"file_size"`
	Result   models.OcrProcessingResult `json:"result"`
	Attempts []ocr.Attempt              `json:"attempts,omitempty"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().String("type", "", "Document type: receipt, invoice-pdf, invoice-html (default: from file name)")
	ocrCmd.Flags().String("provider", "", "Use only this provider")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	typeFlag, _ := cmd.Flags().GetString("type")
	provider, _ := cmd.Flags().GetString("provider")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	path := args[0]

	log.Info().
		Str("file", path).
		Str("provider", provider).
		Bool("json", jsonOutput).
		Int("timeout", timeoutSecs).
		Msg("Starting OCR processing")

	data, docType, err := readDocument(path, typeFlag, log)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	orchestrator, err := createOrchestrator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeOrchestrator(orchestrator, log)

	var (
		result   models.OcrProcessingResult
		attempts []ocr.Attempt
	)
	if provider != "" {
		result, err = orchestrator.ProcessWithProvider(ctx, data, docType, provider)
	} else {
		var report *ocr.FallbackReport
		report, err = orchestrator.ProcessWithFallbackReport(ctx, data, docType)
		if report != nil {
			result, attempts = report.Result, report.Attempts
		}
		var fallbackErr *ocr.FallbackError
		if errors.As(err, &fallbackErr) {
			attempts = fallbackErr.Attempts
		}
	}
	if err == nil && !result.Success {
		attempts = append(attempts, ocr.Attempt{Provider: result.Provider, Reason: result.Error})
		err = fmt.Errorf("%s: %s", result.Provider, result.Error)
	}
	if err != nil {
		return handleOCRError(err, attempts, log)
	}

	log.Info().
		Str("provider", result.Provider).
		Int64("processing_ms", result.ProcessingTimeMs).
		Float64("confidence", result.Data.Confidence).
		Int("line_items", len(result.Data.LineItems)).
		Msg("OCR processing completed successfully")

	var out []byte
	if jsonOutput {
		out, err = marshalJSON(OCROutput{
			FileName: filepath.Base(path),
			FileSize: len(data),
			Result:   result,
			Attempts: attempts,
		})
		if err != nil {
			return err
		}
	} else {
		out = []byte(formatOCRResult(filepath.Base(path), result, attempts))
	}
	return writeOutput(out, outputPath, log)
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, attempts []ocr.Attempt, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrUnknownProvider):
		return fmt.Errorf("unknown OCR provider. Choose one of: %s", strings.Join([]string{config.ProviderDocumentAI, config.ProviderCloudVision, config.ProviderTesseract}, ", "))
	}

	var fallbackErr *ocr.FallbackError
	if errors.As(err, &fallbackErr) {
		return fmt.Errorf("no OCR provider could read the document:%s", formatAttempts(fallbackErr.Attempts))
	}

	kind, message := ocr.ClassifyError(err)
	switch kind {
	case ocr.KindConfiguration:
		return fmt.Errorf("OCR provider is not configured: %s\n\n"+
			"Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS for the Google providers,\n"+
			"or install Tesseract and use --provider tesseract", message)
	case ocr.KindUnauthorized:
		return fmt.Errorf("Google Cloud authentication failed. Check that the service account JSON is valid\n"+
			"and has the Document AI and Cloud Vision roles.\n\nOriginal error: %v", err)
	}
	if len(attempts) > 0 {
		return fmt.Errorf("OCR processing failed:%s", formatAttempts(attempts))
	}
	return fmt.Errorf("OCR processing failed (%s): %s", kind, message)
}

func formatAttempts(attempts []ocr.Attempt) string {
	var b strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&b, "\n  - %s: %s", a.Provider, a.Reason)
	}
	return b.String()
}

// formatOCRResult renders the normalized receipt data as plain text.
func formatOCRResult(name string, result models.OcrProcessingResult, attempts []ocr.Attempt) string {
	var b strings.Builder
	data := result.Data

	fmt.Fprintf(&b, "=== OCR Results for %s ===\n", name)
	fmt.Fprintf(&b, "Provider: %s (%d ms)\n", result.Provider, result.ProcessingTimeMs)
	fmt.Fprintf(&b, "Document type: %s\n", result.DocumentType)
	for _, a := range attempts {
		fmt.Fprintf(&b, "Skipped %s: %s\n", a.Provider, a.Reason)
	}
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", data.Confidence*100)
	if data.MerchantName != nil {
		fmt.Fprintf(&b, "Merchant: %s\n", *data.MerchantName)
	}
	if data.PurchaseDate != nil {
		fmt.Fprintf(&b, "Date: %s\n", data.PurchaseDate.Format("2006-01-02"))
	}
	if data.TotalAmount.Valid {
		fmt.Fprintf(&b, "Total: %s %s\n", data.TotalAmount.Decimal.StringFixed(2), data.Currency)
	}
	if data.InvoiceNumber != nil {
		fmt.Fprintf(&b, "Invoice number: %s\n", *data.InvoiceNumber)
	}

	if len(data.LineItems) > 0 {
		b.WriteString("\n=== Line Items ===\n\n")
		for i, item := range data.LineItems {
			fmt.Fprintf(&b, "%3d. %-40s %s\n", i+1, item.Description, formatPrice(item.TotalPrice.Decimal.StringFixed(2), item.TotalPrice.Valid))
		}
	}
	if text := data.Text(); text != "" {
		b.WriteString("\n=== Extracted Text ===\n\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

func formatPrice(value string, valid bool) string {
	if !valid {
		return "-"
	}
	return value
}
