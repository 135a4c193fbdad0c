package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pantry/internal/extraction"
	"pantry/internal/logger"
	"pantry/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [text-file]",
	Short: "Identify products in OCR text with the stored language model prompt",
	Long: `Send raw receipt text to the stored OpenAI prompt and print the detected
products with their EAN suggestions. Use "-" to read the text from stdin.

This is the same analysis "pantry scan" runs for providers that only return
text, such as Cloud Vision or Tesseract.

Required environment variables:
  OPENAI_API_KEY   - OpenAI API key
  OPENAI_PROMPT_ID - Stored prompt that answers with the receipt JSON

Optional:
  OPENAI_PROMPT_VERSION - Pin a prompt version
  OPENAI_BASE_URL       - Alternative API endpoint
  OPENAI_TIMEOUT        - Request timeout (default 90s)`,
	Example: `  # Analyze text produced by the ocr command
  pantry ocr receipt.jpg --provider tesseract -o receipt.txt
  pantry extract receipt.txt

  # Pipe text and keep the JSON
  cat receipt.txt | pantry extract - --json -o analysis.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// ExtractOutput is the JSON shape of the extract command.
type ExtractOutput struct {
	ResponseID      string                     `json:"response_id"`
	ElapsedMs       int64                      `json:"elapsed_ms"`
	DroppedProducts int                        `json:"dropped_products"`
	DroppedEans     int                        `json:"dropped_eans"`
	Analysis        *models.LlmReceiptAnalysis `json:"analysis"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("json", false, "Output as JSON")
	extractCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	text, err := readText(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	service := createExtractionService(cfg)
	if service == nil {
		return fmt.Errorf("language model not configured. Set OPENAI_API_KEY and OPENAI_PROMPT_ID")
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	result, err := service.Analyze(ctx, text)
	if err != nil {
		return handleExtractionError(err, log)
	}

	var out []byte
	if jsonOutput {
		out, err = marshalJSON(ExtractOutput{
			ResponseID:      result.ResponseID,
			ElapsedMs:       result.Elapsed.Milliseconds(),
			DroppedProducts: result.Report.DroppedProducts,
			DroppedEans:     result.Report.DroppedEans,
			Analysis:        result.Analysis,
		})
		if err != nil {
			return err
		}
	} else {
		out = []byte(formatAnalysis(result))
	}
	return writeOutput(out, outputPath, log)
}

func readText(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("text file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("no text to analyze in %s", path)
	}
	return string(data), nil
}

// handleExtractionError provides user-friendly error messages for model failures
func handleExtractionError(err error, log zerolog.Logger) error {
	var extErr *extraction.ExtractionError
	if !errors.As(err, &extErr) {
		log.Error().Err(err).Msg("Extraction failed")
		return fmt.Errorf("extraction failed: %w", err)
	}

	log.Error().
		Err(extErr.Err).
		Str("kind", string(extErr.Kind)).
		Int64("elapsed_ms", extErr.Elapsed.Milliseconds()).
		Msg("Extraction failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("model request timed out after %s. Try increasing --timeout", extErr.Elapsed.Round(time.Millisecond))
	case extErr.Kind == extraction.KindUnauthorized:
		return fmt.Errorf("OpenAI rejected the API key. Check OPENAI_API_KEY: %w", err)
	case extErr.Kind == extraction.KindQuota:
		return fmt.Errorf("OpenAI rate limit or quota exceeded. Wait and retry: %w", err)
	case extErr.Kind == extraction.KindMalformedResponse:
		return fmt.Errorf("the model answered with an unusable result. Check the stored prompt output format: %w", err)
	default:
		return fmt.Errorf("extraction failed: %w", err)
	}
}

func formatAnalysis(result *extraction.AnalysisResult) string {
	var b strings.Builder
	a := result.Analysis

	fmt.Fprintf(&b, "=== Analysis %s (%d ms) ===\n", result.ResponseID, result.Elapsed.Milliseconds())
	if a.MerchantName != nil {
		fmt.Fprintf(&b, "Merchant: %s\n", *a.MerchantName)
	}
	if a.PurchaseDate != nil {
		fmt.Fprintf(&b, "Date: %s\n", a.PurchaseDate.Format("2006-01-02"))
	}
	if a.TotalAmount.Valid {
		fmt.Fprintf(&b, "Total: %s\n", a.TotalAmount.Decimal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", a.Confidence*100)
	if result.Report.DroppedProducts > 0 || result.Report.DroppedEans > 0 {
		fmt.Fprintf(&b, "Dropped: %d products, %d EANs\n", result.Report.DroppedProducts, result.Report.DroppedEans)
	}

	b.WriteString("\n=== Products ===\n\n")
	for i, p := range a.Products {
		fmt.Fprintf(&b, "%3d. %-40s %s  (%.0f%%)\n", i+1, p.Name, formatPrice(p.TotalPrice.Decimal.StringFixed(2), p.TotalPrice.Valid), p.Confidence*100)
		for _, s := range p.SuggestedEans {
			fmt.Fprintf(&b, "       %s  %s %s (%.0f%%)\n", s.EAN, s.Brand, s.ProductName, s.Confidence*100)
		}
	}
	return b.String()
}
