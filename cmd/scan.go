package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pantry/internal/logger"
	"pantry/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [file-or-folder]",
	Short: "Scan receipts into the review queue",
	Long: `Recognize one receipt or every receipt in a folder, identify the purchased
products and store each receipt for review.

Each document becomes one receipt in the local database (RECEIPT_DB_PATH).
A receipt that could not be read is stored as FAILED together with the
reason, so it can be inspected with "pantry review show".

Folders are scanned recursively for jpg, png, webp, tiff, pdf and html
files. SCAN_WORKERS sets the default number of parallel workers (default 4).`,
	Example: `  # Scan a single photo
  pantry scan receipt.jpg

  # Scan an invoice PDF with a fixed provider
  pantry scan order.pdf --type invoice-pdf --provider document-ai

  # Scan a folder with 8 workers
  pantry scan ~/Receipts/2025-03 --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("type", "", "Document type for every file (default: from file name)")
	scanCmd.Flags().String("provider", "", "Use only this OCR provider")
	scanCmd.Flags().Int("workers", 0, "Parallel workers for folders (default: SCAN_WORKERS or 4)")
	scanCmd.Flags().Int("timeout", 1800, "Processing timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")

	typeFlag, _ := cmd.Flags().GetString("type")
	provider, _ := cmd.Flags().GetString("provider")
	workers, _ := cmd.Flags().GetInt("workers")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	if workers <= 0 {
		workers = getNumWorkers()
	}

	target := args[0]
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("file or folder not found: %s", target)
	}

	files := []string{target}
	if info.IsDir() {
		if files, err = scan.FindDocuments(target); err != nil {
			return fmt.Errorf("failed to find documents: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No receipts found in folder.")
			return nil
		}
	}

	var reqs []scan.Request
	var unreadable []string
	for _, path := range files {
		data, docType, err := readDocument(path, typeFlag, log)
		if err != nil {
			if !info.IsDir() {
				return err
			}
			log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable document")
			unreadable = append(unreadable, fmt.Sprintf("%s (%v)", filepath.Base(path), err))
			continue
		}
		reqs = append(reqs, scan.Request{Source: path, Data: data, Type: docType, Provider: provider})
	}

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore(st, log)

	orchestrator, err := createOrchestrator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeOrchestrator(orchestrator, log)

	var analyzer scan.Analyzer
	if service := createExtractionService(cfg); service != nil {
		analyzer = service
	} else {
		log.Warn().Msg("OPENAI_API_KEY or OPENAI_PROMPT_ID not set, text-only OCR results cannot be itemized")
	}

	pipeline := scan.NewPipeline(orchestrator, analyzer, createValidator(cfg), st).
		EnrichStructured(cfg.EnrichStructured)

	log.Info().
		Str("target", target).
		Int("documents", len(reqs)).
		Int("workers", workers).
		Str("provider", provider).
		Msg("Starting scan")

	if !info.IsDir() {
		result, err := pipeline.Scan(ctx, reqs[0])
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		printScanResult(result)
		return nil
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                              RECEIPT SCAN")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Folder: %s\n", target)
	fmt.Printf("Scanning %d documents with %d parallel workers...\n", len(reqs), workers)
	fmt.Println()

	results := pipeline.ScanBatch(ctx, reqs, workers, func(done, total int, r scan.BatchResult) {
		fmt.Printf("[%d/%d] %s - %s", done, total, filepath.Base(r.Source), r.Status())
		switch {
		case r.Err != nil:
			fmt.Printf(" (%s)", r.Err.Error())
		case r.Result.Failed():
			fmt.Printf(" (%s)", firstLine(r.Result.Receipt.FailureReason))
		default:
			fmt.Printf(" (%d items)", len(r.Result.Receipt.Items))
		}
		fmt.Println()
	})

	successCount, warningCount, errorCount := 0, 0, len(unreadable)
	for _, r := range results {
		switch r.Status() {
		case "success":
			successCount++
		case "warning":
			warningCount++
		case "error":
			errorCount++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RESULT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Ready for review: %d\n", successCount)
	if warningCount > 0 {
		fmt.Printf("Failed (stored): %d\n", warningCount)
	}
	if errorCount > 0 {
		fmt.Printf("Errors: %d\n", errorCount)
		for _, u := range unreadable {
			fmt.Printf("  - %s\n", u)
		}
	}
	fmt.Println()
	fmt.Println("Next: pantry review list --status COMPLETED")
	fmt.Println(strings.Repeat("=", 80))
	return nil
}

func printScanResult(result *scan.Result) {
	r := result.Receipt
	fmt.Printf("Receipt %s: %s\n", r.ID, r.Status)
	for _, a := range result.Attempts {
		fmt.Printf("  skipped %s: %s\n", a.Provider, a.Reason)
	}
	if result.Failed() {
		fmt.Printf("Reason: %s\n", r.FailureReason)
		return
	}
	fmt.Printf("Provider: %s\n", r.Provider)
	if result.Analysis != nil {
		fmt.Printf("Product analysis: %s (%d ms)\n", result.Analysis.ResponseID, result.Analysis.Elapsed.Milliseconds())
	}
	fmt.Println()
	printReceiptItems(r)
	fmt.Println()
	fmt.Printf("Next: pantry review show %s\n", r.ID)
}

// getNumWorkers returns the number of workers from environment or default
func getNumWorkers() int {
	if workersStr := os.Getenv("SCAN_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers > 0 {
			return workers
		}
	}
	return 4
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
