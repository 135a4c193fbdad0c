package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"pantry/internal/category"
	"pantry/internal/config"
	"pantry/internal/extraction"
	"pantry/internal/ocr"
	"pantry/internal/ocr/tesseract"
	"pantry/internal/review"
	"pantry/internal/sheets"
	"pantry/internal/store"
	"pantry/internal/validation"
	"pantry/pkg/models"
)

// loadConfig reads the environment configuration for a command.
func loadConfig(log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// createOrchestrator registers every OCR provider. Providers without
// credentials stay registered but report themselves unavailable.
func createOrchestrator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ocr.Orchestrator, error) {
	documentAI := ocr.NewDocumentAIProvider(ctx, ocr.DocumentAIConfig{
		ProjectID:          cfg.GoogleCloudProject,
		Location:           cfg.GoogleCloudLocation,
		ReceiptProcessorID: cfg.ReceiptProcessorID,
		InvoiceProcessorID: cfg.InvoiceProcessorID,
		CredentialsJSON:    cfg.GoogleCredentialsJSON,
		CredentialsFile:    cfg.GoogleCredentialsFile,
		Timeout:            cfg.DocumentAITimeout,
	})
	vision := ocr.NewGoogleVisionProvider(ctx, ocr.VisionConfig{
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		CredentialsFile: cfg.GoogleCredentialsFile,
		Timeout:         cfg.DocumentAITimeout,
	})
	local := tesseract.New(cfg.TesseractLanguage)

	orchestrator, err := ocr.NewOrchestrator(ocr.OrchestratorConfig{
		DefaultProvider: cfg.DefaultProvider,
		FallbackEnabled: cfg.FallbackEnabled,
		FallbackOrder:   cfg.FallbackOrder,
	}, documentAI, vision, local)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create OCR orchestrator")
		return nil, fmt.Errorf("failed to create OCR orchestrator: %w", err)
	}

	for _, name := range orchestrator.Names() {
		p, _ := orchestrator.Provider(name)
		log.Debug().Str("provider", name).Bool("available", p.IsAvailable()).Msg("OCR provider")
	}
	return orchestrator, nil
}

func closeOrchestrator(o *ocr.Orchestrator, log zerolog.Logger) {
	if err := o.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close OCR providers")
	}
}

// createExtractionService returns nil when the language model is not configured.
func createExtractionService(cfg *config.Config) *extraction.Service {
	if cfg.OpenAIAPIKey == "" || cfg.OpenAIPromptID == "" {
		return nil
	}
	return extraction.NewService(extraction.Config{
		APIKey:        cfg.OpenAIAPIKey,
		BaseURL:       cfg.OpenAIBaseURL,
		PromptID:      cfg.OpenAIPromptID,
		PromptVersion: cfg.OpenAIPromptVersion,
		Timeout:       cfg.ExtractionTimeout,
	})
}

// createValidator uses the chat classifier for categories when a model is configured.
func createValidator(cfg *config.Config) *validation.ItemValidator {
	var guesser category.Guesser = category.KeywordGuesser{}
	if cfg.OpenAICategoryModel != "" && cfg.OpenAIAPIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			clientConfig.BaseURL = cfg.OpenAIBaseURL
		}
		guesser = category.NewLLMGuesser(openai.NewClientWithConfig(clientConfig), cfg.OpenAICategoryModel, guesser)
	}
	return validation.New(guesser)
}

// openStore opens and migrates the receipt database.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.ReceiptDBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.ReceiptDBPath).Msg("Failed to open receipt store")
		return nil, fmt.Errorf("failed to open receipt store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to migrate receipt store: %w", err)
	}
	return st, nil
}

func closeStore(st *store.SQLiteStore, log zerolog.Logger) {
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close receipt store")
	}
}

// createSheetsService connects the inventory, ledger and catalog worksheets.
func createSheetsService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sheets.Service, error) {
	if cfg.GoogleSheetURL == "" {
		return nil, fmt.Errorf("GOOGLE_SHEET_URL is not set. Point it at the spreadsheet holding the %s, %s and %s worksheets",
			cfg.InventoryWorksheet, cfg.ExpenseWorksheet, cfg.CatalogWorksheet)
	}
	svc, err := sheets.NewSheetsService(ctx, sheets.Config{
		SheetURL:           cfg.GoogleSheetURL,
		CredentialsJSON:    cfg.GoogleCredentialsJSON,
		CredentialsFile:    cfg.GoogleCredentialsFile,
		InventoryWorksheet: cfg.InventoryWorksheet,
		ExpenseWorksheet:   cfg.ExpenseWorksheet,
		CatalogWorksheet:   cfg.CatalogWorksheet,
		MonthlyBudget:      cfg.MonthlyBudget,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Google Sheets service")
		return nil, fmt.Errorf("failed to connect to Google Sheets: %w", err)
	}
	return svc, nil
}

// createWorkflow wires the review workflow to the Sheets collaborators.
func createWorkflow(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*review.Workflow, error) {
	svc, err := createSheetsService(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return review.NewWorkflow(svc, svc, svc), nil
}

// readDocument loads a document and resolves its type from the flag or the file name.
func readDocument(path, typeFlag string, log zerolog.Logger) ([]byte, models.DocumentType, error) {
	docType := models.DetectDocumentType(path)
	if typeFlag != "" {
		parsed, err := models.ParseDocumentType(typeFlag)
		if err != nil {
			return nil, "", err
		}
		docType = parsed
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, "", fmt.Errorf("permission denied accessing file: %s", path)
		}
		return nil, "", fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return nil, "", fmt.Errorf("file is empty: %s", path)
	}
	if info.Size() > ocr.MaxFileSizeBytes {
		return nil, "", fmt.Errorf("file too large (%d bytes). Maximum size is %d bytes (20MB)", info.Size(), ocr.MaxFileSizeBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}

	log.Debug().
		Str("file", path).
		Int64("size", info.Size()).
		Str("document_type", string(docType)).
		Msg("Document loaded")
	return data, docType, nil
}

// writeOutput writes data to path, or stdout when path is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Error().Err(err).Str("output_file", outputPath).Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().Str("output_file", outputPath).Int("bytes", len(data)).Msg("Results written to file")
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON output: %w", err)
	}
	return append(data, '\n'), nil
}
