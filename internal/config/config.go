package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pantry/internal/logger"
)

// Provider names used in the OCR registry.
const (
	ProviderDocumentAI  = "document-ai"
	ProviderCloudVision = "cloud-vision"
	ProviderTesseract   = "tesseract"
)

type Config struct {
	// Google Cloud Configuration
	GoogleCloudProject    string
	GoogleCloudLocation   string
	GoogleCredentialsJSON string
	GoogleCredentialsFile string
	ReceiptProcessorID    string
	InvoiceProcessorID    string
	DocumentAITimeout     time.Duration

	// OCR orchestration
	DefaultProvider   string
	FallbackEnabled   bool
	FallbackOrder     []string
	TesseractLanguage string

	// OpenAI Configuration
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIPromptID      string
	OpenAIPromptVersion string
	OpenAICategoryModel string
	ExtractionTimeout   time.Duration
	EnrichStructured    bool

	// Google Sheets Configuration
	GoogleSheetURL     string
	InventoryWorksheet string
	ExpenseWorksheet   string
	CatalogWorksheet   string
	MonthlyBudget      string

	// Receipt store
	ReceiptDBPath string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads the configuration from the environment. Missing credentials are not
// an error: the matching provider simply reports itself unavailable.
func Load() (*Config, error) {
	config := &Config{
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "eu"),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		ReceiptProcessorID:    getEnv("DOCUMENT_AI_RECEIPT_PROCESSOR_ID", ""),
		InvoiceProcessorID:    getEnv("DOCUMENT_AI_INVOICE_PROCESSOR_ID", ""),
		DefaultProvider:       getEnv("OCR_DEFAULT_PROVIDER", ProviderDocumentAI),
		FallbackOrder:         splitList(getEnv("OCR_FALLBACK_ORDER", strings.Join([]string{ProviderDocumentAI, ProviderCloudVision, ProviderTesseract}, ","))),
		TesseractLanguage:     getEnv("TESSERACT_LANGUAGE", "deu"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAIPromptID:        getEnv("OPENAI_PROMPT_ID", ""),
		OpenAIPromptVersion:   getEnv("OPENAI_PROMPT_VERSION", ""),
		OpenAICategoryModel:   getEnv("OPENAI_CATEGORY_MODEL", ""),
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		InventoryWorksheet:    getEnv("INVENTORY_WORKSHEET", "Inventory"),
		ExpenseWorksheet:      getEnv("EXPENSE_WORKSHEET", "Expenses"),
		CatalogWorksheet:      getEnv("CATALOG_WORKSHEET", "Products"),
		MonthlyBudget:         getEnv("MONTHLY_BUDGET", ""),
		ReceiptDBPath:         getEnv("RECEIPT_DB_PATH", "pantry.db"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.FallbackEnabled, err = getBool("OCR_FALLBACK_ENABLED", true); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.DocumentAITimeout, err = getDuration("DOCUMENT_AI_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.EnrichStructured, err = getBool("OPENAI_ENRICH_STRUCTURED", false); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.ExtractionTimeout, err = getDuration("OPENAI_TIMEOUT", 90*time.Second); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	known := map[string]bool{ProviderDocumentAI: true, ProviderCloudVision: true, ProviderTesseract: true}
	if !known[c.DefaultProvider] {
		return fmt.Errorf("OCR_DEFAULT_PROVIDER %q is not a known provider", c.DefaultProvider)
	}
	for _, name := range c.FallbackOrder {
		if !known[name] {
			return fmt.Errorf("OCR_FALLBACK_ORDER contains unknown provider %q", name)
		}
	}
	if c.MonthlyBudget != "" {
		if _, err := strconv.ParseFloat(c.MonthlyBudget, 64); err != nil {
			return fmt.Errorf("MONTHLY_BUDGET must be a number: %w", err)
		}
	}
	return nil
}

// HasGoogleCredentials reports whether any Google credential source is configured.
func (c *Config) HasGoogleCredentials() bool {
	return c.GoogleCredentialsJSON != "" || c.GoogleCredentialsFile != ""
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
