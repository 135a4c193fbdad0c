package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION", "GOOGLE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS",
		"OCR_DEFAULT_PROVIDER", "OCR_FALLBACK_ENABLED", "OCR_FALLBACK_ORDER", "OPENAI_API_KEY",
		"MONTHLY_BUDGET", "DOCUMENT_AI_TIMEOUT", "OPENAI_TIMEOUT", "OPENAI_ENRICH_STRUCTURED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderDocumentAI, cfg.DefaultProvider)
	assert.True(t, cfg.FallbackEnabled)
	assert.Equal(t, []string{ProviderDocumentAI, ProviderCloudVision, ProviderTesseract}, cfg.FallbackOrder)
	assert.Equal(t, "eu", cfg.GoogleCloudLocation)
	assert.Equal(t, 60*time.Second, cfg.DocumentAITimeout)
	assert.False(t, cfg.EnrichStructured)
	assert.False(t, cfg.HasGoogleCredentials())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCR_DEFAULT_PROVIDER", ProviderTesseract)
	t.Setenv("OCR_FALLBACK_ENABLED", "false")
	t.Setenv("OCR_FALLBACK_ORDER", " tesseract , cloud-vision ")
	t.Setenv("DOCUMENT_AI_TIMEOUT", "15")
	t.Setenv("GOOGLE_CREDENTIALS", "{}")
	t.Setenv("OPENAI_ENRICH_STRUCTURED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderTesseract, cfg.DefaultProvider)
	assert.False(t, cfg.FallbackEnabled)
	assert.Equal(t, []string{ProviderTesseract, ProviderCloudVision}, cfg.FallbackOrder)
	assert.Equal(t, 15*time.Second, cfg.DocumentAITimeout)
	assert.True(t, cfg.HasGoogleCredentials())
	assert.True(t, cfg.EnrichStructured)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown default provider", "OCR_DEFAULT_PROVIDER", "abbyy"},
		{"unknown fallback provider", "OCR_FALLBACK_ORDER", "tesseract,abbyy"},
		{"bad boolean", "OCR_FALLBACK_ENABLED", "sometimes"},
		{"bad budget", "MONTHLY_BUDGET", "a lot"},
		{"bad duration", "OPENAI_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
