// Package extraction turns raw receipt text into a structured analysis with
// ranked EAN suggestions, using a stored prompt on the OpenAI Responses API.
//
// The prompt identity is fixed by configuration; the receipt text is sent
// only as the content of a single user message.
//
// Required Environment Variables:
//   - OPENAI_API_KEY: API key
//   - OPENAI_PROMPT_ID: identifier of the stored prompt
//
// Optional:
//   - OPENAI_PROMPT_VERSION: pinned prompt version
//   - OPENAI_BASE_URL: alternative API endpoint
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"pantry/internal/logger"
	"pantry/internal/validation"
	"pantry/pkg/models"
)

// Config holds the model call settings.
type Config struct {
	APIKey        string
	BaseURL       string
	PromptID      string
	PromptVersion string
	Timeout       time.Duration
}

// AnalysisResult is a successful analysis with the call's observability data.
type AnalysisResult struct {
	Analysis   *models.LlmReceiptAnalysis
	ResponseID string
	Elapsed    time.Duration
	Report     validation.Report
}

// Service calls the Responses API. It never retries; callers decide.
type Service struct {
	apiKey        string
	promptID      string
	promptVersion string
	client        openai.ClientConfig
	log           zerolog.Logger
}

// NewService creates the service from config. Missing settings are reported
// by Analyze, before any network call.
func NewService(config Config) *Service {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return NewServiceWithClient(config, &http.Client{Timeout: timeout})
}

// NewServiceWithClient creates the service with an explicit HTTP client (for testing).
func NewServiceWithClient(config Config, httpClient openai.HTTPDoer) *Service {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	clientConfig.HTTPClient = httpClient

	return &Service{
		apiKey:        config.APIKey,
		promptID:      config.PromptID,
		promptVersion: config.PromptVersion,
		client:        clientConfig,
		log:           logger.WithComponent("llm-extraction"),
	}
}

type promptRef struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Prompt promptRef      `json:"prompt"`
	Input  []inputMessage `json:"input"`
}

// Analyze sends text to the stored prompt and parses the answer.
// Every failure is an *ExtractionError carrying the elapsed time.
func (s *Service) Analyze(ctx context.Context, text string) (*AnalysisResult, error) {
	const op = "Analyze"
	start := time.Now()

	switch {
	case s.apiKey == "":
		return nil, newExtractionError(op, KindConfiguration, ErrMissingAPIKey, start)
	case s.promptID == "":
		return nil, newExtractionError(op, KindConfiguration, ErrMissingPromptID, start)
	case strings.TrimSpace(text) == "":
		return nil, newExtractionError(op, KindUnsupportedInput, ErrEmptyText, start)
	}

	s.log.Info().
		Str("prompt_id", s.promptID).
		Str("prompt_version", s.promptVersion).
		Int("text_length", len(text)).
		Msg("Starting receipt analysis")

	body, err := s.post(ctx, responsesRequest{
		Prompt: promptRef{ID: s.promptID, Version: s.promptVersion},
		Input:  []inputMessage{{Role: openai.ChatMessageRoleUser, Content: text}},
	})
	if err != nil {
		extErr := s.requestError(op, err, start)
		s.log.Error().
			Err(err).
			Str("kind", string(extErr.Kind)).
			Int64("elapsed_ms", extErr.Elapsed.Milliseconds()).
			Msg("Receipt analysis request failed")
		return nil, extErr
	}

	responseID, output, err := OutputText(body)
	if err != nil {
		s.log.Debug().Str("body", string(body)).Msg("Unrecognized response envelope")
		return nil, s.parseError(op, err, start)
	}
	s.log.Debug().Str("response_id", responseID).Str("output", output).Msg("Model output")

	analysis, report, err := ParseAnalysis(output)
	if err != nil {
		return nil, s.parseError(op, err, start)
	}

	result := &AnalysisResult{
		Analysis:   analysis,
		ResponseID: responseID,
		Elapsed:    time.Since(start),
		Report:     report,
	}

	s.log.Info().
		Str("response_id", responseID).
		Int("products", len(analysis.Products)).
		Int("dropped_products", report.DroppedProducts).
		Int("dropped_eans", report.DroppedEans).
		Int64("elapsed_ms", result.Elapsed.Milliseconds()).
		Msg("Receipt analysis completed")

	return result, nil
}

func (s *Service) requestError(op string, err error, start time.Time) *ExtractionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return newExtractionError(op, classifyStatus(apiErr), apiErr, start)
	}
	return newExtractionError(op, KindTransport, classifyTransport(err), start)
}

func (s *Service) parseError(op string, err error, start time.Time) *ExtractionError {
	extErr := newExtractionError(op, KindMalformedResponse, err, start)
	s.log.Error().
		Err(err).
		Int64("elapsed_ms", extErr.Elapsed.Milliseconds()).
		Msg("Receipt analysis response rejected")
	return extErr
}

// post sends the request and returns the body of a 2xx response. Other
// statuses are decoded into *openai.APIError.
func (s *Service) post(ctx context.Context, payload responsesRequest) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.BaseURL+"/responses", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if s.client.OrgID != "" {
		req.Header.Set("OpenAI-Organization", s.client.OrgID)
	}

	resp, err := s.client.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close response body")
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp, raw)
	}
	return raw, nil
}

func decodeAPIError(resp *http.Response, raw []byte) *openai.APIError {
	var errResp openai.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == nil {
		return &openai.APIError{
			HTTPStatusCode: resp.StatusCode,
			HTTPStatus:     resp.Status,
			Message:        strings.TrimSpace(string(raw)),
		}
	}
	errResp.Error.HTTPStatusCode = resp.StatusCode
	errResp.Error.HTTPStatus = resp.Status
	return errResp.Error
}
