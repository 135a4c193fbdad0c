package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messageEnvelope wraps text the way the Responses API returns assistant messages.
func messageEnvelope(t *testing.T, text string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id": "resp_123",
		"output": []any{
			map[string]any{"type": "reasoning", "summary": []any{}},
			map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": text},
				},
			},
		},
	})
	require.NoError(t, err)
	return string(body)
}

type recorded struct {
	calls   atomic.Int32
	path    string
	auth    string
	payload responsesRequest
}

func newTestService(t *testing.T, status int, body string) (*Service, *recorded) {
	t.Helper()
	rec := &recorded{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.calls.Add(1)
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &rec.payload)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	svc := NewServiceWithClient(Config{
		APIKey:        "sk-test",
		BaseURL:       server.URL + "/v1/",
		PromptID:      "pmpt_receipts",
		PromptVersion: "3",
	}, server.Client())
	return svc, rec
}

func TestAnalyze_FenceWrappedOutput(t *testing.T) {
	output := "```json\n{\"products\":[{\"name\":\"Milk\",\"suggestedEans\":[{\"ean\":\"12345\"}]}]}\n```"
	svc, rec := newTestService(t, http.StatusOK, messageEnvelope(t, output))

	result, err := svc.Analyze(context.Background(), "REWE\nMILCH 1,29")
	require.NoError(t, err)

	require.Len(t, result.Analysis.Products, 1)
	milk := result.Analysis.Products[0]
	assert.Equal(t, "Milk", milk.Name)
	assert.NotNil(t, milk.SuggestedEans)
	assert.Empty(t, milk.SuggestedEans)
	assert.Equal(t, 1, result.Report.DroppedEans)
	assert.Equal(t, "resp_123", result.ResponseID)
	assert.Greater(t, result.Elapsed, time.Duration(0))

	assert.Equal(t, "/v1/responses", rec.path)
	assert.Equal(t, "Bearer sk-test", rec.auth)
	assert.Equal(t, promptRef{ID: "pmpt_receipts", Version: "3"}, rec.payload.Prompt)
	require.Len(t, rec.payload.Input, 1)
	assert.Equal(t, inputMessage{Role: "user", Content: "REWE\nMILCH 1,29"}, rec.payload.Input[0])
}

func TestAnalyze_DirectTextShape(t *testing.T) {
	body := `{"id":"resp_9","output":[{"type":"output_text","text":"{\"merchantName\":\"EDEKA\",\"purchaseDate\":\"09.03.2024\",\"totalAmount\":\"4,48\",\"confidence\":0.9,\"products\":[{\"name\":\"Butter\",\"totalPrice\":2.19,\"confidence\":\"0.8\",\"suggestedEans\":[{\"ean\":\"4006381333931\",\"confidence\":0.7}]}]}"}]}`
	svc, _ := newTestService(t, http.StatusOK, body)

	result, err := svc.Analyze(context.Background(), "EDEKA\nBUTTER 2,19")
	require.NoError(t, err)

	a := result.Analysis
	require.NotNil(t, a.MerchantName)
	assert.Equal(t, "EDEKA", *a.MerchantName)
	require.NotNil(t, a.PurchaseDate)
	assert.Equal(t, "2024-03-09", a.PurchaseDate.Format("2006-01-02"))
	assert.Equal(t, "4.48", a.TotalAmount.Decimal.StringFixed(2))
	assert.Equal(t, 0.9, a.Confidence)

	require.Len(t, a.Products, 1)
	butter := a.Products[0]
	assert.Equal(t, 0.8, butter.Confidence)
	assert.Equal(t, "2.19", butter.TotalPrice.Decimal.StringFixed(2))
	require.Len(t, butter.SuggestedEans, 1)
	assert.Equal(t, "-", butter.SuggestedEans[0].Brand)
	assert.Equal(t, "Butter", butter.SuggestedEans[0].ProductName)
}

func TestAnalyze_MissingProducts(t *testing.T) {
	svc, _ := newTestService(t, http.StatusOK, messageEnvelope(t, `{"merchantName":"REWE","items":[]}`))

	result, err := svc.Analyze(context.Background(), "REWE")

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingProducts)
	assert.Contains(t, err.Error(), "missing products field")

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, KindMalformedResponse, extErr.Kind)
}

func TestAnalyze_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no output", `{"id":"resp_1","output":[]}`, ErrUnrecognizedResponse},
		{"only refusal content", `{"output":[{"type":"message","content":[{"type":"refusal","refusal":"no"}]}]}`, ErrUnrecognizedResponse},
		{"not json envelope", `<html>bad gateway</html>`, ErrUnrecognizedResponse},
		{"invalid model json", `{"output":[{"type":"message","content":[{"type":"output_text","text":"Sure! Here are the products"}]}]}`, ErrInvalidJSON},
		{"products not a list", `{"output":[{"text":"{\"products\":{\"name\":\"Milk\"}}"}]}`, ErrMissingProducts},
		{"products null", `{"output":[{"text":"{\"products\":null}"}]}`, ErrMissingProducts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, http.StatusOK, tt.body)
			result, err := svc.Analyze(context.Background(), "text")
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnalyze_FailsFastWithoutConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		text   string
		want   error
		kind   ErrorKind
	}{
		{"missing key", Config{PromptID: "pmpt"}, "text", ErrMissingAPIKey, KindConfiguration},
		{"missing prompt", Config{APIKey: "sk"}, "text", ErrMissingPromptID, KindConfiguration},
		{"empty text", Config{APIKey: "sk", PromptID: "pmpt"}, "  \n", ErrEmptyText, KindUnsupportedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
			}))
			defer server.Close()

			tt.config.BaseURL = server.URL
			svc := NewServiceWithClient(tt.config, server.Client())

			_, err := svc.Analyze(context.Background(), tt.text)
			assert.ErrorIs(t, err, tt.want)

			var extErr *ExtractionError
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, tt.kind, extErr.Kind)
			assert.Zero(t, calls.Load(), "no request may be sent")
		})
	}
}

func TestAnalyze_UpstreamRejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, KindUnauthorized},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, KindQuota},
		{"server error without json", http.StatusBadGateway, `upstream connect error`, KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, rec := newTestService(t, tt.status, tt.body)

			_, err := svc.Analyze(context.Background(), "text")
			require.Error(t, err)

			var extErr *ExtractionError
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, tt.kind, extErr.Kind)

			var apiErr *openai.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.HTTPStatusCode)
			assert.Equal(t, int32(1), rec.calls.Load(), "requests are never retried")
		})
	}
}

func TestAnalyze_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	svc := NewServiceWithClient(Config{APIKey: "sk", PromptID: "pmpt", BaseURL: url}, http.DefaultClient)

	_, err := svc.Analyze(context.Background(), "text")
	require.Error(t, err)

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, KindTransport, extErr.Kind)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAnalyze_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	svc := NewServiceWithClient(Config{APIKey: "sk", PromptID: "pmpt", BaseURL: server.URL}, server.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.Analyze(ctx, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request timed out")

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.GreaterOrEqual(t, extErr.Elapsed, 50*time.Millisecond)
}
