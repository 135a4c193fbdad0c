package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry/pkg/models"
)

type fakeProvider struct {
	name      string
	available bool
	supports  []models.DocumentType
	fail      string
	calls     int
	closed    bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SupportsDocumentType(t models.DocumentType) bool {
	if f.supports == nil {
		return true
	}
	for _, s := range f.supports {
		if s == t {
			return true
		}
	}
	return false
}

func (f *fakeProvider) IsAvailable() bool { return f.available }

func (f *fakeProvider) ProcessDocument(_ context.Context, data []byte, t models.DocumentType) models.OcrProcessingResult {
	f.calls++
	start := time.Now()
	if f.fail != "" {
		return Failed(f.name, t, start, errors.New(f.fail))
	}
	text := string(data)
	return Succeeded(f.name, t, start, &models.OcrReceiptData{
		Currency:      models.DefaultCurrency,
		Confidence:    0.8,
		ExtractedText: &text,
	})
}

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

var receiptBytes = []byte("REWE Markt\nMilch 1,29")

func newTestOrchestrator(t *testing.T, fallback bool, providers ...*fakeProvider) *Orchestrator {
	t.Helper()
	list := make([]Provider, 0, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		list = append(list, p)
		order = append(order, p.name)
	}
	o, err := NewOrchestrator(OrchestratorConfig{
		DefaultProvider: providers[0].name,
		FallbackEnabled: fallback,
		FallbackOrder:   order,
	}, list...)
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorConfig{DefaultProvider: "missing"}, &fakeProvider{name: "a"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewOrchestrator(OrchestratorConfig{DefaultProvider: "a"}, &fakeProvider{name: "a"}, &fakeProvider{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateProvider)
}

func TestProcess_DelegatesToDefault(t *testing.T) {
	primary := &fakeProvider{name: "primary", available: true}
	secondary := &fakeProvider{name: "secondary", available: true}
	o := newTestOrchestrator(t, true, primary, secondary)

	result, err := o.Process(context.Background(), receiptBytes, models.DocumentTypeReceiptImage)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "primary", result.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, secondary.calls)
}

func TestProcessWithProvider_Preconditions(t *testing.T) {
	available := &fakeProvider{name: "available", available: true, supports: []models.DocumentType{models.DocumentTypeReceiptImage}}
	offline := &fakeProvider{name: "offline", available: false}
	o := newTestOrchestrator(t, false, available, offline)
	ctx := context.Background()

	tests := []struct {
		name     string
		data     []byte
		docType  models.DocumentType
		provider string
		want     error
		message  string
	}{
		{"empty input", nil, models.DocumentTypeReceiptImage, "available", ErrEmptyInput, "document is empty"},
		{"unknown provider", receiptBytes, models.DocumentTypeReceiptImage, "abbyy", ErrUnknownProvider, "unknown provider"},
		{"unavailable provider", receiptBytes, models.DocumentTypeReceiptImage, "offline", ErrProviderNotAvailable, "provider not available"},
		{"unsupported type", receiptBytes, models.DocumentTypeInvoiceHTML, "available", ErrUnsupportedDocumentType, "not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.ProcessWithProvider(ctx, tt.data, tt.docType, tt.provider)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	assert.Zero(t, available.calls)
	assert.Zero(t, offline.calls, "unavailable provider must not be called")
}

func TestProcessWithProvider_FailureIsAResult(t *testing.T) {
	broken := &fakeProvider{name: "broken", available: true, fail: "connect: connection refused"}
	o := newTestOrchestrator(t, false, broken)

	result, err := o.ProcessWithProvider(context.Background(), receiptBytes, models.DocumentTypeReceiptImage, "broken")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	assert.Equal(t, "connection refused: the OCR service could not be reached", result.Error)
}

func TestProcessWithProvider_Idempotent(t *testing.T) {
	p := &fakeProvider{name: "text", available: true}
	o := newTestOrchestrator(t, false, p)
	ctx := context.Background()

	first, err := o.ProcessWithProvider(ctx, receiptBytes, models.DocumentTypeReceiptImage, "text")
	require.NoError(t, err)
	second, err := o.ProcessWithProvider(ctx, receiptBytes, models.DocumentTypeReceiptImage, "text")
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.NotSame(t, first.Data, second.Data)
}

func TestProcessWithFallback_SkipsUnavailableDefault(t *testing.T) {
	primary := &fakeProvider{name: "primary", available: false}
	secondary := &fakeProvider{name: "secondary", available: true}
	o := newTestOrchestrator(t, true, primary, secondary)

	report, err := o.ProcessWithFallbackReport(context.Background(), receiptBytes, models.DocumentTypeReceiptImage)
	require.NoError(t, err)

	assert.True(t, report.Result.Success)
	assert.Equal(t, "secondary", report.Result.Provider)
	require.Len(t, report.Attempts, 1)
	assert.Equal(t, Attempt{Provider: "primary", Reason: "provider not available"}, report.Attempts[0])
	assert.Zero(t, primary.calls)
}

func TestProcessWithFallback_StopsAtFirstSuccess(t *testing.T) {
	first := &fakeProvider{name: "first", available: true, fail: "boom"}
	second := &fakeProvider{name: "second", available: true}
	third := &fakeProvider{name: "third", available: true}
	o := newTestOrchestrator(t, true, first, second, third)

	result, err := o.ProcessWithFallback(context.Background(), receiptBytes, models.DocumentTypeReceiptImage)
	require.NoError(t, err)

	assert.Equal(t, "second", result.Provider)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Zero(t, third.calls)
}

func TestProcessWithFallback_AllFail(t *testing.T) {
	providers := []*fakeProvider{
		{name: "a", available: true, fail: "rpc error: code = Unauthenticated desc = bad key"},
		{name: "b", available: false},
		{name: "c", available: true, supports: []models.DocumentType{models.DocumentTypeInvoicePDF}},
		{name: "d", available: true, fail: "kaputt"},
	}
	o := newTestOrchestrator(t, true, providers...)

	_, err := o.ProcessWithFallback(context.Background(), receiptBytes, models.DocumentTypeReceiptImage)
	require.Error(t, err)

	var fallbackErr *FallbackError
	require.True(t, errors.As(err, &fallbackErr))
	require.Len(t, fallbackErr.Attempts, len(providers))
	assert.Equal(t, "authentication failed (401): check the configured credentials", fallbackErr.Attempts[0].Reason)
	assert.Equal(t, "provider not available", fallbackErr.Attempts[1].Reason)
	assert.Equal(t, "does not support RECEIPT_IMAGE", fallbackErr.Attempts[2].Reason)
	assert.Equal(t, "kaputt", fallbackErr.Attempts[3].Reason)

	for _, p := range providers {
		assert.LessOrEqual(t, p.calls, 1, "provider %s tried more than once", p.name)
	}
}

func TestProcessWithFallback_DisabledUsesDefaultOnly(t *testing.T) {
	primary := &fakeProvider{name: "primary", available: true, fail: "boom"}
	secondary := &fakeProvider{name: "secondary", available: true}
	o := newTestOrchestrator(t, false, primary, secondary)

	result, err := o.ProcessWithFallback(context.Background(), receiptBytes, models.DocumentTypeReceiptImage)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "primary", result.Provider)
	assert.Zero(t, secondary.calls)
}

func TestProcessWithFallback_CanceledContext(t *testing.T) {
	primary := &fakeProvider{name: "primary", available: true}
	o := newTestOrchestrator(t, true, primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.ProcessWithFallback(ctx, receiptBytes, models.DocumentTypeReceiptImage)
	var fallbackErr *FallbackError
	require.True(t, errors.As(err, &fallbackErr))
	assert.Zero(t, primary.calls)
}

func TestOrchestrator_Close(t *testing.T) {
	a := &fakeProvider{name: "a", available: true}
	b := &fakeProvider{name: "b", available: true}
	o := newTestOrchestrator(t, true, a, b)

	require.NoError(t, o.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, []string{"a", "b"}, o.Names())
}
