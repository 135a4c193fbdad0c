// Package scan runs one document through the receipt pipeline:
// OCR with fallback, language-model extraction for text-only results, item
// validation, and finally a persisted review receipt.
//
// Recognition and extraction failures do not surface as errors; they end in a
// FAILED receipt carrying the reason. Only persistence failures are returned.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pantry/internal/extraction"
	"pantry/internal/logger"
	"pantry/internal/ocr"
	"pantry/internal/review"
	"pantry/internal/validation"
	"pantry/pkg/models"
)

// Recognizer is the OCR side of the pipeline; *ocr.Orchestrator implements it.
type Recognizer interface {
	ProcessWithFallbackReport(ctx context.Context, data []byte, t models.DocumentType) (*ocr.FallbackReport, error)
	ProcessWithProvider(ctx context.Context, data []byte, t models.DocumentType, name string) (models.OcrProcessingResult, error)
}

// Analyzer extracts products from raw text; *extraction.Service implements it.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*extraction.AnalysisResult, error)
}

// ItemBuilder turns OCR data and an optional analysis into review items.
type ItemBuilder interface {
	BuildItems(ctx context.Context, data *models.OcrReceiptData, analysis *models.LlmReceiptAnalysis) ([]models.ReceiptItem, error)
}

// Repository persists receipts between CLI invocations.
type Repository interface {
	Save(ctx context.Context, r *review.Receipt) error
}

// ErrNoAnalyzer is the failure reason when text-only OCR output cannot be
// structured because no language model is configured.
var ErrNoAnalyzer = errors.New("no structured items and no language model configured")

// Request is one document to scan.
type Request struct {
	Source string
	Data   []byte
	Type   models.DocumentType

	// Provider forces a single OCR provider instead of the fallback chain.
	Provider string
}

// Result carries the persisted receipt and what produced it.
type Result struct {
	Receipt  *review.Receipt
	OCR      *models.OcrProcessingResult
	Attempts []ocr.Attempt
	Analysis *extraction.AnalysisResult
}

// Failed reports whether the scan ended in a FAILED receipt.
func (r *Result) Failed() bool {
	return r.Receipt.Status == review.StatusFailed
}

// Pipeline wires the stages together. The analyzer may be nil.
type Pipeline struct {
	recognizer Recognizer
	analyzer   Analyzer
	items      ItemBuilder
	repo       Repository
	enrich     bool
	newID      func() string
	now        func() time.Time
	log        zerolog.Logger
}

// NewPipeline creates a pipeline. A nil analyzer limits scanning to
// providers that return structured line items.
func NewPipeline(recognizer Recognizer, analyzer Analyzer, items ItemBuilder, repo Repository) *Pipeline {
	return &Pipeline{
		recognizer: recognizer,
		analyzer:   analyzer,
		items:      items,
		repo:       repo,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
		log:        logger.WithComponent("scan"),
	}
}

// EnrichStructured makes the pipeline send the text of structured OCR results
// to the analyzer as well, for EAN suggestions. Off by default: structured
// results are itemized without a model call.
func (p *Pipeline) EnrichStructured(enabled bool) *Pipeline {
	p.enrich = enabled
	return p
}

// Scan processes req and returns the saved receipt.
func (p *Pipeline) Scan(ctx context.Context, req Request) (*Result, error) {
	const op = "Scan"

	receipt := review.NewReceipt(p.newID(), req.Source, req.Type, p.now())
	if err := p.repo.Save(ctx, receipt); err != nil {
		return nil, fmt.Errorf("%s: save receipt: %w", op, err)
	}
	log := p.log.With().Str("receipt_id", receipt.ID).Logger()
	log.Info().
		Str("source", req.Source).
		Str("document_type", string(req.Type)).
		Int("size", len(req.Data)).
		Msg("Scanning document")

	result := &Result{Receipt: receipt}

	ocrResult, attempts, reason := p.recognize(ctx, req)
	result.Attempts = attempts
	if reason != "" {
		return result, p.fail(ctx, receipt, reason)
	}
	result.OCR = &ocrResult
	data := ocrResult.Data

	var analysis *models.LlmReceiptAnalysis
	wantAnalysis := !data.HasStructuredItems() || p.enrich
	if text := data.Text(); wantAnalysis && text != "" && p.analyzer != nil {
		analyzed, err := p.analyzer.Analyze(ctx, text)
		switch {
		case err == nil:
			result.Analysis = analyzed
			analysis = analyzed.Analysis
		case data.HasStructuredItems():
			log.Warn().Err(err).Msg("Product analysis failed, keeping structured OCR items")
		default:
			return result, p.fail(ctx, receipt, err.Error())
		}
	} else if !data.HasStructuredItems() {
		return result, p.fail(ctx, receipt, ErrNoAnalyzer.Error())
	}

	items, err := p.items.BuildItems(ctx, data, analysis)
	if err != nil {
		return result, p.fail(ctx, receipt, err.Error())
	}

	header := validation.MergeHeader(data, analysis)
	if err := receipt.Complete(ocrResult.Provider, header, items, p.now()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.repo.Save(ctx, receipt); err != nil {
		return nil, fmt.Errorf("%s: save receipt: %w", op, err)
	}

	log.Info().
		Str("provider", ocrResult.Provider).
		Int("items", len(items)).
		Bool("llm", analysis != nil).
		Msg("Receipt ready for review")
	return result, nil
}

// recognize runs OCR and returns a failure reason instead of an error.
func (p *Pipeline) recognize(ctx context.Context, req Request) (models.OcrProcessingResult, []ocr.Attempt, string) {
	if req.Provider != "" {
		res, err := p.recognizer.ProcessWithProvider(ctx, req.Data, req.Type, req.Provider)
		if err != nil {
			_, msg := ocr.ClassifyError(err)
			return models.OcrProcessingResult{}, nil, msg
		}
		if !res.Success {
			return res, nil, res.Error
		}
		return res, nil, ""
	}

	report, err := p.recognizer.ProcessWithFallbackReport(ctx, req.Data, req.Type)
	if err != nil {
		var fallbackErr *ocr.FallbackError
		if errors.As(err, &fallbackErr) {
			return models.OcrProcessingResult{}, fallbackErr.Attempts, fallbackErr.Error()
		}
		_, msg := ocr.ClassifyError(err)
		return models.OcrProcessingResult{}, nil, msg
	}
	if !report.Result.Success {
		return report.Result, report.Attempts, report.Result.Error
	}
	return report.Result, report.Attempts, ""
}

func (p *Pipeline) fail(ctx context.Context, receipt *review.Receipt, reason string) error {
	const op = "Scan"

	if err := receipt.Fail(reason, p.now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.repo.Save(ctx, receipt); err != nil {
		return fmt.Errorf("%s: save receipt: %w", op, err)
	}
	p.log.Warn().Str("receipt_id", receipt.ID).Str("reason", reason).Msg("Scan failed")
	return nil
}
