// Package tesseract provides the local, text-only OCR provider backed by the
// Tesseract engine through gosseract. It needs no network access and is always
// available; it only supports photographed receipts.
package tesseract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"pantry/internal/logger"
	"pantry/internal/ocr"
	"pantry/pkg/models"
)

// Name is the registry name of the Tesseract provider.
const Name = "tesseract"

// Worker is the subset of *gosseract.Client the provider drives.
type Worker interface {
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// WorkerFactory builds a recognition worker for the given language.
type WorkerFactory func(language string) (Worker, error)

func newGosseractWorker(language string) (Worker, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("set tesseract language %q: %w", language, err)
	}
	return client, nil
}

// Provider holds one lazily created recognition worker. Calls into the worker
// are serialized because a Tesseract client is not safe for concurrent use.
type Provider struct {
	language  string
	newWorker WorkerFactory

	mu     sync.Mutex
	worker Worker
	closed bool

	log zerolog.Logger
}

// New creates the provider for a single fixed recognition language (e.g. "deu").
func New(language string) *Provider {
	return NewWithFactory(language, newGosseractWorker)
}

// NewWithFactory creates the provider with an explicit worker factory (for testing).
func NewWithFactory(language string, factory WorkerFactory) *Provider {
	if language == "" {
		language = "eng"
	}
	return &Provider{
		language:  language,
		newWorker: factory,
		log:       logger.WithComponent("tesseract"),
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) SupportsDocumentType(t models.DocumentType) bool {
	return t == models.DocumentTypeReceiptImage
}

// IsAvailable is always true until the provider is closed.
func (p *Provider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// ProcessDocument recognizes the image and returns the normalized text and the
// mean word confidence rescaled from 0-100 to 0-1. Structured fields stay empty.
func (p *Provider) ProcessDocument(ctx context.Context, data []byte, t models.DocumentType) models.OcrProcessingResult {
	const op = "ProcessDocument"
	start := time.Now()

	if err := ocr.CheckInput(data, t); err != nil {
		return ocr.Failed(Name, t, start, err)
	}
	if !p.SupportsDocumentType(t) {
		return ocr.Failed(Name, t, start, ocr.NewOCRError(op, ocr.ErrUnsupportedDocumentType, string(t)))
	}
	if err := ctx.Err(); err != nil {
		return ocr.Failed(Name, t, start, err)
	}

	text, confidence, err := p.recognize(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("Tesseract recognition failed")
		return ocr.Failed(Name, t, start, ocr.WrapOCRError(op, err, "tesseract recognition failed"))
	}

	normalized := ocr.NormalizeText(text)
	if normalized == "" {
		return ocr.Failed(Name, t, start, ocr.NewOCRError(op, ocr.ErrEmptyDocument, ""))
	}

	p.log.Info().
		Int("text_length", len(normalized)).
		Float64("confidence", confidence).
		Dur("duration", time.Since(start)).
		Msg("Tesseract recognition completed")

	return ocr.Succeeded(Name, t, start, &models.OcrReceiptData{
		Currency:      models.DefaultCurrency,
		LineItems:     []models.OcrLineItem{},
		Confidence:    confidence,
		ExtractedText: &normalized,
	})
}

// recognize runs the worker under the lock, creating it on first use.
func (p *Provider) recognize(data []byte) (string, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", 0, ocr.ErrProviderNotAvailable
	}
	if p.worker == nil {
		w, err := p.newWorker(p.language)
		if err != nil {
			return "", 0, err
		}
		p.log.Debug().Str("language", p.language).Msg("Created tesseract worker")
		p.worker = w
	}

	if err := p.worker.SetImageFromBytes(data); err != nil {
		return "", 0, err
	}
	text, err := p.worker.Text()
	if err != nil {
		return "", 0, err
	}

	boxes, err := p.worker.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		p.log.Debug().Err(err).Msg("Word confidences unavailable")
		return text, 0, nil
	}
	return text, meanConfidence(boxes), nil
}

// meanConfidence averages word confidences and rescales them to [0,1].
func meanConfidence(boxes []gosseract.BoundingBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	mean := sum / float64(len(boxes)) / 100
	switch {
	case mean < 0:
		return 0
	case mean > 1:
		return 1
	}
	return mean
}

// Close releases the worker. The provider is unavailable afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.worker == nil {
		return nil
	}
	err := p.worker.Close()
	p.worker = nil
	if err != nil {
		return fmt.Errorf("close tesseract worker: %w", err)
	}
	return nil
}
