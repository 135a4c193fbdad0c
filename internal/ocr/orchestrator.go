package ocr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"pantry/internal/logger"
	"pantry/pkg/models"
)

// OrchestratorConfig selects the default provider and the fallback chain.
type OrchestratorConfig struct {
	DefaultProvider string
	FallbackEnabled bool

	// FallbackOrder is the priority list walked after the default provider.
	FallbackOrder []string
}

// Orchestrator owns the provider registry. Providers are registered once at
// startup; the registry is read-only afterwards.
type Orchestrator struct {
	providers map[string]Provider
	config    OrchestratorConfig
	log       zerolog.Logger
}

// FallbackReport is the outcome of a successful fallback walk together with
// the reasons every earlier provider was skipped or failed.
type FallbackReport struct {
	Result   models.OcrProcessingResult
	Attempts []Attempt
}

// NewOrchestrator creates an orchestrator with the given providers registered.
func NewOrchestrator(config OrchestratorConfig, providers ...Provider) (*Orchestrator, error) {
	o := &Orchestrator{
		providers: make(map[string]Provider, len(providers)),
		config:    config,
		log:       logger.WithComponent("ocr-orchestrator"),
	}
	for _, p := range providers {
		if err := o.register(p); err != nil {
			return nil, err
		}
	}
	if _, ok := o.providers[config.DefaultProvider]; !ok {
		return nil, NewOCRError("NewOrchestrator", ErrUnknownProvider, fmt.Sprintf("default provider %q is not registered", config.DefaultProvider))
	}
	return o, nil
}

func (o *Orchestrator) register(p Provider) error {
	name := p.Name()
	if _, exists := o.providers[name]; exists {
		return NewOCRError("Register", ErrDuplicateProvider, name)
	}
	o.providers[name] = p
	o.log.Debug().
		Str("provider", name).
		Bool("available", p.IsAvailable()).
		Msg("Registered OCR provider")
	return nil
}

// Provider returns the provider registered under name.
func (o *Orchestrator) Provider(name string) (Provider, bool) {
	p, ok := o.providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (o *Orchestrator) Names() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider returns the configured default provider name.
func (o *Orchestrator) DefaultProvider() string {
	return o.config.DefaultProvider
}

// Process delegates to the default provider.
func (o *Orchestrator) Process(ctx context.Context, data []byte, t models.DocumentType) (models.OcrProcessingResult, error) {
	return o.ProcessWithProvider(ctx, data, t, o.config.DefaultProvider)
}

// ProcessWithProvider validates the input and the named provider before delegating to it.
// A provider-level failure comes back as a result with Success=false, not as an error.
func (o *Orchestrator) ProcessWithProvider(ctx context.Context, data []byte, t models.DocumentType, name string) (models.OcrProcessingResult, error) {
	const op = "ProcessWithProvider"

	if len(data) == 0 {
		return models.OcrProcessingResult{}, NewOCRError(op, ErrEmptyInput, "")
	}

	p, ok := o.providers[name]
	if !ok {
		return models.OcrProcessingResult{}, NewOCRError(op, ErrUnknownProvider, name)
	}
	if !p.IsAvailable() {
		return models.OcrProcessingResult{}, NewOCRError(op, ErrProviderNotAvailable, name)
	}
	if !p.SupportsDocumentType(t) {
		return models.OcrProcessingResult{}, NewOCRError(op, ErrUnsupportedDocumentType, fmt.Sprintf("%s does not support %s", name, t))
	}

	result := p.ProcessDocument(ctx, data, t)
	o.logAttempt(result)
	return result, nil
}

// ProcessWithFallback returns the first successful result of the fallback chain.
func (o *Orchestrator) ProcessWithFallback(ctx context.Context, data []byte, t models.DocumentType) (models.OcrProcessingResult, error) {
	report, err := o.ProcessWithFallbackReport(ctx, data, t)
	if err != nil {
		return models.OcrProcessingResult{}, err
	}
	return report.Result, nil
}

// ProcessWithFallbackReport walks the chain in priority order, default first, trying each
// provider at most once. Unavailable and unsupported providers are skipped. If every
// provider fails the returned *FallbackError lists the reason for each one.
//
// With fallback disabled it behaves like Process.
func (o *Orchestrator) ProcessWithFallbackReport(ctx context.Context, data []byte, t models.DocumentType) (*FallbackReport, error) {
	const op = "ProcessWithFallback"

	if !o.config.FallbackEnabled {
		result, err := o.Process(ctx, data, t)
		if err != nil {
			return nil, err
		}
		return &FallbackReport{Result: result}, nil
	}

	if len(data) == 0 {
		return nil, NewOCRError(op, ErrEmptyInput, "")
	}

	var attempts []Attempt
	for _, name := range o.chain() {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: name, Reason: fmt.Sprintf("not attempted: %v", err)})
			continue
		}

		p := o.providers[name]
		if !p.IsAvailable() {
			attempts = append(attempts, Attempt{Provider: name, Reason: ErrProviderNotAvailable.Error()})
			continue
		}
		if !p.SupportsDocumentType(t) {
			attempts = append(attempts, Attempt{Provider: name, Reason: fmt.Sprintf("does not support %s", t)})
			continue
		}

		result := p.ProcessDocument(ctx, data, t)
		o.logAttempt(result)
		if result.Success {
			if len(attempts) > 0 {
				o.log.Warn().
					Str("provider", name).
					Interface("skipped", attempts).
					Msg("OCR succeeded after fallback")
			}
			return &FallbackReport{Result: result, Attempts: attempts}, nil
		}
		attempts = append(attempts, Attempt{Provider: name, Reason: result.Error})
	}

	fallbackErr := &FallbackError{DocumentType: string(t), Attempts: attempts}
	o.log.Error().
		Interface("attempts", attempts).
		Str("document_type", string(t)).
		Msg("All OCR providers failed")
	return nil, fallbackErr
}

// chain returns the provider names to try: the default first, then the configured
// order. Each registered name appears at most once.
func (o *Orchestrator) chain() []string {
	seen := make(map[string]bool, len(o.providers))
	var names []string
	add := func(name string) {
		if _, ok := o.providers[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	add(o.config.DefaultProvider)
	for _, name := range o.config.FallbackOrder {
		add(name)
	}
	return names
}

func (o *Orchestrator) logAttempt(result models.OcrProcessingResult) {
	var event *zerolog.Event
	if result.Success {
		event = o.log.Info()
	} else {
		event = o.log.Warn().Str("error", result.Error)
	}
	event.
		Str("provider", result.Provider).
		Str("document_type", string(result.DocumentType)).
		Bool("success", result.Success).
		Dur("duration", time.Duration(result.ProcessingTimeMs)*time.Millisecond).
		Msg("OCR attempt finished")
}

// Close releases every registered provider.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, name := range o.Names() {
		if err := o.providers[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
