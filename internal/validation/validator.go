package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pantry/internal/category"
	"pantry/internal/logger"
	"pantry/pkg/models"
)

// ErrNoItems is returned when neither the OCR result nor the analysis yields a usable line.
var ErrNoItems = errors.New("no purchasable items detected")

// Header is the receipt-level data merged from OCR and model output.
type Header struct {
	MerchantName  *string
	PurchaseDate  *time.Time
	TotalAmount   decimal.NullDecimal
	Currency      string
	Confidence    float64
	InvoiceNumber *string
}

// ItemValidator produces the canonical ReceiptItem collection shown in review.
type ItemValidator struct {
	validate *validator.Validate
	guesser  category.Guesser
	newID    func() string
	log      zerolog.Logger
}

// New creates a validator. A nil guesser uses the keyword table.
func New(guesser category.Guesser) *ItemValidator {
	if guesser == nil {
		guesser = category.KeywordGuesser{}
	}
	return &ItemValidator{
		validate: newValidate(),
		guesser:  guesser,
		newID:    uuid.NewString,
		log:      logger.WithComponent("item-validator"),
	}
}

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ean", func(fl validator.FieldLevel) bool {
		return IsValidEan(fl.Field().String())
	})
	return v
}

// Struct validates any model carrying validate tags.
func (v *ItemValidator) Struct(s any) error {
	return v.validate.Struct(s)
}

// BuildItems merges OCR line items and detected products into review items.
//
// Structured OCR lines are authoritative; detected products only contribute
// EAN suggestions to the line with the same name. Without structured lines,
// every detected product becomes an item. Items failing validation are dropped.
func (v *ItemValidator) BuildItems(ctx context.Context, data *models.OcrReceiptData, analysis *models.LlmReceiptAnalysis) ([]models.ReceiptItem, error) {
	const op = "BuildItems"

	var candidates []models.ReceiptItem
	if data.HasStructuredItems() {
		candidates = v.fromLineItems(data.LineItems, analysis)
	} else if analysis != nil {
		candidates = v.fromProducts(analysis.Products)
	}

	items := make([]models.ReceiptItem, 0, len(candidates))
	for _, item := range candidates {
		item.CategoryGuess = string(v.guesser.Guess(ctx, item.DetectedName))
		if err := v.validate.Struct(item); err != nil {
			v.log.Debug().Err(err).Str("item", item.DetectedName).Msg("Dropping invalid receipt item")
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoItems)
	}

	v.log.Debug().
		Int("candidates", len(candidates)).
		Int("items", len(items)).
		Msg("Built receipt items")
	return items, nil
}

func (v *ItemValidator) fromLineItems(lines []models.OcrLineItem, analysis *models.LlmReceiptAnalysis) []models.ReceiptItem {
	suggestions := map[string][]models.EanSuggestion{}
	if analysis != nil {
		for _, p := range analysis.Products {
			key := nameKey(p.Name)
			if _, seen := suggestions[key]; !seen && len(p.SuggestedEans) > 0 {
				suggestions[key] = p.SuggestedEans
			}
		}
	}

	items := make([]models.ReceiptItem, 0, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line.Description)
		if name == "" {
			continue
		}
		confidence := ClampConfidence(line.Confidence)

		eans := suggestions[nameKey(name)]
		if line.ProductCode != nil {
			if code := strings.TrimSpace(*line.ProductCode); IsValidEan(code) {
				printed := models.EanSuggestion{
					EAN:         code,
					Confidence:  confidence,
					Brand:       UnknownBrand,
					ProductName: name,
				}
				eans = append([]models.EanSuggestion{printed}, withoutEan(eans, code)...)
			}
		}

		items = append(items, models.ReceiptItem{
			ID:            v.newID(),
			DetectedName:  name,
			Quantity:      positive(line.Quantity),
			UnitPrice:     line.UnitPrice,
			TotalPrice:    line.TotalPrice,
			Confidence:    confidence,
			SuggestedEans: eans,
		})
	}
	return items
}

func (v *ItemValidator) fromProducts(products []models.DetectedProduct) []models.ReceiptItem {
	items := make([]models.ReceiptItem, 0, len(products))
	for _, p := range products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		eans := make([]models.EanSuggestion, 0, len(p.SuggestedEans))
		for _, s := range p.SuggestedEans {
			if IsValidEan(s.EAN) {
				s.Confidence = ClampConfidence(s.Confidence)
				eans = append(eans, s)
			}
		}
		items = append(items, models.ReceiptItem{
			ID:            v.newID(),
			DetectedName:  name,
			Quantity:      positive(p.Quantity),
			UnitPrice:     p.UnitPrice,
			TotalPrice:    p.TotalPrice,
			Confidence:    ClampConfidence(p.Confidence),
			SuggestedEans: eans,
		})
	}
	return items
}

// MergeHeader picks receipt-level fields from the OCR result first and the
// analysis second. Confidence follows whichever source supplied the items.
func MergeHeader(data *models.OcrReceiptData, analysis *models.LlmReceiptAnalysis) Header {
	h := Header{Currency: models.DefaultCurrency}

	if data != nil {
		h.MerchantName = data.MerchantName
		h.PurchaseDate = data.PurchaseDate
		h.TotalAmount = data.TotalAmount
		h.InvoiceNumber = data.InvoiceNumber
		h.Confidence = ClampConfidence(data.Confidence)
		if data.Currency != "" {
			h.Currency = data.Currency
		}
	}

	if analysis != nil {
		if h.MerchantName == nil {
			h.MerchantName = analysis.MerchantName
		}
		if h.PurchaseDate == nil {
			h.PurchaseDate = analysis.PurchaseDate
		}
		if !h.TotalAmount.Valid {
			h.TotalAmount = analysis.TotalAmount
		}
		if !data.HasStructuredItems() {
			h.Confidence = ClampConfidence(analysis.Confidence)
		}
	}

	return h
}

func nameKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func withoutEan(list []models.EanSuggestion, ean string) []models.EanSuggestion {
	out := make([]models.EanSuggestion, 0, len(list))
	for _, s := range list {
		if s.EAN != ean {
			out = append(out, s)
		}
	}
	return out
}
