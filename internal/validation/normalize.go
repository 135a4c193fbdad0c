// Package validation holds every default and clamp rule applied to provider
// and language-model output before it becomes reviewable receipt items.
package validation

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"pantry/pkg/models"
)

const (
	// DefaultLLMConfidence replaces absent or NaN confidences in model output.
	DefaultLLMConfidence = 0.5

	// UnknownBrand is stored when the model names no brand.
	UnknownBrand = "-"
)

var eanPattern = regexp.MustCompile(`^\d{13}$`)

// IsValidEan reports whether s is exactly 13 ASCII digits.
func IsValidEan(s string) bool {
	return eanPattern.MatchString(s)
}

// NormalizeConfidence clamps v into [0,1]; nil and NaN become fallback.
func NormalizeConfidence(v *float64, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return ClampConfidence(fallback)
	}
	return ClampConfidence(*v)
}

// ClampConfidence clamps v into [0,1]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// EanCandidate is one undecoded product-code suggestion from the model.
// Every field may be absent.
type EanCandidate struct {
	EAN         *string
	Confidence  *float64
	Brand       *string
	ProductName *string
	Image       *string
}

// ProductCandidate is one undecoded product from the model.
type ProductCandidate struct {
	Name          *string
	Quantity      *float64
	UnitPrice     decimal.NullDecimal
	TotalPrice    decimal.NullDecimal
	Confidence    *float64
	SuggestedEans []EanCandidate
}

// Report counts what normalization silently dropped.
type Report struct {
	DroppedProducts int
	DroppedEans     int
}

// NormalizeProducts turns model candidates into detected products. Products
// without a name and suggestions that are not valid EANs are dropped; the
// rank order of the remaining suggestions is preserved.
func NormalizeProducts(candidates []ProductCandidate) ([]models.DetectedProduct, Report) {
	var report Report
	products := make([]models.DetectedProduct, 0, len(candidates))

	for _, c := range candidates {
		name := trimmed(c.Name)
		if name == "" {
			report.DroppedProducts++
			continue
		}

		product := models.DetectedProduct{
			Name:          name,
			Quantity:      positive(c.Quantity),
			UnitPrice:     c.UnitPrice,
			TotalPrice:    c.TotalPrice,
			Confidence:    NormalizeConfidence(c.Confidence, DefaultLLMConfidence),
			SuggestedEans: make([]models.EanSuggestion, 0, len(c.SuggestedEans)),
		}

		for _, e := range c.SuggestedEans {
			ean := trimmed(e.EAN)
			if !IsValidEan(ean) {
				report.DroppedEans++
				continue
			}
			suggestion := models.EanSuggestion{
				EAN:         ean,
				Confidence:  NormalizeConfidence(e.Confidence, DefaultLLMConfidence),
				Brand:       trimmed(e.Brand),
				ProductName: trimmed(e.ProductName),
			}
			if suggestion.Brand == "" {
				suggestion.Brand = UnknownBrand
			}
			if suggestion.ProductName == "" {
				suggestion.ProductName = name
			}
			if image := trimmed(e.Image); image != "" {
				suggestion.Image = &image
			}
			product.SuggestedEans = append(product.SuggestedEans, suggestion)
		}

		products = append(products, product)
	}

	return products, report
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// positive drops quantities that cannot describe a purchase.
func positive(q *float64) *float64 {
	if q == nil || math.IsNaN(*q) || *q <= 0 {
		return nil
	}
	v := *q
	return &v
}
