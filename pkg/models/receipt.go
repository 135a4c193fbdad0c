package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OcrLineItem is one purchased line as reported by an OCR provider.
type OcrLineItem struct {
	Description string              `json:"description"`
	Quantity    *float64            `json:"quantity,omitempty"`
	UnitPrice   decimal.NullDecimal `json:"unitPrice"`
	TotalPrice  decimal.NullDecimal `json:"totalPrice"`
	Confidence  float64             `json:"confidence"`
	ProductCode *string             `json:"productCode,omitempty"` // EAN when printed on the receipt
	Discount    decimal.NullDecimal `json:"discount"`
}

// OcrReceiptData is the canonical shape every provider normalizes into.
type OcrReceiptData struct {
	MerchantName    *string             `json:"merchantName,omitempty"`
	MerchantAddress *string             `json:"merchantAddress,omitempty"`
	TotalAmount     decimal.NullDecimal `json:"totalAmount"`
	TaxAmount       decimal.NullDecimal `json:"taxAmount"`
	PurchaseDate    *time.Time          `json:"purchaseDate,omitempty"`
	Currency        string              `json:"currency"`
	LineItems       []OcrLineItem       `json:"lineItems"`
	Confidence      float64             `json:"confidence"`

	// RawPayload is the provider's own response, kept for debugging only.
	RawPayload []byte `json:"-"`

	// ExtractedText is set by text-only providers.
	ExtractedText *string `json:"extractedText,omitempty"`

	// Invoice path only
	InvoiceNumber *string `json:"invoiceNumber,omitempty"`
	OrderNumber   *string `json:"orderNumber,omitempty"`
}

// HasStructuredItems reports whether the provider returned line items.
func (d *OcrReceiptData) HasStructuredItems() bool {
	return d != nil && len(d.LineItems) > 0
}

// Text returns the raw extracted text or an empty string.
func (d *OcrReceiptData) Text() string {
	if d == nil || d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// OcrProcessingResult is produced once per provider attempt and never modified afterwards.
type OcrProcessingResult struct {
	Success          bool            `json:"success"`
	Data             *OcrReceiptData `json:"data,omitempty"`
	Error            string          `json:"error,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Provider         string          `json:"provider"`
	DocumentType     DocumentType    `json:"documentType"`
}

// EanSuggestion is one ranked product-code candidate for a detected product.
type EanSuggestion struct {
	EAN         string  `json:"ean" validate:"ean"`
	Confidence  float64 `json:"confidence" validate:"gte=0,lte=1"`
	Brand       string  `json:"brand"`
	ProductName string  `json:"productName"`
	Image       *string `json:"image,omitempty"`
}

// DetectedProduct is a product the language model found in the receipt text.
// SuggestedEans is in relevance order.
type DetectedProduct struct {
	Name          string              `json:"name" validate:"required"`
	Quantity      *float64            `json:"quantity,omitempty"`
	UnitPrice     decimal.NullDecimal `json:"unitPrice"`
	TotalPrice    decimal.NullDecimal `json:"totalPrice"`
	Confidence    float64             `json:"confidence" validate:"gte=0,lte=1"`
	SuggestedEans []EanSuggestion     `json:"suggestedEans" validate:"dive"`
}

// LlmReceiptAnalysis is the normalized output of one successful model call.
type LlmReceiptAnalysis struct {
	MerchantName *string             `json:"merchantName,omitempty"`
	PurchaseDate *time.Time          `json:"purchaseDate,omitempty"`
	TotalAmount  decimal.NullDecimal `json:"totalAmount"`
	Confidence   float64             `json:"confidence" validate:"gte=0,lte=1"`
	Products     []DetectedProduct   `json:"products" validate:"dive"`
}

// ProductRef points at a product in the external catalog.
type ProductRef struct {
	ID    string `json:"id"`
	EAN   string `json:"ean,omitempty"`
	Name  string `json:"name"`
	Brand string `json:"brand,omitempty"`
}

// ReceiptItem is one detected line pending human review.
type ReceiptItem struct {
	ID            string              `json:"id" validate:"required"`
	DetectedName  string              `json:"detectedName" validate:"required"`
	Quantity      *float64            `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	UnitPrice     decimal.NullDecimal `json:"unitPrice"`
	TotalPrice    decimal.NullDecimal `json:"totalPrice"`
	Confidence    float64             `json:"confidence" validate:"gte=0,lte=1"`
	CategoryGuess string              `json:"categoryGuess"`
	SuggestedEans []EanSuggestion     `json:"suggestedEans,omitempty" validate:"dive"`
	Product       *ProductRef         `json:"product,omitempty"`
	Validated     bool                `json:"validated"`
}

// PurchasePrice returns the price charged for the line: the total when known,
// otherwise unit price times quantity.
func (i ReceiptItem) PurchasePrice() decimal.NullDecimal {
	if i.TotalPrice.Valid {
		return i.TotalPrice
	}
	if i.UnitPrice.Valid {
		qty := decimal.NewFromInt(1)
		if i.Quantity != nil {
			qty = decimal.NewFromFloat(*i.Quantity)
		}
		return decimal.NewNullDecimal(i.UnitPrice.Decimal.Mul(qty))
	}
	return decimal.NullDecimal{}
}
