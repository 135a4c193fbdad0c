package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"pantry/internal/validation"
	"pantry/pkg/models"
)

// StripCodeFence returns the body of the first markdown code fence in model
// output. Text around the fence and the language tag are dropped. Output that
// already starts as JSON is only trimmed.
func StripCodeFence(s string) string {
	cleaned := strings.TrimSpace(s)
	if strings.HasPrefix(cleaned, "{") || strings.HasPrefix(cleaned, "[") {
		return cleaned
	}

	start := strings.Index(cleaned, "```")
	if start < 0 {
		return cleaned
	}
	body := strings.TrimLeftFunc(cleaned[start+3:], unicode.IsLetter)
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

type outputItem struct {
	Type    string          `json:"type"`
	Text    json.RawMessage `json:"text"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string          `json:"type"`
	Text json.RawMessage `json:"text"`
}

// OutputText returns the text of the first textual output item of a
// Responses API envelope. An item is textual when it has a string "text"
// field, or a content array holding an output_text entry.
func OutputText(body []byte) (responseID, text string, err error) {
	var envelope struct {
		ID     string       `json:"id"`
		Output []outputItem `json:"output"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}

	for _, item := range envelope.Output {
		if s, ok := jsonString(item.Text); ok {
			return envelope.ID, s, nil
		}

		var parts []contentPart
		if len(item.Content) == 0 || json.Unmarshal(item.Content, &parts) != nil {
			continue
		}
		for _, part := range parts {
			if part.Type != "output_text" && part.Type != "text" {
				continue
			}
			if s, ok := jsonString(part.Text); ok {
				return envelope.ID, s, nil
			}
		}
	}

	return envelope.ID, "", ErrUnrecognizedResponse
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

func jsonString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// wire types accept whatever JSON type the model picked for a field;
// a value of the wrong shape reads as absent instead of failing the document.

type flexString struct{ value *string }

func (f *flexString) UnmarshalJSON(b []byte) error {
	f.value = nil
	if isNull(b) {
		return nil
	}
	if s, ok := jsonString(b); ok {
		f.value = &s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		s := n.String()
		f.value = &s
	}
	return nil
}

type flexNumber struct{ value *float64 }

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	f.value = nil
	if isNull(b) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		f.value = &n
		return nil
	}
	if s, ok := jsonString(b); ok {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "nan") {
			nan := math.NaN()
			f.value = &nan
			return nil
		}
		if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
			f.value = &v
		}
	}
	return nil
}

type flexDecimal struct{ value decimal.NullDecimal }

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	f.value = decimal.NullDecimal{}
	if isNull(b) {
		return nil
	}
	if s, ok := jsonString(b); ok {
		if d, err := models.ParseAmount(s); err == nil {
			f.value = decimal.NewNullDecimal(d)
		}
		return nil
	}
	if d, err := decimal.NewFromString(string(bytes.TrimSpace(b))); err == nil {
		f.value = decimal.NewNullDecimal(d)
	}
	return nil
}

type wireEan struct {
	EAN         flexString `json:"ean"`
	Confidence  flexNumber `json:"confidence"`
	Brand       flexString `json:"brand"`
	ProductName flexString `json:"productName"`
	Image       flexString `json:"image"`
}

type wireProduct struct {
	Name          flexString      `json:"name"`
	Quantity      flexNumber      `json:"quantity"`
	UnitPrice     flexDecimal     `json:"unitPrice"`
	TotalPrice    flexDecimal     `json:"totalPrice"`
	Price         flexDecimal     `json:"price"`
	Confidence    flexNumber      `json:"confidence"`
	SuggestedEans json.RawMessage `json:"suggestedEans"`
}

type wireAnalysis struct {
	MerchantName flexString  `json:"merchantName"`
	Merchant     flexString  `json:"merchant"`
	PurchaseDate flexString  `json:"purchaseDate"`
	Date         flexString  `json:"date"`
	TotalAmount  flexDecimal `json:"totalAmount"`
	Total        flexDecimal `json:"total"`
	Confidence   flexNumber  `json:"confidence"`
}

// ParseAnalysis decodes model output into a receipt analysis.
//
// Invalid JSON and a missing or non-list products field fail the whole
// document. Everything below that level is filtered or defaulted by the
// validation package and counted in the returned report.
func ParseAnalysis(text string) (*models.LlmReceiptAnalysis, validation.Report, error) {
	cleaned := []byte(StripCodeFence(text))
	if !json.Valid(cleaned) {
		return nil, validation.Report{}, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(cleaned, &fields); err != nil {
		return nil, validation.Report{}, ErrMissingProducts
	}
	rawProducts, ok := fields["products"]
	if !ok {
		return nil, validation.Report{}, ErrMissingProducts
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawProducts, &items); err != nil || items == nil {
		return nil, validation.Report{}, fmt.Errorf("%w: products is not a list", ErrMissingProducts)
	}

	var header wireAnalysis
	if err := json.Unmarshal(cleaned, &header); err != nil {
		return nil, validation.Report{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	candidates := make([]validation.ProductCandidate, 0, len(items))
	for _, raw := range items {
		candidates = append(candidates, productCandidate(raw))
	}
	products, report := validation.NormalizeProducts(candidates)

	analysis := &models.LlmReceiptAnalysis{
		MerchantName: firstString(header.MerchantName, header.Merchant),
		TotalAmount:  header.TotalAmount.value,
		Confidence:   validation.NormalizeConfidence(header.Confidence.value, validation.DefaultLLMConfidence),
		Products:     products,
	}
	if !analysis.TotalAmount.Valid {
		analysis.TotalAmount = header.Total.value
	}
	if date := firstString(header.PurchaseDate, header.Date); date != nil {
		if parsed, err := models.ParseDate(*date); err == nil {
			analysis.PurchaseDate = &parsed
		}
	}

	return analysis, report, nil
}

// productCandidate decodes one products entry; anything that is not an
// object yields a nameless candidate, which normalization drops.
func productCandidate(raw json.RawMessage) validation.ProductCandidate {
	var p wireProduct
	if err := json.Unmarshal(raw, &p); err != nil {
		return validation.ProductCandidate{}
	}

	c := validation.ProductCandidate{
		Name:       p.Name.value,
		Quantity:   p.Quantity.value,
		UnitPrice:  p.UnitPrice.value,
		TotalPrice: p.TotalPrice.value,
		Confidence: p.Confidence.value,
	}
	if !c.TotalPrice.Valid {
		c.TotalPrice = p.Price.value
	}

	var eans []json.RawMessage
	if err := json.Unmarshal(p.SuggestedEans, &eans); err != nil {
		return c
	}
	for _, rawEan := range eans {
		if code, ok := jsonString(rawEan); ok {
			c.SuggestedEans = append(c.SuggestedEans, validation.EanCandidate{EAN: &code})
			continue
		}
		var e wireEan
		if err := json.Unmarshal(rawEan, &e); err != nil {
			c.SuggestedEans = append(c.SuggestedEans, validation.EanCandidate{})
			continue
		}
		c.SuggestedEans = append(c.SuggestedEans, validation.EanCandidate{
			EAN:         e.EAN.value,
			Confidence:  e.Confidence.value,
			Brand:       e.Brand.value,
			ProductName: e.ProductName.value,
			Image:       e.Image.value,
		})
	}
	return c
}

func firstString(values ...flexString) *string {
	for _, v := range values {
		if v.value != nil && strings.TrimSpace(*v.value) != "" {
			s := strings.TrimSpace(*v.value)
			return &s
		}
	}
	return nil
}
