package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"pantry/internal/logger"
	"pantry/pkg/models"
)

// NameDocumentAI is the registry name of the Document AI provider.
const NameDocumentAI = "document-ai"

const (
	// receiptDefaultConfidence applies when a photographed receipt reports no confidence at all.
	receiptDefaultConfidence = 0.0
	// invoiceDefaultConfidence applies when an invoice reports no confidence at all.
	invoiceDefaultConfidence = 0.95
	// receiptLineDefaultConfidence and invoiceLineDefaultConfidence are the per-line equivalents.
	receiptLineDefaultConfidence = 0.0
	invoiceLineDefaultConfidence = 0.99
)

// documentProcessor is the part of the Document AI client the provider uses.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIConfig holds configuration for Google Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	Location string

	// ReceiptProcessorID is the expense parser used for photographed receipts.
	ReceiptProcessorID string

	// InvoiceProcessorID is the invoice parser used for PDF and HTML invoices.
	InvoiceProcessorID string

	// CredentialsJSON and CredentialsFile are the two credential sources, JSON first.
	CredentialsJSON string
	CredentialsFile string

	// Timeout is the maximum time to wait for one document.
	Timeout time.Duration
}

func (c DocumentAIConfig) hasCredentials() bool {
	return c.CredentialsJSON != "" || c.CredentialsFile != ""
}

// DocumentAIProvider routes receipts to the expense parser and invoices to the invoice parser.
type DocumentAIProvider struct {
	client  documentProcessor
	config  DocumentAIConfig
	initErr error
	log     zerolog.Logger
}

// NewDocumentAIProvider creates the provider and its client. A missing credential or
// a failing client leaves the provider registered but unavailable.
func NewDocumentAIProvider(ctx context.Context, config DocumentAIConfig) *DocumentAIProvider {
	const op = "NewDocumentAIProvider"

	p := &DocumentAIProvider{
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
	if p.config.Location == "" {
		p.config.Location = "us"
	}
	if p.config.Timeout <= 0 {
		p.config.Timeout = 60 * time.Second
	}

	switch {
	case !config.hasCredentials():
		p.initErr = NewOCRError(op, ErrMissingCredentials, "no credentials found in environment")
	case config.ProjectID == "":
		p.initErr = NewOCRError(op, ErrMissingConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	case config.ReceiptProcessorID == "" && config.InvoiceProcessorID == "":
		p.initErr = NewOCRError(op, ErrMissingConfiguration, "no Document AI processor configured")
	}
	if p.initErr != nil {
		p.log.Debug().Err(p.initErr).Msg("Document AI provider disabled")
		return p
	}

	var clientOptions []option.ClientOption
	if p.config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", p.config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	if config.CredentialsJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	} else {
		clientOptions = append(clientOptions, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		p.initErr = WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", p.config.Location))
		p.log.Warn().Err(err).Msg("Document AI provider disabled")
		return p
	}
	p.client = client
	return p
}

// NewDocumentAIProviderWithClient creates the provider with an explicit client (for testing).
func NewDocumentAIProviderWithClient(config DocumentAIConfig, client documentProcessor) *DocumentAIProvider {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &DocumentAIProvider{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

func (p *DocumentAIProvider) Name() string { return NameDocumentAI }

// SupportsDocumentType reports whether a processor is configured for t.
func (p *DocumentAIProvider) SupportsDocumentType(t models.DocumentType) bool {
	switch {
	case t == models.DocumentTypeReceiptImage:
		return p.config.ReceiptProcessorID != ""
	case t.IsInvoice():
		return p.config.InvoiceProcessorID != ""
	}
	return false
}

func (p *DocumentAIProvider) IsAvailable() bool {
	return p.initErr == nil && p.client != nil && p.config.ProjectID != ""
}

// ProcessDocument sends the raw bytes to the processor matching t and maps the entities.
func (p *DocumentAIProvider) ProcessDocument(ctx context.Context, data []byte, t models.DocumentType) models.OcrProcessingResult {
	const op = "ProcessDocument"
	start := time.Now()

	if !p.IsAvailable() {
		err := p.initErr
		if err == nil {
			err = ErrProviderNotAvailable
		}
		return Failed(NameDocumentAI, t, start, err)
	}
	if err := CheckInput(data, t); err != nil {
		return Failed(NameDocumentAI, t, start, err)
	}
	if !p.SupportsDocumentType(t) {
		return Failed(NameDocumentAI, t, start, NewOCRError(op, ErrUnsupportedDocumentType, string(t)))
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: p.processorName(t),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:     data,
				MimeType:    mimeTypeFor(data, t),
				DisplayName: t.FilenameHint(),
			},
		},
	}

	p.log.Debug().
		Str("processor", req.Name).
		Str("document_type", string(t)).
		Int("size", len(data)).
		Msg("Sending document to Document AI")

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		p.log.Warn().Err(err).Str("document_type", string(t)).Msg("Document AI request failed")
		return Failed(NameDocumentAI, t, start, WrapOCRError(op, err, "Document AI call failed"))
	}
	if resp.GetDocument() == nil {
		return Failed(NameDocumentAI, t, start, NewOCRError(op, ErrMalformedResponse, "no document in response"))
	}

	doc := resp.GetDocument()
	if docErr := doc.GetError(); docErr != nil && docErr.GetCode() != 0 {
		return Failed(NameDocumentAI, t, start, &ProviderError{
			Provider: NameDocumentAI,
			Code:     docErr.GetCode(),
			Message:  docErr.GetMessage(),
		})
	}

	receipt := p.mapDocument(doc, t)

	p.log.Info().
		Str("document_type", string(t)).
		Int("line_items", len(receipt.LineItems)).
		Float64("confidence", receipt.Confidence).
		Dur("duration", time.Since(start)).
		Msg("Document AI extraction completed")

	return Succeeded(NameDocumentAI, t, start, receipt)
}

// processorName constructs the full processor name for the Document AI API.
func (p *DocumentAIProvider) processorName(t models.DocumentType) string {
	processorID := p.config.ReceiptProcessorID
	if t.IsInvoice() {
		processorID = p.config.InvoiceProcessorID
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		p.config.ProjectID, p.config.Location, processorID)
}

// mapDocument converts Document AI entities into the canonical receipt shape.
func (p *DocumentAIProvider) mapDocument(doc *documentaipb.Document, t models.DocumentType) *models.OcrReceiptData {
	invoice := t.IsInvoice()
	receipt := &models.OcrReceiptData{
		Currency:  models.DefaultCurrency,
		LineItems: []models.OcrLineItem{},
	}

	var confidenceSum float64
	var confidenceCount int

	for _, entity := range doc.GetEntities() {
		value := strings.TrimSpace(entity.GetMentionText())
		if entity.GetConfidence() > 0 {
			confidenceSum += float64(entity.GetConfidence())
			confidenceCount++
		}

		p.log.Debug().
			Str("entity_type", entity.GetType()).
			Str("value", value).
			Float32("confidence", entity.GetConfidence()).
			Msg("Processing Document AI entity")

		switch entity.GetType() {
		case "supplier_name":
			receipt.MerchantName = nonEmpty(value)
		case "supplier_address":
			receipt.MerchantAddress = nonEmpty(collapseLines(value))
		case "total_amount":
			receipt.TotalAmount = moneyValue(entity)
		case "total_tax_amount":
			receipt.TaxAmount = moneyValue(entity)
		case "receipt_date", "invoice_date", "purchase_date":
			if date, err := entityDate(entity); err == nil {
				receipt.PurchaseDate = &date
			}
		case "currency":
			receipt.Currency = models.NormalizeCurrency(value)
		case "invoice_id":
			if invoice {
				receipt.InvoiceNumber = nonEmpty(value)
			}
		case "purchase_order":
			if invoice {
				receipt.OrderNumber = nonEmpty(value)
			}
		case "line_item":
			if item, ok := mapLineItem(entity, invoice); ok {
				receipt.LineItems = append(receipt.LineItems, item)
			}
		}
	}

	switch {
	case confidenceCount > 0:
		receipt.Confidence = clamp01(confidenceSum / float64(confidenceCount))
	case invoice:
		receipt.Confidence = invoiceDefaultConfidence
	default:
		receipt.Confidence = receiptDefaultConfidence
	}

	if text := doc.GetText(); text != "" {
		receipt.ExtractedText = &text
	}
	if p.log.Debug().Enabled() {
		if raw, err := protojson.Marshal(doc); err == nil {
			receipt.RawPayload = raw
		}
	}

	return receipt
}

// mapLineItem reads the line_item/* properties of one line item entity.
func mapLineItem(entity *documentaipb.Document_Entity, invoice bool) (models.OcrLineItem, bool) {
	item := models.OcrLineItem{}

	for _, prop := range entity.GetProperties() {
		value := strings.TrimSpace(prop.GetMentionText())
		switch prop.GetType() {
		case "line_item/description":
			item.Description = collapseLines(value)
		case "line_item/quantity":
			if qty, err := models.ParseAmount(value); err == nil {
				f := qty.InexactFloat64()
				item.Quantity = &f
			}
		case "line_item/unit_price":
			item.UnitPrice = moneyValue(prop)
		case "line_item/amount":
			item.TotalPrice = moneyValue(prop)
		case "line_item/product_code":
			item.ProductCode = nonEmpty(value)
		case "line_item/discount":
			item.Discount = moneyValue(prop)
		}
	}

	if item.Description == "" {
		item.Description = collapseLines(strings.TrimSpace(entity.GetMentionText()))
	}
	if item.Description == "" && !item.TotalPrice.Valid && !item.UnitPrice.Valid {
		return item, false
	}

	switch {
	case entity.GetConfidence() > 0:
		item.Confidence = clamp01(float64(entity.GetConfidence()))
	case invoice:
		item.Confidence = invoiceLineDefaultConfidence
	default:
		item.Confidence = receiptLineDefaultConfidence
	}

	return item, true
}

// entityDate extracts a date from the normalized value or the mention text.
func entityDate(entity *documentaipb.Document_Entity) (time.Time, error) {
	if dateValue := entity.GetNormalizedValue().GetDateValue(); dateValue != nil && dateValue.GetYear() > 0 {
		return time.Date(
			int(dateValue.GetYear()),
			time.Month(dateValue.GetMonth()),
			int(dateValue.GetDay()),
			0, 0, 0, 0,
			time.UTC,
		), nil
	}
	return models.ParseDate(entity.GetMentionText())
}

// moneyValue extracts a monetary value from the normalized value or the mention text.
func moneyValue(entity *documentaipb.Document_Entity) decimal.NullDecimal {
	if money := entity.GetNormalizedValue().GetMoneyValue(); money != nil {
		units := decimal.NewFromInt(money.GetUnits())
		nanos := decimal.New(int64(money.GetNanos()), -9)
		return decimal.NewNullDecimal(units.Add(nanos))
	}
	amount, err := models.ParseAmount(entity.GetMentionText())
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount)
}

// collapseLines joins a multi-line value into one line.
func collapseLines(value string) string {
	var parts []string
	for _, line := range strings.Split(value, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, ", ")
}

func nonEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Close closes the underlying Document AI client.
func (p *DocumentAIProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
