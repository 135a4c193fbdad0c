package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"pantry/internal/logger"
	"pantry/pkg/models"
)

// NameCloudVision is the registry name of the Cloud Vision provider.
const NameCloudVision = "cloud-vision"

// imageAnnotator is the part of the Vision client the provider uses.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
	Close() error
}

// VisionConfig holds the credential sources for Cloud Vision.
type VisionConfig struct {
	CredentialsJSON string
	CredentialsFile string
	Timeout         time.Duration
}

// GoogleVisionProvider is a text-only provider backed by Cloud Vision document text detection.
type GoogleVisionProvider struct {
	client  imageAnnotator
	timeout time.Duration
	initErr error
	log     zerolog.Logger
}

// NewGoogleVisionProvider creates the provider with credentials from config.
// Without credentials the provider is registered but unavailable.
func NewGoogleVisionProvider(ctx context.Context, config VisionConfig) *GoogleVisionProvider {
	const op = "NewGoogleVisionProvider"

	p := &GoogleVisionProvider{
		timeout: config.Timeout,
		log:     logger.WithComponent("cloud-vision"),
	}
	if p.timeout <= 0 {
		p.timeout = 60 * time.Second
	}

	var opt option.ClientOption
	switch {
	case config.CredentialsJSON != "":
		opt = option.WithCredentialsJSON([]byte(config.CredentialsJSON))
	case config.CredentialsFile != "":
		opt = option.WithCredentialsFile(config.CredentialsFile)
	default:
		p.initErr = NewOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		return p
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opt)
	if err != nil {
		p.initErr = WrapOCRError(op, err, "failed to create Vision client")
		p.log.Warn().Err(err).Msg("Cloud Vision provider disabled")
		return p
	}
	p.client = client
	return p
}

// NewGoogleVisionProviderWithClient creates the provider with an explicit client (for testing).
func NewGoogleVisionProviderWithClient(client imageAnnotator) *GoogleVisionProvider {
	return &GoogleVisionProvider{
		client:  client,
		timeout: 60 * time.Second,
		log:     logger.WithComponent("cloud-vision"),
	}
}

func (g *GoogleVisionProvider) Name() string { return NameCloudVision }

// SupportsDocumentType accepts receipt photos and PDF invoices.
func (g *GoogleVisionProvider) SupportsDocumentType(t models.DocumentType) bool {
	return t == models.DocumentTypeReceiptImage || t == models.DocumentTypeInvoicePDF
}

func (g *GoogleVisionProvider) IsAvailable() bool {
	return g.initErr == nil && g.client != nil
}

// ProcessDocument runs document text detection and returns the normalized text only.
func (g *GoogleVisionProvider) ProcessDocument(ctx context.Context, data []byte, t models.DocumentType) models.OcrProcessingResult {
	const op = "ProcessDocument"
	start := time.Now()

	if !g.IsAvailable() {
		err := g.initErr
		if err == nil {
			err = ErrProviderNotAvailable
		}
		return Failed(NameCloudVision, t, start, err)
	}
	if err := CheckInput(data, t); err != nil {
		return Failed(NameCloudVision, t, start, err)
	}
	if !g.SupportsDocumentType(t) {
		return Failed(NameCloudVision, t, start, NewOCRError(op, ErrUnsupportedDocumentType, string(t)))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		text       string
		confidence float64
		err        error
	)
	if t == models.DocumentTypeInvoicePDF {
		text, confidence, err = g.annotateFile(callCtx, data)
	} else {
		text, confidence, err = g.annotateImage(callCtx, data)
	}
	if err != nil {
		g.log.Warn().Err(err).Str("document_type", string(t)).Msg("Cloud Vision request failed")
		return Failed(NameCloudVision, t, start, WrapOCRError(op, err, "Vision API call failed"))
	}

	normalized := NormalizeText(text)
	if normalized == "" {
		return Failed(NameCloudVision, t, start, NewOCRError(op, ErrEmptyDocument, ""))
	}

	g.log.Info().
		Str("document_type", string(t)).
		Int("text_length", len(normalized)).
		Float64("confidence", confidence).
		Dur("duration", time.Since(start)).
		Msg("Cloud Vision text detection completed")

	return Succeeded(NameCloudVision, t, start, &models.OcrReceiptData{
		Currency:      models.DefaultCurrency,
		LineItems:     []models.OcrLineItem{},
		Confidence:    confidence,
		ExtractedText: &normalized,
	})
}

func (g *GoogleVisionProvider) annotateImage(ctx context.Context, data []byte) (string, float64, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", 0, err
	}
	if len(resp.GetResponses()) == 0 {
		return "", 0, ErrMalformedResponse
	}

	imageResp := resp.GetResponses()[0]
	if imageResp.GetError() != nil && imageResp.GetError().GetCode() != 0 {
		return "", 0, &ProviderError{
			Provider: NameCloudVision,
			Code:     imageResp.GetError().GetCode(),
			Message:  imageResp.GetError().GetMessage(),
		}
	}

	annotation := imageResp.GetFullTextAnnotation()
	return annotation.GetText(), pageConfidence(annotation), nil
}

// annotateFile processes an inline PDF of up to MaxPagesSync pages.
func (g *GoogleVisionProvider) annotateFile(ctx context.Context, data []byte) (string, float64, error) {
	req := &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  data,
					MimeType: "application/pdf",
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateFiles(ctx, req)
	if err != nil {
		return "", 0, err
	}
	if len(resp.GetResponses()) == 0 {
		return "", 0, ErrMalformedResponse
	}

	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil && fileResp.GetError().GetCode() != 0 {
		return "", 0, &ProviderError{
			Provider: NameCloudVision,
			Code:     fileResp.GetError().GetCode(),
			Message:  fileResp.GetError().GetMessage(),
		}
	}
	if len(fileResp.GetResponses()) > MaxPagesSync {
		return "", 0, fmt.Errorf("document has %d pages, at most %d are processed synchronously", len(fileResp.GetResponses()), MaxPagesSync)
	}

	var allText strings.Builder
	var confidenceSum float64
	var pages int
	for pageIdx, page := range fileResp.GetResponses() {
		if page.GetError() != nil && page.GetError().GetCode() != 0 {
			return "", 0, &ProviderError{
				Provider: NameCloudVision,
				Code:     page.GetError().GetCode(),
				Message:  fmt.Sprintf("page %d: %s", pageIdx+1, page.GetError().GetMessage()),
			}
		}
		annotation := page.GetFullTextAnnotation()
		if annotation == nil {
			continue
		}
		if allText.Len() > 0 {
			allText.WriteString("\n")
		}
		allText.WriteString(annotation.GetText())
		confidenceSum += pageConfidence(annotation)
		pages++
	}

	if pages == 0 {
		return "", 0, nil
	}
	return allText.String(), confidenceSum / float64(pages), nil
}

// pageConfidence averages the per-page confidence of a text annotation.
func pageConfidence(annotation *visionpb.TextAnnotation) float64 {
	var sum float64
	var count int
	for _, page := range annotation.GetPages() {
		if page.GetConfidence() > 0 {
			sum += float64(page.GetConfidence())
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return clamp01(sum / float64(count))
}

// Close closes the underlying Vision client.
func (g *GoogleVisionProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
