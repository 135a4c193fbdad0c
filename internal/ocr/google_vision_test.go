package ocr

import (
	"context"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"

	"pantry/pkg/models"
)

type fakeAnnotator struct {
	images *visionpb.BatchAnnotateImagesResponse
	files  *visionpb.BatchAnnotateFilesResponse
	err    error

	imageCalls int
	fileCalls  int
}

func (f *fakeAnnotator) BatchAnnotateImages(_ context.Context, _ *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.imageCalls++
	return f.images, f.err
}

func (f *fakeAnnotator) BatchAnnotateFiles(_ context.Context, _ *visionpb.BatchAnnotateFilesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error) {
	f.fileCalls++
	return f.files, f.err
}

func (f *fakeAnnotator) Close() error { return nil }

func annotation(text string, confidences ...float32) *visionpb.TextAnnotation {
	a := &visionpb.TextAnnotation{Text: text}
	for _, c := range confidences {
		a.Pages = append(a.Pages, &visionpb.Page{Confidence: c})
	}
	return a
}

func TestGoogleVision_Image(t *testing.T) {
	client := &fakeAnnotator{
		images: &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{
				{FullTextAnnotation: annotation("EDEKA   Center\n\n  Milch    1,29 \n", 0.9, 0.7)},
			},
		},
	}
	p := NewGoogleVisionProviderWithClient(client)

	result := p.ProcessDocument(context.Background(), jpegBytes, models.DocumentTypeReceiptImage)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, NameCloudVision, result.Provider)
	assert.Equal(t, 1, client.imageCalls)
	assert.Equal(t, "EDEKA Center\nMilch 1,29", result.Data.Text())
	assert.InDelta(t, 0.8, result.Data.Confidence, 0.0001)
	assert.Nil(t, result.Data.MerchantName)
	assert.Empty(t, result.Data.LineItems)
}

func TestGoogleVision_PDF(t *testing.T) {
	client := &fakeAnnotator{
		files: &visionpb.BatchAnnotateFilesResponse{
			Responses: []*visionpb.AnnotateFileResponse{
				{
					Responses: []*visionpb.AnnotateImageResponse{
						{FullTextAnnotation: annotation("Rechnung 42", 0.9)},
						{FullTextAnnotation: annotation("Summe 10,00", 0.5)},
					},
				},
			},
		},
	}
	p := NewGoogleVisionProviderWithClient(client)

	result := p.ProcessDocument(context.Background(), []byte("%PDF-1.4"), models.DocumentTypeInvoicePDF)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, client.fileCalls)
	assert.Equal(t, "Rechnung 42\nSumme 10,00", result.Data.Text())
	assert.InDelta(t, 0.7, result.Data.Confidence, 0.0001)
}

func TestGoogleVision_Failures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		client := &fakeAnnotator{
			images: &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{
					{Error: &rpcstatus.Status{Code: 3, Message: "Bad image data"}},
				},
			},
		}
		result := NewGoogleVisionProviderWithClient(client).ProcessDocument(context.Background(), jpegBytes, models.DocumentTypeReceiptImage)
		assert.False(t, result.Success)
		assert.Equal(t, "provider error: Bad image data", result.Error)
	})

	t.Run("no text", func(t *testing.T) {
		client := &fakeAnnotator{
			images: &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{{FullTextAnnotation: annotation("  \n ")}},
			},
		}
		result := NewGoogleVisionProviderWithClient(client).ProcessDocument(context.Background(), jpegBytes, models.DocumentTypeReceiptImage)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "no readable text")
	})

	t.Run("html unsupported", func(t *testing.T) {
		client := &fakeAnnotator{}
		p := NewGoogleVisionProviderWithClient(client)
		assert.False(t, p.SupportsDocumentType(models.DocumentTypeInvoiceHTML))

		result := p.ProcessDocument(context.Background(), []byte("<html></html>"), models.DocumentTypeInvoiceHTML)
		assert.False(t, result.Success)
		assert.Zero(t, client.imageCalls+client.fileCalls)
	})
}

func TestGoogleVision_WithoutCredentials(t *testing.T) {
	p := NewGoogleVisionProvider(context.Background(), VisionConfig{})
	assert.False(t, p.IsAvailable())
	require.NoError(t, p.Close())
}
