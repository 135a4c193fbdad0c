package tesseract

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry/internal/ocr"
	"pantry/pkg/models"
)

type fakeWorker struct {
	text     string
	words    []float64
	boxesErr error
	closed   bool
	images   int
}

func (w *fakeWorker) SetImageFromBytes(data []byte) error {
	w.images++
	return nil
}

func (w *fakeWorker) Text() (string, error) { return w.text, nil }

func (w *fakeWorker) GetBoundingBoxes(_ gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error) {
	if w.boxesErr != nil {
		return nil, w.boxesErr
	}
	boxes := make([]gosseract.BoundingBox, 0, len(w.words))
	for _, c := range w.words {
		boxes = append(boxes, gosseract.BoundingBox{Confidence: c})
	}
	return boxes, nil
}

func (w *fakeWorker) Close() error {
	w.closed = true
	return nil
}

type countingFactory struct {
	worker   *fakeWorker
	created  int
	language string
}

func (f *countingFactory) build(language string) (Worker, error) {
	f.created++
	f.language = language
	return f.worker, nil
}

var photo = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func TestProcessDocument_ReturnsNormalizedText(t *testing.T) {
	factory := &countingFactory{worker: &fakeWorker{
		text:  "ALDI  SÜD\n\n\nBananen   1,19\n",
		words: []float64{90, 80, 70},
	}}
	p := NewWithFactory("deu", factory.build)

	result := p.ProcessDocument(context.Background(), photo, models.DocumentTypeReceiptImage)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, Name, result.Provider)
	assert.Equal(t, "ALDI SÜD\nBananen 1,19", result.Data.Text())
	assert.InDelta(t, 0.8, result.Data.Confidence, 0.0001)
	assert.Empty(t, result.Data.LineItems)
	assert.False(t, result.Data.TotalAmount.Valid)
	assert.Equal(t, "deu", factory.language)
}

func TestProcessDocument_CreatesWorkerOnce(t *testing.T) {
	factory := &countingFactory{worker: &fakeWorker{text: "Milch 1,29", words: []float64{95}}}
	p := NewWithFactory("", factory.build)

	assert.Zero(t, factory.created, "worker must be created lazily")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.ProcessDocument(context.Background(), photo, models.DocumentTypeReceiptImage)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, factory.created)
	assert.Equal(t, 5, factory.worker.images)
	assert.Equal(t, "eng", factory.language)
}

func TestProcessDocument_Rejections(t *testing.T) {
	factory := &countingFactory{worker: &fakeWorker{text: "x"}}
	p := NewWithFactory("deu", factory.build)
	ctx := context.Background()

	invoice := p.ProcessDocument(ctx, []byte("%PDF-1.4"), models.DocumentTypeInvoicePDF)
	assert.False(t, invoice.Success)
	assert.Contains(t, invoice.Error, "not supported")

	empty := p.ProcessDocument(ctx, nil, models.DocumentTypeReceiptImage)
	assert.False(t, empty.Success)
	assert.Contains(t, empty.Error, "document is empty")

	assert.Zero(t, factory.created)
}

func TestProcessDocument_BlankImage(t *testing.T) {
	factory := &countingFactory{worker: &fakeWorker{text: " \n\t\n"}}
	p := NewWithFactory("deu", factory.build)

	result := p.ProcessDocument(context.Background(), photo, models.DocumentTypeReceiptImage)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ocr.ErrEmptyDocument.Error())
}

func TestProcessDocument_MissingWordConfidences(t *testing.T) {
	factory := &countingFactory{worker: &fakeWorker{text: "Brot", boxesErr: errors.New("no iterator")}}
	p := NewWithFactory("deu", factory.build)

	result := p.ProcessDocument(context.Background(), photo, models.DocumentTypeReceiptImage)

	require.True(t, result.Success)
	assert.Zero(t, result.Data.Confidence)
}

func TestClose_ReleasesWorker(t *testing.T) {
	worker := &fakeWorker{text: "Milch"}
	factory := &countingFactory{worker: worker}
	p := NewWithFactory("deu", factory.build)

	require.True(t, p.IsAvailable())
	require.True(t, p.ProcessDocument(context.Background(), photo, models.DocumentTypeReceiptImage).Success)

	require.NoError(t, p.Close())
	assert.True(t, worker.closed)
	assert.False(t, p.IsAvailable())

	after := p.ProcessDocument(context.Background(), photo, models.DocumentTypeReceiptImage)
	assert.False(t, after.Success)
	assert.Equal(t, 1, factory.created)
}

func TestMeanConfidence(t *testing.T) {
	assert.Zero(t, meanConfidence(nil))
	assert.InDelta(t, 0.5, meanConfidence([]gosseract.BoundingBox{{Confidence: 40}, {Confidence: 60}}), 0.0001)
	assert.Equal(t, 1.0, meanConfidence([]gosseract.BoundingBox{{Confidence: 140}}))
}
