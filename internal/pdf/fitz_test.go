package pdf

import (
	"bytes"
	"fmt"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfzip/internal/domain"
)

// samplePDF builds an A4 document with the given number of pages.
func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 24)
	for i := 1; i <= pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, fmt.Sprintf("Page %d", i))
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func openFitz(t *testing.T, data []byte) domain.Document {
	t.Helper()
	doc, err := NewFitzEngine().Open(data)
	if err != nil {
		t.Skipf("MuPDF backend unavailable: %v", err)
	}
	t.Cleanup(func() { _ = doc.Close() })
	return doc
}

func TestFitzEngine_RenderPages(t *testing.T) {
	data := samplePDF(t, 3)
	assert.NoError(t, NewValidator().ValidateUpload("sample.pdf", data))

	doc := openFitz(t, data)
	require.Equal(t, 3, doc.PageCount())

	// A4 at 72 DPI is 595x842 points.
	img, err := doc.RenderPage(0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 595, img.Bounds().Dx(), 2)
	assert.InDelta(t, 842, img.Bounds().Dy(), 2)

	jpegBytes, err := NewRasterizer().Rasterize(doc, 2, 0.5, 60)
	require.NoError(t, err)
	decoded := decode(t, jpegBytes)
	assert.InDelta(t, 298, decoded.Bounds().Dx(), 2)
}

func TestFitzEngine_OutOfRangeAndClose(t *testing.T) {
	doc := openFitz(t, samplePDF(t, 1))

	_, err := doc.RenderPage(1, 1)
	assert.Error(t, err)

	require.NoError(t, doc.Close())
	require.NoError(t, doc.Close(), "second close is a no-op")

	_, err = doc.RenderPage(0, 1)
	assert.Error(t, err)
}

func TestFitzEngine_RejectsGarbage(t *testing.T) {
	// Probe the backend first so a missing library skips instead of passing.
	openFitz(t, samplePDF(t, 1))

	// MuPDF may repair its way to an empty document instead of failing.
	doc, err := NewFitzEngine().Open([]byte("definitely not a pdf"))
	if err == nil {
		defer doc.Close()
		assert.Zero(t, doc.PageCount())
	}
}
