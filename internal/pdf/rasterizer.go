package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/spherical/pdfzip/internal/domain"
)

// Rasterizer turns document pages into JPEG bytes. It holds no per-document
// state and is safe for concurrent use on distinct documents.
type Rasterizer struct {
	// Background is painted under transparent regions; JPEG has no alpha.
	Background color.Color
}

// NewRasterizer creates a rasterizer that flattens against white
func NewRasterizer() *Rasterizer {
	return &Rasterizer{Background: color.White}
}

// Rasterize renders one page at scale (1.0 == 72 DPI) and encodes it as JPEG.
// quality is clamped to 1..100. Failures are reported as *domain.RenderError
// with Ordinal left for the caller to fill in.
func (r *Rasterizer) Rasterize(doc domain.Document, index int, scale float64, quality int) ([]byte, error) {
	if scale <= 0 {
		return nil, &domain.RenderError{Index: index, Err: fmt.Errorf("invalid scale %v", scale)}
	}

	img, err := doc.RenderPage(index, scale)
	if err != nil {
		return nil, &domain.RenderError{Index: index, Err: err}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, r.flatten(img), &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, &domain.RenderError{Index: index, Err: fmt.Errorf("encode jpeg: %w", err)}
	}
	return buf.Bytes(), nil
}

// flatten composites img over the background colour. Opaque images are
// returned unchanged.
func (r *Rasterizer) flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	bg := r.Background
	if bg == nil {
		bg = color.White
	}

	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}
