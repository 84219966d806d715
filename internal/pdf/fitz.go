package pdf

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/pdfzip/internal/domain"
)

// FitzEngine implements domain.Engine using go-fitz (MuPDF)
type FitzEngine struct{}

// NewFitzEngine creates a new MuPDF backed engine
func NewFitzEngine() *FitzEngine {
	return &FitzEngine{}
}

// Open parses an in-memory PDF
func (e *FitzEngine) Open(data []byte) (domain.Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &fitzDocument{doc: doc, pages: doc.NumPage()}, nil
}

// fitzDocument serializes access to the MuPDF context, which must not be
// used from two goroutines at once.
type fitzDocument struct {
	mu     sync.Mutex
	doc    *fitz.Document
	pages  int
	closed bool
}

func (d *fitzDocument) PageCount() int {
	return d.pages
}

// RenderPage renders through ImageDPI; the pixmap is dropped inside go-fitz
// before the copied RGBA image is returned.
func (d *fitzDocument) RenderPage(index int, scale float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("render page %d: document closed", index)
	}
	if index < 0 || index >= d.pages {
		return nil, fmt.Errorf("render page %d: %w", index, fitz.ErrPageMissing)
	}

	img, err := d.doc.ImageDPI(index, scale*domain.BaselineDPI)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", index, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}
