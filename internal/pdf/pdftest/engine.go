// Package pdftest provides an in-memory domain.Engine for tests that must
// not depend on MuPDF.
package pdftest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/spherical/pdfzip/internal/domain"
)

const marker = "%pdftest pages="

// ErrCorrupt is returned for pages configured to fail.
var ErrCorrupt = errors.New("pdftest: corrupt page")

// Doc returns bytes that sniff as a PDF and open as a document with the
// given number of pages.
func Doc(pages int) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.4\n%s%d\n%%%%EOF\n", marker, pages))
}

// Engine is a fake engine. Pages are 10x10 pixels at scale 1.
type Engine struct {
	// FailPages lists zero-based page indices whose rendering fails.
	FailPages map[int]bool
	// Transparent renders pages with a fully transparent background.
	Transparent bool

	mu       sync.Mutex
	opened   int
	closed   int
	rendered []int
}

// Open implements domain.Engine.
func (e *Engine) Open(data []byte) (domain.Document, error) {
	i := bytes.Index(data, []byte(marker))
	if i < 0 {
		return nil, errors.New("pdftest: not a test document")
	}
	var pages int
	if _, err := fmt.Sscanf(string(data[i+len(marker):]), "%d", &pages); err != nil {
		return nil, fmt.Errorf("pdftest: %w", err)
	}

	e.mu.Lock()
	e.opened++
	e.mu.Unlock()
	return &document{engine: e, pages: pages}, nil
}

// Opened returns how many documents were opened.
func (e *Engine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Closed returns how many documents were closed.
func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Rendered returns the page indices rendered so far, in order.
func (e *Engine) Rendered() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.rendered...)
}

type document struct {
	engine *Engine
	pages  int
	closed bool
}

func (d *document) PageCount() int { return d.pages }

func (d *document) RenderPage(index int, scale float64) (image.Image, error) {
	e := d.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if d.closed {
		return nil, errors.New("pdftest: document closed")
	}
	if index < 0 || index >= d.pages {
		return nil, fmt.Errorf("pdftest: page %d out of range", index)
	}
	e.rendered = append(e.rendered, index)
	if e.FailPages[index] {
		return nil, ErrCorrupt
	}

	size := max(1, int(10*scale))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fill := PageColor(index)
	if e.Transparent {
		fill = color.RGBA{}
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	return img, nil
}

func (d *document) Close() error {
	e := d.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if d.closed {
		return errors.New("pdftest: closed twice")
	}
	d.closed = true
	e.closed++
	return nil
}

// PageColor is the opaque fill used for page index.
func PageColor(index int) color.RGBA {
	return color.RGBA{R: uint8(40 * (index % 6)), G: uint8(255 - 20*(index%10)), B: 128, A: 255}
}
