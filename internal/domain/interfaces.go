package domain

import "image"

// Engine opens PDF documents from memory
type Engine interface {
	// Open parses data and returns a handle; data is never written to disk
	Open(data []byte) (Document, error)
}

// Document is an open PDF handle. Implementations need not be safe for
// concurrent page renders.
type Document interface {
	// PageCount returns the total number of pages
	PageCount() int

	// RenderPage rasterizes the zero-based page at scale x 72 DPI. Native
	// memory used for the page is released before it returns.
	RenderPage(index int, scale float64) (image.Image, error)

	// Close releases the document
	Close() error
}

// EventSink receives conversion progress. It must not block.
type EventSink func(StreamEvent)
