package domain

import (
	"time"
)

// BaselineDPI is the resolution a scale factor of 1 corresponds to.
const BaselineDPI = 72.0

// PageRange is the half-open interval [Start, End) of zero-based page
// indices selected for conversion.
type PageRange struct {
	Start int
	End   int
}

// Count returns the number of selected pages.
func (r PageRange) Count() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Ordinal maps a page index inside the range to its 1-based position in the
// output archive.
func (r PageRange) Ordinal(index int) int {
	return index - r.Start + 1
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart            EventType = "start"
	EventPageComplete     EventType = "page_complete"
	EventDocumentComplete EventType = "document_complete"
	EventError            EventType = "error"
	EventComplete         EventType = "complete"
)

// StreamEvent represents an event emitted during conversion
type StreamEvent struct {
	Type       EventType   `json:"type"`
	Document   string      `json:"document,omitempty"`
	PageNumber int         `json:"page_number,omitempty"` // ordinal inside the document archive
	Total      int         `json:"total,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
