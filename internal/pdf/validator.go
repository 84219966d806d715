package pdf

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/spherical/pdfzip/internal/domain"
)

const pdfMIME = "application/pdf"

// Validator provides input validation for uploaded PDFs
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// HasPDFExtension reports whether name ends in .pdf, ignoring case
func (v *Validator) HasPDFExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(strings.TrimSpace(name)), ".pdf")
}

// ValidateUpload checks that an upload has a name, a PDF extension, and
// content that actually looks like a PDF.
func (v *Validator) ValidateUpload(name string, data []byte) error {
	if strings.TrimSpace(name) == "" {
		return domain.InvalidInputError("file name cannot be empty", nil)
	}

	if !v.HasPDFExtension(name) {
		return domain.InvalidInputError(fmt.Sprintf("Only PDF files are allowed (got %s)", name), nil)
	}

	if len(data) == 0 {
		return domain.InvalidInputError(fmt.Sprintf("file %s is empty", name), nil)
	}

	if mt := mimetype.Detect(data); !mt.Is(pdfMIME) {
		return domain.InvalidInputError(fmt.Sprintf("file %s is not a PDF (detected %s)", name, mt.String()), nil)
	}

	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 0 || quality > 100 {
		return domain.InvalidInputError(fmt.Sprintf("quality must be between 0 and 100, got %d", quality), nil)
	}
	return nil
}
