package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/convert"
	"github.com/spherical/pdfzip/internal/domain"
	"github.com/spherical/pdfzip/internal/observability"
)

//go:embed index.html
var indexPage []byte

// Upload form fields. "pdf" is accepted for single-file clients.
var uploadFields = []string{"pdfs", "pdf"}

// Converter is the conversion capability the handlers need.
type Converter interface {
	ConvertBatch(ctx context.Context, uploads []convert.Upload, opts convert.Options) (*convert.Result, error)
}

// Handler serves the conversion endpoints.
type Handler struct {
	converter Converter
	config    config.Provider
	logger    *observability.Logger
}

// NewHandler creates a new handler.
func NewHandler(converter Converter, cfg config.Provider, logger *observability.Logger) *Handler {
	return &Handler{
		converter: converter,
		config:    cfg,
		logger:    logger,
	}
}

// Convert handles POST /convert.
//
// Validation problems are answered with a JSON error. Once the archive has
// started streaming, failures can no longer change the status code; the
// connection is aborted instead so the client never receives a download
// that looks complete.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithContext(ctx)
	cfg := h.config.Current()

	r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(cfg.Server.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large",
				fmt.Sprintf("upload exceeds %s", humanize.IBytes(uint64(tooLarge.Limit))))
			return
		}
		h.writeError(w, http.StatusBadRequest, string(domain.ErrorTypeInvalidInput), "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := parseOptions(r)
	if err != nil {
		h.writeDomainError(w, log, err)
		return
	}

	uploads, err := readUploads(r.MultipartForm)
	if err != nil {
		h.writeDomainError(w, log, err)
		return
	}

	result, err := h.converter.ConvertBatch(ctx, uploads, opts)
	if err != nil {
		h.writeDomainError(w, log, err)
		return
	}
	defer result.Stream.Close()

	log.Info().
		Str("archive", result.Name).
		Int("documents", len(result.Documents)).
		Int("pages", result.Pages()).
		Msg("Streaming archive")

	// The first chunk is read before the headers are committed, so a failure
	// on the very first page can still be reported cleanly.
	buf := make([]byte, max(1, cfg.Conversion.ChunkSize))
	n, err := result.Stream.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeDomainError(w, log, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if err := streamChunks(w, result.Stream, buf, n); err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Str("archive", result.Name).Msg("Client went away during streaming")
		} else {
			log.Error().Err(err).Str("archive", result.Name).Msg("Streaming failed after response started, aborting connection")
		}
		panic(http.ErrAbortHandler)
	}
}

// streamChunks writes the n bytes already in buf, then copies the rest of
// src one buffer at a time, flushing after every write.
func streamChunks(w http.ResponseWriter, src io.Reader, buf []byte, n int) error {
	rc := http.NewResponseController(w)
	for {
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}

		var err error
		n, err = src.Read(buf)
		if errors.Is(err, io.EOF) {
			if n > 0 {
				_, err = w.Write(buf[:n])
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func parseOptions(r *http.Request) (convert.Options, error) {
	skipStart, errStart := formInt(r, "skip_start")
	skipEnd, errEnd := formInt(r, "skip_end")
	if errStart != nil || errEnd != nil {
		return convert.Options{}, domain.InvalidInputError("skip_start / skip_end must be integers", errors.Join(errStart, errEnd))
	}
	return convert.Options{SkipStart: skipStart, SkipEnd: skipEnd}, nil
}

func formInt(r *http.Request, field string) (int, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func readUploads(form *multipart.Form) ([]convert.Upload, error) {
	var uploads []convert.Upload
	for _, field := range uploadFields {
		for _, fh := range form.File[field] {
			data, err := readPart(fh)
			if err != nil {
				return nil, domain.InvalidInputError(fmt.Sprintf("cannot read upload %s", fh.Filename), err)
			}
			uploads = append(uploads, convert.Upload{Name: fh.Filename, Data: data})
		}
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": h.config.Current().Observability.ServiceName,
	})
}

// ConversionSettingsDTO is the read-only view served by GET /config.
type ConversionSettingsDTO struct {
	MaxPages        int     `json:"max_pages"`
	DPI             float64 `json:"dpi"`
	Scale           float64 `json:"scale"`
	JPEGQuality     int     `json:"jpeg_quality"`
	ChunkSize       int     `json:"chunk_size"`
	Compression     string  `json:"compression"`
	EntryPattern    string  `json:"entry_pattern"`
	BatchName       string  `json:"batch_name"`
	NestedStreaming bool    `json:"nested_streaming"`
	MaxUploadBytes  int64   `json:"max_upload_bytes"`
	MaxUpload       string  `json:"max_upload"`
}

// Config handles GET /config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Current()
	conv := cfg.Conversion
	h.writeJSON(w, http.StatusOK, ConversionSettingsDTO{
		MaxPages:        conv.MaxPages,
		DPI:             conv.ScaleFactor() * domain.BaselineDPI,
		Scale:           conv.ScaleFactor(),
		JPEGQuality:     conv.JPEGQuality,
		ChunkSize:       conv.ChunkSize,
		Compression:     conv.Compression,
		EntryPattern:    conv.EntryPattern,
		BatchName:       conv.BatchName,
		NestedStreaming: conv.NestedStreaming,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		MaxUpload:       humanize.IBytes(uint64(cfg.Server.MaxUploadBytes)),
	})
}

// Index handles GET / with a minimal upload form.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(indexPage)
}

// StatusFor maps an error to the HTTP status used before streaming starts.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrorTypeInvalidInput, domain.ErrorTypeNoValidInput:
		return http.StatusBadRequest
	case domain.ErrorTypeEmptyRange:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypePageLimitExceeded:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, log *observability.Logger, err error) {
	status := StatusFor(err)
	kind := domain.KindOf(err)

	message := err.Error()
	if domain.IsValidation(err) {
		log.Warn().Err(err).Int("status", status).Msg("Rejected conversion request")
	} else {
		log.Error().Err(err).Msg("Conversion failed")
		if kind == domain.ErrorTypeUnknown {
			kind = "internal"
			message = "internal error"
		}
	}

	h.writeError(w, status, string(kind), message)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":   kind,
		"message": message,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
