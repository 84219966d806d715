// Package convert turns uploaded PDFs into streamed archives of page images.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdfzip/internal/archive"
	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/domain"
	"github.com/spherical/pdfzip/internal/observability"
	"github.com/spherical/pdfzip/internal/pdf"
)

// ContentType of every Result stream.
const ContentType = "application/zip"

// Upload is one file received from a client.
type Upload struct {
	Name string
	Data []byte
}

// Options are the per-request conversion parameters.
type Options struct {
	SkipStart int
	SkipEnd   int
	// Events receives progress; nil disables it.
	Events domain.EventSink
}

// Job describes one document scheduled for conversion.
type Job struct {
	ID     string
	Name   string // archive name, <base>_<count>.zip
	Source string
	Total  int
	Pages  domain.PageRange
}

// Result is a ready-to-stream archive. Nothing has been rendered yet; pages
// are produced while Stream is read. Stream must be closed.
type Result struct {
	Name        string
	ContentType string
	Stream      io.ReadCloser
	Documents   []Job
}

// Pages returns the number of page images the archive will contain.
func (r *Result) Pages() int {
	n := 0
	for _, j := range r.Documents {
		n += j.Pages.Count()
	}
	return n
}

// Service orchestrates conversions.
type Service struct {
	engine     domain.Engine
	rasterizer *pdf.Rasterizer
	validator  *pdf.Validator
	config     config.Provider
	logger     *observability.Logger
}

// NewService creates a conversion service. Configuration is read from cfg
// on every call, so reloads apply to the next request.
func NewService(engine domain.Engine, cfg config.Provider, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{
		engine:     engine,
		rasterizer: pdf.NewRasterizer(),
		validator:  pdf.NewValidator(),
		config:     cfg,
		logger:     logger.WithOperation("convert"),
	}
}

// prepared is an opened document whose range has been selected.
type prepared struct {
	job  Job
	doc  domain.Document
	once sync.Once
}

// release closes the document once, whoever gets there first.
func (p *prepared) release(log *observability.Logger) {
	p.once.Do(func() {
		if err := p.doc.Close(); err != nil {
			log.Warn().Err(err).Str("document", p.job.Source).Msg("Failed to close document")
		}
	})
}

// Convert validates one upload and returns its archive. Validation errors
// are returned before any page is rendered.
func (s *Service) Convert(ctx context.Context, up Upload, opts Options) (*Result, error) {
	cfg := s.config.Current().Conversion

	p, err := s.prepare(ctx, up, opts, cfg)
	if err != nil {
		return nil, err
	}

	return &Result{
		Name:        p.job.Name,
		ContentType: ContentType,
		Stream:      s.documentStream(ctx, p, cfg, opts.Events),
		Documents:   []Job{p.job},
	}, nil
}

func (s *Service) prepare(ctx context.Context, up Upload, opts Options, cfg config.ConversionConfig) (*prepared, error) {
	if err := s.validator.ValidateUpload(up.Name, up.Data); err != nil {
		return nil, err
	}

	doc, err := s.engine.Open(up.Data)
	if err != nil {
		return nil, domain.InvalidInputError(fmt.Sprintf("cannot open %s as a PDF", up.Name), err)
	}

	total := doc.PageCount()
	pages, err := SelectRange(total, opts.SkipStart, opts.SkipEnd, cfg.MaxPages)
	if err != nil {
		_ = doc.Close()
		return nil, err
	}

	job := Job{
		ID:     uuid.NewString(),
		Name:   ArchiveName(up.Name, pages.Count()),
		Source: up.Name,
		Total:  total,
		Pages:  pages,
	}
	s.logger.WithContext(ctx).WithJob(job.ID).Debug().
		Str("document", job.Source).
		Int("total_pages", total).
		Int("start", pages.Start).
		Int("end", pages.End).
		Msg("Document prepared")

	return &prepared{job: job, doc: doc}, nil
}

// documentStream returns the lazy archive of p's pages. The document is
// released when the stream finishes or is closed.
func (s *Service) documentStream(ctx context.Context, p *prepared, cfg config.ConversionConfig, events domain.EventSink) *archive.Stream {
	log := s.logger.WithContext(ctx).WithJob(p.job.ID)
	w := archive.NewWriter(archive.Options{Level: cfg.CompressionLevel})

	return archive.NewStream(ctx, func(ctx context.Context, dst io.Writer) error {
		startTime := time.Now()
		s.emitEvent(events, domain.StreamEvent{
			Type:     domain.EventStart,
			Document: p.job.Name,
			Total:    p.job.Pages.Count(),
			Payload:  fmt.Sprintf("Converting %s", p.job.Source),
		})

		stats, err := w.Write(ctx, dst, s.pageEntries(p, cfg, events))
		if err != nil {
			s.logAbort(log, err).
				Str("document", p.job.Source).
				Int("pages_written", stats.Entries).
				Bytes("bytes_written", stats.Bytes).
				Msg("Archive truncated")
			s.emitEvent(events, domain.StreamEvent{
				Type:     domain.EventError,
				Document: p.job.Name,
				Payload:  err.Error(),
			})
			return err
		}

		log.Info().
			Str("document", p.job.Source).
			Str("archive", p.job.Name).
			Int("pages", stats.Entries).
			Bytes("size", stats.Bytes).
			Dur("duration", time.Since(startTime)).
			Msg("Document converted")
		s.emitEvent(events, domain.StreamEvent{
			Type:     domain.EventDocumentComplete,
			Document: p.job.Name,
			Total:    stats.Entries,
			Payload:  stats.Bytes,
		})
		return nil
	}, func() { p.release(log) })
}

// pageEntries yields one entry per selected page. Each producer renders its
// page when the archive writer reaches it.
func (s *Service) pageEntries(p *prepared, cfg config.ConversionConfig, events domain.EventSink) iter.Seq[archive.Entry] {
	method := uint16(archive.Deflate)
	if cfg.Compression == config.CompressionStore {
		method = archive.Store
	}
	scale := cfg.ScaleFactor()
	quality := cfg.JPEGQuality

	return func(yield func(archive.Entry) bool) {
		for index := p.job.Pages.Start; index < p.job.Pages.End; index++ {
			ordinal := p.job.Pages.Ordinal(index)
			entry := archive.Entry{
				Name:   EntryName(cfg.EntryPattern, ordinal),
				Method: method,
				Content: func(_ context.Context, w io.Writer) error {
					data, err := s.rasterizer.Rasterize(p.doc, index, scale, quality)
					if err != nil {
						var renderErr *domain.RenderError
						if errors.As(err, &renderErr) {
							renderErr.Ordinal = ordinal
						}
						return err
					}
					if _, err := w.Write(data); err != nil {
						return err
					}
					s.emitEvent(events, domain.StreamEvent{
						Type:       domain.EventPageComplete,
						Document:   p.job.Name,
						PageNumber: ordinal,
						Total:      p.job.Pages.Count(),
					})
					return nil
				},
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// logAbort picks the level for a stream that did not complete: a consumer
// going away is expected, anything else is an error.
func (s *Service) logAbort(log *observability.Logger, err error) *observability.LogEvent {
	if errors.Is(err, archive.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
		return log.Warn().Err(err)
	}
	return log.Error().Err(err)
}

// emitEvent hands an event to the sink, if any
func (s *Service) emitEvent(sink domain.EventSink, event domain.StreamEvent) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	sink(event)
}
