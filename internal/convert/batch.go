package convert

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical/pdfzip/internal/archive"
	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/domain"
)

// ConvertBatch converts a request's uploads. A lone upload goes straight to
// Convert. Among several, those without a .pdf extension are skipped; a
// single remaining document is returned as Convert would return it, more
// than one are packed into an archive of per-document archives.
//
// Every document is opened and range-checked before the result is
// returned, so a bad document fails the whole batch without any output.
func (s *Service) ConvertBatch(ctx context.Context, uploads []Upload, opts Options) (*Result, error) {
	switch len(uploads) {
	case 0:
		return nil, domain.InvalidInputError("No PDF files uploaded", nil)
	case 1:
		// A lone upload is validated strictly instead of being skipped.
		return s.Convert(ctx, uploads[0], opts)
	}

	kept := make([]Upload, 0, len(uploads))
	for _, up := range uploads {
		if !s.validator.HasPDFExtension(up.Name) {
			s.logger.Warn().Str("file", up.Name).Msg("Skipping upload without .pdf extension")
			continue
		}
		kept = append(kept, up)
	}
	if len(kept) == 0 {
		return nil, domain.NoValidInputError("none of the uploaded files is a PDF")
	}
	if len(kept) == 1 {
		return s.Convert(ctx, kept[0], opts)
	}

	cfg := s.config.Current().Conversion
	docs, err := s.prepareAll(ctx, kept, opts, cfg)
	if err != nil {
		return nil, err
	}

	s.dedupeNames(ctx, docs)

	jobs := make([]Job, len(docs))
	for i, p := range docs {
		jobs[i] = p.job
	}

	return &Result{
		Name:        cfg.BatchName,
		ContentType: ContentType,
		Stream:      s.batchStream(ctx, docs, cfg, opts.Events),
		Documents:   jobs,
	}, nil
}

// prepareAll opens and range-checks uploads concurrently. On any failure
// every document opened so far is closed.
func (s *Service) prepareAll(ctx context.Context, uploads []Upload, opts Options, cfg config.ConversionConfig) ([]*prepared, error) {
	docs := make([]*prepared, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.MaxParallelDocuments))
	for i, up := range uploads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := s.prepare(gctx, up, opts, cfg)
			if err != nil {
				return fmt.Errorf("%s: %w", up.Name, err)
			}
			docs[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, p := range docs {
			if p != nil {
				p.release(s.logger)
			}
		}
		s.logger.Warn().Err(err).Int("documents", len(uploads)).Msg("Batch rejected")
		return nil, err
	}
	return docs, nil
}

// dedupeNames keeps member names unique within the batch archive. Later
// duplicates get a _2, _3, ... suffix before the extension.
func (s *Service) dedupeNames(ctx context.Context, docs []*prepared) {
	seen := make(map[string]bool, len(docs))
	for _, p := range docs {
		name := p.job.Name
		base := strings.TrimSuffix(name, path.Ext(name))
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d%s", base, n, path.Ext(p.job.Name))
		}
		if name != p.job.Name {
			s.logger.WithContext(ctx).WithJob(p.job.ID).Warn().
				Str("document", p.job.Source).
				Str("archive", p.job.Name).
				Str("renamed", name).
				Msg("Duplicate member name in batch")
			p.job.Name = name
		}
		seen[name] = true
	}
}

// batchStream packs each document's archive as one member of an outer
// archive. Members are produced one after another; each document is
// released as soon as its member is written.
func (s *Service) batchStream(ctx context.Context, docs []*prepared, cfg config.ConversionConfig, events domain.EventSink) *archive.Stream {
	log := s.logger.WithContext(ctx).WithJob(uuid.NewString())
	buffered := !cfg.NestedStreaming

	entries := func(yield func(archive.Entry) bool) {
		for _, p := range docs {
			entry := archive.Entry{
				Name:     p.job.Name,
				Method:   archive.Store,
				Buffered: buffered,
				Content: archive.Reader(func(ctx context.Context) (io.ReadCloser, error) {
					return s.documentStream(ctx, p, cfg, events), nil
				}),
			}
			if !yield(entry) {
				return
			}
		}
	}

	pages := 0
	for _, p := range docs {
		pages += p.job.Pages.Count()
	}
	w := archive.NewWriter(archive.Options{
		Comment: fmt.Sprintf("%d documents, %d pages", len(docs), pages),
	})
	return archive.NewStream(ctx, func(ctx context.Context, dst io.Writer) error {
		startTime := time.Now()
		stats, err := w.Write(ctx, dst, entries)
		if err != nil {
			s.logAbort(log, err).
				Str("archive", cfg.BatchName).
				Int("members_written", stats.Entries).
				Msg("Batch archive truncated")
			return err
		}

		log.Info().
			Str("archive", cfg.BatchName).
			Int("documents", stats.Entries).
			Bytes("size", stats.Bytes).
			Bool("nested_streaming", !buffered).
			Dur("duration", time.Since(startTime)).
			Msg("Batch converted")
		s.emitEvent(events, domain.StreamEvent{
			Type:    domain.EventComplete,
			Total:   stats.Entries,
			Payload: stats.Bytes,
		})
		return nil
	}, func() {
		for _, p := range docs {
			p.release(log)
		}
	})
}
