package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/convert"
	"github.com/spherical/pdfzip/internal/domain"
	"github.com/spherical/pdfzip/internal/pdf"
)

type convertFlags struct {
	output     string
	skipStart  int
	skipEnd    int
	resolution string
	quality    int
	quiet      bool
}

// newConvertCmd creates the convert subcommand.
func newConvertCmd() *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert [flags] file.pdf...",
		Short: "Convert local PDF files into a ZIP of JPEG pages",
		Long: `Convert runs the same pipeline as the HTTP service on local files.

One file produces <name>_<pages>.zip; several produce the batch archive
(all_converted.zip by default) holding one archive per document.
Use -o - to write the archive to stdout.`,
		Example: `  pdfzip convert brochure.pdf
  pdfzip convert --skip-start 1 --resolution 150 -o pages.zip brochure.pdf
  pdfzip convert -o - a.pdf b.pdf > both.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := *cfgStore.Current()
			if flags.resolution != "" {
				dpi, scale, err := config.ParseResolution(flags.resolution)
				if err != nil {
					return err
				}
				cfg.Conversion.DPI, cfg.Conversion.Scale = dpi, scale
			}
			if cmd.Flags().Changed("quality") {
				if err := pdf.NewValidator().ValidateQuality(flags.quality); err != nil {
					return err
				}
				cfg.Conversion.JPEGQuality = flags.quality
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runConvert(ctx, &cfg, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output archive path, - for stdout (default: derived from the input)")
	cmd.Flags().IntVar(&flags.skipStart, "skip-start", 0, "pages to skip at the start of each document")
	cmd.Flags().IntVar(&flags.skipEnd, "skip-end", 0, "pages to skip at the end of each document")
	cmd.Flags().StringVar(&flags.resolution, "resolution", "", `render resolution as DPI ("150") or scale ("2x")`)
	cmd.Flags().IntVar(&flags.quality, "quality", 75, "JPEG quality, 0-100")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "no progress output")

	return cmd
}

func runConvert(ctx context.Context, cfg *config.Config, paths []string, flags convertFlags) error {
	startTime := time.Now()

	uploads := make([]convert.Upload, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.IOError("read "+path, err)
		}
		uploads = append(uploads, convert.Upload{Name: filepath.Base(path), Data: data})
	}

	var (
		spin *spinnerUI
		bar  *progressBar
	)
	if !flags.quiet {
		spin = newSpinner(fmt.Sprintf("Preparing %d document(s)", len(uploads)))
	}

	// The bar is assigned before the stream is first read, and events only
	// arrive while it is read.
	events := func(ev domain.StreamEvent) {
		switch ev.Type {
		case domain.EventStart:
			bar.Describe(ev.Document)
		case domain.EventPageComplete:
			bar.Add(1)
		}
	}

	spin.Start()
	service := convert.NewService(newEngine(), config.Static{Config: cfg}, logger)
	result, err := service.ConvertBatch(ctx, uploads, convert.Options{
		SkipStart: flags.skipStart,
		SkipEnd:   flags.skipEnd,
		Events:    events,
	})
	spin.Stop()
	if err != nil {
		return err
	}
	defer result.Stream.Close()

	for _, up := range uploads {
		if !isConverted(up.Name, result.Documents) && !flags.quiet {
			warning("Skipped %s: not a PDF", up.Name)
		}
	}

	output := flags.output
	if output == "" {
		output = result.Name
	}

	if !flags.quiet {
		bar = newProgressBar(int64(result.Pages()), "Rendering")
	}

	written, err := writeArchive(output, result.Stream)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	if flags.quiet {
		return nil
	}
	if len(result.Documents) > 1 {
		for _, job := range result.Documents {
			info("%s → %s (pages %d-%d of %d)", job.Source, job.Name, job.Pages.Start+1, job.Pages.End, job.Total)
		}
	}
	target := output
	if output == "-" {
		target = "stdout"
	}
	success("Wrote %s: %d pages, %s in %s", target, result.Pages(),
		humanize.IBytes(uint64(written)), time.Since(startTime).Round(time.Millisecond))
	return nil
}

// writeArchive copies src to path. Files are written under a temporary name
// and renamed once complete, so a failed conversion leaves no archive behind.
func writeArchive(path string, src io.Reader) (int64, error) {
	if path == "-" {
		return io.Copy(os.Stdout, src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pdfzip-*.part")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}

func isConverted(name string, jobs []convert.Job) bool {
	for _, job := range jobs {
		if job.Source == name {
			return true
		}
	}
	return false
}
