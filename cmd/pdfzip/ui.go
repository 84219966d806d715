package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// All UI goes to stderr; stdout may be carrying the archive.
var uiOut io.Writer = os.Stderr

// progressBar wraps a progressbar instance for page progress.
type progressBar struct {
	bar *progressbar.ProgressBar
}

// newProgressBar creates a new progress bar with the given total and description.
func newProgressBar(total int64, description string) *progressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(uiOut),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(uiOut, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	return &progressBar{bar: bar}
}

// Add advances the bar; safe to call from the conversion goroutine.
func (p *progressBar) Add(n int) {
	if p == nil {
		return
	}
	_ = p.bar.Add(n)
}

// Describe changes the text shown next to the bar.
func (p *progressBar) Describe(description string) {
	if p == nil {
		return
	}
	p.bar.Describe(description)
}

// Finish completes the progress bar.
func (p *progressBar) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}

// spinnerUI wraps a spinner for indeterminate work.
type spinnerUI struct {
	spinner *spinner.Spinner
}

func newSpinner(message string) *spinnerUI {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = uiOut
	return &spinnerUI{spinner: s}
}

func (s *spinnerUI) Start() {
	if s == nil {
		return
	}
	s.spinner.Start()
}

func (s *spinnerUI) Stop() {
	if s == nil {
		return
	}
	s.spinner.Stop()
}

func success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(uiOut, "✓ %s\n", fmt.Sprintf(format, args...))
}

func errorf(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(uiOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

func warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(uiOut, "⚠ %s\n", fmt.Sprintf(format, args...))
}

func info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(uiOut, "ℹ %s\n", fmt.Sprintf(format, args...))
}
