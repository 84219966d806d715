// Package main provides the pdfzip entrypoint.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfzip/internal/config"
	"github.com/spherical/pdfzip/internal/domain"
	"github.com/spherical/pdfzip/internal/observability"
	"github.com/spherical/pdfzip/internal/pdf"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

var (
	// Global flags
	cfgFile string
	verbose bool

	// Configuration and logger
	cfgStore *config.Store
	logger   *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "pdfzip",
	Short: "Convert PDF documents into ZIP archives of JPEG pages",
	Long: `pdfzip renders every page of a PDF to a JPEG and streams the result as a
ZIP archive, one page at a time, without writing images to disk.

Run it as an HTTP service with "serve", or convert local files with "convert".
Several PDFs produce an archive that holds one archive per document.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}

		var err error
		cfgStore, err = config.NewStore(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		cfg := cfgStore.Current()
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      cfg.Observability.LogFormat,
			Output:      os.Stderr,
			ServiceName: cfg.Observability.ServiceName,
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: $CONFIG_PATH, then env vars only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		errorf("%v", err)
		os.Exit(1)
	}
}

// newEngine is swapped out in tests.
var newEngine = func() domain.Engine {
	return pdf.NewFitzEngine()
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs neither config nor logger.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pdfzip %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
