// Package main provides the pdf2html CLI entrypoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/pdf2html/internal/config"
	"github.com/spherical/pdf2html/internal/observability"
)

const version = "1.0.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "pdf2html",
	Short: "Convert PDF documents to HTML with a vision model",
	Long: `pdf2html renders every page of a PDF to an image, asks a vision-capable
chat model to transcribe each page into semantic HTML, and assembles the
pages into one self-contained HTML document.

Use "pdf2html convert" for one-off conversions and "pdf2html serve" to run
the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load() // Ignore error if .env doesn't exist

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if noColor {
			color.NoColor = true
		}

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat(cmd),
			Output:      os.Stderr,
			ServiceName: cfg.Observability.ServiceName,
		})

		return nil
	},
}

// logFormat keeps the configured format for the server and uses a console
// writer for interactive commands.
func logFormat(cmd *cobra.Command) string {
	if cmd.Name() == "serve" || outputJSON {
		return cfg.Observability.LogFormat
	}
	return "console"
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// version needs neither config nor logger
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
				return
			}
			fmt.Printf("pdf2html v%s\n", version)
		},
	}
}
