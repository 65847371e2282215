package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf2html/internal/convert"
	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/pdf"
)

// convertSummary is what --json prints.
type convertSummary struct {
	RequestID      string               `json:"request_id"`
	Source         string               `json:"source"`
	Output         string               `json:"output"`
	PagesProcessed int                  `json:"pages_processed"`
	PagesSucceeded int                  `json:"pages_succeeded"`
	PagesFailed    int                  `json:"pages_failed"`
	Failures       []domain.PageFailure `json:"failures,omitempty"`
	ModelUsed      string               `json:"model_used"`
	CSSMode        string               `json:"css_mode"`
	SampleJSON     map[string]any       `json:"sample_json,omitempty"`
	DurationMS     int64                `json:"duration_ms"`
}

// newConvertCmd creates the convert subcommand.
func newConvertCmd() *cobra.Command {
	var (
		output           string
		cssMode          string
		dpi              int
		model            string
		workers          int
		extractVariables bool
		strict           bool
	)

	cmd := &cobra.Command{
		Use:   "convert <pdf-url|pdf-file>",
		Short: "Convert one PDF to an HTML document",
		Example: `  pdf2html convert brochure.pdf
  pdf2html convert -o out.html --css-mode columns https://example.com/report.pdf
  pdf2html convert --workers 5 --dpi 150 --extract-variables invoice.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]

			var ov domain.Overrides
			flags := cmd.Flags()
			if flags.Changed("css-mode") {
				ov.Layout = &cssMode
			}
			if flags.Changed("dpi") {
				ov.DPI = &dpi
			}
			if flags.Changed("model") {
				ov.Model = &model
			}
			if flags.Changed("workers") {
				ov.Concurrency = &workers
			}
			if flags.Changed("extract-variables") {
				ov.ExtractVariables = &extractVariables
			}

			opts, err := cfg.JobOptions().With(ov)
			if err != nil {
				return err
			}

			if output == "" {
				output = defaultOutputPath(source)
			}

			return runConvert(cmd.Context(), source, output, opts, strict)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: <input-name>.html)")
	cmd.Flags().StringVar(&cssMode, "css-mode", "", "layout mode: grid, columns or single")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "rasterization DPI (72-600)")
	cmd.Flags().StringVar(&model, "model", "", "vision model name")
	cmd.Flags().IntVar(&workers, "workers", 0, "maximum pages processed in parallel (1-10)")
	cmd.Flags().BoolVar(&extractVariables, "extract-variables", false, "replace document-specific values with {{key}} markers")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when every page failed")

	return cmd
}

func runConvert(parent context.Context, source, output string, opts domain.Options, strict bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := NewUI(outputJSON, noColor)

	svc, err := convert.NewFromConfig(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	remote := isURL(source)

	var data []byte
	if !remote {
		data, err = pdf.NewValidator().ReadPDFFile(source)
		if err != nil {
			return err
		}
	}

	if remote {
		ui.StartSpinner(fmt.Sprintf("Downloading and rendering %s", source))
	} else {
		ui.StartSpinner(fmt.Sprintf("Rendering %s at %d DPI", filepath.Base(source), opts.DPI))
	}

	eventCh := make(chan domain.StreamEvent, 100)
	type outcome struct {
		res *convert.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		if remote {
			o.res, o.err = svc.ConvertURL(ctx, source, opts, eventCh)
		} else {
			o.res, o.err = svc.Convert(ctx, domain.ConversionJob{Source: data, Options: opts}, eventCh)
		}
		close(eventCh)
		done <- o
	}()

	for event := range eventCh {
		switch event.Type {
		case domain.EventRasterized:
			ui.StopSpinner()
			if pages, ok := event.Payload.(int); ok {
				ui.StartProgress(pages, "Converting pages")
			}
		case domain.EventPageComplete, domain.EventPageFailed:
			ui.Advance()
			if verbose && event.Type == domain.EventPageFailed {
				ui.Warning("Page %d failed: %v", event.PageNumber, event.Payload)
			}
		case domain.EventError, domain.EventComplete:
			ui.StopSpinner()
			ui.FinishProgress()
		}
	}

	o := <-done
	ui.StopSpinner()
	ui.FinishProgress()

	if o.err != nil {
		if errors.Is(o.err, context.Canceled) {
			ui.Error("Conversion interrupted")
		} else {
			ui.Error("Conversion failed: %v", o.err)
		}
		return o.err
	}

	res := o.res
	if err := os.WriteFile(output, []byte(res.Document.HTML), 0644); err != nil {
		return domain.IOError(fmt.Sprintf("failed to write output file %s", output), err)
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(convertSummary{
			RequestID:      res.RequestID,
			Source:         source,
			Output:         output,
			PagesProcessed: res.Document.PageCount,
			PagesSucceeded: res.Document.SucceededCount,
			PagesFailed:    res.Document.FailedCount,
			Failures:       res.Document.Failures,
			ModelUsed:      res.Model,
			CSSMode:        string(res.Layout),
			SampleJSON:     res.SampleJSON,
			DurationMS:     res.Duration.Milliseconds(),
		}); err != nil {
			return err
		}
	} else {
		printSummary(ui, res, output)
	}

	if strict && res.Document.AllFailed() {
		return domain.ConversionError(fmt.Sprintf("all %d pages failed", res.Document.PageCount), nil)
	}
	return nil
}

func printSummary(ui *UI, res *convert.Result, output string) {
	doc := res.Document
	switch {
	case doc.AllFailed():
		ui.Error("All %d pages failed", doc.PageCount)
	case doc.FailedCount > 0:
		ui.Warning("Converted %d of %d pages", doc.SucceededCount, doc.PageCount)
	default:
		ui.Success("Converted %d pages", doc.PageCount)
	}

	for _, f := range doc.Failures {
		ui.KeyValue(fmt.Sprintf("page %d", f.Page), fmt.Sprintf("%s (%s, %d attempts)", f.Message, f.Kind, f.Attempts))
	}

	ui.KeyValue("model", res.Model)
	ui.KeyValue("css mode", res.Layout)
	ui.KeyValue("duration", FormatDuration(res.Duration))
	if len(res.SampleJSON) > 0 {
		ui.KeyValue("variables", len(res.SampleJSON))
	}
	ui.Success("Wrote %s", output)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// defaultOutputPath derives <name>.html from a file path or URL.
func defaultOutputPath(source string) string {
	name := source
	if isURL(source) {
		if u, err := url.Parse(source); err == nil {
			name = path.Base(u.Path)
		}
	} else {
		name = filepath.Base(source)
	}

	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == "/" {
		name = "document"
	}
	return name + ".html"
}
