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

// UI provides user-friendly output utilities. In JSON mode everything but
// the final JSON document is suppressed.
type UI struct {
	out      io.Writer
	err      io.Writer
	jsonMode bool
	spin     *spinner.Spinner
	bar      *progressbar.ProgressBar
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{
		out:      os.Stdout,
		err:      os.Stderr,
		jsonMode: jsonMode,
	}
}

func (ui *UI) interactive() bool {
	return !ui.jsonMode && IsTerminal()
}

// StartSpinner shows an indeterminate spinner with message.
func (ui *UI) StartSpinner(message string) {
	if !ui.interactive() {
		ui.Step("%s", message)
		return
	}
	if ui.spin == nil {
		ui.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		ui.spin.Writer = ui.err
	}
	ui.spin.Suffix = " " + message
	ui.spin.Start()
}

// StopSpinner stops the spinner and clears its line.
func (ui *UI) StopSpinner() {
	if ui.spin != nil {
		ui.spin.Stop()
	}
}

// StartProgress shows a determinate bar over total pages.
func (ui *UI) StartProgress(total int, description string) {
	if !ui.interactive() || total <= 0 {
		return
	}
	ui.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(ui.err),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(ui.err, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Advance moves the progress bar by one page.
func (ui *UI) Advance() {
	if ui.bar != nil {
		_ = ui.bar.Add(1)
	}
}

// FinishProgress completes the bar, if any.
func (ui *UI) FinishProgress() {
	if ui.bar != nil {
		_ = ui.bar.Finish()
		ui.bar = nil
	}
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.print(ui.out, color.New(color.FgGreen), "✓", format, args...)
}

// Error prints an error message.
func (ui *UI) Error(format string, args ...interface{}) {
	ui.print(ui.err, color.New(color.FgRed), "✗", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.print(ui.out, color.New(color.FgYellow), "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.print(ui.out, color.New(color.FgCyan), "ℹ", format, args...)
}

// Step prints a step message.
func (ui *UI) Step(format string, args ...interface{}) {
	ui.print(ui.out, color.New(color.FgBlue), "→", format, args...)
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

func (ui *UI) print(w io.Writer, c *color.Color, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	c.Fprintf(w, "%s %s\n", symbol, fmt.Sprintf(format, args...))
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// IsTerminal checks if stderr is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
