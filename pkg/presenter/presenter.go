// Package presenter provides consistent CLI output for skills: success, error,
// warning and info lines with color support, quiet mode, tables and JSON.
package presenter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Prompt(question string, options ...string) string
	Table(headers []string, rows [][]string)
	JSON(v any) error
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	input       io.Reader
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto lets the color package detect terminal support
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output
	ColorAlways
	// ColorNever disables colored output
	ColorNever
)

// New creates a new TerminalPresenter with default settings
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	presenter := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		input:       os.Stdin,
		colorMode:   colorMode,
	}

	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}

	return presenter
}

// SetInput replaces the reader used by Prompt.
func (p *TerminalPresenter) SetInput(r io.Reader) {
	p.input = r
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLBOX_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	successStyle = color.New(color.FgGreen, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)
	headerStyle  = color.New(color.Bold)
	faintStyle   = color.New(color.Faint)
)

// emit writes one styled line unless quiet mode is on and the line is optional.
func (p *TerminalPresenter) emit(w io.Writer, style *color.Color, optional bool, format string, args ...any) {
	if optional && p.quiet {
		return
	}
	if style == nil {
		fmt.Fprintf(w, format+"\n", args...)
		return
	}
	style.Fprintf(w, format+"\n", args...)
}

// Error prints err to stderr, prefixed with context when given. Errors
// ignore quiet mode.
func (p *TerminalPresenter) Error(err error, context string) {
	switch {
	case err == nil:
	case context == "":
		p.emit(p.errorOutput, errorStyle, false, "[ERROR] %v", err)
	default:
		p.emit(p.errorOutput, errorStyle, false, "[ERROR] %s: %v", context, err)
	}
}

func (p *TerminalPresenter) Success(message string) {
	p.emit(p.output, successStyle, true, "✓ %s", message)
}

// Warning goes to stderr so it never pollutes piped output.
func (p *TerminalPresenter) Warning(message string) {
	p.emit(p.errorOutput, warningStyle, true, "⚠ %s", message)
}

func (p *TerminalPresenter) Info(message string) {
	p.emit(p.output, nil, true, "%s", message)
}

// Section prints title underlined with dashes.
func (p *TerminalPresenter) Section(title string) {
	p.emit(p.output, headerStyle, true, "%s\n%s", title, strings.Repeat("-", len(title)))
}

// Prompt displays a prompt and reads a line of user input
func (p *TerminalPresenter) Prompt(question string, options ...string) string {
	promptColor := color.New(color.FgCyan)

	if len(options) > 0 {
		promptColor.Fprintf(p.output, "%s [%s]: ", question, strings.Join(options, "/"))
	} else {
		promptColor.Fprintf(p.output, "%s: ", question)
	}

	response, err := bufio.NewReader(p.input).ReadString('\n')
	if err != nil && response == "" {
		return ""
	}

	return strings.TrimSpace(response)
}

// Table renders rows under headers. Tables are data, so quiet mode does not suppress them.
func (p *TerminalPresenter) Table(headers []string, rows [][]string) {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	fmt.Fprintln(p.output, t.String())
}

// JSON writes v as indented JSON.
func (p *TerminalPresenter) JSON(v any) error {
	enc := json.NewEncoder(p.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Separator prints a faint horizontal rule.
func (p *TerminalPresenter) Separator() {
	p.emit(p.output, faintStyle, true, "%s", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var badgeStyles = func() map[string]*color.Color {
	good := color.New(color.FgGreen)
	waiting := color.New(color.FgYellow)
	bad := color.New(color.FgRed, color.Bold)

	styles := map[string]*color.Color{}
	for _, s := range []string{"completed", "alive", "safe", "low", "done", "allowed", "ok"} {
		styles[s] = good
	}
	for _, s := range []string{"awaiting_approval", "pending", "running", "stale", "medium", "queued", "claimed", "in-progress"} {
		styles[s] = waiting
	}
	for _, s := range []string{"failed", "cancelled", "dead", "high", "critical", "denied", "refused"} {
		styles[s] = bad
	}
	return styles
}()

// Badge colors a status word: green for good states, yellow for waiting, red
// for bad. Unknown words are returned as is.
func Badge(status string) string {
	if c, ok := badgeStyles[status]; ok {
		return c.Sprint(status)
	}
	return status
}

var defaultPresenter = New()

// Default returns the process-wide presenter.
func Default() *TerminalPresenter {
	return defaultPresenter
}

// Error displays an error message using the default presenter instance.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter instance.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning message using the default presenter instance.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter instance.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter instance.
func Section(title string) {
	defaultPresenter.Section(title)
}

// Prompt reads user input using the default presenter instance.
func Prompt(question string, options ...string) string {
	return defaultPresenter.Prompt(question, options...)
}

// Table renders a table using the default presenter instance.
func Table(headers []string, rows [][]string) {
	defaultPresenter.Table(headers, rows)
}

// JSON writes v as JSON using the default presenter instance.
func JSON(v any) error {
	return defaultPresenter.JSON(v)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
