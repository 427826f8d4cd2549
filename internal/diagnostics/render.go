package diagnostics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// SourceCache caches source file contents for error reporting
type SourceCache struct {
	files map[string][]string
}

func NewSourceCache() *SourceCache {
	return &SourceCache{
		files: make(map[string][]string),
	}
}

// AddSource registers in-memory content for a path so labels can render
// without touching the filesystem.
func (sc *SourceCache) AddSource(filepath, content string) {
	sc.files[filepath] = strings.Split(content, "\n")
}

// GetLine retrieves a specific line from a source file
func (sc *SourceCache) GetLine(filepath string, line int) (string, error) {
	if lines, ok := sc.files[filepath]; ok {
		if line > 0 && line <= len(lines) {
			return lines[line-1], nil
		}
		return "", fmt.Errorf("line %d out of range", line)
	}

	// Load file
	file, err := os.Open(filepath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	sc.files[filepath] = lines

	if line > 0 && line <= len(lines) {
		return lines[line-1], nil
	}

	return "", fmt.Errorf("line %d out of range", line)
}

// Emitter handles the rendering and output of diagnostics
type Emitter struct {
	cache  *SourceCache
	writer io.Writer
}

// NewEmitter creates an emitter that writes to a specific writer
func NewEmitter(w io.Writer, cache *SourceCache) *Emitter {
	if cache == nil {
		cache = NewSourceCache()
	}
	return &Emitter{
		cache:  cache,
		writer: w,
	}
}

func severityColor(s Severity) *color.Color {
	switch s {
	case Error:
		return color.New(color.FgRed, color.Bold)
	case Warning:
		return color.New(color.FgYellow, color.Bold)
	case Info:
		return color.New(color.FgCyan, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

// Emit renders a single diagnostic: a severity header, every labeled
// source span with a caret underline, then notes and help.
func (e *Emitter) Emit(diag *Diagnostic) {
	c := severityColor(diag.Severity)

	if diag.Code != "" {
		c.Fprintf(e.writer, "%s[%s]", diag.Severity, diag.Code)
	} else {
		c.Fprintf(e.writer, "%s", diag.Severity)
	}
	fmt.Fprintf(e.writer, ": %s\n", diag.Message)

	for _, label := range diag.Labels {
		e.emitLabel(diag, label)
	}

	for _, note := range diag.Notes {
		color.New(color.FgCyan).Fprint(e.writer, "  note: ")
		fmt.Fprintln(e.writer, note.Message)
	}

	if diag.Help != "" {
		color.New(color.FgGreen).Fprint(e.writer, "  help: ")
		fmt.Fprintln(e.writer, diag.Help)
	}

	fmt.Fprintln(e.writer)
}

func (e *Emitter) emitLabel(diag *Diagnostic, label Label) {
	loc := label.Location
	if loc == nil || loc.Start == nil {
		if label.Message != "" {
			fmt.Fprintf(e.writer, "  = %s\n", label.Message)
		}
		return
	}

	filepath := diag.FilePath
	if loc.Filename != nil {
		filepath = *loc.Filename
	}

	fmt.Fprintf(e.writer, " --> %s:%d:%d\n", filepath, loc.Start.Line, loc.Start.Column)

	line, err := e.cache.GetLine(filepath, loc.Start.Line)
	if err != nil {
		if label.Message != "" {
			fmt.Fprintf(e.writer, "  = %s\n", label.Message)
		}
		return
	}

	width := len(fmt.Sprintf("%d", loc.Start.Line))
	fmt.Fprintf(e.writer, "%*s |\n", width, "")
	fmt.Fprintf(e.writer, "%*d | %s\n", width, loc.Start.Line, line)

	startCol := loc.Start.Column
	endCol := startCol + 1
	if loc.End != nil && loc.End.Line == loc.Start.Line && loc.End.Column > startCol {
		endCol = loc.End.Column
	}
	marker := "^"
	if label.Style == Secondary {
		marker = "-"
	}
	underline := strings.Repeat(marker, endCol-startCol)

	fmt.Fprintf(e.writer, "%*s | %s", width, "", strings.Repeat(" ", startCol-1))
	severityColor(diag.Severity).Fprint(e.writer, underline)
	if label.Message != "" {
		fmt.Fprintf(e.writer, " %s", label.Message)
	}
	fmt.Fprintln(e.writer)
}
