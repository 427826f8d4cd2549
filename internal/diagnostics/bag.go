package diagnostics

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

const (
	compileFailedMsg          = "\nCompilation failed with %d error(s)"
	andWarningMsg             = " and %d warning(s)"
	compileSuccessWithWarning = "\nCompilation succeeded with %d warning(s)\n"
)

// Bag collects diagnostics during compilation
type Bag struct {
	diagnostics []*Diagnostic
	mu          sync.Mutex
	errorCount  int
	warnCount   int
	sourceCache *SourceCache
}

// NewBag creates a new diagnostic bag
func NewBag() *Bag {
	return &Bag{
		diagnostics: make([]*Diagnostic, 0),
		sourceCache: NewSourceCache(),
	}
}

// AddSourceContent adds source content for a file path (for in-memory compilation)
func (b *Bag) AddSourceContent(filepath, content string) {
	b.sourceCache.AddSource(filepath, content)
}

// Add adds a diagnostic to the bag
func (b *Bag) Add(diag *Diagnostic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.diagnostics = append(b.diagnostics, diag)

	switch diag.Severity {
	case Error:
		b.errorCount++
	case Warning:
		b.warnCount++
	}
}

// HasErrors returns true if there are any errors
func (b *Bag) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCount > 0
}

// ErrorCount returns the number of errors
func (b *Bag) ErrorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCount
}

// WarningCount returns the number of warnings
func (b *Bag) WarningCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.warnCount
}

// Diagnostics returns a copy of all diagnostics (thread-safe)
func (b *Bag) Diagnostics() []*Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Return a copy to prevent races if caller iterates while other goroutines append
	result := make([]*Diagnostic, len(b.diagnostics))
	copy(result, b.diagnostics)
	return result
}

// EmitAll renders every collected diagnostic to stderr
func (b *Bag) EmitAll() {
	emitter := NewEmitter(os.Stderr, b.sourceCache)

	b.mu.Lock()
	diagnostics := make([]*Diagnostic, len(b.diagnostics))
	// copy diagnostics to avoid holding lock during emit
	copy(diagnostics, b.diagnostics)
	b.mu.Unlock()

	for _, diag := range diagnostics {
		emitter.Emit(diag)
	}

	b.printSummary(os.Stderr)
}

// EmitAllToString emits all diagnostics to a string with ANSI codes
func (b *Bag) EmitAllToString() string {
	var buf bytes.Buffer
	emitter := NewEmitter(&buf, b.sourceCache)

	b.mu.Lock()
	diagnostics := make([]*Diagnostic, len(b.diagnostics))
	copy(diagnostics, b.diagnostics)
	b.mu.Unlock()

	for _, diag := range diagnostics {
		emitter.Emit(diag)
	}

	b.printSummary(&buf)

	return buf.String()
}

func (b *Bag) printSummary(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	if b.errorCount > 0 {
		red.Fprintf(w, compileFailedMsg, b.errorCount)
		if b.warnCount > 0 {
			red.Fprintf(w, andWarningMsg, b.warnCount)
		}
		fmt.Fprintln(w)
	} else if b.warnCount > 0 {
		yellow.Fprintf(w, compileSuccessWithWarning, b.warnCount)
	}
}
