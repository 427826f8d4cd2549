package source

// Position represents a specific location in the source code with line and column information.
type Position struct {
	Line   int // 1-based line number.
	Column int // 1-based column number.
}

// NewPosition creates a position at the given line and column.
func NewPosition(line, column int) *Position {
	return &Position{Line: line, Column: column}
}
