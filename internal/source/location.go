package source

import "fmt"

// Location represents a span of source code with start and end positions
type Location struct {
	Start    *Position
	End      *Position
	Filename *string
}

// NewLocation creates a new Location with the given start and end positions
func NewLocation(filename *string, start, end *Position) *Location {
	return &Location{
		Filename: filename,
		Start:    start,
		End:      end,
	}
}

// LineLocation creates a Location spanning one whole source line.
func LineLocation(filename string, line int, text string) *Location {
	end := len(text)
	if end < 1 {
		end = 1
	}
	return &Location{
		Filename: &filename,
		Start:    NewPosition(line, 1),
		End:      NewPosition(line, end+1),
	}
}

func (l *Location) String() string {
	if l == nil || l.Start == nil || l.End == nil {
		return "location(unknown)"
	}
	return fmt.Sprintf("location(%d:%d - %d:%d)", l.Start.Line, l.Start.Column, l.End.Line, l.End.Column)
}
