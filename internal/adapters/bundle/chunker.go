package bundle

import (
	"strings"

	"github.com/loomworks/loom/internal/core/ports"
)

// StrategyLineWindow is the only built-in chunking strategy: a fixed
// character window applied per physical line.
const StrategyLineWindow = "line_window"

// LineWindowChunker splits text line by line. A line that fits within
// maxChars becomes one piece; a longer line is split into successive
// maxChars-sized windows that all carry the same line number.
type LineWindowChunker struct{}

var _ ports.Chunker = LineWindowChunker{}

// Name returns the strategy name.
func (LineWindowChunker) Name() string { return StrategyLineWindow }

// Split divides text into pieces. Character counts are rune counts, so
// multi-byte text never splits mid-character.
func (LineWindowChunker) Split(text string, maxChars int) []ports.Piece {
	lines := strings.Split(text, "\n")
	// A trailing newline produces an empty phantom line; drop it so the
	// piece list matches the physical lines of the file.
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var pieces []ports.Piece
	for i, line := range lines {
		lineNo := i + 1
		runes := []rune(line)
		if len(runes) <= maxChars {
			pieces = append(pieces, ports.Piece{StartLine: lineNo, EndLine: lineNo, Text: line})
			continue
		}
		for start := 0; start < len(runes); start += maxChars {
			end := min(start+maxChars, len(runes))
			pieces = append(pieces, ports.Piece{
				StartLine: lineNo,
				EndLine:   lineNo,
				Text:      string(runes[start:end]),
			})
		}
	}
	return pieces
}
