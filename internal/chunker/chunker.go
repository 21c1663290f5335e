package chunker

import (
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultSize is the window length in tokens
	DefaultSize = 256

	// DefaultOverlap is the number of tokens shared by consecutive windows
	DefaultOverlap = 32
)

// Chunker cuts text into overlapping token windows
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Non-positive sizes fall back to the defaults and the
// overlap is clamped below the size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Size returns the window length in tokens
func (c *Chunker) Size() int {
	return c.size
}

// Overlap returns the tokens shared by consecutive windows
func (c *Chunker) Overlap() int {
	return c.overlap
}

// span is a token's byte range in the source text
type span struct {
	start, end int
}

// Split returns the windows of text, or nil when text fits in a single window
func (c *Chunker) Split(text string) []string {
	tokens := tokenize(text)
	if len(tokens) <= c.size {
		return nil
	}

	step := c.size - c.overlap
	windows := make([]string, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, text[tokens[start].start:tokens[end-1].end])
		if end == len(tokens) {
			break
		}
	}
	return windows
}

// CountTokens returns the number of whitespace-delimited tokens in text
func CountTokens(text string) int {
	return len(tokenize(text))
}

func tokenize(text string) []span {
	var tokens []span
	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, span{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		tokens = append(tokens, span{start, len(text)})
	}
	return tokens
}
