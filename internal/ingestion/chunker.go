// Package ingestion handles document processing: chunking, text extraction, and pipeline orchestration.
package ingestion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidConfiguration is returned when chunk sizing is unusable.
var ErrInvalidConfiguration = errors.New("invalid chunker configuration")

// Chunk represents a contiguous span of the source text.
// Start and End are rune offsets into the source; Order starts at 1.
type Chunk struct {
	Content  string
	Order    int
	Start    int
	End      int
	Metadata map[string]string
}

// Splitter cuts text into overlapping chunks of at most ChunkSize characters.
//
// Break points are chosen from a hierarchy of separators: paragraph, line,
// sentence, word. The largest separator found in the back half of the window
// wins; a hard cut is used only when no separator exists.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter validates sizing and returns a Splitter.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if err := ValidateChunkerConfig(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// ValidateChunkerConfig checks that chunk size and overlap can make progress.
func ValidateChunkerConfig(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfiguration, chunkSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidConfiguration, overlap)
	}
	if overlap >= chunkSize {
		return fmt.Errorf("%w: overlap (%d) must be less than chunk_size (%d)", ErrInvalidConfiguration, overlap, chunkSize)
	}
	return nil
}

// Split is a convenience wrapper around NewSplitter and Splitter.Split.
func Split(text string, chunkSize, overlap int) ([]Chunk, error) {
	s, err := NewSplitter(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

// ChunkSize returns the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns chunks in document order. Text without any non-space
// content yields no chunks.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0
	for start < n {
		end := n
		if n-start > s.chunkSize {
			end = s.breakPoint(runes, start)
		}

		chunks = append(chunks, Chunk{
			Content: string(runes[start:end]),
			Order:   len(chunks) + 1,
			Start:   start,
			End:     end,
			Metadata: map[string]string{
				"offset": strconv.Itoa(start),
			},
		})

		if end == n {
			break
		}
		start = s.nextStart(runes, start, end)
	}
	return chunks
}

// ============================================================================
// Break points
// ============================================================================

type separator int

const (
	sepParagraph separator = iota
	sepLine
	sepSentence
	sepWord
)

var separators = []separator{sepParagraph, sepLine, sepSentence, sepWord}

// breakPoint picks where the chunk starting at start ends.
func (s *Splitter) breakPoint(runes []rune, start int) int {
	hi := start + s.chunkSize
	lo := start + max(s.overlap+1, s.chunkSize/2)
	if lo > hi {
		lo = hi
	}

	for _, sep := range separators {
		for p := hi; p >= lo; p-- {
			if endsWith(runes, p, sep) {
				return p
			}
		}
	}
	return hi
}

// nextStart picks where the chunk after [start, end) begins. The result
// leaves at least overlap characters shared with the previous chunk and
// prefers to start on a word.
func (s *Splitter) nextStart(runes []rune, start, end int) int {
	if s.overlap == 0 {
		return end
	}

	target := end - s.overlap
	floor := max(start+1, target-s.overlap)
	for p := target; p >= floor; p-- {
		if p > 0 && unicode.IsSpace(runes[p-1]) && !unicode.IsSpace(runes[p]) {
			return p
		}
	}
	return max(target, start+1)
}

// endsWith reports whether a separator of the given kind ends right before p.
func endsWith(runes []rune, p int, sep separator) bool {
	if p <= 0 || p > len(runes) {
		return false
	}
	switch sep {
	case sepParagraph:
		return p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n'
	case sepLine:
		return runes[p-1] == '\n'
	case sepSentence:
		if isFullWidthStop(runes[p-1]) {
			return true
		}
		if p < 2 || !unicode.IsSpace(runes[p-1]) {
			return false
		}
		switch runes[p-2] {
		case '.':
			return !isAbbreviation(lastWord(runes, p-1))
		case '!', '?':
			return true
		}
		return false
	case sepWord:
		return unicode.IsSpace(runes[p-1])
	}
	return false
}

func isFullWidthStop(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// lastWord returns the whitespace-delimited word ending right before p.
func lastWord(runes []rune, p int) string {
	i := p
	for i > 0 && !unicode.IsSpace(runes[i-1]) {
		i--
	}
	return string(runes[i:p])
}

// isAbbreviation checks if text ends with a common abbreviation
func isAbbreviation(text string) bool {
	abbreviations := []string{
		"mr.", "mrs.", "ms.", "dr.", "prof.",
		"inc.", "ltd.", "corp.",
		"etc.", "e.g.", "i.e.",
		"vs.", "v.",
		"st.", "ave.", "blvd.",
		"no.", "vol.", "pg.",
	}

	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}

// copyMetadata creates a copy of metadata map
func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
