package text

import (
	"fmt"
	"strings"

	"bhoomi/internal/apperr"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separatorLevels are tried in order when choosing where a window ends:
// paragraph, line, sentence, word. A hard cut is the last resort.
var separatorLevels = [][][]rune{
	{[]rune("\n\n")},
	{[]rune("\n")},
	{[]rune(". "), []rune("! "), []rune("? "), []rune("। ")},
	{[]rune(" ")},
}

// Splitter cuts documents into overlapping windows of at most size runes.
// Every window after the first starts exactly overlap runes before the end
// of the previous one, so dropping the first overlap runes of each later
// chunk and concatenating gives back the document text.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, apperr.Configuration("text.NewSplitter", fmt.Errorf("chunk size must be positive, got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return nil, apperr.Configuration("text.NewSplitter", fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap))
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

func (s *Splitter) Split(docs []Document) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		chunks = append(chunks, s.SplitDocument(doc)...)
	}
	return chunks
}

func (s *Splitter) SplitDocument(doc Document) []Chunk {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}

	runes := []rune(doc.Text)
	var chunks []Chunk
	start := 0
	for {
		if len(runes)-start <= s.size {
			chunks = append(chunks, Chunk{Source: doc.Source, Page: doc.Page, Offset: start, Text: string(runes[start:])})
			return chunks
		}
		end := s.cut(runes, start)
		chunks = append(chunks, Chunk{Source: doc.Source, Page: doc.Page, Offset: start, Text: string(runes[start:end])})
		start = end - s.overlap
	}
}

// cut picks the end of the window starting at start. The window must be at
// least half a chunk long and longer than the overlap, which guarantees the
// next window starts further along.
func (s *Splitter) cut(runes []rune, start int) int {
	limit := start + s.size
	minEnd := start + max(s.size/2, s.overlap+1)

	for _, level := range separatorLevels {
		best := -1
		for _, sep := range level {
			if p := lastBoundary(runes, sep, minEnd, limit); p > best {
				best = p
			}
		}
		if best >= 0 {
			return best
		}
	}
	return limit
}

// lastBoundary returns the largest p in [lo, hi] such that runes[:p] ends
// with sep, or -1.
func lastBoundary(runes []rune, sep []rune, lo, hi int) int {
	for p := hi; p >= lo; p-- {
		if p < len(sep) {
			break
		}
		if hasSuffix(runes[:p], sep) {
			return p
		}
	}
	return -1
}

func hasSuffix(runes, suffix []rune) bool {
	off := len(runes) - len(suffix)
	for i, r := range suffix {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}

// Join reverses Split for the chunks of a single document.
func Join(chunks []Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Text)
			continue
		}
		b.WriteString(string([]rune(c.Text)[overlap:]))
	}
	return b.String()
}
