// Package chunk selects the spans of words that are synthesized as one
// speech request.
package chunk

import (
	"regexp"
	"strings"
)

const (
	// DefaultMinWords is the shortest chunk that may end on a sentence break.
	DefaultMinWords = 15
	// DefaultMaxWords is the soft cap on chunk length.
	DefaultMaxWords = 60
)

var terminator = regexp.MustCompile(`[.!?]"?$`)

// Chunk is a contiguous span of words synthesized as one audio request.
type Chunk struct {
	Start     int
	Text      string
	WordCount int
}

// End returns the index just past the last word of the chunk.
func (c Chunk) End() int {
	return c.Start + c.WordCount
}

// Chunker balances request latency against natural sentence breaks.
type Chunker struct {
	MinWords int
	MaxWords int
}

// New returns a chunker with the default bounds.
func New() Chunker {
	return Chunker{MinWords: DefaultMinWords, MaxWords: DefaultMaxWords}
}

// EndsSentence reports whether word ends with sentence-terminal punctuation,
// optionally followed by a closing quote.
func EndsSentence(word string) bool {
	return terminator.MatchString(word)
}

// Next returns the chunk beginning at start. It returns false when start is
// outside the word sequence.
//
// Words are accumulated until at least MinWords have been taken and the last
// one ends a sentence, or until MaxWords is reached, or the document ends.
// A chunk always holds at least one word.
func (c Chunker) Next(start int, words []string) (Chunk, bool) {
	if start < 0 || start >= len(words) {
		return Chunk{}, false
	}
	minWords, maxWords := c.bounds()

	end := start
	for end < len(words) {
		end++
		count := end - start
		if count >= maxWords {
			break
		}
		if count >= minWords && EndsSentence(words[end-1]) {
			break
		}
	}

	return Chunk{
		Start:     start,
		Text:      strings.Join(words[start:end], " "),
		WordCount: end - start,
	}, true
}

// Split returns the full chunk plan for words.
func (c Chunker) Split(words []string) []Chunk {
	var chunks []Chunk
	for start := 0; ; {
		ch, ok := c.Next(start, words)
		if !ok {
			return chunks
		}
		chunks = append(chunks, ch)
		start = ch.End()
	}
}

func (c Chunker) bounds() (int, int) {
	minWords, maxWords := c.MinWords, c.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if minWords <= 0 {
		minWords = 1
	}
	if minWords > maxWords {
		minWords = maxWords
	}
	return minWords, maxWords
}
