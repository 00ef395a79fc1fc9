// Package document turns raw text into the globally indexed word sequence
// used for narration, highlighting, bookmarks and progress.
package document

import (
	"regexp"
	"strings"
)

var blockSeparator = regexp.MustCompile(`\n\s*\n`)

// Block is a paragraph: a contiguous run of the word sequence.
type Block struct {
	StartIndex int
	Words      []string
}

// End returns the index just past the last word of the block.
func (b Block) End() int {
	return b.StartIndex + len(b.Words)
}

// Document is the tokenized form of a text.
type Document struct {
	Words  []string
	Blocks []Block
}

// Tokenize splits content into blocks on blank lines and into words on
// whitespace, keeping a single running index across blocks. Blocks without
// words are skipped.
func Tokenize(content string) Document {
	var doc Document
	for _, para := range blockSeparator.Split(content, -1) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{
			StartIndex: len(doc.Words),
			Words:      words,
		})
		doc.Words = append(doc.Words, words...)
	}
	return doc
}

// Len returns the number of words.
func (d Document) Len() int {
	return len(d.Words)
}

// Window returns up to n words starting at index joined by spaces.
func (d Document) Window(index, n int) string {
	if index < 0 {
		index = 0
	}
	if index >= len(d.Words) || n <= 0 {
		return ""
	}
	end := min(index+n, len(d.Words))
	return strings.Join(d.Words[index:end], " ")
}

// Preview returns the next n words followed by an ellipsis.
func (d Document) Preview(index, n int) string {
	return d.Window(index, n) + "..."
}

// BlockAt returns the position and block containing the word at index. It
// returns -1 when the index falls outside the document.
func (d Document) BlockAt(index int) (int, Block) {
	for i, b := range d.Blocks {
		if index >= b.StartIndex && index < b.End() {
			return i, b
		}
	}
	return -1, Block{}
}

// BlockText returns the words of block i joined by spaces.
func (d Document) BlockText(i int) string {
	if i < 0 || i >= len(d.Blocks) {
		return ""
	}
	return strings.Join(d.Blocks[i].Words, " ")
}

// Text returns the whole word sequence joined by spaces.
func (d Document) Text() string {
	return strings.Join(d.Words, " ")
}
