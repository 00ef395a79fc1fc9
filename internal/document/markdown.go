package document

import (
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Extensions are the file patterns lectern reads.
var Extensions = []string{"*.txt", "*.text", "*.md", "*.mdown", "*.mkdn", "*.mkd", "*.markdown"}

// IsMarkdown reports whether path names a markdown file.
func IsMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".mdown", ".mkdn", ".mkd", ".markdown":
		return true
	}
	return false
}

// PlainText strips markdown down to what should be read aloud. Headings,
// paragraphs and list items each become a block; code and raw HTML are
// dropped and links keep only their text.
func PlainText(source []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var (
		blocks []string
		b      strings.Builder
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML, *ast.Image:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				b.Write(n.Segment.Value(source))
				if n.SoftLineBreak() || n.HardLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(n.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(n.Label(source))
			}
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
			if !entering {
				if block := strings.TrimSpace(b.String()); block != "" {
					blocks = append(blocks, block)
				}
				b.Reset()
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(blocks, "\n\n")
}
