package message

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/pocketcode/chatcore/internal/part"
)

var markdown = goldmark.New()

// Preview returns the first text part of m as a single line of plain text (markdown syntax removed, whitespace collapsed), truncated to width display cells with
// a trailing "…". width <= 0 means no limit.
func (m Message) Preview(width int) string {
	for _, p := range m.parts.All() {
		t, ok := p.(part.Text)
		if !ok || t.Len() == 0 {
			continue
		}
		s := strings.Join(strings.Fields(PlainText(t.Content())), " ")
		if s == "" {
			continue
		}
		if width > 0 {
			s = runewidth.Truncate(s, width, "…")
		}
		return s
	}
	return ""
}

// PlainText renders markdown source as plain text: emphasis, links and headings lose their markup, code keeps its content, and blocks are separated by newlines.
func PlainText(source string) string {
	src := []byte(source)
	doc := markdown.Parser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.URL(src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
