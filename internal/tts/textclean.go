package tts

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// speakable is the set of characters passed through to the speech
// engine. Everything else (emoji, markdown leftovers, control chars)
// is dropped rather than read aloud.
const speakable = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 .,!?;:-()[]"

// CleanText prepares LLM output for speech synthesis: markdown
// formatting is stripped, whitespace collapsed, unspeakable characters
// removed, and the result truncated to maxLen with a trailing ellipsis
// when it runs long. Deterministic: the same input always yields the
// same output.
func CleanText(input string, maxLen int) string {
	s := stripMarkdown(input)

	// Collapse runs of whitespace (including newlines) to single
	// spaces so the engine doesn't insert odd pauses.
	s = strings.Join(strings.Fields(s), " ")

	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(speakable, r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)

	if maxLen > 3 && len(s) > maxLen {
		s = strings.TrimSpace(s[:maxLen-3]) + "..."
	}
	return s
}

// stripMarkdown extracts the text content of a markdown document by
// walking its parsed AST, keeping the words and dropping the
// formatting. Code blocks keep their content; link targets are
// dropped in favor of the link text.
func stripMarkdown(input string) string {
	source := []byte(input)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			// Separate block elements with a space so headings and
			// paragraphs don't run together.
			if n.Type() == ast.TypeBlock && b.Len() > 0 {
				b.WriteByte(' ')
			}
			return ast.WalkContinue, nil
		}

		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(source))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
				b.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return b.String()
}
