package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// FlattenMarkdown parses markdown and returns its plain text content.
// Block elements (headings, paragraphs, list items, code blocks) are
// separated by blank lines so the chunker can prefer paragraph boundaries.
// Formatting syntax (emphasis markers, link targets, heading markers) is
// dropped; code block contents are kept verbatim.
func FlattenMarkdown(src []byte) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		// Blank line between top-level text blocks
		switch n.Kind() {
		case ast.KindParagraph, ast.KindHeading, ast.KindCodeBlock,
			ast.KindFencedCodeBlock, ast.KindTextBlock:
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
		}

		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.URL(src))
		case *ast.FencedCodeBlock:
			writeBlockLines(&sb, node, src)
		case *ast.CodeBlock:
			writeBlockLines(&sb, node, src)
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String())
}

// writeBlockLines writes the raw source lines of a code block.
func writeBlockLines(sb *strings.Builder, n interface{ Lines() *text.Segments }, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		sb.Write(segment.Value(src))
	}
}

// SplitText splits s into chunks of at most size runes with the given rune
// overlap between consecutive chunks. Boundaries prefer, in order: a
// paragraph break, a newline, a space within the window. The split is
// deterministic: the same input always yields the same chunks.
//
// Chunks are trimmed of surrounding whitespace; empty chunks are dropped.
func SplitText(s string, size, overlap int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if trimmed := strings.TrimSpace(string(runes[start:])); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			break
		}

		// A break point in the first half would waste too much of the
		// window, so fall back to a hard cut instead.
		cut := end
		if idx := lastBreak(runes[start:end]); idx > size/2 {
			cut = start + idx
		}

		if trimmed := strings.TrimSpace(string(runes[start:cut])); trimmed != "" {
			chunks = append(chunks, trimmed)
		}

		// Overlap rewinds the window; always advance at least one rune
		next := cut - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// lastBreak returns the index of the best break point in window,
// or len(window) if none exists.
func lastBreak(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' {
			return i
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return len(window)
}
