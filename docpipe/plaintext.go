package docpipe

import (
	"os"
	"strings"
	"unicode"
)

// extractPlain reads a text file as a single paragraph stream. Blank lines
// separate paragraphs; everything else is normalised whitespace.
func extractPlain(path string) (string, []Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	var segments []Segment
	for _, block := range splitBlocks(string(data)) {
		segments = append(segments, Segment{
			Text: collapseSpaces(block),
			Kind: "paragraph",
		})
	}
	if len(segments) == 0 {
		return "", nil, nil
	}
	return truncateTitle(segments[0].Text), segments, nil
}

func extractMarkdownFile(path string) (string, []Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	title, segments := parseMarkdown(string(data))
	return title, segments, nil
}

// parseMarkdown splits Markdown source into heading and paragraph segments.
// Only ATX headings are recognised; fenced code blocks are kept verbatim.
func parseMarkdown(src string) (string, []Segment) {
	var (
		segments []Segment
		title    string
		para     strings.Builder
		inFence  bool
	)

	flush := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text != "" {
			segments = append(segments, Segment{Text: text, Kind: "paragraph"})
		}
	}

	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			if para.Len() > 0 {
				para.WriteByte('\n')
			}
			para.WriteString(line)
			continue
		}

		if level := atxLevel(trimmed); level > 0 {
			flush()
			heading := strings.TrimSpace(strings.Trim(trimmed, "# "))
			if heading == "" {
				continue
			}
			if title == "" {
				title = heading
			}
			segments = append(segments, Segment{
				Heading: heading,
				Level:   level,
				Text:    heading,
				Kind:    "heading",
			})
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}
		if para.Len() > 0 {
			para.WriteByte(' ')
		}
		para.WriteString(trimmed)
	}
	flush()

	if title == "" && len(segments) > 0 {
		title = truncateTitle(segments[0].Text)
	}
	return title, segments
}

// atxLevel returns the heading level of an ATX heading line, or 0.
func atxLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n == len(line) || line[n] == ' ' || line[n] == '\t' {
		return n
	}
	return 0
}

// splitBlocks splits text on blank lines, dropping empty blocks.
func splitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	for _, b := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// collapseSpaces squashes all whitespace runs to single spaces.
func collapseSpaces(text string) string {
	var sb strings.Builder
	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func truncateTitle(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
