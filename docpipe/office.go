package docpipe

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// openZipEntry returns a reader for one named file inside a ZIP container.
// The caller owns both closers.
func openZipEntry(r *zip.ReadCloser, name string) (io.ReadCloser, error) {
	for _, f := range r.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// extractDocx pulls paragraphs out of word/document.xml. Paragraphs whose
// pStyle names a heading become heading segments.
func extractDocx(path string) (string, []Segment, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	rc, err := openZipEntry(r, "word/document.xml")
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	var (
		segments []Segment
		title    string
		para     strings.Builder
		inPara   bool
		style    string
	)

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", nil, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
				style = ""
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						style = attr.Value
					}
				}
			case "tab":
				if inPara {
					para.WriteByte(' ')
				}
			case "br":
				if inPara {
					para.WriteByte('\n')
				}
			}

		case xml.CharData:
			if inPara {
				para.Write(t)
			}

		case xml.EndElement:
			if t.Name.Local != "p" || !inPara {
				continue
			}
			inPara = false
			text := collapseSpaces(para.String())
			if text == "" {
				continue
			}
			if level := wordHeadingLevel(style); level > 0 {
				if title == "" {
					title = text
				}
				segments = append(segments, Segment{
					Heading: text,
					Level:   level,
					Text:    text,
					Kind:    "heading",
				})
			} else {
				segments = append(segments, Segment{Text: text, Kind: "paragraph"})
			}
		}
	}

	if title == "" && len(segments) > 0 {
		title = truncateTitle(segments[0].Text)
	}
	return title, segments, nil
}

// wordHeadingLevel maps a Word paragraph style to a heading level, or 0.
// Styles vary by locale: Heading1, Titre1, Überschrift1.
func wordHeadingLevel(style string) int {
	lower := strings.ToLower(style)
	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		rest, ok := strings.CutPrefix(lower, prefix)
		if ok && len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
			return int(rest[0] - '0')
		}
	}
	return 0
}

// extractPptx produces one segment per slide, in deck order. Slide text is
// the concatenation of all a:t runs, so shapes and notes placeholders on
// the slide surface are flattened together.
func extractPptx(path string) (string, []Segment, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	numbers := make([]int, 0, len(r.File))
	for _, f := range r.File {
		if n, ok := slideNumber(f.Name); ok {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		return "", nil, fmt.Errorf("no slides found in archive")
	}
	sort.Ints(numbers)

	var segments []Segment
	var title string
	for _, n := range numbers {
		rc, err := openZipEntry(r, fmt.Sprintf("ppt/slides/slide%d.xml", n))
		if err != nil {
			return "", nil, err
		}
		text, err := slideText(rc)
		rc.Close()
		if err != nil {
			return "", nil, fmt.Errorf("slide %d: %w", n, err)
		}
		if text == "" {
			continue
		}
		if title == "" {
			title = truncateTitle(text)
		}
		segments = append(segments, Segment{
			Text:  text,
			Kind:  "slide",
			Attrs: map[string]string{"slide": strconv.Itoa(n)},
		})
	}
	return title, segments, nil
}

// slideNumber parses "ppt/slides/slideN.xml" into N.
func slideNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "ppt/slides/slide")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".xml")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// slideText joins the a:t runs of one slide. Paragraph boundaries (a:p)
// become newlines so bullet lists stay line-separated.
func slideText(r io.Reader) (string, error) {
	var (
		sb    strings.Builder
		inRun bool
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.CharData:
			if inRun {
				sb.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// extractODT pulls headings and paragraphs out of content.xml.
func extractODT(path string) (string, []Segment, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	rc, err := openZipEntry(r, "content.xml")
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	var (
		segments []Segment
		title    string
		text     strings.Builder
		inBlock  bool
		heading  bool
		level    int
	)

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", nil, fmt.Errorf("parse content.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "h":
				inBlock, heading, level = true, true, 1
				text.Reset()
				for _, attr := range t.Attr {
					if attr.Name.Local == "outline-level" {
						if n, err := strconv.Atoi(attr.Value); err == nil && n >= 1 && n <= 6 {
							level = n
						}
					}
				}
			case "p":
				inBlock, heading = true, false
				text.Reset()
			case "tab", "s":
				if inBlock {
					text.WriteByte(' ')
				}
			}

		case xml.CharData:
			if inBlock {
				text.Write(t)
			}

		case xml.EndElement:
			if (t.Name.Local != "h" && t.Name.Local != "p") || !inBlock {
				continue
			}
			inBlock = false
			content := collapseSpaces(text.String())
			if content == "" {
				continue
			}
			if heading {
				if title == "" {
					title = content
				}
				segments = append(segments, Segment{
					Heading: content,
					Level:   level,
					Text:    content,
					Kind:    "heading",
				})
			} else {
				segments = append(segments, Segment{Text: content, Kind: "paragraph"})
			}
		}
	}

	if title == "" && len(segments) > 0 {
		title = truncateTitle(segments[0].Text)
	}
	return title, segments, nil
}
