package docpipe

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	htmlPolicy = bluemonday.UGCPolicy()

	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// extractHTML sanitises an HTML file, converts the surviving markup to
// Markdown, and parses that. Scripts, styles, and event handlers never
// reach the converter; headings and tables come through as Markdown
// structure the parser already understands.
func extractHTML(path string) (string, []Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}

	title := htmlTitle(data)

	clean := htmlPolicy.SanitizeBytes(data)
	md, err := mdConverter.ConvertString(string(clean))
	if err != nil {
		return "", nil, fmt.Errorf("html to markdown: %w", err)
	}

	parsedTitle, segments := parseMarkdown(md)
	if title == "" {
		title = parsedTitle
	}
	return title, segments, nil
}

// htmlTitle returns the <title> text, or "".
func htmlTitle(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != "" {
				return t
			}
		}
		return ""
	}
	return find(doc)
}
