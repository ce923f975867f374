// Package docpipe extracts text and structure from corpus documents.
//
// Each supported format is parsed into a flat list of Segments which the
// ingestion pipeline joins and chunks. Parsers are pure Go and work with
// CGO_ENABLED=0:
//
//   - .txt          plain text, whitespace normalised
//   - .md           Markdown with ATX heading detection
//   - .html / .htm  sanitised, converted to Markdown, then parsed as such
//   - .docx         word/document.xml out of the ZIP container
//   - .pptx         one segment per slide from ppt/slides/slideN.xml
//   - .odt          content.xml out of the ZIP container
//   - .pdf          content-stream text extraction with quality metrics
package docpipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config configures the extraction pipeline.
type Config struct {
	// MaxFileSize rejects files larger than this many bytes (default 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline parses documents into Segments.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Detect maps a file extension to its Format.
func (p *Pipeline) Detect(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text":
		return FormatText, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".docx":
		return FormatDocx, nil
	case ".pptx":
		return FormatPptx, nil
	case ".odt":
		return FormatODT, nil
	case ".pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", filepath.Ext(path))
	}
}

// Extract parses the file at path into a Document.
func (p *Pipeline) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)
	}

	format, err := p.Detect(path)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("extracting document", "path", path, "format", format)

	var (
		title    string
		segments []Segment
		quality  *PDFQuality
	)
	switch format {
	case FormatText:
		title, segments, err = extractPlain(path)
	case FormatMarkdown:
		title, segments, err = extractMarkdownFile(path)
	case FormatHTML:
		title, segments, err = extractHTML(path)
	case FormatDocx:
		title, segments, err = extractDocx(path)
	case FormatPptx:
		title, segments, err = extractPptx(path)
	case FormatODT:
		title, segments, err = extractODT(path)
	case FormatPDF:
		title, segments, quality, err = extractPDF(path)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s (%s): %w", path, format, err)
	}

	return &Document{
		Path:     path,
		Format:   format,
		Title:    title,
		Segments: segments,
		Text:     joinSegments(segments),
		Quality:  quality,
	}, nil
}

// joinSegments flattens segments into the text handed to the chunker.
// Headings get their own line so paragraph-aware chunking can key on them.
func joinSegments(segments []Segment) string {
	var sb strings.Builder
	for _, s := range segments {
		if s.Heading != "" && s.Heading != s.Text {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(s.Heading)
		}
		if s.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// SupportedExtensions lists the file extensions Extract understands,
// in the form the scanner's extension filter expects.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".html", ".htm", ".docx", ".pptx", ".odt", ".pdf"}
}
