package docpipe

// Format identifies a supported document type.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatDocx     Format = "docx"
	FormatPptx     Format = "pptx"
	FormatODT      Format = "odt"
	FormatPDF      Format = "pdf"
)

// Segment is one structural unit of an extracted document: a heading,
// a paragraph, a slide, or a page depending on the source format.
type Segment struct {
	Heading string            `json:"heading,omitempty"`
	Level   int               `json:"level,omitempty"` // 1-6 for headings, 0 for body
	Text    string            `json:"text"`
	Kind    string            `json:"kind"` // heading, paragraph, slide, page
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Document is the result of extracting a file.
type Document struct {
	Path     string      `json:"path"`
	Format   Format      `json:"format"`
	Title    string      `json:"title"`
	Segments []Segment   `json:"segments"`
	Text     string      `json:"text"`
	Quality  *PDFQuality `json:"quality,omitempty"`
}
