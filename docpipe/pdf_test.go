package docpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTextFromContentStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n(Hello) Tj\n(World) Tj\nT*\n(next line) '\nET")

	got := textFromContentStream(stream)
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "World") {
		t.Errorf("text = %q", got)
	}
	if !strings.Contains(got, "next line") {
		t.Errorf("quote operator text missing: %q", got)
	}
}

func TestDecodeLiteral(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`plain`, "plain"},
		{`a\nb`, "a\nb"},
		{`open \( close \)`, "open ( close )"},
		{`back\\slash`, `back\slash`},
		{`sp\040ace`, "sp ace"},
		{`\101BC`, "ABC"},
		{`\7end`, "\aend"},
	}
	for _, tc := range cases {
		if got := decodeLiteral([]byte(tc.raw)); got != tc.want {
			t.Errorf("decodeLiteral(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestPrintableRatio(t *testing.T) {
	if got := printableRatio("clean readable text"); got != 1.0 {
		t.Errorf("clean text ratio = %f, want 1.0", got)
	}
	garbage := strings.Repeat("", 90) + "ok"
	if got := printableRatio(garbage); got > 0.5 {
		t.Errorf("garbage ratio = %f, want low", got)
	}
}

func TestWordlikeRatio(t *testing.T) {
	if got := wordlikeRatio("these are normal words here"); got != 1.0 {
		t.Errorf("normal words ratio = %f, want 1.0", got)
	}
	if got := wordlikeRatio("a b c d"); got != 0 {
		t.Errorf("single letters ratio = %f, want 0", got)
	}
	if got := wordlikeRatio(""); got != 0 {
		t.Errorf("empty ratio = %f, want 0", got)
	}
}

func TestPDFQuality_NeedsOCR(t *testing.T) {
	cases := []struct {
		name string
		q    PDFQuality
		want bool
	}{
		{"text heavy", PDFQuality{CharsPerPage: 1800, PrintableRatio: 0.99}, false},
		{"sparse with images", PDFQuality{CharsPerPage: 10, PrintableRatio: 0.99, HasImages: true}, true},
		{"sparse without images", PDFQuality{CharsPerPage: 10, PrintableRatio: 0.99}, false},
		{"garbled fonts", PDFQuality{CharsPerPage: 1800, PrintableRatio: 0.40}, true},
	}
	for _, tc := range cases {
		if got := tc.q.NeedsOCR(); got != tc.want {
			t.Errorf("%s: NeedsOCR() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExtractPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, buildTextPDF("Annual safety review for operators"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := New(Config{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if doc.Format != FormatPDF {
		t.Errorf("format = %q", doc.Format)
	}
	if doc.Quality == nil {
		t.Fatal("expected quality metrics for PDF")
	}
	if doc.Quality.Pages != 1 {
		t.Errorf("pages = %d, want 1", doc.Quality.Pages)
	}
	if !strings.Contains(doc.Text, "safety review") {
		t.Errorf("text = %q", doc.Text)
	}
}

func TestExtractPDF_ImageOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	if err := os.WriteFile(path, buildImageOnlyPDF(), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, quality, err := extractPDF(path)
	if err != nil {
		// No text content is the expected outcome for a pure image PDF.
		if !strings.Contains(err.Error(), "no text content") {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if !quality.HasImages {
		t.Error("expected HasImages for image-only PDF")
	}
}

// buildTextPDF writes a minimal single page PDF with a valid xref table.
func buildTextPDF(text string) []byte {
	escaped := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(text)
	stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	return assemblePDF(objects)
}

func buildImageOnlyPDF() []byte {
	imgData := "\xff\xd8\xff\xe0"
	drawStream := "q 100 0 0 100 72 692 cm /Im1 Do Q"

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im1 4 0 R >> >> /Contents 5 0 R >>",
		fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length %d >>\nstream\n%s\nendstream", len(imgData), imgData),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(drawStream), drawStream),
	}
	return assemblePDF(objects)
}

// assemblePDF lays out numbered objects and appends the xref table with
// byte-accurate offsets.
func assemblePDF(objects []string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)

	return []byte(b.String())
}
