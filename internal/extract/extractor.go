// Package extract turns uploaded file bytes into plain text, one reader per format.
package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Extractor dispatches on the file extension. Unknown formats yield empty text, not an error.
type Extractor struct {
	markdown goldmark.Markdown
	logger   *zap.Logger
}

// New creates an extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   logger,
	}
}

// Supported reports whether filename has a format with a text reader.
// Images and unknown extensions are not supported.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".xlsx", ".md", ".markdown", ".html", ".htm", ".xml",
		".txt", ".text", ".csv", ".log":
		return true
	}
	return false
}

// Extract returns the text of data and the source type derived from filename.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", fmt.Errorf("extract: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	var (
		text       string
		sourceType string
		err        error
	)

	switch ext {
	case ".pdf":
		sourceType = domain.SourceTypePDF
		text, err = pdfText(data)
	case ".docx":
		sourceType = domain.SourceTypeDOCX
		text, err = docxText(data)
	case ".xlsx":
		sourceType = domain.SourceTypeXLSX
		text, err = xlsxText(data)
	case ".md", ".markdown":
		sourceType = domain.SourceTypeMarkdown
		text, err = e.markdownText(data)
	case ".html", ".htm":
		sourceType = domain.SourceTypeHTML
		text, err = HTMLText(bytes.NewReader(data))
	case ".xml":
		sourceType = domain.SourceTypeXML
		text, err = HTMLText(bytes.NewReader(data))
	case ".txt", ".text", ".csv", ".log":
		sourceType = domain.SourceTypeText
		text = plainText(data)
	case ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".gif", ".bmp", ".webp":
		// OCR is not wired
		return "", domain.SourceTypeImage, nil
	default:
		e.logger.Debug("Unknown file type", zap.String("filename", filename), zap.String("ext", ext))
		return "", domain.SourceTypeUnknown, nil
	}
	if err != nil {
		return "", sourceType, fmt.Errorf("read %s: %w: %w", sourceType, domain.ErrInvalidInput, err)
	}

	if strings.TrimSpace(text) == "" {
		e.logger.Warn("No text extracted", zap.String("filename", filename), zap.String("source_type", sourceType))
	}
	return text, sourceType, nil
}

func plainText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if t = strings.TrimSpace(t); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func docxText(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer func() { _ = r.Close() }()

	return wordML(r.Editable().GetContent())
}

// wordML collects w:t runs, one paragraph per w:p element.
func wordML(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}

func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (e *Extractor) markdownText(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := e.markdown.Convert(data, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return HTMLText(&buf)
}
