package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"school-copilot/internal/logger"
	"school-copilot/models"

	"github.com/ledongthuc/pdf"
)

const popplerTimeout = 30 * time.Second

// ExtractionResult holds the text of a document plus the metadata found
// while reading it
type ExtractionResult struct {
	Text      string
	PageCount *int
	Author    *string
}

// Extractor turns a stored document into plain text
type Extractor interface {
	Extract(ctx context.Context, doc *models.Document) (*ExtractionResult, error)
}

// TextExtractor reads pdf, docx, pptx and txt files from local storage
type TextExtractor struct{}

// NewTextExtractor creates a text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads doc.FilePath according to doc.FileType. Page markers
// ("[PAGE n]") and slide markers ("[SLIDE n]") are embedded in the text so
// chunks can carry provenance.
func (e *TextExtractor) Extract(ctx context.Context, doc *models.Document) (*ExtractionResult, error) {
	if !models.SupportedFileType(doc.FileType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, doc.FileType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var result *ExtractionResult
	switch doc.FileType {
	case models.FileTypePDF:
		result, err = extractPDF(content)
		if err != nil || strings.TrimSpace(result.Text) == "" {
			if fallback, perr := extractWithPoppler(ctx, content); perr == nil {
				result, err = fallback, nil
			} else {
				logger.Debug("Poppler fallback unavailable", "document_id", doc.ID, "error", perr)
			}
		}
	case models.FileTypeDOCX:
		result, err = extractDOCX(content)
	case models.FileTypePPTX:
		result, err = extractPPTX(content)
	case models.FileTypeTXT:
		result = &ExtractionResult{Text: decodeText(content)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, doc.Name, err)
	}
	return result, nil
}

func extractPDF(content []byte) (result *ExtractionResult, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	pages := reader.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(make(map[string]*pdf.Font))
		if err != nil {
			logger.Warn("Failed to extract text from page", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[PAGE %d]\n%s", i, text))
	}

	result = &ExtractionResult{
		Text:      strings.Join(parts, "\n\n"),
		PageCount: &pages,
	}
	if author := reader.Trailer().Key("Info").Key("Author").Text(); author != "" {
		result.Author = &author
	}
	return result, nil
}

// extractWithPoppler runs pdftotext, which copes with encodings the Go
// reader does not. Pages come back separated by form feeds.
func extractWithPoppler(ctx context.Context, content []byte) (*ExtractionResult, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not available")
	}

	runCtx, cancel := context.WithTimeout(ctx, popplerTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	pages := strings.Split(strings.TrimRight(stdout.String(), "\f"), "\f")
	parts := make([]string, 0, len(pages))
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[PAGE %d]\n%s", i+1, text))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no text extracted by pdftotext")
	}

	count := len(pages)
	return &ExtractionResult{Text: strings.Join(parts, "\n\n"), PageCount: &count}, nil
}

func openZip(content []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(content), int64(len(content)))
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, os.ErrNotExist
}

// extractDOCX collects body paragraphs first, then one line per table row
// with cells joined by " | ".
func extractDOCX(content []byte) (*ExtractionResult, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("not a docx archive: %w", err)
	}
	body, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("missing word/document.xml: %w", err)
	}

	var paragraphs, rows []string
	var para strings.Builder
	var cell strings.Builder
	var cells []string
	tableDepth := 0
	inText := false

	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				cells = nil
			case "tc":
				cell.Reset()
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := para.String()
				if tableDepth > 0 {
					if cell.Len() > 0 && text != "" {
						cell.WriteByte('\n')
					}
					cell.WriteString(text)
				} else if strings.TrimSpace(text) != "" {
					paragraphs = append(paragraphs, text)
				}
			case "tc":
				if c := strings.TrimSpace(cell.String()); c != "" {
					cells = append(cells, c)
				}
			case "tr":
				if len(cells) > 0 {
					rows = append(rows, strings.Join(cells, " | "))
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	result := &ExtractionResult{Text: strings.Join(append(paragraphs, rows...), "\n\n")}
	if author := coreAuthor(zr); author != "" {
		result.Author = &author
	}
	return result, nil
}

// extractPPTX emits "[SLIDE n]" followed by the text of each shape for
// every slide that has text.
func extractPPTX(content []byte) (*ExtractionResult, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("not a pptx archive: %w", err)
	}

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slideFile{num: n, file: f})
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var parts []string
	for i, s := range slides {
		body, err := readZipFile(zr, s.file.Name)
		if err != nil {
			return nil, err
		}
		shapes, err := slideShapeTexts(body)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		if len(shapes) == 0 {
			continue
		}
		lines := append([]string{fmt.Sprintf("[SLIDE %d]", i+1)}, shapes...)
		parts = append(parts, strings.Join(lines, "\n"))
	}

	count := len(slides)
	result := &ExtractionResult{Text: strings.Join(parts, "\n\n"), PageCount: &count}
	if author := coreAuthor(zr); author != "" {
		result.Author = &author
	}
	return result, nil
}

// slideShapeTexts returns the text of each shape (p:sp) on a slide, with
// paragraphs separated by newlines
func slideShapeTexts(body []byte) ([]string, error) {
	var shapes []string
	var shape, para strings.Builder
	depth := 0
	inText := false

	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				if depth == 0 {
					shape.Reset()
				}
				depth++
			case "p":
				para.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if depth > 0 {
					if shape.Len() > 0 {
						shape.WriteByte('\n')
					}
					shape.WriteString(para.String())
				}
			case "sp":
				depth--
				if depth == 0 && strings.TrimSpace(shape.String()) != "" {
					shapes = append(shapes, shape.String())
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return shapes, nil
}

// coreAuthor reads dc:creator from docProps/core.xml
func coreAuthor(zr *zip.Reader) string {
	body, err := readZipFile(zr, "docProps/core.xml")
	if err != nil {
		return ""
	}
	var props struct {
		Creator string `xml:"creator"`
	}
	if err := xml.Unmarshal(body, &props); err != nil {
		return ""
	}
	return strings.TrimSpace(props.Creator)
}

// decodeText reads UTF-8 and falls back to Latin-1, where each byte is a
// code point
func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}
	return string(runes)
}
