package services

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"school-copilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "doc.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

const coreXML = `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Notes</dc:title>
  <dc:creator>Ms. Rivera</dc:creator>
</cp:coreProperties>`

func TestExtractDOCX(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Linear equations</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>x</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>2x + 1</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
    <w:p><w:r><w:t xml:space="preserve">Solve for </w:t></w:r><w:r><w:t>x.</w:t></w:r></w:p>
  </w:body>
</w:document>`
	path := writeZip(t, map[string]string{
		"word/document.xml": body,
		"docProps/core.xml": coreXML,
	})

	res, err := NewTextExtractor().Extract(context.Background(), &models.Document{Name: "notes.docx", FilePath: path, FileType: models.FileTypeDOCX})
	require.NoError(t, err)
	assert.Equal(t, "Linear equations\n\nSolve for x.\n\nx | 2x + 1", res.Text)
	require.NotNil(t, res.Author)
	assert.Equal(t, "Ms. Rivera", *res.Author)
}

func slideXML(texts ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?>
<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><p:cSld><p:spTree>`
	for _, text := range texts {
		s += `<p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp>`
	}
	return s + `</p:spTree></p:cSld></p:sld>`
}

func TestExtractPPTX(t *testing.T) {
	path := writeZip(t, map[string]string{
		"ppt/slides/slide10.xml":           slideXML("Third"),
		"ppt/slides/slide2.xml":            slideXML("Second title", "Second body"),
		"ppt/slides/slide1.xml":            slideXML("First"),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})

	res, err := NewTextExtractor().Extract(context.Background(), &models.Document{Name: "deck.pptx", FilePath: path, FileType: models.FileTypePPTX})
	require.NoError(t, err)
	assert.Equal(t, "[SLIDE 1]\nFirst\n\n[SLIDE 2]\nSecond title\nSecond body\n\n[SLIDE 3]\nThird", res.Text)
	require.NotNil(t, res.PageCount)
	assert.Equal(t, 3, *res.PageCount)
	assert.Nil(t, res.Author)
}

func TestExtractTXT(t *testing.T) {
	dir := t.TempDir()
	utf := filepath.Join(dir, "utf.txt")
	require.NoError(t, os.WriteFile(utf, []byte("Café au lait"), 0o644))
	latin := filepath.Join(dir, "latin.txt")
	require.NoError(t, os.WriteFile(latin, []byte{'C', 'a', 'f', 0xe9}, 0o644))

	ex := NewTextExtractor()
	res, err := ex.Extract(context.Background(), &models.Document{FilePath: utf, FileType: models.FileTypeTXT})
	require.NoError(t, err)
	assert.Equal(t, "Café au lait", res.Text)

	res, err = ex.Extract(context.Background(), &models.Document{FilePath: latin, FileType: models.FileTypeTXT})
	require.NoError(t, err)
	assert.Equal(t, "Café", res.Text)
}

func TestExtractErrors(t *testing.T) {
	ex := NewTextExtractor()
	ctx := context.Background()

	_, err := ex.Extract(ctx, &models.Document{FilePath: "x.xls", FileType: "xls"})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = ex.Extract(ctx, &models.Document{FilePath: filepath.Join(t.TempDir(), "missing.txt"), FileType: models.FileTypeTXT})
	assert.ErrorIs(t, err, ErrExtractionFailed)

	junk := filepath.Join(t.TempDir(), "junk.pdf")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a pdf"), 0o644))
	_, err = ex.Extract(ctx, &models.Document{Name: "junk.pdf", FilePath: junk, FileType: models.FileTypePDF})
	assert.ErrorIs(t, err, ErrExtractionFailed)

	_, err = ex.Extract(ctx, &models.Document{Name: "junk.docx", FilePath: junk, FileType: models.FileTypeDOCX})
	assert.ErrorIs(t, err, ErrExtractionFailed)
}
