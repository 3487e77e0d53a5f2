package docxtext

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>The capital of France </w:t></w:r><w:r><w:t>is Paris.</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	text, err := ExtractText(bytes.NewReader(buildDocx(t, xmlDoc)))
	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.\nSecond paragraph.", text)
}

func TestExtractText_NotZip(t *testing.T) {
	_, err := ExtractText(strings.NewReader("plain text"))
	assert.ErrorIs(t, err, ErrNotDocx)
}

func TestExtractText_MissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = ExtractText(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrNotDocx)
}

func TestExtractText_TableCells(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Intro.</w:t></w:r></w:p>
    <w:tbl>
      <w:tblPr><w:tblW w:w="0" w:type="auto"/></w:tblPr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>The capital of France is Paris.</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Population</w:t></w:r><w:r><w:tab/><w:t>2.1M</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
    <w:p><w:r><w:t>Outro.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	text, err := ExtractText(bytes.NewReader(buildDocx(t, xmlDoc)))
	require.NoError(t, err)
	assert.Equal(t, "Intro.\nThe capital of France is Paris.\nPopulation\t2.1M\nOutro.", text)
}

func TestExtractText_OnlyTables(t *testing.T) {
	xmlDoc := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Berlin</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
		`<w:sectPr/></w:body></w:document>`

	text, err := ExtractText(bytes.NewReader(buildDocx(t, xmlDoc)))
	require.NoError(t, err)
	assert.Equal(t, "Berlin", text)
}

func TestExtractText_Malformed(t *testing.T) {
	_, err := ExtractText(bytes.NewReader(buildDocx(t, `<w:document xmlns:w="x"><w:body><w:p>`)))
	assert.Error(t, err)
}
