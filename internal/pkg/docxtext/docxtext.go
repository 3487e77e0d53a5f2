// Package docxtext extracts paragraph text from WordprocessingML (.docx) files.
package docxtext

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNotDocx = errors.New("not a docx document")

// ExtractText reads a .docx archive and returns one line per paragraph.
// Paragraphs nested in tables and text boxes are included in document order.
func ExtractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	archive, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotDocx, err)
	}

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open word/document.xml failed: %w", err)
		}
		text, err := parseDocumentXML(rc)
		rc.Close()
		return text, err
	}
	return "", fmt.Errorf("%w: word/document.xml missing", ErrNotDocx)
}

func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		lines  []string
		open   []*strings.Builder // paragraphs currently open, innermost last
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse word/document.xml failed: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "pPr", "rPr", "tblPr", "sectPr":
				if err := dec.Skip(); err != nil {
					return "", fmt.Errorf("parse word/document.xml failed: %w", err)
				}
			case "p":
				open = append(open, &strings.Builder{})
			case "t":
				inText = len(open) > 0
			case "tab":
				if len(open) > 0 {
					open[len(open)-1].WriteByte('\t')
				}
			case "br", "cr":
				if len(open) > 0 {
					open[len(open)-1].WriteByte(' ')
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "p":
				if len(open) == 0 {
					continue
				}
				para := open[len(open)-1]
				open = open[:len(open)-1]
				if line := strings.TrimSpace(para.String()); line != "" {
					lines = append(lines, line)
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				open[len(open)-1].Write(el)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
