package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// page is the extracted text of one page. Formats without pages yield a
// single page numbered 0.
type page struct {
	Number int
	Text   string
}

var errNoText = errors.New("no extractable text")

// extractText returns the plain text of data by file type.
func extractText(fileType string, data []byte) ([]page, error) {
	switch fileType {
	case "txt", "md":
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s content is not valid UTF-8", fileType)
		}
		text := strings.TrimPrefix(string(data), "\ufeff")
		return []page{{Text: normalizeNewlines(text)}}, nil
	case "docx":
		text, err := extractDOCXText(data)
		if err != nil {
			return nil, err
		}
		return []page{{Text: text}}, nil
	case "pdf":
		return extractPDFPages(data)
	}
	return nil, fmt.Errorf("unsupported file type %q", fileType)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func extractDOCXText(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	var docFile *zip.File
	for _, f := range r.File {
		if strings.EqualFold(f.Name, "word/document.xml") {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("docx archive has no word/document.xml")
	}
	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open word/document.xml: %w", err)
	}
	defer rc.Close()
	return docxXMLText(rc)
}

// docxXMLText flattens WordprocessingML into one line per paragraph.
func docxXMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var buf strings.Builder
	lastWasNewline := true
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode word/document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t", "instrText":
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					buf.WriteString(text)
					lastWasNewline = false
				}
			case "tab":
				buf.WriteByte('\t')
				lastWasNewline = false
			case "br", "cr":
				buf.WriteByte('\n')
				lastWasNewline = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "tr":
				if !lastWasNewline {
					buf.WriteByte('\n')
					lastWasNewline = true
				}
				// A paragraph break separates items.
				if t.Name.Local == "p" {
					buf.WriteByte('\n')
				}
			case "tc":
				if !lastWasNewline {
					buf.WriteByte('\t')
				}
			}
		}
	}
	return buf.String(), nil
}

func extractPDFPages(data []byte) (pages []page, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			pages, err = nil, fmt.Errorf("read pdf: %v", p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, page{Number: i, Text: normalizeNewlines(text)})
	}
	if len(pages) == 0 {
		return nil, errNoText
	}
	return pages, nil
}
