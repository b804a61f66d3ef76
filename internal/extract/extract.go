// Package extract turns submitted documents into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

var (
	// ErrUnsupported is returned for file types without an extractor.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrNotText is returned when a plain text file is not valid UTF-8.
	ErrNotText = errors.New("file is not valid UTF-8 text")
)

// FromFile reads path and extracts its text based on the file extension.
func FromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes extracts text from data, using name only for its extension.
func FromBytes(name string, data []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case "", ".txt", ".md", ".text":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s: %w", name, ErrNotText)
		}
		return strings.TrimSpace(string(data)), nil
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	default:
		return "", fmt.Errorf("%s: %w", ext, ErrUnsupported)
	}
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(text)
	}

	return strings.TrimSpace(builder.String()), nil
}

func docxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}
	defer doc.Close()

	return strings.TrimSpace(stripTags(doc.Editable().GetContent())), nil
}

// stripTags drops the WordprocessingML markup and keeps run text, ending a
// line at every paragraph.
func stripTags(xml string) string {
	var builder strings.Builder
	inTag := false
	var tag strings.Builder

	for _, r := range xml {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			name := tag.String()
			if name == "/w:p" || name == "w:br/" || name == "w:br" {
				builder.WriteString("\n")
			} else if name == "w:tab/" || name == "w:tab" {
				builder.WriteString("\t")
			}
		case inTag:
			tag.WriteRune(r)
		default:
			builder.WriteRune(r)
		}
	}

	replacer := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&apos;", "'")
	return replacer.Replace(builder.String())
}
