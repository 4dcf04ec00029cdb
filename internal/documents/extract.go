package documents

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

const csvPreviewChars = 20000

// ExtractText returns the searchable text of a document, chosen by file
// extension. Plain text is returned whole, CSV is cut to its first 20000
// characters, PDF and DOCX text is read page by page and paragraph by
// paragraph, and any other type yields an empty string. Extraction never
// fails the upload.
func ExtractText(name string, body []byte) string {
	var (
		text string
		err  error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".txt":
		return strings.ToValidUTF8(string(body), "")
	case ".csv":
		return truncateRunes(strings.ToValidUTF8(string(body), ""), csvPreviewChars)
	case ".pdf":
		text, err = extractPDF(body)
	case ".docx":
		text, err = extractDOCX(body)
	default:
		return ""
	}
	if err != nil {
		return ""
	}
	return compactLines(strings.ToValidUTF8(text, ""))
}

func truncateRunes(value string, limit int) string {
	if limit < 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	count := 0
	for i := range value {
		if count == limit {
			return value[:i]
		}
		count++
	}
	return value
}

// compactLines trims every line and drops the empty ones left behind by
// layout operators and paragraph breaks.
func compactLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func extractPDF(body []byte) (text string, err error) {
	// The reader panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(data), nil
}

func extractDOCX(body []byte) (string, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("convert docx: %w", err)
	}
	return text, nil
}
