package extractor

import (
	"fmt"
	"html"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// ExtractDOCX returns the paragraphs of a DOCX file, one per line.
func ExtractDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	return strings.Join(splitDOCXParagraphs(r.Editable().GetContent()), "\n"), nil
}

// splitDOCXParagraphs splits document XML on <w:p tags and strips the
// remaining markup, dropping empty paragraphs.
func splitDOCXParagraphs(xmlStr string) []string {
	var paragraphs []string
	for i, part := range strings.Split(xmlStr, "<w:p") {
		if i > 0 {
			// restore the tag opener so its attributes are stripped too
			part = "<w:p" + part
		}
		cleaned := strings.TrimSpace(html.UnescapeString(stripTags(part)))
		if cleaned != "" {
			paragraphs = append(paragraphs, cleaned)
		}
	}
	return paragraphs
}

func stripTags(xmlStr string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xmlStr {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
