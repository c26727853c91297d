package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ExtractText returns the readable text of an uploaded file. PDF and DOCX are
// parsed; anything else is read as UTF-8 with invalid bytes dropped.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return ExtractPDF(path)
	case ".docx":
		return ExtractDOCX(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return DecodeText(data), nil
}

// DecodeText converts raw bytes to a string, silently dropping invalid UTF-8.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}
