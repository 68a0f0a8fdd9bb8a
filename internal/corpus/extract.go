package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Content returns the plain-text content of a document. PDF files are parsed
// to text; everything else on the allow-list is read verbatim.
func (s *Store) Content(filename string) (string, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrNotFound, filename)
	}
	path := filepath.Join(s.dir, name)

	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return extractPDF(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("reading document %q: %w", name, err)
	}
	return string(data), nil
}

// extractPDF parses a PDF file to plain text.
func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil && os.IsNotExist(statErr) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, filepath.Base(path))
		}
		return "", fmt.Errorf("opening pdf %q: %w", filepath.Base(path), err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text %q: %w", filepath.Base(path), err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text %q: %w", filepath.Base(path), err)
	}
	return buf.String(), nil
}
