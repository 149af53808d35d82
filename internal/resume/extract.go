// Package resume turns uploaded resumes into a short digest and skill list
// that sessions use to personalise questions.
package resume

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxTextBytes caps how much extracted text is kept per resume.
const MaxTextBytes = 64 << 10

// ErrEmpty is returned when a resume has no readable text.
var ErrEmpty = errors.New("resume has no readable text")

// IsPDF reports whether data starts with the PDF magic bytes.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// ExtractText returns the plain text of a PDF or UTF-8 text resume with
// whitespace collapsed.
func ExtractText(data []byte) (string, error) {
	var text string
	if IsPDF(data) {
		r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", fmt.Errorf("opening pdf: %w", err)
		}
		plain, err := r.GetPlainText()
		if err != nil {
			return "", fmt.Errorf("extracting pdf text: %w", err)
		}
		raw, err := io.ReadAll(io.LimitReader(plain, 4*MaxTextBytes))
		if err != nil {
			return "", fmt.Errorf("reading pdf text: %w", err)
		}
		text = string(raw)
	} else {
		if !utf8.Valid(data) {
			return "", errors.New("resume is neither a PDF nor UTF-8 text")
		}
		text = string(data)
	}

	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrEmpty
	}
	if len(text) > MaxTextBytes {
		text = text[:MaxTextBytes]
		// Do not leave a split rune at the end.
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	return text, nil
}
