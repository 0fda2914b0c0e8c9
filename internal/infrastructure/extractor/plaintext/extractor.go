package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

// MimeTypes are served by this extractor.
var MimeTypes = []string{"text/plain", "text/markdown", "text/csv"}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, data []byte, mimeType string) (string, error) {
	data = trimBOM(data)
	if !utf8.Valid(data) {
		return "", domain.WrapError(domain.ErrUnsupportedMimeType, "extract plain text", fmt.Errorf("%s payload is not valid utf-8", mimeType))
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimSpace(text), nil
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
