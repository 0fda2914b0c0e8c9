package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

// MimeTypes are the raster formats handed to the OCR transcriber.
var MimeTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/tiff"}

// Extractor delegates OCR of scanned records to a vision-capable model.
type Extractor struct {
	transcriber ports.ImageTranscriber
}

func NewExtractor(transcriber ports.ImageTranscriber) *Extractor {
	return &Extractor{transcriber: transcriber}
}

func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	text, err := e.transcriber.TranscribeImage(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("transcribe image: %w", err)
	}
	return strings.TrimSpace(text), nil
}
