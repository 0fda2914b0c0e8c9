package httpadapter

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRequestNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrUnsupportedMimeType):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mimeTypeByFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	mt := mime.TypeByExtension(ext)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return ""
}
