// Package router dispatches text extraction by media type.
package router

import (
	"context"
	"fmt"
	"mime"
	"sort"
	"strings"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

type Router struct {
	extractors map[string]ports.DocumentTextExtractor
}

func New() *Router {
	return &Router{extractors: make(map[string]ports.DocumentTextExtractor)}
}

// Register binds extractor to every listed media type, replacing earlier bindings.
func (r *Router) Register(extractor ports.DocumentTextExtractor, mimeTypes ...string) *Router {
	for _, mt := range mimeTypes {
		r.extractors[normalize(mt)] = extractor
	}
	return r
}

func (r *Router) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mt := normalize(mimeType)
	extractor, ok := r.extractors[mt]
	if !ok {
		return "", domain.WrapError(domain.ErrUnsupportedMimeType, "extract document text", fmt.Errorf("mime type %q", mimeType))
	}
	return extractor.Extract(ctx, data, mt)
}

// Supported lists registered media types, sorted.
func (r *Router) Supported() []string {
	out := make([]string, 0, len(r.extractors))
	for mt := range r.extractors {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

func normalize(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = mimeType
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
