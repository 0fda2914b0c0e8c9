package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

const (
	PolicyMatchCount        = 10
	PolicySimilarityFloor   = 0.25
	ClinicalMatchCount      = 5
	ClinicalSimilarityFloor = 0.2
)

// Retriever embeds a query and runs a metadata-filtered similarity search.
type Retriever struct {
	embedder *EmbeddingGateway
	store    ports.ChunkStore
}

func NewRetriever(embedder *EmbeddingGateway, store ports.ChunkStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search returns at most matchCount chunks with similarity >= threshold, best first.
// No match is an empty slice, not an error.
func (r *Retriever) Search(
	ctx context.Context,
	queryText string,
	filter domain.MetadataFilter,
	matchCount int,
	threshold float64,
) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query text is empty"))
	}
	if matchCount <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	queryVector, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, queryVector, filter, matchCount, threshold)
	if err != nil {
		return nil, fmt.Errorf("search chunk store: %w", err)
	}
	return normalizeHits(hits, filter, matchCount, threshold), nil
}

// normalizeHits enforces the search contract regardless of how strictly a store applied it.
func normalizeHits(hits []domain.ScoredChunk, filter domain.MetadataFilter, matchCount int, threshold float64) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		if h.Metadata != nil && !filter.Matches(h.Metadata) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > matchCount {
		out = out[:matchCount]
	}
	return out
}
