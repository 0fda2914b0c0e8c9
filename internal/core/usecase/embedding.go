package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

// EmbeddingGateway is the single entry point to the embedding capability. It does not retry;
// failures surface to the caller.
type EmbeddingGateway struct {
	service    ports.EmbeddingService
	dimensions int
}

// NewEmbeddingGateway wraps service. dimensions <= 0 disables the vector size check.
func NewEmbeddingGateway(service ports.EmbeddingService, dimensions int) *EmbeddingGateway {
	return &EmbeddingGateway{service: service, dimensions: dimensions}
}

func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *EmbeddingGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := g.service.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed batch",
			fmt.Errorf("vectors/texts mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "embed batch", fmt.Errorf("empty vector at index %d", i))
		}
		if g.dimensions > 0 && len(v) != g.dimensions {
			return nil, domain.WrapError(
				domain.ErrInvalidInput,
				"embed batch",
				fmt.Errorf("vector %d has %d dimensions, index expects %d", i, len(v), g.dimensions),
			)
		}
	}
	return vectors, nil
}
