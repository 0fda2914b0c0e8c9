package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

func TestRetrieverSearchAppliesContract(t *testing.T) {
	policy := &domain.PolicyMetadata{Payer: "Aetna"}
	other := &domain.PolicyMetadata{Payer: "Cigna"}
	store := &chunkStoreFake{search: func([]float32, domain.MetadataFilter) ([]domain.ScoredChunk, error) {
		return []domain.ScoredChunk{
			scored("low", "a.pdf", "below threshold", 0.1, policy),
			scored("mid", "a.pdf", "mid", 0.5, policy),
			scored("wrong-payer", "b.pdf", "filtered", 0.9, other),
			scored("top", "a.pdf", "top", 0.8, policy),
			scored("edge", "a.pdf", "exactly threshold", 0.25, policy),
		}, nil
	}}
	r := NewRetriever(NewEmbeddingGateway(&embedderFake{}, 0), store)

	hits, err := r.Search(context.Background(), "CPT 95810", domain.MetadataFilter{Type: domain.MetadataPolicy, Payer: "Aetna"}, 2, 0.25)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "top" || hits[1].ID != "mid" {
		t.Fatalf("unexpected order: %s, %s", hits[0].ID, hits[1].ID)
	}
}

func TestRetrieverKeepsSimilarityEqualToThreshold(t *testing.T) {
	store := &chunkStoreFake{search: func([]float32, domain.MetadataFilter) ([]domain.ScoredChunk, error) {
		return []domain.ScoredChunk{scored("edge", "a.pdf", "edge", 0.2, &domain.ClinicalMetadata{PatientID: "P1"})}, nil
	}}
	r := NewRetriever(NewEmbeddingGateway(&embedderFake{}, 0), store)

	hits, err := r.Search(context.Background(), "HbA1c", domain.MetadataFilter{Type: domain.MetadataClinical, PatientID: "P1"}, 5, 0.2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected threshold-equal hit to be kept, got %d", len(hits))
	}
}

func TestRetrieverEmptyResultIsNotAnError(t *testing.T) {
	r := NewRetriever(NewEmbeddingGateway(&embedderFake{}, 0), &chunkStoreFake{})

	hits, err := r.Search(context.Background(), "query", domain.MetadataFilter{}, 10, 0.25)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", hits)
	}
}

func TestRetrieverRejectsEmptyQuery(t *testing.T) {
	spy := &embedderFake{}
	r := NewRetriever(NewEmbeddingGateway(spy, 0), &chunkStoreFake{})

	_, err := r.Search(context.Background(), "   ", domain.MetadataFilter{}, 10, 0.25)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if spy.calls.Load() != 0 {
		t.Fatalf("expected no embedding call")
	}
}
