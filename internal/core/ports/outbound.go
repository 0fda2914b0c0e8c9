package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

// EvaluationRepository persists prior-auth requests and their determinations.
type EvaluationRepository interface {
	CreateRequest(ctx context.Context, req *domain.PriorAuthRequest) error
	GetRequest(ctx context.Context, id string) (*domain.PriorAuthRequest, error)
	// CompleteRequest stores the determination and moves the request pending → complete atomically.
	CompleteRequest(ctx context.Context, det *domain.Determination) error
	// FailRequest moves the request pending → error.
	FailRequest(ctx context.Context, id string, errMessage string) error
	GetDetermination(ctx context.Context, requestID string) (*domain.Determination, error)
	// ClaimStalePending returns pending requests whose updated_at is before cutoff and
	// refreshes it, so each row is handed out once per window.
	ClaimStalePending(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// ObjectStorage stores uploaded source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object; a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// EvaluationDispatcher hands a pending request to a background runner.
type EvaluationDispatcher interface {
	DispatchEvaluation(ctx context.Context, requestID string) error
}

// DocumentTextExtractor turns raw document bytes into plain text.
type DocumentTextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ImageTranscriber performs OCR on a raster image.
type ImageTranscriber interface {
	TranscribeImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// EmbeddingService is the external embedding capability.
type EmbeddingService interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TextGenerator is a generative model asked for a JSON answer.
type TextGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Chunker splits text into overlapping windows measured in approximate tokens.
type Chunker interface {
	Chunk(text string, maxTokens, overlapTokens int) ([]string, error)
}

// ChunkStore persists embedded chunks and serves filtered similarity search.
type ChunkStore interface {
	// InsertChunks stores the whole batch or nothing and returns the assigned ids in input order.
	InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) ([]string, error)
	Search(ctx context.Context, queryVector []float32, filter domain.MetadataFilter, matchCount int, threshold float64) ([]domain.ScoredChunk, error)
}

// CriterionExtractor derives atomic medical-necessity criteria from policy text.
// An error means the capability was unavailable; malformed output is reported through
// CriteriaExtraction.Parsed.
type CriterionExtractor interface {
	Extract(ctx context.Context, policyText, cptCode, payer string) (domain.CriteriaExtraction, error)
}

// CriterionJudge decides one criterion against clinical text. An error means the
// capability was unavailable; malformed output is folded into the returned Judgment.
type CriterionJudge interface {
	Judge(ctx context.Context, criterion, policyCitation, clinicalText string) (domain.Judgment, error)
}

// EvaluationObserver receives pipeline measurements; implementations must be safe for concurrent use.
type EvaluationObserver interface {
	ObserveEvaluation(outcome domain.Outcome, status domain.RequestStatus, criteria int, seconds float64)
	ObserveJudgment(verdict string)
	ObserveRetrieval(kind string, hits int)
}
