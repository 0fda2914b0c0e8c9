package ports

import (
	"context"
	"io"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

// EvaluationService is the inbound contract for triggering and polling evaluations.
type EvaluationService interface {
	TriggerEvaluation(ctx context.Context, patientID, cptCode, payer string) (string, error)
	GetEvaluation(ctx context.Context, requestID string) (*domain.EvaluationView, error)
}

// EvaluationRunner executes the pipeline for an already created request.
type EvaluationRunner interface {
	RunEvaluation(ctx context.Context, requestID string) error
}

// DocumentIngestor is the inbound contract for the chunk → embed → store write path.
type DocumentIngestor interface {
	IngestDocument(ctx context.Context, rawText, sourceFilename string, cfg domain.ChunkConfig, metadata domain.ChunkMetadata) ([]string, error)
}

// DocumentUploader stores an original file, extracts its text and ingests it.
type DocumentUploader interface {
	UploadDocument(ctx context.Context, filename, mimeType string, body io.Reader, metadata domain.ChunkMetadata) (*UploadResult, error)
}

type UploadResult struct {
	StorageKey string   `json:"storage_key"`
	ChunkIDs   []string `json:"chunk_ids"`
}
