package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

type IngestDocumentUseCase struct {
	chunker   ports.Chunker
	embedder  *EmbeddingGateway
	store     ports.ChunkStore
	storage   ports.ObjectStorage
	extractor ports.DocumentTextExtractor
}

func NewIngestDocumentUseCase(
	chunker ports.Chunker,
	embedder *EmbeddingGateway,
	store ports.ChunkStore,
	storage ports.ObjectStorage,
	extractor ports.DocumentTextExtractor,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		storage:   storage,
		extractor: extractor,
	}
}

// IngestDocument chunks, embeds and stores a document. The store receives the whole batch
// in one call, so a failure leaves no partial chunks behind.
func (uc *IngestDocumentUseCase) IngestDocument(
	ctx context.Context,
	rawText, sourceFilename string,
	cfg domain.ChunkConfig,
	metadata domain.ChunkMetadata,
) ([]string, error) {
	sourceFilename = strings.TrimSpace(sourceFilename)
	if sourceFilename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("source filename is required"))
	}
	if metadata == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest document", errors.New("metadata is required"))
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxTokens <= 0 {
		cfg = domain.DefaultChunkConfig(metadata)
	}

	texts, err := uc.chunker.Chunk(rawText, cfg.MaxTokens, cfg.OverlapTokens)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", err)
	}
	if len(texts) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	vectors, err := uc.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	meta := stampSourceFilename(metadata, sourceFilename)
	chunks := make([]domain.DocumentChunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, domain.DocumentChunk{
			Content:        text,
			Embedding:      vectors[i],
			Metadata:       meta,
			SourceFilename: sourceFilename,
			ChunkIndex:     i,
		})
	}

	ids, err := uc.store.InsertChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	slog.Info("document_ingested",
		"source_filename", sourceFilename,
		"metadata_type", string(metadata.Type()),
		"chunks", len(ids),
	)
	return ids, nil
}

// UploadDocument extracts the text of an uploaded file, keeps the original in object storage
// and ingests the text with the chunk window for its metadata variant.
func (uc *IngestDocumentUseCase) UploadDocument(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
	metadata domain.ChunkMetadata,
) (*ports.UploadResult, error) {
	if metadata == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("metadata is required"))
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("empty file"))
	}

	text, err := uc.extractor.Extract(ctx, raw, mimeType)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}

	storageKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	ids, err := uc.IngestDocument(ctx, text, filename, domain.DefaultChunkConfig(metadata), metadata)
	if err != nil {
		// The original is only kept for documents whose chunks were stored.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
		defer cancel()
		if delErr := uc.storage.Delete(cleanupCtx, storageKey); delErr != nil {
			slog.Warn("upload_cleanup_failed", "storage_key", storageKey, "error", delErr.Error())
		}
		return nil, err
	}
	return &ports.UploadResult{StorageKey: storageKey, ChunkIDs: ids}, nil
}

func stampSourceFilename(meta domain.ChunkMetadata, filename string) domain.ChunkMetadata {
	clinical, ok := meta.(*domain.ClinicalMetadata)
	if !ok || clinical.SourceFilename != "" {
		return meta
	}
	stamped := *clinical
	stamped.SourceFilename = filename
	return &stamped
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
