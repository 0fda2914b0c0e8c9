package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

const schemaLockID int64 = 7312504417

const insertChunkSQL = `
INSERT INTO document_chunks (id, content, embedding, metadata, source_filename, chunk_index)
VALUES ($1, $2, $3, $4, $5, $6)
`

// searchChunksSQL ranks by cosine distance; similarity is 1 - distance.
const searchChunksSQL = `
SELECT id::text, content, metadata, source_filename, chunk_index, 1 - (embedding <=> $1) AS similarity
FROM document_chunks
WHERE metadata @> $2::jsonb
  AND 1 - (embedding <=> $1) >= $3
ORDER BY embedding <=> $1
LIMIT $4
`

// Store is a ports.ChunkStore on PostgreSQL with the pgvector extension.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// Open installs the vector extension, then builds a pool whose connections know the vector type.
func Open(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	if err := conn.Close(ctx); err != nil {
		return nil, fmt.Errorf("close bootstrap connection: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, dimensions: dimensions}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the chunk table and its indexes under an advisory lock so that
// concurrently starting processes do not race on DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.dimensions <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "ensure chunk schema", errors.New("embedding dimensions must be positive"))
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, schemaLockID); err != nil {
			slog.Warn("schema_unlock_failed", "error", err)
		}
	}()

	for _, stmt := range schemaStatements(s.dimensions) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply chunk schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(dimensions int) []string {
	return []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS document_chunks (
	id UUID PRIMARY KEY,
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	metadata JSONB NOT NULL,
	source_filename TEXT NOT NULL,
	chunk_index INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, dimensions),
		`CREATE INDEX IF NOT EXISTS document_chunks_metadata_idx ON document_chunks USING GIN (metadata jsonb_path_ops)`,
		`CREATE INDEX IF NOT EXISTS document_chunks_source_idx ON document_chunks (source_filename, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
}

// InsertChunks writes the batch in one transaction; any failure rolls back every row.
func (s *Store) InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) ([]string, error) {
	if len(chunks) == 0 {
		return []string{}, nil
	}

	ids := make([]string, 0, len(chunks))
	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		if s.dimensions > 0 && len(chunk.Embedding) != s.dimensions {
			return nil, domain.WrapError(domain.ErrInvalidInput, "insert chunks",
				fmt.Errorf("chunk %d has %d dimensions, table expects %d", i, len(chunk.Embedding), s.dimensions))
		}
		meta, err := domain.MarshalMetadata(chunk.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chunk %d metadata: %w", i, err)
		}
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids = append(ids, id)
		batch.Queue(insertChunkSQL, id, chunk.Content, pgvec.NewVector(chunk.Embedding), meta, chunk.SourceFilename, chunk.ChunkIndex)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin chunk insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	results := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("close chunk batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit chunk insert: %w", err)
	}
	return ids, nil
}

func (s *Store) Search(
	ctx context.Context,
	queryVector []float32,
	filter domain.MetadataFilter,
	matchCount int,
	threshold float64,
) ([]domain.ScoredChunk, error) {
	if matchCount <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	containment, err := filterJSON(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, searchChunksSQL, pgvec.NewVector(queryVector), containment, threshold, matchCount)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredChunk, 0, matchCount)
	for rows.Next() {
		var (
			hit     domain.ScoredChunk
			rawMeta []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Content, &rawMeta, &hit.SourceFilename, &hit.ChunkIndex, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		meta, err := domain.UnmarshalMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", hit.ID, err)
		}
		hit.Metadata = meta
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// filterJSON renders the filter as a JSONB containment document; no predicates is "{}".
func filterJSON(filter domain.MetadataFilter) (string, error) {
	raw, err := json.Marshal(filter.Fields())
	if err != nil {
		return "", fmt.Errorf("marshal metadata filter: %w", err)
	}
	return string(raw), nil
}
