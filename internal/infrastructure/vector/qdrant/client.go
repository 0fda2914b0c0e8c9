package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

// filterKeys are stored as top-level keyword payload fields so MetadataFilter can match on them.
var filterKeys = []string{"type", "payer", "patient_id", "policy_id", "record_type"}

// Client is a ports.ChunkStore over the Qdrant REST API. Similarity is the cosine score.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// InsertChunks upserts the batch in one request with wait=true, so it lands as a unit.
func (c *Client) InsertChunks(ctx context.Context, chunks []domain.DocumentChunk) ([]string, error) {
	if len(chunks) == 0 {
		return []string{}, nil
	}
	if len(chunks[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant insert", fmt.Errorf("chunk 0 has no embedding"))
	}
	if err := c.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(chunks))
	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		payload, err := chunkPayload(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d payload: %w", i, err)
		}
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids = append(ids, id)
		points = append(points, point{ID: id, Vector: chunk.Embedding, Payload: payload})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	if err := c.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert"); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	filter domain.MetadataFilter,
	matchCount int,
	threshold float64,
) ([]domain.ScoredChunk, error) {
	if matchCount <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	reqBody := map[string]any{
		"vector":          queryVector,
		"limit":           matchCount,
		"with_payload":    true,
		"score_threshold": threshold,
	}
	if must := mustConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.do(ctx, http.MethodPost, path, reqBody, &searchResp, "search"); err != nil {
		// Nothing has been ingested yet.
		if isStatus(err, http.StatusNotFound) {
			return []domain.ScoredChunk{}, nil
		}
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		meta, err := domain.UnmarshalMetadata([]byte(getStringPayload(r.Payload, "metadata")))
		if err != nil {
			return nil, fmt.Errorf("decode point %v metadata: %w", r.ID, err)
		}
		out = append(out, domain.ScoredChunk{
			DocumentChunk: domain.DocumentChunk{
				ID:             fmt.Sprintf("%v", r.ID),
				Content:        getStringPayload(r.Payload, "content"),
				Metadata:       meta,
				SourceFilename: getStringPayload(r.Payload, "source_filename"),
				ChunkIndex:     getIntPayload(r.Payload, "chunk_index"),
			},
			Similarity: r.Score,
		})
	}
	return out, nil
}

func chunkPayload(chunk domain.DocumentChunk) (map[string]any, error) {
	raw, err := domain.MarshalMetadata(chunk.Metadata)
	if err != nil {
		return nil, err
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("flatten metadata: %w", err)
	}

	payload := map[string]any{
		"content":         chunk.Content,
		"source_filename": chunk.SourceFilename,
		"chunk_index":     chunk.ChunkIndex,
		"metadata":        string(raw),
	}
	for _, key := range filterKeys {
		if v, ok := flat[key]; ok {
			payload[key] = v
		}
	}
	return payload, nil
}

func mustConditions(filter domain.MetadataFilter) []map[string]any {
	fields := filter.Fields()
	must := make([]map[string]any, 0, len(fields))
	for _, key := range filterKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	return must
}

// EnsureCollection creates the collection and its payload indexes when missing.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	if vectorSize <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant ensure collection", fmt.Errorf("vector size %d", vectorSize))
	}
	return c.ensureCollection(ctx, vectorSize)
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, reqBody, nil, "ensure collection")
	// 409 if the collection already exists (depends on version/config).
	if err != nil && !isConflict(err) {
		return err
	}

	for _, key := range filterKeys {
		index := map[string]any{"field_name": key, "field_schema": "keyword"}
		path := fmt.Sprintf("/collections/%s/index?wait=true", c.collection)
		if err := c.do(ctx, http.MethodPut, path, index, nil, "create payload index"); err != nil && !isConflict(err) {
			return err
		}
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

type statusError struct {
	operation  string
	statusCode int
	status     string
	body       string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.operation, e.status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.operation, e.status, e.body)
}

func isConflict(err error) bool {
	return isStatus(err, http.StatusConflict)
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.statusCode == code
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			operation:  operation,
			statusCode: resp.StatusCode,
			status:     resp.Status,
			body:       strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return 0
}
