package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

// APIError is a non-2xx answer from the evaluation API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the prior-auth HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) TriggerEvaluation(ctx context.Context, patientID, cptCode, payer string) (string, error) {
	var out struct {
		RequestID string `json:"request_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/evaluations", map[string]string{
		"patient_id": patientID,
		"cpt_code":   cptCode,
		"payer":      payer,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.RequestID, nil
}

func (c *Client) GetEvaluation(ctx context.Context, requestID string) (*domain.EvaluationView, error) {
	var view domain.EvaluationView
	if err := c.doJSON(ctx, http.MethodGet, "/v1/evaluations/"+url.PathEscape(requestID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) IngestText(ctx context.Context, text, sourceFilename string, meta domain.ChunkMetadata) ([]string, error) {
	rawMeta, err := domain.MarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	var out struct {
		ChunkIDs []string `json:"chunk_ids"`
	}
	err = c.doJSON(ctx, http.MethodPost, "/v1/documents/text", map[string]any{
		"text":            text,
		"source_filename": sourceFilename,
		"metadata":        json.RawMessage(rawMeta),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.ChunkIDs, nil
}

func (c *Client) UploadDocument(ctx context.Context, filename, mimeType string, body io.Reader, meta domain.ChunkMetadata) (*ports.UploadResult, error) {
	rawMeta, err := domain.MarshalMetadata(meta)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("metadata", string(rawMeta)); err != nil {
		return nil, fmt.Errorf("write metadata field: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("copy file: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/documents", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out ports.UploadResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var body struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			message = body.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
