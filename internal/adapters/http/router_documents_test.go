package httpadapter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

func multipartUpload(t *testing.T, filename, contentType, content, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if metadata != "" {
		if err := writer.WriteField("metadata", metadata); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadDocumentSuccess(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})

	body, contentType := multipartUpload(t, "labs.txt", "application/octet-stream", "HbA1c 6.8%",
		`{"type":"clinical","patient_id":"P-001","record_type":"lab","date":"2026-03-01"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if deps.uploader.mimeType != "text/plain" {
		t.Fatalf("expected mime type from extension, got %q", deps.uploader.mimeType)
	}
	meta, ok := deps.uploader.meta.(*domain.ClinicalMetadata)
	if !ok || meta.PatientID != "P-001" {
		t.Fatalf("unexpected metadata %#v", deps.uploader.meta)
	}
	if deps.uploader.body != "HbA1c 6.8%" {
		t.Fatalf("unexpected body %q", deps.uploader.body)
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	handler, _ := newTestHandler(config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadDocumentRejectsUnknownMetadataType(t *testing.T) {
	handler, _ := newTestHandler(config.Config{})

	body, contentType := multipartUpload(t, "labs.txt", "text/plain", "x", `{"type":"billing"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
	}
}

func TestUploadDocumentUnsupportedMimeType(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})
	deps.uploader.err = domain.ErrUnsupportedMimeType

	body, contentType := multipartUpload(t, "notes.doc", "application/msword", "x",
		`{"type":"clinical","patient_id":"P-001","record_type":"note","date":""}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.Code)
	}
}

func TestUploadDocumentTooLarge(t *testing.T) {
	handler, _ := newTestHandler(config.Config{APIMaxUploadBytes: 64})

	body, contentType := multipartUpload(t, "big.txt", "text/plain", strings.Repeat("a", 1024),
		`{"type":"clinical","patient_id":"P-001","record_type":"note","date":""}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestIngestTextPassesMetadataAndChunkConfig(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})

	res := postJSON(handler, "/v1/documents/text", `{
		"text": "Polysomnography is medically necessary when AHI >= 15.",
		"source_filename": "aetna-cpb-0004.txt",
		"metadata": {"type":"policy","payer":"Aetna","policy_id":"CPB-0004","cpt_codes":["95810"],"section_header":"Criteria"},
		"chunk_config": {"max_tokens": 128, "overlap_tokens": 16}
	}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var body ingestTextResponse
	_ = json.NewDecoder(res.Body).Decode(&body)
	if len(body.ChunkIDs) != 2 {
		t.Fatalf("unexpected chunk ids %v", body.ChunkIDs)
	}
	meta, ok := deps.ingestor.meta.(*domain.PolicyMetadata)
	if !ok || meta.PolicyID != "CPB-0004" || len(meta.CPTCodes) != 1 {
		t.Fatalf("unexpected metadata %#v", deps.ingestor.meta)
	}
	if deps.ingestor.cfg.MaxTokens != 128 || deps.ingestor.cfg.OverlapTokens != 16 {
		t.Fatalf("unexpected chunk config %+v", deps.ingestor.cfg)
	}
}

func TestIngestTextRejectsMissingMetadataType(t *testing.T) {
	handler, _ := newTestHandler(config.Config{})
	res := postJSON(handler, "/v1/documents/text", `{"text":"x","source_filename":"a.txt","metadata":{"payer":"Aetna"}}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
