package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
	"github.com/kirillkom/prior-auth-rag/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg         config.Config
	evaluations ports.EvaluationService
	ingestor    ports.DocumentIngestor
	uploader    ports.DocumentUploader
	metrics     *metrics.HTTPServerMetrics
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	evaluations ports.EvaluationService,
	ingestor ports.DocumentIngestor,
	uploader ports.DocumentUploader,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:         cfg,
		evaluations: evaluations,
		ingestor:    ingestor,
		uploader:    uploader,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handler assembles the middleware chain: correlation id and access log outermost, then
// metrics, traffic control, and finally schema validation in front of the mux.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	route(mux, "GET /healthz", rt.healthz)
	route(mux, "POST /v1/evaluations", rt.triggerEvaluation)
	route(mux, "GET /v1/evaluations/{request_id}", rt.getEvaluation)
	route(mux, "POST /v1/documents", rt.uploadDocument)
	route(mux, "POST /v1/documents/text", rt.ingestText)
	if rt.metrics != nil {
		route(mux, "GET /metrics", rt.metrics.Handler().ServeHTTP)
	}

	var handler http.Handler = mux
	handler = openAPIValidationMiddleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.onRejected)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onRejected)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return correlationIDMiddleware(handler)
}

func (rt *Router) onRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerEvaluationRequest struct {
	PatientID string `json:"patient_id"`
	CPTCode   string `json:"cpt_code"`
	Payer     string `json:"payer"`
}

type triggerEvaluationResponse struct {
	RequestID string               `json:"request_id"`
	Status    domain.RequestStatus `json:"status"`
}

func (rt *Router) triggerEvaluation(w http.ResponseWriter, r *http.Request) {
	var req triggerEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid json"))
		return
	}

	id, err := rt.evaluations.TriggerEvaluation(r.Context(), req.PatientID, req.CPTCode, req.Payer)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	annotateEvaluation(r, id)
	w.Header().Set("Location", "/v1/evaluations/"+id)
	writeJSON(w, http.StatusAccepted, triggerEvaluationResponse{RequestID: id, Status: domain.RequestPending})
}

func (rt *Router) getEvaluation(w http.ResponseWriter, r *http.Request) {
	var requestID uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "request_id", r.PathValue("request_id"), &requestID, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request_id: %w", err))
		return
	}

	annotateEvaluation(r, requestID.String())
	view, err := rt.evaluations.GetEvaluation(r.Context(), requestID.String())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type ingestTextRequest struct {
	Text           string              `json:"text"`
	SourceFilename string              `json:"source_filename"`
	Metadata       json.RawMessage     `json:"metadata"`
	ChunkConfig    *domain.ChunkConfig `json:"chunk_config,omitempty"`
}

type ingestTextResponse struct {
	ChunkIDs []string `json:"chunk_ids"`
}

func (rt *Router) ingestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	meta, err := domain.UnmarshalMetadata(req.Metadata)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var cfg domain.ChunkConfig
	if req.ChunkConfig != nil {
		cfg = *req.ChunkConfig
	}

	ids, err := rt.ingestor.IngestDocument(r.Context(), req.Text, req.SourceFilename, cfg, meta)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestTextResponse{ChunkIDs: ids})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	maxBytes := rt.cfg.APIMaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxBytes))
			return
		}
		writeError(w, r, http.StatusBadRequest, errors.New("multipart field 'file' is required"))
		return
	}
	defer file.Close()

	meta, err := domain.UnmarshalMetadata([]byte(r.FormValue("metadata")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	result, err := rt.uploader.UploadDocument(r.Context(), fileHeader.Filename, uploadMimeType(fileHeader), file, meta)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// uploadMimeType prefers the part's declared type; generic octet-stream falls back to the
// file extension so that curl uploads of .pdf or .txt still route correctly.
func uploadMimeType(header *multipart.FileHeader) string {
	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mimeTypeByFilename(header.Filename); byExt != "" {
		return byExt
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_error", "correlation_id", correlationIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError hides internal error text behind a generic message for 5xx responses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_error", "correlation_id", correlationIDFromContext(r.Context()), "error", err)
		message := "internal error"
		if status == http.StatusServiceUnavailable {
			message = "upstream temporarily unavailable"
		}
		writeJSON(w, status, map[string]string{"error": message})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
