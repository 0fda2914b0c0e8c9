package httpadapter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// correlationIDHeader is distinct from evaluation request ids, which are domain identifiers.
// X-Request-Id is still accepted from callers that only set that header.
const (
	correlationIDHeader       = "X-Correlation-Id"
	legacyCorrelationIDHeader = "X-Request-Id"
)

type correlationIDKey struct{}

type traceKey struct{}

// requestTrace collects what the handlers learn about a request for the access log.
type requestTrace struct {
	route        string
	evaluationID string
}

func correlationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationIDHeader))
		if id == "" {
			id = strings.TrimSpace(r.Header.Get(legacyCorrelationIDHeader))
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, id)))
	})
}

// route registers fn so that the matched pattern reaches the access log even though
// middleware below it may replace the request.
func route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if trace, ok := r.Context().Value(traceKey{}).(*requestTrace); ok {
			trace.route = r.Pattern
		}
		fn(w, r)
	})
}

// annotateEvaluation attaches the evaluation a request created or read to its access log line.
func annotateEvaluation(r *http.Request, evaluationID string) {
	if trace, ok := r.Context().Value(traceKey{}).(*requestTrace); ok {
		trace.evaluationID = evaluationID
	}
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		trace := &requestTrace{}
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r.WithContext(context.WithValue(r.Context(), traceKey{}, trace)))

		remoteAddr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteAddr = host
		}
		routePattern := trace.route
		if routePattern == "" {
			routePattern = "unmatched"
		}

		attrs := []any{
			"correlation_id", correlationIDFromContext(r.Context()),
			"method", r.Method,
			"route", routePattern,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", remoteAddr,
		}
		if trace.evaluationID != "" {
			attrs = append(attrs, "request_id", trace.evaluationID)
		}

		switch {
		case recorder.statusCode >= 500:
			slog.Error("http_request", attrs...)
		case recorder.statusCode >= 400:
			slog.Warn("http_request", attrs...)
		default:
			slog.Info("http_request", attrs...)
		}
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *responseRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}
