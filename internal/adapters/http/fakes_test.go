package httpadapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

type evaluationServiceFake struct {
	triggerErr error
	views      map[string]*domain.EvaluationView
	getErr     error

	gotPatient, gotCPT, gotPayer string
}

func (f *evaluationServiceFake) TriggerEvaluation(_ context.Context, patientID, cptCode, payer string) (string, error) {
	f.gotPatient, f.gotCPT, f.gotPayer = patientID, cptCode, payer
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	return "req-1", nil
}

func (f *evaluationServiceFake) GetEvaluation(_ context.Context, requestID string) (*domain.EvaluationView, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	view, ok := f.views[requestID]
	if !ok {
		return nil, domain.WrapError(domain.ErrRequestNotFound, "get evaluation", io.EOF)
	}
	return view, nil
}

type ingestorFake struct {
	err      error
	text     string
	filename string
	cfg      domain.ChunkConfig
	meta     domain.ChunkMetadata
}

func (f *ingestorFake) IngestDocument(_ context.Context, rawText, sourceFilename string, cfg domain.ChunkConfig, meta domain.ChunkMetadata) ([]string, error) {
	f.text, f.filename, f.cfg, f.meta = rawText, sourceFilename, cfg, meta
	if f.err != nil {
		return nil, f.err
	}
	return []string{"c1", "c2"}, nil
}

type uploaderFake struct {
	err      error
	filename string
	mimeType string
	body     string
	meta     domain.ChunkMetadata
}

func (f *uploaderFake) UploadDocument(_ context.Context, filename, mimeType string, body io.Reader, meta domain.ChunkMetadata) (*ports.UploadResult, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.filename, f.mimeType, f.body, f.meta = filename, mimeType, string(raw), meta
	if f.err != nil {
		return nil, f.err
	}
	return &ports.UploadResult{StorageKey: "k_" + filename, ChunkIDs: []string{"c1"}}, nil
}

type testDeps struct {
	evaluations *evaluationServiceFake
	ingestor    *ingestorFake
	uploader    *uploaderFake
}

const (
	pendingEvaluationID  = "0b8a3f52-6c1d-4e0f-9a57-2f3c1d7e8a10"
	completeEvaluationID = "5d2e9c41-8f7a-4b36-a1c0-93e6b4f2d7c8"
	unknownEvaluationID  = "9f1c6a2e-0000-4000-8000-000000000000"
)

func newTestHandler(cfg config.Config) (http.Handler, *testDeps) {
	deps := &testDeps{
		evaluations: &evaluationServiceFake{views: map[string]*domain.EvaluationView{
			pendingEvaluationID: {RequestID: pendingEvaluationID, Status: domain.RequestPending},
			completeEvaluationID: {
				RequestID: completeEvaluationID,
				Status:    domain.RequestComplete,
				Determination: &domain.Determination{
					ID:               "det-1",
					RequestID:        completeEvaluationID,
					ProbabilityScore: 1,
					Recommendation:   domain.LikelyApproved,
					CriteriaResults:  []domain.CriterionResult{{Criterion: "HbA1c < 8.0%", Met: true, Confidence: 0.95}},
					MissingInfo:      []string{},
					CreatedAt:        time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
				},
			},
		}},
		ingestor: &ingestorFake{},
		uploader: &uploaderFake{},
	}
	return NewRouter(cfg, deps.evaluations, deps.ingestor, deps.uploader).Handler(), deps
}
