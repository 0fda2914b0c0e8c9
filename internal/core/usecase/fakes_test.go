package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

type embedderFake struct {
	calls   atomic.Int32
	texts   [][]string
	mu      sync.Mutex
	err     error
	vectors func(text string) []float32
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.texts = append(f.texts, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if f.vectors != nil {
			out = append(out, f.vectors(t))
			continue
		}
		out = append(out, []float32{0.1, 0.2, 0.3})
	}
	return out, nil
}

type chunkStoreFake struct {
	mu       sync.Mutex
	inserted []domain.DocumentChunk
	filters  []domain.MetadataFilter
	err      error
	search   func(vec []float32, filter domain.MetadataFilter) ([]domain.ScoredChunk, error)
}

func (f *chunkStoreFake) InsertChunks(_ context.Context, chunks []domain.DocumentChunk) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		id := fmt.Sprintf("chunk-%d", len(f.inserted))
		c.ID = id
		f.inserted = append(f.inserted, c)
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *chunkStoreFake) Search(_ context.Context, vec []float32, filter domain.MetadataFilter, _ int, _ float64) ([]domain.ScoredChunk, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.search == nil {
		return nil, nil
	}
	return f.search(vec, filter)
}

type extractorFake struct {
	calls      atomic.Int32
	policyText string
	result     domain.CriteriaExtraction
	err        error
}

func (f *extractorFake) Extract(_ context.Context, policyText, _, _ string) (domain.CriteriaExtraction, error) {
	f.calls.Add(1)
	f.policyText = policyText
	return f.result, f.err
}

type judgeSpy struct {
	calls atomic.Int32
	mu    sync.Mutex
	texts map[string]string
	fn    func(criterion string) (domain.Judgment, error)
}

func (s *judgeSpy) Judge(_ context.Context, criterion, _ string, clinicalText string) (domain.Judgment, error) {
	s.calls.Add(1)
	s.mu.Lock()
	if s.texts == nil {
		s.texts = map[string]string{}
	}
	s.texts[criterion] = clinicalText
	s.mu.Unlock()
	if s.fn == nil {
		return domain.Judgment{Met: true, Confidence: 1, Reasoning: "ok"}, nil
	}
	return s.fn(criterion)
}

type evaluationRepoFake struct {
	mu             sync.Mutex
	requests       map[string]*domain.PriorAuthRequest
	determinations map[string]*domain.Determination
	createErr      error
	completeErr    error
	claims         []string
}

func newEvaluationRepoFake() *evaluationRepoFake {
	return &evaluationRepoFake{
		requests:       map[string]*domain.PriorAuthRequest{},
		determinations: map[string]*domain.Determination{},
	}
}

func (f *evaluationRepoFake) seed(req domain.PriorAuthRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[req.ID] = &req
}

func (f *evaluationRepoFake) CreateRequest(_ context.Context, req *domain.PriorAuthRequest) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copyReq := *req
	f.requests[req.ID] = &copyReq
	return nil
}

func (f *evaluationRepoFake) GetRequest(_ context.Context, id string) (*domain.PriorAuthRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	copyReq := *req
	return &copyReq, nil
}

func (f *evaluationRepoFake) CompleteRequest(_ context.Context, det *domain.Determination) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[det.RequestID]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if req.Status != domain.RequestPending {
		return domain.ErrInvalidTransition
	}
	req.Status = domain.RequestComplete
	copyDet := *det
	f.determinations[det.RequestID] = &copyDet
	return nil
}

func (f *evaluationRepoFake) FailRequest(_ context.Context, id, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if req.Status != domain.RequestPending {
		return domain.ErrInvalidTransition
	}
	req.Status = domain.RequestError
	req.ErrorMessage = errMessage
	return nil
}

func (f *evaluationRepoFake) GetDetermination(_ context.Context, requestID string) (*domain.Determination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	det, ok := f.determinations[requestID]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return det, nil
}

func (f *evaluationRepoFake) ClaimStalePending(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, req := range f.requests {
		if len(ids) == limit {
			break
		}
		if req.Status == domain.RequestPending && req.UpdatedAt.Before(cutoff) {
			req.UpdatedAt = cutoff
			ids = append(ids, id)
			f.claims = append(f.claims, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *evaluationRepoFake) claimed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.claims {
		if c == id {
			return true
		}
	}
	return false
}

func (f *evaluationRepoFake) status(id string) domain.RequestStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id].Status
}

func (f *evaluationRepoFake) determinationCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.determinations[id]; ok {
		return 1
	}
	return 0
}

type dispatcherFake struct {
	ids []string
	err error
}

func (f *dispatcherFake) DispatchEvaluation(_ context.Context, requestID string) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, requestID)
	return nil
}

type observerSpy struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	statuses []domain.RequestStatus
	verdicts []string
}

func (s *observerSpy) ObserveEvaluation(outcome domain.Outcome, status domain.RequestStatus, _ int, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	s.statuses = append(s.statuses, status)
}

func (s *observerSpy) ObserveJudgment(verdict string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, verdict)
}

func (s *observerSpy) ObserveRetrieval(string, int) {}

type chunkerFake struct {
	chunks []string
	err    error
	max    int
}

func (f *chunkerFake) Chunk(_ string, maxTokens, _ int) ([]string, error) {
	f.max = maxTokens
	return f.chunks, f.err
}

type storageFake struct {
	savedKey   string
	savedBody  string
	deletedKey string
	saves      int
	err        error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.saves++
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deletedKey = key
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

type textExtractorFake struct {
	text string
}

func (f *textExtractorFake) Extract(_ context.Context, data []byte, mimeType string) (string, error) {
	if mimeType != "text/plain" {
		return "", domain.WrapError(domain.ErrUnsupportedMimeType, "extract", errors.New(mimeType))
	}
	if f.text != "" {
		return f.text, nil
	}
	return string(data), nil
}

func scored(id, filename, content string, similarity float64, meta domain.ChunkMetadata) domain.ScoredChunk {
	return domain.ScoredChunk{
		DocumentChunk: domain.DocumentChunk{
			ID:             id,
			Content:        content,
			Metadata:       meta,
			SourceFilename: filename,
		},
		Similarity: similarity,
	}
}

func strPtr(s string) *string { return &s }
