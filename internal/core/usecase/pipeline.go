package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

const (
	noClinicalEvidenceConfidence = 0.9
	noClinicalEvidenceReasoning  = "No relevant clinical documentation found in the patient record for this criterion."

	verdictMet        = "met"
	verdictUnmet      = "unmet"
	verdictNoEvidence = "no_evidence"
	verdictFailed     = "failed"
)

// DefaultEvaluationLimits are the pipeline bounds used when configuration leaves them unset.
var DefaultEvaluationLimits = domain.EvaluationLimits{
	Timeout:                 5 * time.Minute,
	CallTimeout:             90 * time.Second,
	MaxParallelJudgments:    8,
	JudgmentFailurePolicy:   domain.FailureIsolate,
	PolicyMatchCount:        PolicyMatchCount,
	PolicySimilarityFloor:   PolicySimilarityFloor,
	ClinicalMatchCount:      ClinicalMatchCount,
	ClinicalSimilarityFloor: ClinicalSimilarityFloor,
}

// EvaluationPipeline runs the two-stage evaluation for a pending request.
type EvaluationPipeline struct {
	repo      ports.EvaluationRepository
	retriever *Retriever
	extractor ports.CriterionExtractor
	judge     ports.CriterionJudge
	observer  ports.EvaluationObserver
	limits    domain.EvaluationLimits
	now       func() time.Time
}

func NewEvaluationPipeline(
	repo ports.EvaluationRepository,
	retriever *Retriever,
	extractor ports.CriterionExtractor,
	judge ports.CriterionJudge,
	observer ports.EvaluationObserver,
	limits domain.EvaluationLimits,
) *EvaluationPipeline {
	if observer == nil {
		observer = noopObserver{}
	}
	return &EvaluationPipeline{
		repo:      repo,
		retriever: retriever,
		extractor: extractor,
		judge:     judge,
		observer:  observer,
		limits:    withDefaultLimits(limits),
		now:       time.Now,
	}
}

// RunEvaluation drives a request to a terminal state. Every failure, panics included, is
// converted into the error status by the deferred boundary; a request that is already
// terminal is left untouched.
func (p *EvaluationPipeline) RunEvaluation(ctx context.Context, requestID string) (err error) {
	started := p.now()

	// Loaded on a detached context so that an already cancelled run still reaches the
	// error boundary below instead of leaving the request pending.
	loadCtx, cancelLoad := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	req, err := p.repo.GetRequest(loadCtx, requestID)
	cancelLoad()
	if err != nil {
		return fmt.Errorf("load evaluation request: %w", err)
	}
	if req.Status.Terminal() {
		slog.Info("evaluation_skipped", "request_id", req.ID, "status", string(req.Status))
		return nil
	}

	var (
		outcome  domain.Outcome
		criteria int
	)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("evaluation_panic", "request_id", req.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("evaluation panicked: %v", r)
		}

		status := domain.RequestComplete
		if err != nil {
			status = domain.RequestError
			if failErr := markFailed(ctx, p.repo, req.ID, err); failErr != nil {
				err = fmt.Errorf("%w; mark failed status: %v", err, failErr)
			}
			slog.Error("evaluation_failed",
				"request_id", req.ID,
				"error", err.Error(),
				"duration_ms", time.Since(started).Milliseconds(),
			)
		}
		p.observer.ObserveEvaluation(outcome, status, criteria, time.Since(started).Seconds())
	}()

	slog.Info("evaluation_started",
		"request_id", req.ID,
		"patient_id", req.PatientID,
		"cpt_code", req.CPTCode,
		"payer", req.Payer,
	)

	runCtx, cancel := context.WithTimeout(ctx, p.limits.Timeout)
	defer cancel()

	det, err := p.evaluate(runCtx, req)
	if err != nil {
		return err
	}

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancelWrite()
	if err = p.repo.CompleteRequest(writeCtx, det); err != nil {
		return fmt.Errorf("store determination: %w", err)
	}

	outcome = det.Outcome
	criteria = len(det.CriteriaResults)
	slog.Info("evaluation_completed",
		"request_id", req.ID,
		"outcome", string(det.Outcome),
		"criteria", criteria,
		"probability_score", det.ProbabilityScore,
		"recommendation", string(det.Recommendation),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (p *EvaluationPipeline) evaluate(ctx context.Context, req *domain.PriorAuthRequest) (*domain.Determination, error) {
	policyHits, err := p.search(ctx, PolicyQuery(req.CPTCode, req.Payer),
		domain.MetadataFilter{Type: domain.MetadataPolicy, Payer: req.Payer},
		p.limits.PolicyMatchCount, p.limits.PolicySimilarityFloor)
	if err != nil {
		return nil, fmt.Errorf("retrieve policy chunks: %w", err)
	}
	p.observer.ObserveRetrieval(string(domain.MetadataPolicy), len(policyHits))

	if len(policyHits) == 0 {
		return p.shortCircuit(req, domain.OutcomeNoPolicyFound,
			fmt.Sprintf("No policy documents found for CPT %s under payer %s", req.CPTCode, req.Payer)), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.limits.CallTimeout)
	extraction, err := p.extractor.Extract(callCtx, labelPolicyChunks(policyHits), req.CPTCode, req.Payer)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("extract criteria: %w", err)
	}

	noCriteria := fmt.Sprintf("No evaluable criteria could be extracted from the policy documents for CPT %s under payer %s", req.CPTCode, req.Payer)
	if !extraction.Parsed {
		slog.Warn("criteria_unparseable", "request_id", req.ID, "parse_error", extraction.ParseError)
		return p.shortCircuit(req, domain.OutcomeCriteriaUnparseable, noCriteria), nil
	}
	if len(extraction.Criteria) == 0 {
		slog.Info("no_criteria_extracted", "request_id", req.ID)
		return p.shortCircuit(req, domain.OutcomeNoCriteriaExtracted, noCriteria), nil
	}

	results, err := p.judgeAll(ctx, req, extraction.Criteria)
	if err != nil {
		return nil, err
	}

	score, recommendation, missing := Aggregate(results)
	return &domain.Determination{
		ID:               uuid.NewString(),
		RequestID:        req.ID,
		ProbabilityScore: score,
		Recommendation:   recommendation,
		CriteriaResults:  results,
		MissingInfo:      missing,
		Outcome:          domain.OutcomeEvaluated,
		CreatedAt:        p.now().UTC(),
	}, nil
}

// judgeAll evaluates every criterion concurrently and returns results in extraction order.
func (p *EvaluationPipeline) judgeAll(ctx context.Context, req *domain.PriorAuthRequest, criteria []domain.PolicyCriterion) ([]domain.CriterionResult, error) {
	results := make([]domain.CriterionResult, len(criteria))
	failures := make([]error, len(criteria))
	abort := p.limits.JudgmentFailurePolicy == domain.FailureAbort

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limits.MaxParallelJudgments)
	for i, criterion := range criteria {
		g.Go(func() error {
			result, err := p.safeJudgeCriterion(gctx, req, i, criterion)
			if err == nil {
				results[i] = result
				return nil
			}
			if abort {
				return fmt.Errorf("judge criterion %d: %w", i, err)
			}
			slog.Warn("judgment_failed", "request_id", req.ID, "criterion_index", i, "error", err.Error())
			p.observer.ObserveJudgment(verdictFailed)
			failures[i] = err
			results[i] = failedJudgmentResult(criterion, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, f := range failures {
		if f != nil {
			failed++
		}
	}
	if failed == len(criteria) {
		return nil, fmt.Errorf("all %d criterion judgments failed: %w", failed, errors.Join(failures...))
	}
	return results, nil
}

// safeJudgeCriterion turns a panicking judge into an ordinary error so the
// failure policy applies to it like any other judgment failure.
func (p *EvaluationPipeline) safeJudgeCriterion(ctx context.Context, req *domain.PriorAuthRequest, i int, criterion domain.PolicyCriterion) (result domain.CriterionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("judgment_panic", "request_id", req.ID, "criterion_index", i, "panic", fmt.Sprint(r))
			err = fmt.Errorf("judge panicked: %v", r)
		}
	}()

	return p.judgeCriterion(ctx, req, criterion)
}

func (p *EvaluationPipeline) judgeCriterion(ctx context.Context, req *domain.PriorAuthRequest, criterion domain.PolicyCriterion) (domain.CriterionResult, error) {
	hits, err := p.search(ctx, criterion.Criterion,
		domain.MetadataFilter{Type: domain.MetadataClinical, PatientID: req.PatientID},
		p.limits.ClinicalMatchCount, p.limits.ClinicalSimilarityFloor)
	if err != nil {
		return domain.CriterionResult{}, fmt.Errorf("retrieve clinical chunks: %w", err)
	}
	p.observer.ObserveRetrieval(string(domain.MetadataClinical), len(hits))

	if len(hits) == 0 {
		p.observer.ObserveJudgment(verdictNoEvidence)
		return domain.CriterionResult{
			Criterion:      criterion.Criterion,
			Met:            false,
			Confidence:     noClinicalEvidenceConfidence,
			PolicyCitation: criterion.PolicyCitation,
			Reasoning:      noClinicalEvidenceReasoning,
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.limits.CallTimeout)
	defer cancel()
	judgment, err := p.judge.Judge(callCtx, criterion.Criterion, criterion.PolicyCitation, labelClinicalChunks(hits))
	if err != nil {
		return domain.CriterionResult{}, fmt.Errorf("judge criterion: %w", err)
	}

	verdict := verdictUnmet
	if judgment.Met {
		verdict = verdictMet
	}
	p.observer.ObserveJudgment(verdict)

	return domain.CriterionResult{
		Criterion:        criterion.Criterion,
		Met:              judgment.Met,
		Confidence:       judgment.Confidence,
		EvidenceQuote:    judgment.EvidenceQuote,
		ClinicalCitation: judgment.ClinicalCitation,
		PolicyCitation:   criterion.PolicyCitation,
		Reasoning:        judgment.Reasoning,
	}, nil
}

func (p *EvaluationPipeline) search(ctx context.Context, query string, filter domain.MetadataFilter, matchCount int, threshold float64) ([]domain.ScoredChunk, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.limits.CallTimeout)
	defer cancel()
	return p.retriever.Search(callCtx, query, filter, matchCount, threshold)
}

func (p *EvaluationPipeline) shortCircuit(req *domain.PriorAuthRequest, outcome domain.Outcome, reason string) *domain.Determination {
	return &domain.Determination{
		ID:               uuid.NewString(),
		RequestID:        req.ID,
		ProbabilityScore: 0,
		Recommendation:   domain.InsufficientInfo,
		CriteriaResults:  []domain.CriterionResult{},
		MissingInfo:      []string{reason},
		Outcome:          outcome,
		CreatedAt:        p.now().UTC(),
	}
}

// PolicyQuery is the retrieval query used to find a payer's criteria for a procedure.
func PolicyQuery(cptCode, payer string) string {
	return fmt.Sprintf("CPT %s %s prior authorization medical necessity criteria requirements", cptCode, payer)
}

func labelPolicyChunks(hits []domain.ScoredChunk) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("[Source: %s]\n%s", h.SourceFilename, h.Content))
	}
	return strings.Join(parts, "\n\n")
}

func labelClinicalChunks(hits []domain.ScoredChunk) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("[Source: %s, Chunk: %s]\n%s", h.SourceFilename, h.ID, h.Content))
	}
	return strings.Join(parts, "\n\n")
}

func failedJudgmentResult(criterion domain.PolicyCriterion, err error) domain.CriterionResult {
	return domain.CriterionResult{
		Criterion:      criterion.Criterion,
		Met:            false,
		Confidence:     0,
		PolicyCitation: criterion.PolicyCitation,
		Reasoning:      "Judgment failed: " + err.Error(),
	}
}

func withDefaultLimits(l domain.EvaluationLimits) domain.EvaluationLimits {
	d := DefaultEvaluationLimits
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.CallTimeout <= 0 {
		l.CallTimeout = d.CallTimeout
	}
	if l.MaxParallelJudgments <= 0 {
		l.MaxParallelJudgments = d.MaxParallelJudgments
	}
	if l.JudgmentFailurePolicy == "" {
		l.JudgmentFailurePolicy = d.JudgmentFailurePolicy
	}
	if l.PolicyMatchCount <= 0 {
		l.PolicyMatchCount = d.PolicyMatchCount
	}
	if l.PolicySimilarityFloor <= 0 {
		l.PolicySimilarityFloor = d.PolicySimilarityFloor
	}
	if l.ClinicalMatchCount <= 0 {
		l.ClinicalMatchCount = d.ClinicalMatchCount
	}
	if l.ClinicalSimilarityFloor <= 0 {
		l.ClinicalSimilarityFloor = d.ClinicalSimilarityFloor
	}
	return l
}

type noopObserver struct{}

func (noopObserver) ObserveEvaluation(domain.Outcome, domain.RequestStatus, int, float64) {}
func (noopObserver) ObserveJudgment(string)                                              {}
func (noopObserver) ObserveRetrieval(string, int)                                        {}
