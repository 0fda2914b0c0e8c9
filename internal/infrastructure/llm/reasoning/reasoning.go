// Package reasoning implements criterion extraction and judgment on top of any JSON-capable
// text generator. Model output is parsed defensively; only generator failures are errors.
package reasoning

import (
	"context"
	"log/slog"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

type Extractor struct {
	generator ports.TextGenerator
}

func NewExtractor(generator ports.TextGenerator) *Extractor {
	return &Extractor{generator: generator}
}

func (e *Extractor) Extract(ctx context.Context, policyText, cptCode, payer string) (domain.CriteriaExtraction, error) {
	raw, err := e.generator.GenerateJSON(ctx, buildExtractionPrompt(policyText, cptCode, payer))
	if err != nil {
		return domain.CriteriaExtraction{}, errorf("extract criteria: %w", err)
	}
	extraction := parseCriteria(raw)
	if !extraction.Parsed {
		slog.Debug("criteria_response_rejected", "cpt_code", cptCode, "payer", payer, "response_bytes", len(raw))
	}
	return extraction, nil
}

type Judge struct {
	generator ports.TextGenerator
}

func NewJudge(generator ports.TextGenerator) *Judge {
	return &Judge{generator: generator}
}

func (j *Judge) Judge(ctx context.Context, criterion, policyCitation, clinicalText string) (domain.Judgment, error) {
	raw, err := j.generator.GenerateJSON(ctx, buildJudgmentPrompt(criterion, policyCitation, clinicalText))
	if err != nil {
		return domain.Judgment{}, errorf("judge criterion: %w", err)
	}
	return parseJudgment(raw), nil
}
