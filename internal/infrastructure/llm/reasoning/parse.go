package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

const (
	defaultConfidence   = 0.5
	judgeNoTextReason   = "Judge returned no text"
	judgeUnparsedPrefix = "Judge response could not be parsed as JSON: "
)

type rawCriterion struct {
	Criterion      string `json:"criterion"`
	PolicyCitation string `json:"policy_citation"`
}

// parseCriteria accepts either a bare array or an object wrapping it under "criteria".
func parseCriteria(raw string) domain.CriteriaExtraction {
	payload := extractJSON(raw)
	if payload == "" {
		return domain.CriteriaExtraction{ParseError: "extractor returned no text"}
	}

	var items []rawCriterion
	if strings.HasPrefix(payload, "{") {
		var wrapped struct {
			Criteria *[]rawCriterion `json:"criteria"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
			return domain.CriteriaExtraction{ParseError: err.Error()}
		}
		if wrapped.Criteria == nil {
			return domain.CriteriaExtraction{ParseError: `object has no "criteria" array`}
		}
		items = *wrapped.Criteria
	} else if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return domain.CriteriaExtraction{ParseError: err.Error()}
	}

	criteria := make([]domain.PolicyCriterion, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Criterion)
		if text == "" {
			continue
		}
		criteria = append(criteria, domain.PolicyCriterion{
			Criterion:      text,
			PolicyCitation: strings.TrimSpace(item.PolicyCitation),
		})
	}
	return domain.CriteriaExtraction{Criteria: criteria, Parsed: true}
}

func parseJudgment(raw string) domain.Judgment {
	if strings.TrimSpace(raw) == "" {
		return domain.Judgment{Reasoning: judgeNoTextReason}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &fields); err != nil {
		return domain.Judgment{Reasoning: judgeUnparsedPrefix + err.Error()}
	}
	if fields == nil {
		return domain.Judgment{Reasoning: judgeUnparsedPrefix + "response is not an object"}
	}

	reasoning, _ := fields["reasoning"].(string)
	return domain.Judgment{
		Met:              coerceBool(fields["met"]),
		Confidence:       coerceConfidence(fields["confidence"]),
		EvidenceQuote:    optionalString(fields["evidence_quote"]),
		ClinicalCitation: optionalString(fields["clinical_citation"]),
		Reasoning:        reasoning,
	}
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "met", "1":
			return true
		}
	}
	return false
}

func coerceConfidence(v any) float64 {
	var c float64
	switch t := v.(type) {
	case float64:
		c = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return defaultConfidence
		}
		c = parsed
	default:
		return defaultConfidence
	}
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return defaultConfidence
	}
	return math.Max(0, math.Min(1, c))
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// extractJSON strips markdown fences and surrounding prose from a model answer.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" || s[0] == '{' || s[0] == '[' {
		return s
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("reasoning: "+format, args...)
}
