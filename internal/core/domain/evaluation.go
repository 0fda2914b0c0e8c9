package domain

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestComplete RequestStatus = "complete"
	RequestError    RequestStatus = "error"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestComplete || s == RequestError
}

type PriorAuthRequest struct {
	ID           string        `json:"id"`
	PatientID    string        `json:"patient_id"`
	CPTCode      string        `json:"cpt_code"`
	Payer        string        `json:"payer"`
	Status       RequestStatus `json:"status"`
	ErrorMessage string        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Recommendation string

const (
	LikelyApproved   Recommendation = "LIKELY_APPROVED"
	LikelyDenied     Recommendation = "LIKELY_DENIED"
	InsufficientInfo Recommendation = "INSUFFICIENT_INFO"
)

// Outcome records which path produced a determination. Several outcomes share the same
// user-facing shape; the value exists for diagnostics.
type Outcome string

const (
	OutcomeEvaluated           Outcome = "evaluated"
	OutcomeNoPolicyFound       Outcome = "no_policy_found"
	OutcomeCriteriaUnparseable Outcome = "criteria_unparseable"
	OutcomeNoCriteriaExtracted Outcome = "no_criteria_extracted"
)

type PolicyCriterion struct {
	Criterion      string `json:"criterion"`
	PolicyCitation string `json:"policy_citation"`
}

// CriteriaExtraction is the parsed extractor response. Parsed=false means the capability
// answered but its output was not a usable JSON array.
type CriteriaExtraction struct {
	Criteria   []PolicyCriterion
	Parsed     bool
	ParseError string
}

// Judgment is the judge verdict for a single criterion, already defaulted.
type Judgment struct {
	Met              bool    `json:"met"`
	Confidence       float64 `json:"confidence"`
	EvidenceQuote    *string `json:"evidence_quote"`
	ClinicalCitation *string `json:"clinical_citation"`
	Reasoning        string  `json:"reasoning"`
}

type CriterionResult struct {
	Criterion        string  `json:"criterion"`
	Met              bool    `json:"met"`
	Confidence       float64 `json:"confidence"`
	EvidenceQuote    *string `json:"evidence_quote"`
	ClinicalCitation *string `json:"clinical_citation"`
	PolicyCitation   string  `json:"policy_citation"`
	Reasoning        string  `json:"reasoning"`
}

type Determination struct {
	ID               string            `json:"id"`
	RequestID        string            `json:"request_id"`
	ProbabilityScore float64           `json:"probability_score"`
	Recommendation   Recommendation    `json:"recommendation"`
	CriteriaResults  []CriterionResult `json:"criteria_results"`
	MissingInfo      []string          `json:"missing_info"`
	Outcome          Outcome           `json:"-"`
	CreatedAt        time.Time         `json:"created_at"`
}

// EvaluationView is the poll-style read model: Determination is set only when Status is complete.
type EvaluationView struct {
	RequestID     string         `json:"request_id"`
	Status        RequestStatus  `json:"status"`
	Determination *Determination `json:"determination,omitempty"`
}

// EvaluationLimits bounds a single pipeline run.
type EvaluationLimits struct {
	Timeout                 time.Duration
	CallTimeout             time.Duration
	MaxParallelJudgments    int
	JudgmentFailurePolicy   JudgmentFailurePolicy
	PolicyMatchCount        int
	PolicySimilarityFloor   float64
	ClinicalMatchCount      int
	ClinicalSimilarityFloor float64
}

type JudgmentFailurePolicy string

const (
	// FailureIsolate degrades a failed judgment to a zero-confidence unmet result.
	FailureIsolate JudgmentFailurePolicy = "isolate"
	// FailureAbort fails the whole evaluation on the first judgment error.
	FailureAbort JudgmentFailurePolicy = "abort"
)
