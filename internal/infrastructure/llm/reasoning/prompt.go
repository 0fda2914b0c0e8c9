package reasoning

import "fmt"

func buildExtractionPrompt(policyText, cptCode, payer string) string {
	return fmt.Sprintf(`You are a prior-authorization analyst.
From the %s policy excerpts below, list every medical-necessity criterion that must be satisfied
for CPT code %s to be approved. If the excerpts do not name the code, extract the criteria that
apply to the procedure they describe.

Each criterion must be atomic and testable against a patient record.
Return strict JSON: {"criteria": [{"criterion": string, "policy_citation": string}]}.
policy_citation names the source and section the criterion comes from.
No markdown, no extra keys.

Policy excerpts:
%s`, payer, cptCode, policyText)
}

func buildJudgmentPrompt(criterion, policyCitation, clinicalText string) string {
	return fmt.Sprintf(`You are a clinical reviewer deciding one prior-authorization criterion.

Criterion: %s
Policy citation: %s

Decide from the clinical excerpts only whether the criterion is met.
Return strict JSON with keys:
met (boolean), confidence (number from 0 to 1), evidence_quote (exact quote from the excerpts or null),
clinical_citation (the [Source: ..., Chunk: ...] label of the quoted excerpt or null), reasoning (string).
No markdown, no extra keys.

Clinical excerpts:
%s`, criterion, policyCitation, clinicalText)
}
