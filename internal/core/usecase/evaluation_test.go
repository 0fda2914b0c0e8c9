package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

func TestTriggerEvaluationCreatesPendingAndDispatches(t *testing.T) {
	repo := newEvaluationRepoFake()
	dispatcher := &dispatcherFake{}
	uc := NewEvaluationUseCase(repo, dispatcher)

	id, err := uc.TriggerEvaluation(context.Background(), " P-001 ", "95810", "Aetna")
	if err != nil {
		t.Fatalf("TriggerEvaluation() error = %v", err)
	}
	if id == "" {
		t.Fatalf("expected request id")
	}
	if got := repo.status(id); got != domain.RequestPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != id {
		t.Fatalf("expected dispatch of %s, got %v", id, dispatcher.ids)
	}
	req, _ := repo.GetRequest(context.Background(), id)
	if req.PatientID != "P-001" {
		t.Fatalf("expected trimmed patient id, got %q", req.PatientID)
	}
}

func TestTriggerEvaluationRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name, patient, cpt, payer string
	}{
		{"empty patient", "", "95810", "Aetna"},
		{"patient charset", "P 001", "95810", "Aetna"},
		{"patient too long", strings.Repeat("p", 129), "95810", "Aetna"},
		{"short cpt", "P1", "9581", "Aetna"},
		{"cpt charset", "P1", "95-10", "Aetna"},
		{"empty payer", "P1", "95810", "  "},
		{"payer too long", "P1", "95810", strings.Repeat("a", 129)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newEvaluationRepoFake()
			dispatcher := &dispatcherFake{}
			uc := NewEvaluationUseCase(repo, dispatcher)

			_, err := uc.TriggerEvaluation(context.Background(), tc.patient, tc.cpt, tc.payer)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if len(repo.requests) != 0 || len(dispatcher.ids) != 0 {
				t.Fatalf("expected no request to be created")
			}
		})
	}
}

func TestTriggerEvaluationDispatchFailureMarksError(t *testing.T) {
	repo := newEvaluationRepoFake()
	uc := NewEvaluationUseCase(repo, &dispatcherFake{err: errors.New("nats unavailable")})

	_, err := uc.TriggerEvaluation(context.Background(), "P1", "95810", "Aetna")
	if err == nil || !strings.Contains(err.Error(), "dispatch evaluation") {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if len(repo.requests) != 1 {
		t.Fatalf("expected one stored request, got %d", len(repo.requests))
	}
	for id := range repo.requests {
		if got := repo.status(id); got != domain.RequestError {
			t.Fatalf("expected error status, got %s", got)
		}
	}
}

func TestGetEvaluationStates(t *testing.T) {
	repo := newEvaluationRepoFake()
	repo.seed(domain.PriorAuthRequest{ID: "pending-1", Status: domain.RequestPending})
	repo.seed(domain.PriorAuthRequest{ID: "error-1", Status: domain.RequestError, ErrorMessage: "boom"})
	repo.seed(domain.PriorAuthRequest{ID: "done-1", Status: domain.RequestPending})
	if err := repo.CompleteRequest(context.Background(), &domain.Determination{
		ID:               "det-1",
		RequestID:        "done-1",
		ProbabilityScore: 1,
		Recommendation:   domain.LikelyApproved,
	}); err != nil {
		t.Fatalf("seed determination: %v", err)
	}
	uc := NewEvaluationUseCase(repo, &dispatcherFake{})

	for id, want := range map[string]domain.RequestStatus{
		"pending-1": domain.RequestPending,
		"error-1":   domain.RequestError,
		"done-1":    domain.RequestComplete,
	} {
		view, err := uc.GetEvaluation(context.Background(), id)
		if err != nil {
			t.Fatalf("GetEvaluation(%s) error = %v", id, err)
		}
		if view.Status != want {
			t.Fatalf("GetEvaluation(%s) status = %s, want %s", id, view.Status, want)
		}
		if (view.Determination != nil) != (want == domain.RequestComplete) {
			t.Fatalf("GetEvaluation(%s) determination presence mismatch", id)
		}
	}
}

func TestGetEvaluationNotFound(t *testing.T) {
	uc := NewEvaluationUseCase(newEvaluationRepoFake(), &dispatcherFake{})

	_, err := uc.GetEvaluation(context.Background(), "missing")
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}
