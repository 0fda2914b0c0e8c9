package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

const (
	maxPatientIDLength = 128
	maxPayerLength     = 128
	statusWriteTimeout = 10 * time.Second
)

var (
	patientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	cptCodePattern   = regexp.MustCompile(`^[A-Za-z0-9]{5}$`)
)

// EvaluationUseCase creates prior-auth requests and serves their poll-style status.
type EvaluationUseCase struct {
	repo       ports.EvaluationRepository
	dispatcher ports.EvaluationDispatcher
	now        func() time.Time
}

func NewEvaluationUseCase(repo ports.EvaluationRepository, dispatcher ports.EvaluationDispatcher) *EvaluationUseCase {
	return &EvaluationUseCase{
		repo:       repo,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// TriggerEvaluation stores a pending request, hands it to the dispatcher and returns its id
// without waiting for the pipeline.
func (uc *EvaluationUseCase) TriggerEvaluation(ctx context.Context, patientID, cptCode, payer string) (string, error) {
	patientID = strings.TrimSpace(patientID)
	cptCode = strings.TrimSpace(cptCode)
	payer = strings.TrimSpace(payer)
	if err := validateEvaluationInput(patientID, cptCode, payer); err != nil {
		return "", err
	}

	now := uc.now().UTC()
	req := &domain.PriorAuthRequest{
		ID:        uuid.NewString(),
		PatientID: patientID,
		CPTCode:   cptCode,
		Payer:     payer,
		Status:    domain.RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("create evaluation request: %w", err)
	}

	if err := uc.dispatcher.DispatchEvaluation(ctx, req.ID); err != nil {
		if failErr := markFailed(ctx, uc.repo, req.ID, fmt.Errorf("dispatch evaluation: %w", err)); failErr != nil {
			return "", fmt.Errorf("dispatch evaluation: %w; mark failed status: %v", err, failErr)
		}
		return "", fmt.Errorf("dispatch evaluation: %w", err)
	}

	slog.Info("evaluation_triggered",
		"request_id", req.ID,
		"patient_id", req.PatientID,
		"cpt_code", req.CPTCode,
		"payer", req.Payer,
	)
	return req.ID, nil
}

// GetEvaluation returns the request status, with the determination once it is complete.
func (uc *EvaluationUseCase) GetEvaluation(ctx context.Context, requestID string) (*domain.EvaluationView, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get evaluation", errors.New("request id is required"))
	}

	req, err := uc.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get evaluation request: %w", err)
	}

	view := &domain.EvaluationView{RequestID: req.ID, Status: req.Status}
	if req.Status != domain.RequestComplete {
		return view, nil
	}

	det, err := uc.repo.GetDetermination(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("get determination: %w", err)
	}
	view.Determination = det
	return view, nil
}

func validateEvaluationInput(patientID, cptCode, payer string) error {
	switch {
	case patientID == "":
		return domain.WrapError(domain.ErrInvalidInput, "validate evaluation", errors.New("patient_id is required"))
	case len(patientID) > maxPatientIDLength:
		return domain.WrapError(domain.ErrInvalidInput, "validate evaluation", fmt.Errorf("patient_id exceeds %d characters", maxPatientIDLength))
	case !patientIDPattern.MatchString(patientID):
		return domain.WrapError(domain.ErrInvalidInput, "validate evaluation", errors.New("patient_id contains unsupported characters"))
	case !cptCodePattern.MatchString(cptCode):
		return domain.WrapError(domain.ErrInvalidInput, "validate evaluation", errors.New("cpt_code must be 5 alphanumeric characters"))
	case payer == "":
		return domain.WrapError(domain.ErrInvalidInput, "validate evaluation", errors.New("payer is required"))
	case len([]rune(payer)) > maxPayerLength:
		return domain.WrapError(domain.ErrInvalidInput, "validate evaluation", fmt.Errorf("payer exceeds %d characters", maxPayerLength))
	}
	return nil
}

// markFailed writes the error status on a context detached from the caller, so a cancelled
// run still leaves the request terminal.
func markFailed(ctx context.Context, repo ports.EvaluationRepository, requestID string, cause error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	return repo.FailRequest(writeCtx, requestID, cause.Error())
}
