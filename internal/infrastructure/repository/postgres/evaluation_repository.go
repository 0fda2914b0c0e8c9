package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

type EvaluationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewEvaluationRepository(db *sql.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *EvaluationRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS prior_auth_requests (
	id TEXT PRIMARY KEY,
	patient_id TEXT NOT NULL,
	cpt_code TEXT NOT NULL,
	payer TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'complete', 'error')),
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prior_auth_requests_patient ON prior_auth_requests(patient_id);
CREATE INDEX IF NOT EXISTS idx_prior_auth_requests_status ON prior_auth_requests(status);

CREATE TABLE IF NOT EXISTS determinations (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL UNIQUE REFERENCES prior_auth_requests(id),
	probability_score DOUBLE PRECISION NOT NULL,
	recommendation TEXT NOT NULL,
	criteria_results JSONB NOT NULL,
	missing_info JSONB NOT NULL,
	outcome TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *EvaluationRepository) CreateRequest(ctx context.Context, req *domain.PriorAuthRequest) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO prior_auth_requests (id, patient_id, cpt_code, payer, status, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		req.ID, req.PatientID, req.CPTCode, req.Payer, string(req.Status), req.ErrorMessage, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prior auth request: %w", err)
	}
	return nil
}

func (r *EvaluationRepository) GetRequest(ctx context.Context, id string) (*domain.PriorAuthRequest, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, patient_id, cpt_code, payer, status, error_message, created_at, updated_at
FROM prior_auth_requests
WHERE id = $1
`, id)

	var req domain.PriorAuthRequest
	var status string
	err := row.Scan(&req.ID, &req.PatientID, &req.CPTCode, &req.Payer, &status, &req.ErrorMessage, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRequestNotFound, "get prior auth request", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan prior auth request: %w", err)
	}
	req.Status = domain.RequestStatus(status)
	return &req, nil
}

// CompleteRequest moves a pending request to complete and stores its determination in the
// same transaction, so a reader never sees one without the other.
func (r *EvaluationRepository) CompleteRequest(ctx context.Context, det *domain.Determination) error {
	results := det.CriteriaResults
	if results == nil {
		results = []domain.CriterionResult{}
	}
	missing := det.MissingInfo
	if missing == nil {
		missing = []string{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal criteria results: %w", err)
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("marshal missing info: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := r.transition(ctx, tx, det.RequestID, domain.RequestComplete, ""); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO determinations (id, request_id, probability_score, recommendation, criteria_results, missing_info, outcome, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		det.ID, det.RequestID, det.ProbabilityScore, string(det.Recommendation), resultsJSON, missingJSON, string(det.Outcome), det.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert determination: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

func (r *EvaluationRepository) FailRequest(ctx context.Context, id string, errMessage string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := r.transition(ctx, tx, id, domain.RequestError, errMessage); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail tx: %w", err)
	}
	return nil
}

// ClaimStalePending returns pending requests not touched since before cutoff and bumps their
// updated_at, so concurrent sweepers never claim the same row in one window.
func (r *EvaluationRepository) ClaimStalePending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
UPDATE prior_auth_requests
SET updated_at = $2
WHERE id IN (
	SELECT id FROM prior_auth_requests
	WHERE status = 'pending' AND updated_at < $1
	ORDER BY updated_at
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING id
`, cutoff.UTC(), r.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale requests: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale request: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale requests: %w", err)
	}
	return ids, nil
}

// transition updates only pending rows; zero affected rows is either a missing request or
// one that already reached a terminal state.
func (r *EvaluationRepository) transition(ctx context.Context, tx *sql.Tx, id string, to domain.RequestStatus, errMessage string) error {
	res, err := tx.ExecContext(ctx, `
UPDATE prior_auth_requests
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1 AND status = 'pending'
`, id, string(to), errMessage, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request status rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM prior_auth_requests WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrRequestNotFound, "update request status", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read request status: %w", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "update request status", fmt.Errorf("%s -> %s", current, to))
}

func (r *EvaluationRepository) GetDetermination(ctx context.Context, requestID string) (*domain.Determination, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, request_id, probability_score, recommendation, criteria_results, missing_info, outcome, created_at
FROM determinations
WHERE request_id = $1
`, requestID)

	var det domain.Determination
	var recommendation, outcome string
	var resultsRaw, missingRaw []byte
	err := row.Scan(&det.ID, &det.RequestID, &det.ProbabilityScore, &recommendation, &resultsRaw, &missingRaw, &outcome, &det.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRequestNotFound, "get determination", fmt.Errorf("request_id=%s", requestID))
		}
		return nil, fmt.Errorf("scan determination: %w", err)
	}

	if err := json.Unmarshal(resultsRaw, &det.CriteriaResults); err != nil {
		return nil, fmt.Errorf("unmarshal criteria results: %w", err)
	}
	if err := json.Unmarshal(missingRaw, &det.MissingInfo); err != nil {
		return nil, fmt.Errorf("unmarshal missing info: %w", err)
	}
	if det.CriteriaResults == nil {
		det.CriteriaResults = []domain.CriterionResult{}
	}
	if det.MissingInfo == nil {
		det.MissingInfo = []string{}
	}
	det.Recommendation = domain.Recommendation(recommendation)
	det.Outcome = domain.Outcome(outcome)
	return &det, nil
}
