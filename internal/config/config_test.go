package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"VECTOR_BACKEND", "EVAL_TIMEOUT", "EVAL_MAX_PARALLEL_JUDGMENTS", "JUDGMENT_FAILURE_POLICY", "API_RATE_LIMIT_RPS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.VectorBackend != "pgvector" {
		t.Fatalf("expected default vector backend pgvector, got %q", cfg.VectorBackend)
	}
	if cfg.EvalTimeout != 5*time.Minute {
		t.Fatalf("expected default eval timeout 5m, got %s", cfg.EvalTimeout)
	}
	if cfg.EvalMaxParallelJudgments != 8 {
		t.Fatalf("expected default parallel judgments 8, got %d", cfg.EvalMaxParallelJudgments)
	}
	if cfg.JudgmentFailurePolicy != "isolate" {
		t.Fatalf("expected default failure policy isolate, got %q", cfg.JudgmentFailurePolicy)
	}
	if cfg.APIRateLimitRPS != 20 {
		t.Fatalf("expected default rate limit 20, got %v", cfg.APIRateLimitRPS)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VECTOR_BACKEND", "Qdrant")
	t.Setenv("EVAL_TIMEOUT", "2m")
	t.Setenv("EVAL_CALL_TIMEOUT", "45")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("EVAL_MAX_PARALLEL_JUDGMENTS", "not-a-number")

	cfg := Load()
	if cfg.VectorBackend != "qdrant" {
		t.Fatalf("expected lower-cased backend, got %q", cfg.VectorBackend)
	}
	if cfg.EvalTimeout != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", cfg.EvalTimeout)
	}
	if cfg.EvalCallTimeout != 45*time.Second {
		t.Fatalf("expected bare integer as seconds, got %s", cfg.EvalCallTimeout)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.EvalMaxParallelJudgments != 8 {
		t.Fatalf("expected fallback on invalid int, got %d", cfg.EvalMaxParallelJudgments)
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("S3_BUCKET=from-file\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("S3_BUCKET", "")
	os.Unsetenv("S3_BUCKET")

	cfg := Load()
	if cfg.S3Bucket != "from-file" {
		t.Fatalf("expected bucket from .env, got %q", cfg.S3Bucket)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected environment to win, got %q", cfg.LogLevel)
	}
}

func TestLoadResilienceAndSweepSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESILIENCE_BREAKER_FAILURE_RATIO", "0.75")
	t.Setenv("RESILIENCE_BREAKER_OPEN_TIMEOUT", "2m")
	t.Setenv("RESILIENCE_BREAKER_MIN_REQUESTS", "3")
	t.Setenv("EVAL_STALE_AFTER", "")
	t.Setenv("GEMINI_VISION_MODEL", "gemini-1.5-pro")

	cfg := Load()
	if cfg.ResilienceBreakerFailureRatio != 0.75 || cfg.ResilienceBreakerOpenTimeout != 2*time.Minute || cfg.ResilienceBreakerMinRequests != 3 {
		t.Fatalf("unexpected breaker settings %+v", cfg)
	}
	if cfg.ResilienceRetryMax != 0 {
		t.Fatalf("unset retry attempts should stay zero for the profile default, got %d", cfg.ResilienceRetryMax)
	}
	if cfg.EvalStaleAfter != 10*time.Minute || cfg.EvalSweepInterval != time.Minute {
		t.Fatalf("unexpected sweep defaults %s/%s", cfg.EvalStaleAfter, cfg.EvalSweepInterval)
	}
	if cfg.GeminiVisionModel != "gemini-1.5-pro" {
		t.Fatalf("unexpected vision model %q", cfg.GeminiVisionModel)
	}
}
