package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/prior-auth-rag/internal/config"
	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
	"github.com/kirillkom/prior-auth-rag/internal/core/usecase"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/chunking"
	htmlextractor "github.com/kirillkom/prior-auth-rag/internal/infrastructure/extractor/html"
	imageextractor "github.com/kirillkom/prior-auth-rag/internal/infrastructure/extractor/image"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/extractor/plaintext"
	extractorrouter "github.com/kirillkom/prior-auth-rag/internal/infrastructure/extractor/router"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/extractor/spreadsheet"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/llm/reasoning"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/queue/inprocess"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/storage/s3"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/prior-auth-rag/internal/observability/metrics"
)

const (
	DispatchInProcess = "inprocess"
	DispatchNATS      = "nats"
)

type App struct {
	Config config.Config

	Evaluations *usecase.EvaluationUseCase
	Pipeline    *usecase.EvaluationPipeline
	Ingestor    *usecase.IngestDocumentUseCase
	Metrics     *metrics.EvaluationMetrics

	// Queue is set only when evaluations are dispatched over NATS.
	Queue *nats.Queue

	dispatcher *inprocess.Dispatcher
	closeFns   []func()
}

type Options struct {
	// Service labels metrics series.
	Service string
	// Registerer receives the evaluation and resilience metrics; nil skips registration.
	Registerer prometheus.Registerer
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	limits, err := evaluationLimits(cfg)
	if err != nil {
		return nil, err
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	app.Metrics = metrics.NewEvaluationMetrics(opts.Service, registerer)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	repo := postgres.NewEvaluationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	store, err := app.newChunkStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	modelPolicy, err := resilienceConfig(cfg)
	if err != nil {
		return nil, err
	}
	executor := resilience.NewExecutor(modelPolicy, resilience.WithObserver(app.Metrics))
	llm, err := app.newLLM(ctx, cfg, executor)
	if err != nil {
		return nil, err
	}

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder := usecase.NewEmbeddingGateway(llm.embedder, cfg.EmbeddingDimensions)
	app.Ingestor = usecase.NewIngestDocumentUseCase(
		chunking.NewSplitter(),
		embedder,
		store,
		storage,
		newExtractorRouter(llm.transcriber),
	)
	app.Pipeline = usecase.NewEvaluationPipeline(
		repo,
		usecase.NewRetriever(embedder, store),
		reasoning.NewExtractor(llm.generator),
		reasoning.NewJudge(llm.generator),
		app.Metrics,
		limits,
	)

	brokerPolicy := resilience.BrokerConfig()
	brokerPolicy.BreakerEnabled = cfg.ResilienceBreakerEnabled
	dispatcher, err := app.newDispatcher(cfg, resilience.NewExecutor(brokerPolicy, resilience.WithObserver(app.Metrics)))
	if err != nil {
		return nil, err
	}
	app.Evaluations = usecase.NewEvaluationUseCase(repo, dispatcher)

	slog.Info("bootstrap_ready",
		"vector_backend", cfg.VectorBackend,
		"llm_backend", cfg.LLMBackend,
		"storage_backend", cfg.StorageBackend,
		"dispatch", cfg.EvalDispatch,
	)
	return app, nil
}

// Shutdown waits for in-process evaluations to finish; it is a no-op with NATS dispatch.
func (a *App) Shutdown(ctx context.Context) error {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher.Shutdown(ctx)
}

// SweepStaleEvaluations re-dispatches pending requests that were never picked up until ctx
// is done. The staleness window never drops below the evaluation timeout, so running
// evaluations are not handed out twice.
func (a *App) SweepStaleEvaluations(ctx context.Context) {
	a.Evaluations.SweepStale(ctx, a.Config.EvalSweepInterval, staleAfter(a.Config))
}

func staleAfter(cfg config.Config) time.Duration {
	timeout := cfg.EvalTimeout
	if timeout <= 0 {
		timeout = usecase.DefaultEvaluationLimits.Timeout
	}
	return max(cfg.EvalStaleAfter, timeout+time.Minute)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) newChunkStore(ctx context.Context, cfg config.Config) (ports.ChunkStore, error) {
	switch cfg.VectorBackend {
	case "pgvector":
		store, err := pgvector.Open(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		a.onClose(store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure chunk schema: %w", err)
		}
		return store, nil
	case "qdrant":
		store := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		if err := store.EnsureCollection(ctx, cfg.EmbeddingDimensions); err != nil {
			return nil, fmt.Errorf("ensure qdrant collection: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

type llmBackend struct {
	embedder    ports.EmbeddingService
	generator   ports.TextGenerator
	transcriber ports.ImageTranscriber
}

func (a *App) newLLM(ctx context.Context, cfg config.Config, executor *resilience.Executor) (llmBackend, error) {
	switch cfg.LLMBackend {
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel,
			ollama.WithExecutor(executor),
			ollama.WithRateLimit(cfg.LLMRateLimitRPS, cfg.LLMRateLimitBurst),
			ollama.WithVisionModel(cfg.OllamaVisionModel),
			ollama.WithHTTPTimeout(cfg.LLMHTTPTimeout),
		)
		return llmBackend{
			embedder:    ollama.NewEmbedder(client),
			generator:   ollama.NewGenerator(client),
			transcriber: ollama.NewTranscriber(client),
		}, nil
	case "gemini":
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiGenModel, cfg.GeminiEmbedModel,
			gemini.WithExecutor(executor),
			gemini.WithRateLimit(cfg.LLMRateLimitRPS, cfg.LLMRateLimitBurst),
			gemini.WithVisionModel(cfg.GeminiVisionModel),
		)
		if err != nil {
			return llmBackend{}, fmt.Errorf("init gemini: %w", err)
		}
		a.onClose(func() { _ = client.Close() })
		return llmBackend{
			embedder:    gemini.NewEmbedder(client),
			generator:   gemini.NewGenerator(client),
			transcriber: gemini.NewTranscriber(client),
		}, nil
	default:
		return llmBackend{}, fmt.Errorf("unknown LLM_BACKEND %q", cfg.LLMBackend)
	}
}

func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "localfs":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return storage, nil
	case "s3":
		storage, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func newExtractorRouter(transcriber ports.ImageTranscriber) *extractorrouter.Router {
	return extractorrouter.New().
		Register(plaintext.NewExtractor(), plaintext.MimeTypes...).
		Register(pdf.NewExtractor(), pdf.MimeType).
		Register(htmlextractor.NewExtractor(), htmlextractor.MimeType).
		Register(spreadsheet.NewExtractor(), spreadsheet.MimeType).
		Register(imageextractor.NewExtractor(transcriber), imageextractor.MimeTypes...)
}

func (a *App) newDispatcher(cfg config.Config, executor *resilience.Executor) (ports.EvaluationDispatcher, error) {
	switch cfg.EvalDispatch {
	case DispatchInProcess:
		a.dispatcher = inprocess.New(a.Pipeline, cfg.EvalMaxConcurrent)
		return a.dispatcher, nil
	case DispatchNATS:
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSEvalSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			return nil, fmt.Errorf("init nats queue: %w", err)
		}
		a.Queue = queue
		a.onClose(queue.Close)
		return queue, nil
	default:
		return nil, fmt.Errorf("unknown EVAL_DISPATCH %q", cfg.EvalDispatch)
	}
}

func evaluationLimits(cfg config.Config) (domain.EvaluationLimits, error) {
	policy := domain.JudgmentFailurePolicy(cfg.JudgmentFailurePolicy)
	switch policy {
	case "", domain.FailureIsolate, domain.FailureAbort:
	default:
		return domain.EvaluationLimits{}, errors.New("JUDGMENT_FAILURE_POLICY must be isolate or abort")
	}
	return domain.EvaluationLimits{
		Timeout:               cfg.EvalTimeout,
		CallTimeout:           cfg.EvalCallTimeout,
		MaxParallelJudgments:  cfg.EvalMaxParallelJudgments,
		JudgmentFailurePolicy: policy,
	}, nil
}

// resilienceConfig applies RESILIENCE_* overrides to the model-call profile; unset values
// keep the profile defaults.
func resilienceConfig(cfg config.Config) (resilience.Config, error) {
	rc := resilience.DefaultConfig()
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceRetryMax > 0 {
		rc.RetryMaxAttempts = cfg.ResilienceRetryMax
	}
	if cfg.ResilienceRetryBackoff > 0 {
		rc.RetryInitialBackoff = cfg.ResilienceRetryBackoff
		rc.RetryMaxBackoff = 4 * cfg.ResilienceRetryBackoff
	}
	if cfg.ResilienceRetryMaxBackoff > 0 {
		rc.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	}
	if cfg.ResilienceBreakerMinRequests > 0 {
		rc.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	if cfg.ResilienceBreakerFailureRatio != 0 {
		rc.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	}
	if cfg.ResilienceBreakerOpenTimeout > 0 {
		rc.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	}
	if cfg.ResilienceBreakerHalfOpenCalls > 0 {
		rc.BreakerHalfOpenMaxCalls = uint32(cfg.ResilienceBreakerHalfOpenCalls)
	}
	if err := rc.Validate(); err != nil {
		return resilience.Config{}, fmt.Errorf("resilience settings: %w", err)
	}
	return rc, nil
}
