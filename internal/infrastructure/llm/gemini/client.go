package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/infrastructure/resilience"
)

// maxEmbedBatch is the per-request limit of BatchEmbedContents.
const maxEmbedBatch = 100

type Client struct {
	client      *genai.Client
	genModel    string
	embedModel  string
	visionModel string
	executor    *resilience.Executor
	limiter     *rate.Limiter
}

type Option func(*Client)

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithVisionModel(model string) Option {
	return func(c *Client) { c.visionModel = strings.TrimSpace(model) }
}

func New(ctx context.Context, apiKey, genModel, embedModel string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	c := &Client{
		client:     client,
		genModel:   genModel,
		embedModel: embedModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.visionModel == "" {
		c.visionModel = c.genModel
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	model := e.client.client.EmbeddingModel(e.client.embedModel)
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))

		batch := model.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}

		var res *genai.BatchEmbedContentsResponse
		err := e.client.call(ctx, "embed", func(callCtx context.Context) error {
			var callErr error
			res, callErr = model.BatchEmbedContents(callCtx, batch)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini embed: expected %d embeddings, got %d", end-start, len(res.Embeddings))
		}
		for _, emb := range res.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	model := g.client.client.GenerativeModel(g.client.genModel)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	var resp *genai.GenerateContentResponse
	err := g.client.call(ctx, "generate", func(callCtx context.Context) error {
		var callErr error
		resp, callErr = model.GenerateContent(callCtx, genai.Text(prompt))
		return callErr
	})
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

type Transcriber struct {
	client *Client
}

func NewTranscriber(client *Client) *Transcriber {
	return &Transcriber{client: client}
}

func (t *Transcriber) TranscribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "transcribe image", errors.New("empty image"))
	}
	model := t.client.client.GenerativeModel(t.client.visionModel)
	model.SetTemperature(0)

	var resp *genai.GenerateContentResponse
	err := t.client.call(ctx, "transcribe", func(callCtx context.Context) error {
		var callErr error
		resp, callErr = model.GenerateContent(callCtx,
			genai.Blob{MIMEType: mimeType, Data: data},
			genai.Text(transcriptionPrompt),
		)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var err error
	if c.executor == nil {
		err = fn(ctx)
	} else {
		err = c.executor.Execute(ctx, "gemini."+operation, fn, classifyGeminiError)
	}
	if err != nil {
		return wrapTemporaryIfNeeded("gemini "+operation, err)
	}
	return nil
}

// responseText joins the text parts of the first candidate; a blocked or empty answer is "".
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

const transcriptionPrompt = `Transcribe all text visible in this image of a medical document.
Keep the reading order, numbers, units and dates exactly as printed.
Return only the transcribed text, no commentary.`
