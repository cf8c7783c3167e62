package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultBatchSize      = 100
	defaultMaxRetries     = 3
)

// OpenAIEmbedder implements Client against OpenAI's embedding endpoint
// or any OpenAI-compatible service reachable through a custom base URL.
// Transient provider failures are retried with exponential backoff;
// terminal failures surface as types.EmbeddingError so callers can map
// them to the collaborator-failure path.
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
	logger *slog.Logger

	// retryBase scales the backoff between attempts.
	retryBase time.Duration
}

// NewOpenAIEmbedder creates an embedder. A nil logger falls back to
// slog.Default().
func NewOpenAIEmbedder(apiKey string, config Config, logger *slog.Logger) *OpenAIEmbedder {
	var client *openai.Client
	if config.BaseURL != "" {
		clientConfig := openai.DefaultConfig(apiKey)
		clientConfig.BaseURL = config.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(apiKey)
	}

	if config.Model == "" {
		config.Model = defaultEmbeddingModel
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.Dimensions == 0 {
		config.Dimensions = modelDimensions(config.Model)
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIEmbedder{
		client:    client,
		config:    config,
		logger:    logger,
		retryBase: time.Second,
	}
}

// modelDimensions returns the native vector width of the known OpenAI
// models, or 0 when the model is unknown and the provider decides.
func modelDimensions(model string) int {
	switch model {
	case "text-embedding-ada-002", "text-embedding-3-small":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 0
	}
}

// Embed generates one vector per text, batching requests per
// Config.BatchSize.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedSingle generates a vector for one text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, &types.EmbeddingError{Err: errors.New("no embedding returned")}
	}
	return vectors[0], nil
}

// Dimensions returns the configured vector width.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close is a no-op; the underlying HTTP client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.config.Model),
	}
	if e.config.Dimensions > 0 {
		req.Dimensions = e.config.Dimensions
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * e.retryBase
			e.logger.Warn("embedding request failed, retrying",
				"attempt", attempt, "max_retries", e.config.MaxRetries,
				"backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if retriableEmbedError(err) {
				continue
			}
			return nil, &types.EmbeddingError{Err: err}
		}

		if len(resp.Data) != len(texts) {
			return nil, &types.EmbeddingError{
				Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
			}
		}
		vectors := make([][]float32, len(resp.Data))
		for i, item := range resp.Data {
			vectors[i] = item.Embedding
		}
		return vectors, nil
	}

	return nil, &types.EmbeddingError{Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

// retriableEmbedError classifies provider failures. Rate limits and
// server-side errors are worth another attempt; anything the caller
// caused (bad request, auth) is terminal.
func retriableEmbedError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retriableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retriableStatus(reqErr.HTTPStatusCode)
	}

	// No HTTP status at all means the request never completed.
	return true
}

func retriableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
