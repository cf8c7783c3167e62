// Package embedder computes the vectors attached to entities and
// search queries. The Client interface keeps the graffiti managers
// independent of the embedding provider; OpenAIEmbedder and
// CachedEmbedder are the shipped implementations.
package embedder

import (
	"context"
)

// Client is the embedding capability the entity manager, the
// reconciliation engine, and semantic search depend on.
type Client interface {
	// Embed generates one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates a vector for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector width this client produces.
	Dimensions() int

	// Close releases any held resources.
	Close() error
}

// Config holds configuration for embedding clients.
type Config struct {
	Model string `json:"model"`
	// BatchSize bounds how many texts go into one provider request.
	BatchSize int `json:"batch_size"`
	// Dimensions overrides the model's native vector width where the
	// provider supports it.
	Dimensions int `json:"dimensions"`
	// BaseURL points at an OpenAI-compatible service when set.
	BaseURL string `json:"base_url,omitempty"`
	// MaxRetries bounds retry attempts for transient provider failures.
	MaxRetries int `json:"max_retries"`
}
