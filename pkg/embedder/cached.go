package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soundprediction/go-graffiti/pkg/cache"
)

// DefaultCacheTTL bounds how long cached vectors are served before the
// text is re-embedded.
const DefaultCacheTTL = 30 * 24 * time.Hour

// CachedEmbedder wraps a Client with a persistent cache keyed on the
// text digest and the model's dimensionality, so the same text is never
// embedded twice within the TTL.
type CachedEmbedder struct {
	inner Client
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedEmbedder creates a caching decorator around an embedder. A
// non-positive ttl falls back to DefaultCacheTTL.
func NewCachedEmbedder(inner Client, c cache.Cache, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedEmbedder{
		inner: inner,
		cache: c,
		ttl:   ttl,
	}
}

// Embed embeds each text, serving cache hits and forwarding only the
// misses to the wrapped client in one batch.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missed []string
	var missedIdx []int

	for i, text := range texts {
		if vector, ok := e.lookup(text); ok {
			vectors[i] = vector
			continue
		}
		missed = append(missed, text)
		missedIdx = append(missedIdx, i)
	}
	if len(missed) == 0 {
		return vectors, nil
	}

	fresh, err := e.inner.Embed(ctx, missed)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missed) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missed))
	}
	for i, vector := range fresh {
		vectors[missedIdx[i]] = vector
		e.store(missed[i], vector)
	}
	return vectors, nil
}

// EmbedSingle embeds one text, consulting the cache first.
func (e *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := e.lookup(text); ok {
		return vector, nil
	}
	vector, err := e.inner.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	e.store(text, vector)
	return vector, nil
}

// Dimensions reports the wrapped client's dimensionality.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the cache and the wrapped client.
func (e *CachedEmbedder) Close() error {
	cacheErr := e.cache.Close()
	innerErr := e.inner.Close()
	if cacheErr != nil {
		return cacheErr
	}
	return innerErr
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%d:%s", e.inner.Dimensions(), hex.EncodeToString(sum[:]))
}

func (e *CachedEmbedder) lookup(text string) ([]float32, bool) {
	raw, err := e.cache.Get(e.key(text))
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			return nil, false
		}
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false
	}
	return vector, true
}

// store caches a vector. Failures are ignored; the cache is an
// optimization, not a source of truth.
func (e *CachedEmbedder) store(text string, vector []float32) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	_ = e.cache.Set(e.key(text), raw, e.ttl)
}
