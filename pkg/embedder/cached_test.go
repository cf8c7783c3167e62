package embedder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/cache"
)

type mapCache struct {
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}}
}

func (m *mapCache) Set(key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *mapCache) Get(key string) ([]byte, error) {
	value, ok := m.data[key]
	if !ok {
		return nil, cache.ErrKeyNotFound
	}
	return value, nil
}

func (m *mapCache) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func (m *mapCache) Close() error { return nil }

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, _ := c.EmbedSingle(ctx, texts[i])
		out[i] = vec
	}
	return out, nil
}

func (c *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) Close() error    { return nil }

func TestCachedEmbedSingle(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, newMapCache(), 0)

	first, err := cached.EmbedSingle(ctx, "hello")
	require.NoError(t, err)
	second, err := cached.EmbedSingle(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "second call must hit the cache")

	_, err = cached.EmbedSingle(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedBatchForwardsOnlyMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, newMapCache(), 0)

	_, err := cached.EmbedSingle(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	vectors, err := cached.Embed(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 1}, vectors[0])
	assert.Equal(t, []float32{2, 1}, vectors[1])
	assert.Equal(t, []float32{3, 1}, vectors[2])
	assert.Equal(t, 3, inner.calls, "only the two misses reach the inner embedder")
}
