package embedder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

func embeddingResponse(w http.ResponseWriter, vector string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":%s}],"model":"text-embedding-3-small","usage":{"prompt_tokens":1,"total_tokens":1}}`, vector)
}

func embeddingFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"server_error"}}`, message)
}

func newTestEmbedder(baseURL string, maxRetries int) *OpenAIEmbedder {
	e := NewOpenAIEmbedder("test-key", Config{
		Model:      "text-embedding-3-small",
		BaseURL:    baseURL,
		Dimensions: 2,
		MaxRetries: maxRetries,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.retryBase = time.Millisecond
	return e
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			embeddingFailure(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		embeddingResponse(w, "[0.25,0.5]")
	}))
	defer ts.Close()

	e := newTestEmbedder(ts.URL, 2)
	vector, err := e.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5}, vector)
	assert.EqualValues(t, 2, calls.Load())
}

func TestEmbedTerminalFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		embeddingFailure(w, http.StatusUnauthorized, "invalid api key")
	}))
	defer ts.Close()

	e := newTestEmbedder(ts.URL, 3)
	_, err := e.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var embErr *types.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.EqualValues(t, 1, calls.Load(), "auth failures must not be retried")
}

func TestEmbedExhaustedRetriesWrapLastError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		embeddingFailure(w, http.StatusTooManyRequests, "rate limited")
	}))
	defer ts.Close()

	e := newTestEmbedder(ts.URL, 1)
	_, err := e.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var embErr *types.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRetriableStatusClassification(t *testing.T) {
	retriable := []int{
		http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout,
	}
	for _, status := range retriable {
		assert.True(t, retriableStatus(status), "status %d", status)
	}
	terminal := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound}
	for _, status := range terminal {
		assert.False(t, retriableStatus(status), "status %d", status)
	}
}
