package embedder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/embedder"
)

func TestEntityText(t *testing.T) {
	tests := []struct {
		name    string
		entity  string
		summary string
		want    string
	}{
		{"name only", "Alice", "", "Alice"},
		{"name and summary", "Alice", "An engineer", "Alice\n\nAn engineer"},
		{"blank summary ignored", "Alice", "   ", "Alice"},
		{"whitespace trimmed", "  Alice  ", " engineer ", "Alice\n\nengineer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, embedder.EntityText(tt.entity, tt.summary))
		})
	}
}

func TestNewOpenAIEmbedderDefaults(t *testing.T) {
	client := embedder.NewOpenAIEmbedder("test-api-key", embedder.Config{Model: "text-embedding-3-small"}, nil)
	require.NotNil(t, client)
	assert.Equal(t, 1536, client.Dimensions())

	large := embedder.NewOpenAIEmbedder("test-api-key", embedder.Config{Model: "text-embedding-3-large"}, nil)
	assert.Equal(t, 3072, large.Dimensions())
}
