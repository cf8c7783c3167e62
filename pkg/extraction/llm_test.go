package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/llm"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: f.response}, f.err
}

func (f *fakeLLM) ChatWithStructuredOutput(ctx context.Context, messages []llm.Message, schema any) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.response), nil
}

func (f *fakeLLM) Close() error { return nil }

func TestExtractParsesWellFormedResponse(t *testing.T) {
	fake := &fakeLLM{response: `{
		"entities": [
			{"entity_id": "person:alice", "entity_type": "Person", "name": "Alice", "summary": "Engineer"},
			{"entity_id": "company:acme", "entity_type": "Company", "name": "Acme"}
		],
		"relationships": [
			{"source_entity_id": "person:alice", "target_entity_id": "company:acme",
			 "relationship_type": "WORKS_AT", "fact": "Alice works at Acme"}
		]
	}`}
	extractor := NewLLMExtractor(fake, nil)

	result, err := extractor.Extract(context.Background(), "Alice works at Acme.")
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "person:alice", result.Relationships[0].SourceEntityID)
	assert.Equal(t, "WORKS_AT", result.Relationships[0].RelationshipType)
}

func TestExtractRepairsMalformedJSON(t *testing.T) {
	// Trailing comma and unquoted key, the usual model output damage.
	fake := &fakeLLM{response: `{
		"entities": [
			{"entity_id": "e1", entity_type: "Person", "name": "Alice",},
		],
		"relationships": []
	}`}
	extractor := NewLLMExtractor(fake, nil)

	result, err := extractor.Extract(context.Background(), "Alice.")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Alice", result.Entities[0].Name)
}

func TestExtractAssignsMissingIDs(t *testing.T) {
	fake := &fakeLLM{response: `{
		"entities": [{"name": "Alice"}],
		"relationships": []
	}`}
	extractor := NewLLMExtractor(fake, nil)

	result, err := extractor.Extract(context.Background(), "Alice.")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.NotEmpty(t, result.Entities[0].EntityID)
	assert.Equal(t, "Entity", result.Entities[0].EntityType)
}

func TestExtractDropsUnusableCandidates(t *testing.T) {
	fake := &fakeLLM{response: `{
		"entities": [
			{"entity_id": "e1", "entity_type": "Person", "name": "Alice"},
			{"entity_id": "e2", "entity_type": "Person", "name": "   "},
			{"entity_id": "e1", "entity_type": "Person", "name": "Alice again"}
		],
		"relationships": [
			{"source_entity_id": "e1", "target_entity_id": "ghost", "relationship_type": "KNOWS"},
			{"source_entity_id": "e1", "target_entity_id": "e1", "relationship_type": ""}
		]
	}`}
	extractor := NewLLMExtractor(fake, nil)

	result, err := extractor.Extract(context.Background(), "Alice.")
	require.NoError(t, err)
	assert.Len(t, result.Entities, 1, "blank names and duplicate ids are dropped")
	assert.Empty(t, result.Relationships, "undeclared endpoints and empty types are dropped")
}

func TestExtractWrapsLLMFailure(t *testing.T) {
	fake := &fakeLLM{err: errors.New("model unavailable")}
	extractor := NewLLMExtractor(fake, nil)

	_, err := extractor.Extract(context.Background(), "anything")
	require.Error(t, err)
	var extractionErr *types.ExtractionError
	assert.True(t, errors.As(err, &extractionErr))
}
