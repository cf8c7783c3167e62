package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/google/uuid"

	"github.com/soundprediction/go-graffiti/pkg/llm"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

const extractionSystemPrompt = `You are an expert knowledge graph builder. Extract entities and the relationships between them from the provided content.

Respond with a single JSON object of this shape:
{
  "entities": [
    {
      "entity_id": "stable identifier, e.g. person:alice",
      "entity_type": "Person | Company | Product | ...",
      "name": "display name",
      "summary": "one or two sentences, optional",
      "properties": {"key": "scalar value"}
    }
  ],
  "relationships": [
    {
      "source_entity_id": "must match an entity_id above",
      "target_entity_id": "must match an entity_id above",
      "relationship_type": "WORKS_AT | KNOWS | ...",
      "subtype": "optional finer classification",
      "fact": "the sentence supporting this relationship",
      "properties": {"key": "scalar value"}
    }
  ]
}

Rules:
- Reuse the same entity_id for the same real-world entity every time it appears.
- Property values must be scalars (string, number, boolean, or null).
- Relationship types are UPPER_SNAKE_CASE verbs.
- Extract only what the content states; do not invent facts.`

// LLMExtractor extracts candidates with a chat model asked for
// structured output. Model responses are passed through JSON repair
// before unmarshaling since models routinely emit almost-JSON.
type LLMExtractor struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewLLMExtractor creates an extractor backed by the given chat client.
func NewLLMExtractor(client llm.Client, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		llm:    client,
		logger: logger,
	}
}

// Extract asks the model for entities and relationships in the content.
// Any failure to obtain or parse a response is reported as an
// ExtractionError so callers can distinguish it from store failures.
func (e *LLMExtractor) Extract(ctx context.Context, content string) (*Result, error) {
	messages := []llm.Message{
		llm.NewSystemMessage(extractionSystemPrompt),
		llm.NewUserMessage(content),
	}

	response, err := e.llm.ChatWithStructuredOutput(ctx, messages, &Result{})
	if err != nil {
		return nil, &types.ExtractionError{Err: fmt.Errorf("chat completion failed: %w", err)}
	}

	result, err := parseResult(response)
	if err != nil {
		return nil, &types.ExtractionError{Err: err}
	}

	e.normalize(result)
	return result, nil
}

// parseResult unmarshals a model response, repairing malformed JSON
// first. A quoted JSON string is unwrapped before the final decode.
func parseResult(response json.RawMessage) (*Result, error) {
	repaired, _ := jsonrepair.RepairJSON(string(response))

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal repaired response: %w", err)
	}

	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		raw = json.RawMessage(quoted)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction result: %w", err)
	}
	return &result, nil
}

// normalize drops unusable candidates and fills in missing entity ids.
// Relationships pointing at entities the model never declared are
// discarded rather than surfaced as store errors later.
func (e *LLMExtractor) normalize(result *Result) {
	known := make(map[string]bool, len(result.Entities))
	entities := result.Entities[:0]
	for _, entity := range result.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			continue
		}
		if strings.TrimSpace(entity.EntityID) == "" {
			entity.EntityID = uuid.New().String()
		}
		if strings.TrimSpace(entity.EntityType) == "" {
			entity.EntityType = "Entity"
		}
		if known[entity.EntityID] {
			continue
		}
		known[entity.EntityID] = true
		entities = append(entities, entity)
	}
	result.Entities = entities

	relationships := result.Relationships[:0]
	for _, rel := range result.Relationships {
		if strings.TrimSpace(rel.RelationshipType) == "" {
			continue
		}
		if !known[rel.SourceEntityID] || !known[rel.TargetEntityID] {
			e.logger.Debug("dropping relationship with undeclared endpoint",
				"source", rel.SourceEntityID, "target", rel.TargetEntityID, "type", rel.RelationshipType)
			continue
		}
		relationships = append(relationships, rel)
	}
	result.Relationships = relationships
}
