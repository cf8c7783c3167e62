// Package extraction turns free-form episode content into structured
// entity and relationship candidates. The reconciliation engine treats
// the extractor as an opaque collaborator and never inspects how the
// candidates were produced.
package extraction

import (
	"context"
)

// Entity is one extracted entity candidate. EntityID is the stable
// identity the reconciler keys on; the extractor assigns one when the
// model does not.
type Entity struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Name       string         `json:"name"`
	Summary    string         `json:"summary,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship is one extracted relationship candidate between two
// entities named in the same result.
type Relationship struct {
	SourceEntityID   string         `json:"source_entity_id"`
	TargetEntityID   string         `json:"target_entity_id"`
	RelationshipType string         `json:"relationship_type"`
	Subtype          string         `json:"subtype,omitempty"`
	Fact             string         `json:"fact,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
}

// Result holds everything extracted from one piece of content.
type Result struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Extractor produces structured candidates from raw content.
type Extractor interface {
	Extract(ctx context.Context, content string) (*Result, error)
}
