// Package types defines the core data model for the knowledge graph:
// entities, relationships, episodes, and the error taxonomy shared by
// every other package.
package types

import (
	"fmt"
	"time"
)

// Entity is a typed, named node scoped to a tenant.
// The pair (ID, GroupID) is unique among all entities, active or
// soft-deleted; only a hard delete frees the key for reuse.
type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Summary    string         `json:"summary,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	GroupID    string         `json:"group_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Deleted    bool           `json:"deleted"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Properties != nil {
		clone.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			clone.Properties[k] = v
		}
	}
	if e.Embedding != nil {
		clone.Embedding = append([]float32(nil), e.Embedding...)
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		clone.DeletedAt = &t
	}
	return &clone
}

// Relationship is a directed, typed edge between two entities in the
// same group. Its identity for upsert purposes is
// (SourceID, TargetID, Kind, GroupID); Subtype, Fact, Properties and
// the temporal bounds are mutable attributes and never take part in
// identity matching.
type Relationship struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Kind       string         `json:"kind"`
	Subtype    string         `json:"subtype,omitempty"`
	Fact       string         `json:"fact,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	TValid     *time.Time     `json:"t_valid,omitempty"`
	TInvalid   *time.Time     `json:"t_invalid,omitempty"`
	GroupID    string         `json:"group_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Deleted    bool           `json:"deleted"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Key returns the relationship's identity key.
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{
		SourceID: r.SourceID,
		TargetID: r.TargetID,
		Kind:     r.Kind,
		GroupID:  r.GroupID,
	}
}

// Clone returns a deep copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Properties != nil {
		clone.Properties = make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			clone.Properties[k] = v
		}
	}
	if r.TValid != nil {
		t := *r.TValid
		clone.TValid = &t
	}
	if r.TInvalid != nil {
		t := *r.TInvalid
		clone.TInvalid = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		clone.DeletedAt = &t
	}
	return &clone
}

// RelationshipKey identifies a relationship for upsert and delete
// operations.
type RelationshipKey struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	GroupID  string `json:"group_id"`
}

// String renders the key in source-[kind]->target form.
func (k RelationshipKey) String() string {
	return fmt.Sprintf("%s-[%s]->%s@%s", k.SourceID, k.Kind, k.TargetID, k.GroupID)
}

// Direction selects which relationships of an entity to retrieve.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// RelationshipView is a relationship tagged with its direction relative
// to the entity it was queried from.
type RelationshipView struct {
	Relationship
	Direction Direction `json:"direction"`
}

// UpdateStrategy controls how a reconciliation pass applies its diff.
type UpdateStrategy string

const (
	// StrategyIncremental writes only the additions, modifications and
	// removals relative to the episode's prior materialization.
	StrategyIncremental UpdateStrategy = "incremental"
	// StrategyReplace soft-deletes everything previously attributed to
	// the episode and creates all candidates fresh.
	StrategyReplace UpdateStrategy = "replace"
)

// Episode tracks what a unit of source content last materialized into
// the graph, so reconciliation can detect no-op updates and knows what
// to remove under the replace strategy.
type Episode struct {
	EpisodeID        string            `json:"episode_id"`
	GroupID          string            `json:"group_id"`
	ContentHash      string            `json:"content_hash"`
	EntityIDs        []string          `json:"entity_ids,omitempty"`
	RelationshipKeys []RelationshipKey `json:"relationship_keys,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the episode.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	clone := *e
	clone.EntityIDs = append([]string(nil), e.EntityIDs...)
	clone.RelationshipKeys = append([]RelationshipKey(nil), e.RelationshipKeys...)
	return &clone
}

// EntityUpdate describes a partial entity update. Nil fields are left
// untouched. A non-nil Properties map is a full replacement: keys
// absent from it are removed from the entity. A non-nil empty Summary
// clears the summary.
type EntityUpdate struct {
	Name       *string        `json:"name,omitempty"`
	Summary    *string        `json:"summary,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// IsZero reports whether the update carries no changes.
func (u EntityUpdate) IsZero() bool {
	return u.Name == nil && u.Summary == nil && u.Properties == nil
}

// ReconcileResult summarizes what one reconciliation pass wrote.
type ReconcileResult struct {
	EpisodeID            string         `json:"episode_id"`
	GroupID              string         `json:"group_id"`
	ContentHash          string         `json:"content_hash"`
	Strategy             UpdateStrategy `json:"strategy"`
	Unchanged            bool           `json:"unchanged"`
	EntitiesAdded        int            `json:"entities_added"`
	EntitiesUpdated      int            `json:"entities_updated"`
	EntitiesRemoved      int            `json:"entities_removed"`
	RelationshipsAdded   int            `json:"relationships_added"`
	RelationshipsUpdated int            `json:"relationships_updated"`
	RelationshipsRemoved int            `json:"relationships_removed"`
}

// PropertiesEqual compares two bounded property maps for equality.
// Numeric values are compared by float64 value so that int and float
// renderings of the same number, which serialization round trips
// produce, compare equal.
func PropertiesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		if !scalarEqual(va, vb) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
