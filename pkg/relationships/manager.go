// Package relationships implements the relationship lifecycle and
// directional retrieval across every structural kind.
package relationships

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/go-graffiti/pkg/driver"
	"github.com/soundprediction/go-graffiti/pkg/types"
	"github.com/soundprediction/go-graffiti/pkg/validation"
)

// Manager coordinates relationship operations. Endpoint existence is
// verified before any edge write so a relationship can never point at
// a missing or soft-deleted entity.
type Manager struct {
	driver driver.GraphDriver
	logger *slog.Logger
}

// NewManager creates a relationship manager.
func NewManager(d driver.GraphDriver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		driver: d,
		logger: logger,
	}
}

// CreateInput carries the fields for a relationship upsert.
type CreateInput struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Kind       string         `json:"kind"`
	Subtype    string         `json:"subtype,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Fact       string         `json:"fact,omitempty"`
	TValid     *time.Time     `json:"t_valid,omitempty"`
	TInvalid   *time.Time     `json:"t_invalid,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
}

// Create validates both endpoints and upserts the relationship by its
// identity key (source, target, kind, group) alone. Mutable attributes
// are applied via set-on-create / set-on-match, so repeated or racing
// calls with differing attribute values still yield exactly one edge
// per identity. On match, supplied properties are merged into the
// existing ones.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*types.Relationship, error) {
	sourceID, err := validation.EntityIDField("source_id", input.SourceID)
	if err != nil {
		return nil, err
	}
	targetID, err := validation.EntityIDField("target_id", input.TargetID)
	if err != nil {
		return nil, err
	}
	kind, err := validation.RelationshipKind(input.Kind)
	if err != nil {
		return nil, err
	}
	properties, err := validation.Properties(input.Properties)
	if err != nil {
		return nil, err
	}
	groupID, err := validation.GroupID(input.GroupID)
	if err != nil {
		return nil, err
	}

	// Soft-deleted endpoints count as missing here; this is what keeps
	// dangling edges out of the graph.
	if _, err := m.driver.GetEntity(ctx, sourceID, groupID, false); err != nil {
		if types.IsNotFound(err) {
			return nil, types.NewNotFoundError("source entity", sourceID, groupID)
		}
		return nil, fmt.Errorf("failed to check source entity %s: %w", sourceID, err)
	}
	if _, err := m.driver.GetEntity(ctx, targetID, groupID, false); err != nil {
		if types.IsNotFound(err) {
			return nil, types.NewNotFoundError("target entity", targetID, groupID)
		}
		return nil, fmt.Errorf("failed to check target entity %s: %w", targetID, err)
	}

	rel := &types.Relationship{
		SourceID:   sourceID,
		TargetID:   targetID,
		Kind:       kind,
		Subtype:    input.Subtype,
		Fact:       input.Fact,
		Properties: properties,
		TValid:     input.TValid,
		TInvalid:   input.TInvalid,
		GroupID:    groupID,
	}
	result, err := m.driver.UpsertRelationship(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert relationship %s: %w", rel.Key(), err)
	}
	return result, nil
}

// Get retrieves relationships incident to an entity. With no kind
// filter, every structural kind is returned in one call; each result
// carries its kind, subtype, full property set, and direction relative
// to the queried entity.
func (m *Manager) Get(ctx context.Context, entityID, groupID string, direction types.Direction, kinds []string, limit int, includeDeleted bool) ([]*types.RelationshipView, error) {
	id, err := validation.EntityID(entityID)
	if err != nil {
		return nil, err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return nil, err
	}
	bounded, err := validation.ListLimit(limit)
	if err != nil {
		return nil, err
	}
	switch direction {
	case types.DirectionOutgoing, types.DirectionIncoming, types.DirectionBoth:
	case "":
		direction = types.DirectionBoth
	default:
		return nil, types.NewValidationError("direction", "must be outgoing, incoming, or both, got %q", direction)
	}

	validatedKinds := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		validated, err := validation.RelationshipKind(kind)
		if err != nil {
			return nil, err
		}
		validatedKinds = append(validatedKinds, validated)
	}

	return m.driver.GetRelationships(ctx, id, group, direction, validatedKinds, bounded, includeDeleted)
}

// SoftDelete tombstones a relationship. Re-deleting is a no-op that
// preserves the original deleted_at.
func (m *Manager) SoftDelete(ctx context.Context, key types.RelationshipKey) error {
	validated, err := m.validateKey(key)
	if err != nil {
		return err
	}
	return m.driver.SoftDeleteRelationship(ctx, validated, time.Now().UTC())
}

// Restore clears a relationship's tombstone.
func (m *Manager) Restore(ctx context.Context, key types.RelationshipKey) error {
	validated, err := m.validateKey(key)
	if err != nil {
		return err
	}
	return m.driver.RestoreRelationship(ctx, validated)
}

// HardDelete removes the edge, never its endpoints.
func (m *Manager) HardDelete(ctx context.Context, key types.RelationshipKey) error {
	validated, err := m.validateKey(key)
	if err != nil {
		return err
	}
	return m.driver.HardDeleteRelationship(ctx, validated)
}

func (m *Manager) validateKey(key types.RelationshipKey) (types.RelationshipKey, error) {
	sourceID, err := validation.EntityIDField("source_id", key.SourceID)
	if err != nil {
		return types.RelationshipKey{}, err
	}
	targetID, err := validation.EntityIDField("target_id", key.TargetID)
	if err != nil {
		return types.RelationshipKey{}, err
	}
	kind, err := validation.RelationshipKind(key.Kind)
	if err != nil {
		return types.RelationshipKey{}, err
	}
	groupID, err := validation.GroupID(key.GroupID)
	if err != nil {
		return types.RelationshipKey{}, err
	}
	return types.RelationshipKey{
		SourceID: sourceID,
		TargetID: targetID,
		Kind:     kind,
		GroupID:  groupID,
	}, nil
}
