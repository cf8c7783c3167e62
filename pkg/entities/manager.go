// Package entities implements the entity lifecycle: create, fetch,
// list, update, soft delete, restore, and hard delete.
package entities

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/go-graffiti/pkg/driver"
	"github.com/soundprediction/go-graffiti/pkg/embedder"
	"github.com/soundprediction/go-graffiti/pkg/types"
	"github.com/soundprediction/go-graffiti/pkg/validation"
)

// Manager coordinates entity operations against the graph store.
// Embedding is delegated to the collaborator and is always best
// effort: a failed embedding never blocks a create or update.
type Manager struct {
	driver   driver.GraphDriver
	embedder embedder.Client
	logger   *slog.Logger
}

// NewManager creates an entity manager. The embedder may be nil, in
// which case entities simply carry no vectors.
func NewManager(d driver.GraphDriver, embedderClient embedder.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		driver:   d,
		embedder: embedderClient,
		logger:   logger,
	}
}

// CreateInput carries the fields for a new entity.
type CreateInput struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
}

// Create upserts an entity by its (id, group_id) key. If an active
// entity already holds the key this is an idempotent no-op returning
// the existing entity; a soft-deleted holder surfaces as a
// ConflictError because the key is not free until hard-deleted.
func (m *Manager) Create(ctx context.Context, input CreateInput) (*types.Entity, error) {
	id, err := validation.EntityID(input.ID)
	if err != nil {
		return nil, err
	}
	entityType, err := validation.EntityType(input.Type)
	if err != nil {
		return nil, err
	}
	name, err := validation.Name(input.Name)
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

	// Check the key before embedding so a duplicate create never pays
	// an embedding-collaborator call.
	existing, err := m.driver.GetEntity(ctx, id, groupID, true)
	switch {
	case err == nil:
		if existing.Deleted {
			return nil, softDeletedHolderConflict(id, groupID)
		}
		m.logger.Debug("entity already exists, returning existing", "entity_id", id, "group_id", groupID)
		return existing, nil
	case !types.IsNotFound(err):
		return nil, fmt.Errorf("failed to check entity %s: %w", id, err)
	}

	now := time.Now().UTC()
	entity := &types.Entity{
		ID:         id,
		Type:       entityType,
		Name:       name,
		Summary:    input.Summary,
		Properties: properties,
		GroupID:    groupID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	entity.Embedding = m.embedText(ctx, embedder.EntityText(name, input.Summary), id)

	if err := m.driver.CreateEntity(ctx, entity); err != nil {
		if !types.IsConflict(err) {
			return nil, fmt.Errorf("failed to create entity %s: %w", id, err)
		}
		// A concurrent writer claimed the key between the check and the
		// insert.
		winner, getErr := m.driver.GetEntity(ctx, id, groupID, true)
		if getErr != nil {
			return nil, err
		}
		if winner.Deleted {
			return nil, softDeletedHolderConflict(id, groupID)
		}
		m.logger.Debug("entity already exists, returning existing", "entity_id", id, "group_id", groupID)
		return winner, nil
	}

	return entity, nil
}

func softDeletedHolderConflict(id, groupID string) *types.ConflictError {
	return &types.ConflictError{
		Resource: "entity",
		ID:       id,
		GroupID:  groupID,
		Message:  "key is held by a soft-deleted entity; restore or hard-delete it first",
	}
}

// Get retrieves an entity. Soft-deleted entities are excluded unless
// includeDeleted is set.
func (m *Manager) Get(ctx context.Context, entityID, groupID string, includeDeleted bool) (*types.Entity, error) {
	id, err := validation.EntityID(entityID)
	if err != nil {
		return nil, err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return nil, err
	}
	return m.driver.GetEntity(ctx, id, group, includeDeleted)
}

// ListByType retrieves entities of one type, bounded by limit.
func (m *Manager) ListByType(ctx context.Context, entityType, groupID string, limit int, includeDeleted bool) ([]*types.Entity, error) {
	typ, err := validation.EntityType(entityType)
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
	return m.driver.ListEntitiesByType(ctx, typ, group, bounded, includeDeleted)
}

// Update applies a partial update. Only supplied fields change; a
// supplied properties map fully replaces the stored one. The embedding
// is regenerated only when the name or summary actually changed.
func (m *Manager) Update(ctx context.Context, entityID, groupID string, update types.EntityUpdate) (*types.Entity, error) {
	id, err := validation.EntityID(entityID)
	if err != nil {
		return nil, err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return nil, err
	}

	entity, err := m.driver.GetEntity(ctx, id, group, false)
	if err != nil {
		return nil, err
	}
	if update.IsZero() {
		return entity, nil
	}

	textChanged := false
	if update.Name != nil {
		name, err := validation.Name(*update.Name)
		if err != nil {
			return nil, err
		}
		if name != entity.Name {
			entity.Name = name
			textChanged = true
		}
	}
	if update.Summary != nil && *update.Summary != entity.Summary {
		entity.Summary = *update.Summary
		textChanged = true
	}
	if update.Properties != nil {
		properties, err := validation.Properties(update.Properties)
		if err != nil {
			return nil, err
		}
		entity.Properties = properties
	}

	if textChanged {
		if embedding := m.embedText(ctx, embedder.EntityText(entity.Name, entity.Summary), id); embedding != nil {
			entity.Embedding = embedding
		}
	}

	entity.UpdatedAt = time.Now().UTC()
	if err := m.driver.UpdateEntity(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// SoftDelete tombstones an entity. Deleting an already-deleted entity
// is a no-op that preserves the original deleted_at.
func (m *Manager) SoftDelete(ctx context.Context, entityID, groupID string) error {
	id, err := validation.EntityID(entityID)
	if err != nil {
		return err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return err
	}
	return m.driver.SoftDeleteEntity(ctx, id, group, time.Now().UTC())
}

// Restore clears an entity's tombstone. It fails with NotFoundError if
// the entity never existed or was hard-deleted.
func (m *Manager) Restore(ctx context.Context, entityID, groupID string) error {
	id, err := validation.EntityID(entityID)
	if err != nil {
		return err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return err
	}
	return m.driver.RestoreEntity(ctx, id, group)
}

// HardDelete irreversibly removes the entity and, in the same
// transaction, every incident relationship.
func (m *Manager) HardDelete(ctx context.Context, entityID, groupID string) error {
	id, err := validation.EntityID(entityID)
	if err != nil {
		return err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return err
	}
	return m.driver.HardDeleteEntity(ctx, id, group)
}

// embedText generates an embedding, logging and returning nil on any
// failure.
func (m *Manager) embedText(ctx context.Context, text, entityID string) []float32 {
	if m.embedder == nil || text == "" {
		return nil
	}
	embedding, err := m.embedder.EmbedSingle(ctx, text)
	if err != nil {
		m.logger.Warn("embedding failed, continuing without vector",
			"entity_id", entityID, "error", &types.EmbeddingError{Err: err})
		return nil
	}
	return embedding
}
