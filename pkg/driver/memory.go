package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

// MemoryDriver implements GraphDriver entirely in memory. It backs
// embedded deployments and tests, and mirrors the Neo4j driver's
// semantics: key uniqueness, identity-only relationship merges, the
// shared soft-delete predicate, and all-or-nothing batches.
type MemoryDriver struct {
	mu            sync.Mutex
	entities      map[entityKey]*types.Entity
	relationships map[types.RelationshipKey]*types.Relationship
	episodes      map[entityKey]*types.Episode
}

type entityKey struct {
	id      string
	groupID string
}

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		entities:      make(map[entityKey]*types.Entity),
		relationships: make(map[types.RelationshipKey]*types.Relationship),
		episodes:      make(map[entityKey]*types.Episode),
	}
}

// CreateEntity inserts a new entity, failing with a ConflictError if
// the key is already held.
func (m *MemoryDriver) CreateEntity(ctx context.Context, entity *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEntityLocked(entity)
}

func (m *MemoryDriver) createEntityLocked(entity *types.Entity) error {
	key := entityKey{id: entity.ID, groupID: entity.GroupID}
	if _, exists := m.entities[key]; exists {
		return &types.ConflictError{Resource: "entity", ID: entity.ID, GroupID: entity.GroupID}
	}
	m.entities[key] = entity.Clone()
	return nil
}

// GetEntity retrieves an entity by its (id, group_id) key.
func (m *MemoryDriver) GetEntity(ctx context.Context, entityID, groupID string, includeDeleted bool) (*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, exists := m.entities[entityKey{id: entityID, groupID: groupID}]
	if !exists || (entity.Deleted && !includeDeleted) {
		return nil, types.NewNotFoundError("entity", entityID, groupID)
	}
	return entity.Clone(), nil
}

// ListEntitiesByType retrieves entities of one type, bounded by limit.
func (m *MemoryDriver) ListEntitiesByType(ctx context.Context, entityType, groupID string, limit int, includeDeleted bool) ([]*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entities := make([]*types.Entity, 0)
	for _, entity := range m.entities {
		if entity.GroupID != groupID || entity.Type != entityType {
			continue
		}
		if entity.Deleted && !includeDeleted {
			continue
		}
		entities = append(entities, entity.Clone())
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	if len(entities) > limit {
		entities = entities[:limit]
	}
	return entities, nil
}

// UpdateEntity writes the entity's mutable fields over the stored
// active entity.
func (m *MemoryDriver) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntityLocked(entity)
}

func (m *MemoryDriver) updateEntityLocked(entity *types.Entity) error {
	key := entityKey{id: entity.ID, groupID: entity.GroupID}
	existing, exists := m.entities[key]
	if !exists || existing.Deleted {
		return types.NewNotFoundError("entity", entity.ID, entity.GroupID)
	}
	updated := entity.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.Deleted = false
	updated.DeletedAt = nil
	m.entities[key] = updated
	return nil
}

// SoftDeleteEntity tombstones an entity, keeping the original
// deleted_at on repeat calls.
func (m *MemoryDriver) SoftDeleteEntity(ctx context.Context, entityID, groupID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.softDeleteEntityLocked(entityID, groupID, at)
}

func (m *MemoryDriver) softDeleteEntityLocked(entityID, groupID string, at time.Time) error {
	entity, exists := m.entities[entityKey{id: entityID, groupID: groupID}]
	if !exists {
		return types.NewNotFoundError("entity", entityID, groupID)
	}
	if !entity.Deleted {
		entity.Deleted = true
		deletedAt := at
		entity.DeletedAt = &deletedAt
	}
	return nil
}

// RestoreEntity clears an entity's tombstone.
func (m *MemoryDriver) RestoreEntity(ctx context.Context, entityID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, exists := m.entities[entityKey{id: entityID, groupID: groupID}]
	if !exists {
		return types.NewNotFoundError("entity", entityID, groupID)
	}
	entity.Deleted = false
	entity.DeletedAt = nil
	return nil
}

// HardDeleteEntity removes the entity and cascades to every incident
// relationship.
func (m *MemoryDriver) HardDeleteEntity(ctx context.Context, entityID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{id: entityID, groupID: groupID}
	if _, exists := m.entities[key]; !exists {
		return types.NewNotFoundError("entity", entityID, groupID)
	}
	delete(m.entities, key)
	for relKey := range m.relationships {
		if relKey.GroupID == groupID && (relKey.SourceID == entityID || relKey.TargetID == entityID) {
			delete(m.relationships, relKey)
		}
	}
	return nil
}

// UpsertRelationship merges on the identity key only; mutable
// attributes are merged on match.
func (m *MemoryDriver) UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.mergeRelationshipLocked(rel, false)
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

func (m *MemoryDriver) mergeRelationshipLocked(rel *types.Relationship, replace bool) (*types.Relationship, error) {
	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		if _, exists := m.entities[entityKey{id: endpoint, groupID: rel.GroupID}]; !exists {
			return nil, types.NewNotFoundError("entity", endpoint, rel.GroupID)
		}
	}

	now := time.Now().UTC()
	key := rel.Key()
	existing, exists := m.relationships[key]
	if !exists {
		created := rel.Clone()
		created.CreatedAt = now
		created.UpdatedAt = now
		created.Deleted = false
		created.DeletedAt = nil
		if created.Properties == nil {
			created.Properties = map[string]any{}
		}
		m.relationships[key] = created
		return created, nil
	}

	if replace {
		replaced := rel.Clone()
		replaced.CreatedAt = existing.CreatedAt
		replaced.UpdatedAt = now
		replaced.Deleted = false
		replaced.DeletedAt = nil
		if replaced.Properties == nil {
			replaced.Properties = map[string]any{}
		}
		m.relationships[key] = replaced
		return replaced, nil
	}

	// Merge semantics: supplied attributes win, absent ones survive.
	if rel.Subtype != "" {
		existing.Subtype = rel.Subtype
	}
	if rel.Fact != "" {
		existing.Fact = rel.Fact
	}
	if rel.TValid != nil {
		t := *rel.TValid
		existing.TValid = &t
	}
	if rel.TInvalid != nil {
		t := *rel.TInvalid
		existing.TInvalid = &t
	}
	if existing.Properties == nil {
		existing.Properties = map[string]any{}
	}
	for k, v := range rel.Properties {
		existing.Properties[k] = v
	}
	existing.UpdatedAt = now
	return existing, nil
}

// GetRelationship retrieves a relationship by its identity key.
func (m *MemoryDriver) GetRelationship(ctx context.Context, key types.RelationshipKey, includeDeleted bool) (*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, exists := m.relationships[key]
	if !exists || (rel.Deleted && !includeDeleted) {
		return nil, types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	return rel.Clone(), nil
}

// GetRelationships retrieves relationships incident to an entity
// across every kind, tagged with their direction.
func (m *MemoryDriver) GetRelationships(ctx context.Context, entityID, groupID string, direction types.Direction, kinds []string, limit int, includeDeleted bool) ([]*types.RelationshipView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kindSet := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		kindSet[kind] = true
	}

	views := make([]*types.RelationshipView, 0)
	appendMatch := func(rel *types.Relationship, dir types.Direction) {
		if rel.Deleted && !includeDeleted {
			return
		}
		if len(kindSet) > 0 && !kindSet[rel.Kind] {
			return
		}
		otherID := rel.TargetID
		if dir == types.DirectionIncoming {
			otherID = rel.SourceID
		}
		if !includeDeleted {
			if other, exists := m.entities[entityKey{id: otherID, groupID: groupID}]; !exists || other.Deleted {
				return
			}
		}
		views = append(views, &types.RelationshipView{
			Relationship: *rel.Clone(),
			Direction:    dir,
		})
	}

	for key, rel := range m.relationships {
		if key.GroupID != groupID {
			continue
		}
		if key.SourceID == entityID && (direction == types.DirectionOutgoing || direction == types.DirectionBoth) {
			appendMatch(rel, types.DirectionOutgoing)
		}
		if key.TargetID == entityID && (direction == types.DirectionIncoming || direction == types.DirectionBoth) {
			appendMatch(rel, types.DirectionIncoming)
		}
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Kind != views[j].Kind {
			return views[i].Kind < views[j].Kind
		}
		return views[i].Key().String() < views[j].Key().String()
	})
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// SoftDeleteRelationship tombstones a relationship, keeping the
// original deleted_at on repeat calls.
func (m *MemoryDriver) SoftDeleteRelationship(ctx context.Context, key types.RelationshipKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.softDeleteRelationshipLocked(key, at)
}

func (m *MemoryDriver) softDeleteRelationshipLocked(key types.RelationshipKey, at time.Time) error {
	rel, exists := m.relationships[key]
	if !exists {
		return types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	if !rel.Deleted {
		rel.Deleted = true
		deletedAt := at
		rel.DeletedAt = &deletedAt
	}
	return nil
}

// RestoreRelationship clears a relationship's tombstone.
func (m *MemoryDriver) RestoreRelationship(ctx context.Context, key types.RelationshipKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, exists := m.relationships[key]
	if !exists {
		return types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	rel.Deleted = false
	rel.DeletedAt = nil
	return nil
}

// HardDeleteRelationship removes the edge, never its endpoints.
func (m *MemoryDriver) HardDeleteRelationship(ctx context.Context, key types.RelationshipKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.relationships[key]; !exists {
		return types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	delete(m.relationships, key)
	return nil
}

// GetEpisode retrieves an episode record.
func (m *MemoryDriver) GetEpisode(ctx context.Context, episodeID, groupID string) (*types.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	episode, exists := m.episodes[entityKey{id: episodeID, groupID: groupID}]
	if !exists {
		return nil, types.NewNotFoundError("episode", episodeID, groupID)
	}
	return episode.Clone(), nil
}

// UpsertEpisode writes an episode record.
func (m *MemoryDriver) UpsertEpisode(ctx context.Context, episode *types.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertEpisodeLocked(episode)
	return nil
}

func (m *MemoryDriver) upsertEpisodeLocked(episode *types.Episode) {
	now := time.Now().UTC()
	key := entityKey{id: episode.EpisodeID, groupID: episode.GroupID}
	stored := episode.Clone()
	if existing, exists := m.episodes[key]; exists {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.episodes[key] = stored
}

// ApplyBatch applies every mutation atomically: the batch is staged on
// a copy of the store and committed only if every mutation succeeds.
func (m *MemoryDriver) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.snapshotLocked()
	for _, mutation := range mutations {
		if err := staged.applyMutationLocked(mutation); err != nil {
			return &types.StoreError{Op: "apply_batch", Err: err}
		}
	}

	m.entities = staged.entities
	m.relationships = staged.relationships
	m.episodes = staged.episodes
	return nil
}

func (m *MemoryDriver) snapshotLocked() *MemoryDriver {
	staged := NewMemoryDriver()
	for key, entity := range m.entities {
		staged.entities[key] = entity.Clone()
	}
	for key, rel := range m.relationships {
		staged.relationships[key] = rel.Clone()
	}
	for key, episode := range m.episodes {
		staged.episodes[key] = episode.Clone()
	}
	return staged
}

func (m *MemoryDriver) applyMutationLocked(mutation Mutation) error {
	switch mutation.Kind {
	case MutationCreateEntity:
		key := entityKey{id: mutation.Entity.ID, groupID: mutation.Entity.GroupID}
		if _, exists := m.entities[key]; exists {
			// Idempotent create: an existing holder stays untouched.
			return nil
		}
		m.entities[key] = mutation.Entity.Clone()
		return nil
	case MutationPutEntity:
		key := entityKey{id: mutation.Entity.ID, groupID: mutation.Entity.GroupID}
		put := mutation.Entity.Clone()
		put.Deleted = false
		put.DeletedAt = nil
		if existing, exists := m.entities[key]; exists {
			put.CreatedAt = existing.CreatedAt
		}
		m.entities[key] = put
		return nil
	case MutationUpdateEntity:
		return m.updateEntityLocked(mutation.Entity)
	case MutationSoftDeleteEntity:
		return m.softDeleteEntityLocked(mutation.EntityID, mutation.GroupID, mutation.At)
	case MutationMergeRelationship:
		_, err := m.mergeRelationshipLocked(mutation.Relationship, false)
		return err
	case MutationPutRelationship:
		_, err := m.mergeRelationshipLocked(mutation.Relationship, true)
		return err
	case MutationSoftDeleteRelationship:
		return m.softDeleteRelationshipLocked(*mutation.RelationshipKey, mutation.At)
	case MutationUpsertEpisode:
		m.upsertEpisodeLocked(mutation.Episode)
		return nil
	default:
		return fmt.Errorf("unknown mutation kind: %s", mutation.Kind)
	}
}

// SearchEntitiesByEmbedding ranks active entities carrying embeddings
// by cosine similarity against the query vector.
func (m *MemoryDriver) SearchEntitiesByEmbedding(ctx context.Context, embedding []float32, groupID string, entityTypes []string, limit int) ([]*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	typeSet := make(map[string]bool, len(entityTypes))
	for _, entityType := range entityTypes {
		typeSet[entityType] = true
	}

	type scored struct {
		entity *types.Entity
		score  float64
	}
	candidates := make([]scored, 0)
	for _, entity := range m.entities {
		if entity.GroupID != groupID || entity.Deleted || len(entity.Embedding) == 0 {
			continue
		}
		if len(typeSet) > 0 && !typeSet[entity.Type] {
			continue
		}
		candidates = append(candidates, scored{
			entity: entity.Clone(),
			score:  cosineSimilarity(embedding, entity.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	entities := make([]*types.Entity, len(candidates))
	for i, c := range candidates {
		entities[i] = c.entity
	}
	return entities, nil
}

// CreateIndices is a no-op; uniqueness is enforced by map keys.
func (m *MemoryDriver) CreateIndices(ctx context.Context) error {
	return nil
}

// Close releases nothing but satisfies the interface.
func (m *MemoryDriver) Close(ctx context.Context) error {
	return nil
}
