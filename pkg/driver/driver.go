// Package driver defines the GraphDriver capability boundary and its
// implementations. A driver provides upsert-by-key for entities,
// upsert-by-identity with a separate property set for relationships,
// directional pattern queries, and atomic multi-statement batches.
package driver

import (
	"context"
	"time"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

// GraphDriver is the capability surface the managers and the
// reconciliation engine require from a graph store.
//
// Soft-deleted items are excluded from reads unless includeDeleted is
// set; every implementation applies the same deleted predicate on all
// read paths.
type GraphDriver interface {
	// Entity operations.
	//
	// CreateEntity inserts a new entity and returns a ConflictError if
	// the (id, group_id) key is already held, active or soft-deleted.
	CreateEntity(ctx context.Context, entity *types.Entity) error
	GetEntity(ctx context.Context, entityID, groupID string, includeDeleted bool) (*types.Entity, error)
	ListEntitiesByType(ctx context.Context, entityType, groupID string, limit int, includeDeleted bool) ([]*types.Entity, error)
	// UpdateEntity writes the entity's mutable fields (name, summary,
	// properties, embedding, updated_at) over the stored state.
	UpdateEntity(ctx context.Context, entity *types.Entity) error
	// SoftDeleteEntity tombstones the entity. Already-deleted entities
	// are left untouched, preserving the original deleted_at.
	SoftDeleteEntity(ctx context.Context, entityID, groupID string, at time.Time) error
	RestoreEntity(ctx context.Context, entityID, groupID string) error
	// HardDeleteEntity removes the entity and every incident
	// relationship in one transaction.
	HardDeleteEntity(ctx context.Context, entityID, groupID string) error

	// Relationship operations.
	//
	// UpsertRelationship merges on the identity key
	// (source_id, target_id, kind, group_id) only; all mutable
	// attributes are applied via set-on-create / set-on-match, never as
	// part of the match pattern. On match the supplied properties are
	// merged into the existing ones and updated_at is stamped. The
	// resulting relationship is returned.
	UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error)
	GetRelationship(ctx context.Context, key types.RelationshipKey, includeDeleted bool) (*types.Relationship, error)
	// GetRelationships returns relationships incident to the entity.
	// With an empty kinds slice every structural kind is returned in
	// one call; each result is tagged with its direction relative to
	// the queried entity.
	GetRelationships(ctx context.Context, entityID, groupID string, direction types.Direction, kinds []string, limit int, includeDeleted bool) ([]*types.RelationshipView, error)
	SoftDeleteRelationship(ctx context.Context, key types.RelationshipKey, at time.Time) error
	RestoreRelationship(ctx context.Context, key types.RelationshipKey) error
	HardDeleteRelationship(ctx context.Context, key types.RelationshipKey) error

	// Episode operations.
	GetEpisode(ctx context.Context, episodeID, groupID string) (*types.Episode, error)
	UpsertEpisode(ctx context.Context, episode *types.Episode) error

	// ApplyBatch executes the mutations inside a single transaction:
	// either every mutation commits or none do.
	ApplyBatch(ctx context.Context, mutations []Mutation) error

	// Search operations.
	SearchEntitiesByEmbedding(ctx context.Context, embedding []float32, groupID string, entityTypes []string, limit int) ([]*types.Entity, error)

	// Maintenance.
	CreateIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// MutationKind discriminates the operations an atomic batch may carry.
type MutationKind string

const (
	// MutationCreateEntity creates the entity if its key is free and
	// leaves any existing holder untouched.
	MutationCreateEntity MutationKind = "create_entity"
	// MutationPutEntity writes the entity's full state over whatever
	// holds the key, clearing any tombstone.
	MutationPutEntity MutationKind = "put_entity"
	// MutationUpdateEntity overwrites the mutable fields of an existing
	// entity.
	MutationUpdateEntity MutationKind = "update_entity"
	// MutationSoftDeleteEntity tombstones an entity, preserving an
	// existing deleted_at.
	MutationSoftDeleteEntity MutationKind = "soft_delete_entity"
	// MutationMergeRelationship upserts a relationship by identity,
	// merging mutable attributes on match.
	MutationMergeRelationship MutationKind = "merge_relationship"
	// MutationPutRelationship upserts a relationship by identity and
	// writes its full mutable state, clearing any tombstone.
	MutationPutRelationship MutationKind = "put_relationship"
	// MutationSoftDeleteRelationship tombstones a relationship,
	// preserving an existing deleted_at.
	MutationSoftDeleteRelationship MutationKind = "soft_delete_relationship"
	// MutationUpsertEpisode writes an episode record.
	MutationUpsertEpisode MutationKind = "upsert_episode"
)

// Mutation is one write inside an atomic batch. The populated fields
// depend on Kind: entity mutations carry Entity or EntityID/GroupID,
// relationship mutations carry Relationship or RelationshipKey, and
// episode mutations carry Episode. At stamps tombstones.
type Mutation struct {
	Kind            MutationKind
	Entity          *types.Entity
	EntityID        string
	GroupID         string
	Relationship    *types.Relationship
	RelationshipKey *types.RelationshipKey
	Episode         *types.Episode
	At              time.Time
}
