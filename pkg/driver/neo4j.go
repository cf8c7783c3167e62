package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// propPrefix namespaces caller-supplied properties on stored nodes and
// relationships so they can never collide with structural fields.
const propPrefix = "prop_"

// Neo4jDriver implements the GraphDriver interface for Neo4j databases.
//
// Entities are stored as :Entity nodes with the type as an
// entity_type property. Relationships use a single :RELATES_TO
// relationship type with the structural kind as a property, so one
// pattern query spans every kind. Episodes are :Episode nodes.
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver creates a new Neo4j driver instance.
func NewNeo4jDriver(uri, username, password, database string) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	return &Neo4jDriver{
		client:   client,
		database: database,
	}, nil
}

func (n *Neo4jDriver) session(ctx context.Context) neo4j.SessionWithContext {
	return n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
}

// activeFilter is the single soft-delete predicate applied by every
// read path.
func activeFilter(alias string, includeDeleted bool) string {
	if includeDeleted {
		return "true"
	}
	return fmt.Sprintf("(%s.deleted IS NULL OR %s.deleted = false)", alias, alias)
}

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && strings.Contains(neoErr.Code, "ConstraintValidationFailed")
}

// CreateEntity inserts a new entity node. The uniqueness constraint on
// (id, group_id) turns a racing duplicate into a ConflictError.
func (n *Neo4jDriver) CreateEntity(ctx context.Context, entity *types.Entity) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, n.createEntityTx(ctx, tx, entity)
	})
	if err != nil {
		if isConstraintViolation(err) {
			return &types.ConflictError{Resource: "entity", ID: entity.ID, GroupID: entity.GroupID}
		}
		return &types.StoreError{Op: "create_entity", Err: err}
	}
	return nil
}

func (n *Neo4jDriver) createEntityTx(ctx context.Context, tx neo4j.ManagedTransaction, entity *types.Entity) error {
	query := `
		CREATE (n:Entity)
		SET n = $props
	`
	_, err := tx.Run(ctx, query, map[string]any{
		"props": entityToProps(entity),
	})
	return err
}

// GetEntity retrieves an entity by its (id, group_id) key.
func (n *Neo4jDriver) GetEntity(ctx context.Context, entityID, groupID string, includeDeleted bool) (*types.Entity, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MATCH (n:Entity {id: $id, group_id: $group_id})
			WHERE %s
			RETURN n
		`, activeFilter("n", includeDeleted))
		res, err := tx.Run(ctx, query, map[string]any{
			"id":       entityID,
			"group_id": groupID,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StoreError{Op: "get_entity", Err: err}
	}

	records := result.([]*db.Record)
	if len(records) == 0 {
		return nil, types.NewNotFoundError("entity", entityID, groupID)
	}

	nodeValue, _ := records[0].Get("n")
	return entityFromNode(nodeValue.(dbtype.Node)), nil
}

// ListEntitiesByType retrieves entities of one type, bounded by limit.
func (n *Neo4jDriver) ListEntitiesByType(ctx context.Context, entityType, groupID string, limit int, includeDeleted bool) ([]*types.Entity, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MATCH (n:Entity {entity_type: $entity_type, group_id: $group_id})
			WHERE %s
			RETURN n
			ORDER BY n.id
			LIMIT $limit
		`, activeFilter("n", includeDeleted))
		res, err := tx.Run(ctx, query, map[string]any{
			"entity_type": entityType,
			"group_id":    groupID,
			"limit":       limit,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StoreError{Op: "list_entities", Err: err}
	}

	records := result.([]*db.Record)
	entities := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		nodeValue, found := record.Get("n")
		if !found {
			continue
		}
		entities = append(entities, entityFromNode(nodeValue.(dbtype.Node)))
	}
	return entities, nil
}

// UpdateEntity writes the entity's full state over the stored active
// entity. Using a whole-property SET means keys dropped from the
// property map are removed from the store.
func (n *Neo4jDriver) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return n.updateEntityTx(ctx, tx, entity)
	})
	if err != nil {
		return &types.StoreError{Op: "update_entity", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("entity", entity.ID, entity.GroupID)
	}
	return nil
}

func (n *Neo4jDriver) updateEntityTx(ctx context.Context, tx neo4j.ManagedTransaction, entity *types.Entity) (int, error) {
	query := fmt.Sprintf(`
		MATCH (n:Entity {id: $id, group_id: $group_id})
		WHERE %s
		WITH n, n.created_at AS created
		SET n = $props, n.created_at = created
		RETURN count(n) AS updated
	`, activeFilter("n", false))
	res, err := tx.Run(ctx, query, map[string]any{
		"id":       entity.ID,
		"group_id": entity.GroupID,
		"props":    entityToProps(entity),
	})
	if err != nil {
		return 0, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	updated, _ := record.Get("updated")
	return int(updated.(int64)), nil
}

// SoftDeleteEntity tombstones an entity. Re-deleting keeps the
// original deleted_at.
func (n *Neo4jDriver) SoftDeleteEntity(ctx context.Context, entityID, groupID string, at time.Time) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return n.softDeleteEntityTx(ctx, tx, entityID, groupID, at)
	})
	if err != nil {
		return &types.StoreError{Op: "soft_delete_entity", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("entity", entityID, groupID)
	}
	return nil
}

func (n *Neo4jDriver) softDeleteEntityTx(ctx context.Context, tx neo4j.ManagedTransaction, entityID, groupID string, at time.Time) (int, error) {
	query := `
		MATCH (n:Entity {id: $id, group_id: $group_id})
		SET n.deleted = true,
		    n.deleted_at = coalesce(n.deleted_at, $at)
		RETURN count(n) AS updated
	`
	res, err := tx.Run(ctx, query, map[string]any{
		"id":       entityID,
		"group_id": groupID,
		"at":       at.Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	updated, _ := record.Get("updated")
	return int(updated.(int64)), nil
}

// RestoreEntity clears an entity's tombstone.
func (n *Neo4jDriver) RestoreEntity(ctx context.Context, entityID, groupID string) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (n:Entity {id: $id, group_id: $group_id})
			SET n.deleted = false
			REMOVE n.deleted_at
			RETURN count(n) AS updated
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"id":       entityID,
			"group_id": groupID,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		updated, _ := record.Get("updated")
		return int(updated.(int64)), nil
	})
	if err != nil {
		return &types.StoreError{Op: "restore_entity", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("entity", entityID, groupID)
	}
	return nil
}

// HardDeleteEntity removes the entity and every incident relationship
// in one transaction.
func (n *Neo4jDriver) HardDeleteEntity(ctx context.Context, entityID, groupID string) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (n:Entity {id: $id, group_id: $group_id})
			WITH n, count(n) AS found
			DETACH DELETE n
			RETURN found
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"id":       entityID,
			"group_id": groupID,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return len(records), nil
	})
	if err != nil {
		return &types.StoreError{Op: "hard_delete_entity", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("entity", entityID, groupID)
	}
	return nil
}

// UpsertRelationship merges on the identity key only. Mutable
// attributes are applied with set-on-create / set-on-match so racing
// creators can never materialize two edges for one identity.
func (n *Neo4jDriver) UpsertRelationship(ctx context.Context, rel *types.Relationship) (*types.Relationship, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return n.mergeRelationshipTx(ctx, tx, rel, false)
	})
	if err != nil {
		return nil, &types.StoreError{Op: "upsert_relationship", Err: err}
	}

	record, ok := result.(*db.Record)
	if !ok || record == nil {
		return nil, types.NewNotFoundError("entity", rel.SourceID+" or "+rel.TargetID, rel.GroupID)
	}
	relValue, _ := record.Get("r")
	return relationshipFromDB(relValue.(dbtype.Relationship), rel.SourceID, rel.TargetID), nil
}

// mergeRelationshipTx upserts a relationship inside tx. With replace
// set, the full mutable state is written and any tombstone cleared;
// otherwise supplied attributes are merged into existing ones.
func (n *Neo4jDriver) mergeRelationshipTx(ctx context.Context, tx neo4j.ManagedTransaction, rel *types.Relationship, replace bool) (*db.Record, error) {
	now := time.Now().UTC()
	var query string
	params := map[string]any{
		"source_id": rel.SourceID,
		"target_id": rel.TargetID,
		"kind":      rel.Kind,
		"group_id":  rel.GroupID,
		"now":       now.Format(time.RFC3339),
	}

	if replace {
		query = `
			MATCH (s:Entity {id: $source_id, group_id: $group_id})
			MATCH (t:Entity {id: $target_id, group_id: $group_id})
			MERGE (s)-[r:RELATES_TO {kind: $kind, group_id: $group_id}]->(t)
			WITH r, coalesce(r.created_at, $now) AS created
			SET r = $props, r.created_at = created, r.updated_at = $now
			RETURN r
		`
		params["props"] = relationshipToProps(rel)
	} else {
		query = `
			MATCH (s:Entity {id: $source_id, group_id: $group_id})
			MATCH (t:Entity {id: $target_id, group_id: $group_id})
			MERGE (s)-[r:RELATES_TO {kind: $kind, group_id: $group_id}]->(t)
			ON CREATE SET r.created_at = $now, r.deleted = false
			SET r += $attrs, r.updated_at = $now
			RETURN r
		`
		params["attrs"] = relationshipAttrs(rel)
	}

	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GetRelationship retrieves a relationship by its identity key.
func (n *Neo4jDriver) GetRelationship(ctx context.Context, key types.RelationshipKey, includeDeleted bool) (*types.Relationship, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MATCH (s:Entity {id: $source_id, group_id: $group_id})-[r:RELATES_TO {kind: $kind, group_id: $group_id}]->(t:Entity {id: $target_id, group_id: $group_id})
			WHERE %s
			RETURN r
		`, activeFilter("r", includeDeleted))
		res, err := tx.Run(ctx, query, map[string]any{
			"source_id": key.SourceID,
			"target_id": key.TargetID,
			"kind":      key.Kind,
			"group_id":  key.GroupID,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StoreError{Op: "get_relationship", Err: err}
	}

	records := result.([]*db.Record)
	if len(records) == 0 {
		return nil, types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	relValue, _ := records[0].Get("r")
	return relationshipFromDB(relValue.(dbtype.Relationship), key.SourceID, key.TargetID), nil
}

// GetRelationships retrieves relationships incident to an entity.
// Because every edge shares the :RELATES_TO type with the structural
// kind as a property, one query per direction covers all kinds.
func (n *Neo4jDriver) GetRelationships(ctx context.Context, entityID, groupID string, direction types.Direction, kinds []string, limit int, includeDeleted bool) ([]*types.RelationshipView, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	if kinds == nil {
		kinds = []string{}
	}

	outgoingQuery := fmt.Sprintf(`
		MATCH (n:Entity {id: $id, group_id: $group_id})-[r:RELATES_TO {group_id: $group_id}]->(m:Entity)
		WHERE %s AND %s AND (size($kinds) = 0 OR r.kind IN $kinds)
		RETURN r, n.id AS source_id, m.id AS target_id
		LIMIT $limit
	`, activeFilter("r", includeDeleted), activeFilter("m", includeDeleted))
	incomingQuery := fmt.Sprintf(`
		MATCH (n:Entity {id: $id, group_id: $group_id})<-[r:RELATES_TO {group_id: $group_id}]-(m:Entity)
		WHERE %s AND %s AND (size($kinds) = 0 OR r.kind IN $kinds)
		RETURN r, m.id AS source_id, n.id AS target_id
		LIMIT $limit
	`, activeFilter("r", includeDeleted), activeFilter("m", includeDeleted))

	params := map[string]any{
		"id":       entityID,
		"group_id": groupID,
		"kinds":    kinds,
		"limit":    limit,
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		views := make([]*types.RelationshipView, 0)

		if direction == types.DirectionOutgoing || direction == types.DirectionBoth {
			outgoing, err := collectRelationshipViews(ctx, tx, outgoingQuery, params, types.DirectionOutgoing)
			if err != nil {
				return nil, err
			}
			views = append(views, outgoing...)
		}
		if direction == types.DirectionIncoming || direction == types.DirectionBoth {
			incoming, err := collectRelationshipViews(ctx, tx, incomingQuery, params, types.DirectionIncoming)
			if err != nil {
				return nil, err
			}
			views = append(views, incoming...)
		}
		return views, nil
	})
	if err != nil {
		return nil, &types.StoreError{Op: "get_relationships", Err: err}
	}

	views := result.([]*types.RelationshipView)
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func collectRelationshipViews(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any, direction types.Direction) ([]*types.RelationshipView, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*types.RelationshipView, 0, len(records))
	for _, record := range records {
		relValue, found := record.Get("r")
		if !found {
			continue
		}
		sourceID, _ := record.Get("source_id")
		targetID, _ := record.Get("target_id")
		rel := relationshipFromDB(relValue.(dbtype.Relationship), sourceID.(string), targetID.(string))
		views = append(views, &types.RelationshipView{
			Relationship: *rel,
			Direction:    direction,
		})
	}
	return views, nil
}

// SoftDeleteRelationship tombstones a relationship, preserving an
// existing deleted_at.
func (n *Neo4jDriver) SoftDeleteRelationship(ctx context.Context, key types.RelationshipKey, at time.Time) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return n.softDeleteRelationshipTx(ctx, tx, key, at)
	})
	if err != nil {
		return &types.StoreError{Op: "soft_delete_relationship", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	return nil
}

func (n *Neo4jDriver) softDeleteRelationshipTx(ctx context.Context, tx neo4j.ManagedTransaction, key types.RelationshipKey, at time.Time) (int, error) {
	query := `
		MATCH (s:Entity {id: $source_id, group_id: $group_id})-[r:RELATES_TO {kind: $kind, group_id: $group_id}]->(t:Entity {id: $target_id, group_id: $group_id})
		SET r.deleted = true,
		    r.deleted_at = coalesce(r.deleted_at, $at)
		RETURN count(r) AS updated
	`
	res, err := tx.Run(ctx, query, map[string]any{
		"source_id": key.SourceID,
		"target_id": key.TargetID,
		"kind":      key.Kind,
		"group_id":  key.GroupID,
		"at":        at.Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	updated, _ := record.Get("updated")
	return int(updated.(int64)), nil
}

// RestoreRelationship clears a relationship's tombstone.
func (n *Neo4jDriver) RestoreRelationship(ctx context.Context, key types.RelationshipKey) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (s:Entity {id: $source_id, group_id: $group_id})-[r:RELATES_TO {kind: $kind, group_id: $group_id}]->(t:Entity {id: $target_id, group_id: $group_id})
			SET r.deleted = false
			REMOVE r.deleted_at
			RETURN count(r) AS updated
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"source_id": key.SourceID,
			"target_id": key.TargetID,
			"kind":      key.Kind,
			"group_id":  key.GroupID,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		updated, _ := record.Get("updated")
		return int(updated.(int64)), nil
	})
	if err != nil {
		return &types.StoreError{Op: "restore_relationship", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	return nil
}

// HardDeleteRelationship removes the edge, never its endpoints.
func (n *Neo4jDriver) HardDeleteRelationship(ctx context.Context, key types.RelationshipKey) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (s:Entity {id: $source_id, group_id: $group_id})-[r:RELATES_TO {kind: $kind, group_id: $group_id}]->(t:Entity {id: $target_id, group_id: $group_id})
			WITH r, count(r) AS found
			DELETE r
			RETURN found
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"source_id": key.SourceID,
			"target_id": key.TargetID,
			"kind":      key.Kind,
			"group_id":  key.GroupID,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return len(records), nil
	})
	if err != nil {
		return &types.StoreError{Op: "hard_delete_relationship", Err: err}
	}
	if result.(int) == 0 {
		return types.NewNotFoundError("relationship", key.String(), key.GroupID)
	}
	return nil
}

// GetEpisode retrieves an episode record.
func (n *Neo4jDriver) GetEpisode(ctx context.Context, episodeID, groupID string) (*types.Episode, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (e:Episode {episode_id: $episode_id, group_id: $group_id})
			RETURN e
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"episode_id": episodeID,
			"group_id":   groupID,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StoreError{Op: "get_episode", Err: err}
	}

	records := result.([]*db.Record)
	if len(records) == 0 {
		return nil, types.NewNotFoundError("episode", episodeID, groupID)
	}
	nodeValue, _ := records[0].Get("e")
	return episodeFromNode(nodeValue.(dbtype.Node)), nil
}

// UpsertEpisode writes an episode record.
func (n *Neo4jDriver) UpsertEpisode(ctx context.Context, episode *types.Episode) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, n.upsertEpisodeTx(ctx, tx, episode)
	})
	if err != nil {
		return &types.StoreError{Op: "upsert_episode", Err: err}
	}
	return nil
}

func (n *Neo4jDriver) upsertEpisodeTx(ctx context.Context, tx neo4j.ManagedTransaction, episode *types.Episode) error {
	entityIDs, err := json.Marshal(episode.EntityIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal entity ids: %w", err)
	}
	relationshipKeys, err := json.Marshal(episode.RelationshipKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal relationship keys: %w", err)
	}

	query := `
		MERGE (e:Episode {episode_id: $episode_id, group_id: $group_id})
		ON CREATE SET e.created_at = $now
		SET e.content_hash = $content_hash,
		    e.entity_ids = $entity_ids,
		    e.relationship_keys = $relationship_keys,
		    e.updated_at = $now
	`
	_, err = tx.Run(ctx, query, map[string]any{
		"episode_id":        episode.EpisodeID,
		"group_id":          episode.GroupID,
		"content_hash":      episode.ContentHash,
		"entity_ids":        string(entityIDs),
		"relationship_keys": string(relationshipKeys),
		"now":               time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

// ApplyBatch executes every mutation inside one managed write
// transaction; a failure rolls back the whole batch.
func (n *Neo4jDriver) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	session := n.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, m := range mutations {
			if err := n.applyMutationTx(ctx, tx, m); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return &types.StoreError{Op: "apply_batch", Err: err}
	}
	return nil
}

func (n *Neo4jDriver) applyMutationTx(ctx context.Context, tx neo4j.ManagedTransaction, m Mutation) error {
	switch m.Kind {
	case MutationCreateEntity:
		// Idempotent create: an existing holder of the key, active or
		// tombstoned, is left untouched.
		query := `
			MERGE (n:Entity {id: $id, group_id: $group_id})
			ON CREATE SET n = $props
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"id":       m.Entity.ID,
			"group_id": m.Entity.GroupID,
			"props":    entityToProps(m.Entity),
		})
		return err
	case MutationPutEntity:
		query := `
			MERGE (n:Entity {id: $id, group_id: $group_id})
			WITH n, coalesce(n.created_at, $now) AS created
			SET n = $props, n.created_at = created
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"id":       m.Entity.ID,
			"group_id": m.Entity.GroupID,
			"props":    entityToProps(m.Entity),
			"now":      time.Now().UTC().Format(time.RFC3339),
		})
		return err
	case MutationUpdateEntity:
		_, err := n.updateEntityTx(ctx, tx, m.Entity)
		return err
	case MutationSoftDeleteEntity:
		_, err := n.softDeleteEntityTx(ctx, tx, m.EntityID, m.GroupID, m.At)
		return err
	case MutationMergeRelationship:
		_, err := n.mergeRelationshipTx(ctx, tx, m.Relationship, false)
		return err
	case MutationPutRelationship:
		_, err := n.mergeRelationshipTx(ctx, tx, m.Relationship, true)
		return err
	case MutationSoftDeleteRelationship:
		_, err := n.softDeleteRelationshipTx(ctx, tx, *m.RelationshipKey, m.At)
		return err
	case MutationUpsertEpisode:
		return n.upsertEpisodeTx(ctx, tx, m.Episode)
	default:
		return fmt.Errorf("unknown mutation kind: %s", m.Kind)
	}
}

// SearchEntitiesByEmbedding ranks active entities carrying embeddings
// by cosine similarity against the query vector.
func (n *Neo4jDriver) SearchEntitiesByEmbedding(ctx context.Context, embedding []float32, groupID string, entityTypes []string, limit int) ([]*types.Entity, error) {
	session := n.session(ctx)
	defer session.Close(ctx)

	if entityTypes == nil {
		entityTypes = []string{}
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			MATCH (n:Entity {group_id: $group_id})
			WHERE %s
			  AND n.embedding IS NOT NULL
			  AND (size($entity_types) = 0 OR n.entity_type IN $entity_types)
			RETURN n
		`, activeFilter("n", false))
		res, err := tx.Run(ctx, query, map[string]any{
			"group_id":     groupID,
			"entity_types": entityTypes,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, &types.StoreError{Op: "search_entities", Err: err}
	}

	records := result.([]*db.Record)
	type scored struct {
		entity *types.Entity
		score  float64
	}
	candidates := make([]scored, 0, len(records))
	for _, record := range records {
		nodeValue, found := record.Get("n")
		if !found {
			continue
		}
		entity := entityFromNode(nodeValue.(dbtype.Node))
		if len(entity.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{
			entity: entity,
			score:  cosineSimilarity(embedding, entity.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	entities := make([]*types.Entity, len(candidates))
	for i, c := range candidates {
		entities[i] = c.entity
	}
	return entities, nil
}

// CreateIndices creates the uniqueness constraints and indexes the
// consistency layer relies on.
func (n *Neo4jDriver) CreateIndices(ctx context.Context) error {
	session := n.session(ctx)
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT entity_id_group IF NOT EXISTS FOR (n:Entity) REQUIRE (n.id, n.group_id) IS UNIQUE`,
		`CREATE CONSTRAINT episode_id_group IF NOT EXISTS FOR (e:Episode) REQUIRE (e.episode_id, e.group_id) IS UNIQUE`,
		`CREATE INDEX entity_type_idx IF NOT EXISTS FOR (n:Entity) ON (n.entity_type)`,
		`CREATE INDEX entity_group_idx IF NOT EXISTS FOR (n:Entity) ON (n.group_id)`,
		`CREATE INDEX relates_to_kind_idx IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON (r.kind)`,
	}

	for _, statement := range statements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, statement, nil)
			return nil, err
		})
		if err != nil {
			return &types.StoreError{Op: "create_indices", Err: err}
		}
	}
	return nil
}

// Close shuts down the underlying driver.
func (n *Neo4jDriver) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

func entityToProps(entity *types.Entity) map[string]any {
	props := map[string]any{
		"id":          entity.ID,
		"group_id":    entity.GroupID,
		"entity_type": entity.Type,
		"name":        entity.Name,
		"created_at":  entity.CreatedAt.Format(time.RFC3339),
		"updated_at":  entity.UpdatedAt.Format(time.RFC3339),
		"deleted":     entity.Deleted,
	}
	if entity.Summary != "" {
		props["summary"] = entity.Summary
	}
	if entity.DeletedAt != nil {
		props["deleted_at"] = entity.DeletedAt.Format(time.RFC3339)
	}
	if len(entity.Embedding) > 0 {
		if embeddingJSON, err := json.Marshal(entity.Embedding); err == nil {
			props["embedding"] = string(embeddingJSON)
		}
	}
	for key, value := range entity.Properties {
		props[propPrefix+key] = value
	}
	return props
}

func entityFromNode(node dbtype.Node) *types.Entity {
	props := node.Props
	result := &types.Entity{Properties: map[string]any{}}

	if id, ok := props["id"].(string); ok {
		result.ID = id
	}
	if groupID, ok := props["group_id"].(string); ok {
		result.GroupID = groupID
	}
	if entityType, ok := props["entity_type"].(string); ok {
		result.Type = entityType
	}
	if name, ok := props["name"].(string); ok {
		result.Name = name
	}
	if summary, ok := props["summary"].(string); ok {
		result.Summary = summary
	}
	if deleted, ok := props["deleted"].(bool); ok {
		result.Deleted = deleted
	}

	if createdAtStr, ok := props["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, createdAtStr); err == nil {
			result.CreatedAt = t
		}
	}
	if updatedAtStr, ok := props["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, updatedAtStr); err == nil {
			result.UpdatedAt = t
		}
	}
	if deletedAtStr, ok := props["deleted_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, deletedAtStr); err == nil {
			result.DeletedAt = &t
		}
	}

	if embeddingJSON, ok := props["embedding"].(string); ok {
		var embedding []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &embedding); err == nil {
			result.Embedding = embedding
		}
	}

	for key, value := range props {
		if strings.HasPrefix(key, propPrefix) {
			result.Properties[strings.TrimPrefix(key, propPrefix)] = value
		}
	}

	return result
}

// relationshipAttrs builds the set-on-match attribute map: only
// supplied attributes are written, so an upsert merges rather than
// replaces.
func relationshipAttrs(rel *types.Relationship) map[string]any {
	attrs := map[string]any{}
	if rel.Subtype != "" {
		attrs["subtype"] = rel.Subtype
	}
	if rel.Fact != "" {
		attrs["fact"] = rel.Fact
	}
	if rel.TValid != nil {
		attrs["t_valid"] = rel.TValid.Format(time.RFC3339)
	}
	if rel.TInvalid != nil {
		attrs["t_invalid"] = rel.TInvalid.Format(time.RFC3339)
	}
	for key, value := range rel.Properties {
		attrs[propPrefix+key] = value
	}
	return attrs
}

// relationshipToProps builds the full mutable state of the edge,
// including the identity fields a whole-property SET must preserve.
func relationshipToProps(rel *types.Relationship) map[string]any {
	props := map[string]any{
		"kind":     rel.Kind,
		"group_id": rel.GroupID,
		"deleted":  false,
	}
	if rel.Subtype != "" {
		props["subtype"] = rel.Subtype
	}
	if rel.Fact != "" {
		props["fact"] = rel.Fact
	}
	if rel.TValid != nil {
		props["t_valid"] = rel.TValid.Format(time.RFC3339)
	}
	if rel.TInvalid != nil {
		props["t_invalid"] = rel.TInvalid.Format(time.RFC3339)
	}
	for key, value := range rel.Properties {
		props[propPrefix+key] = value
	}
	return props
}

func relationshipFromDB(rel dbtype.Relationship, sourceID, targetID string) *types.Relationship {
	props := rel.Props
	result := &types.Relationship{
		SourceID:   sourceID,
		TargetID:   targetID,
		Properties: map[string]any{},
	}

	if kind, ok := props["kind"].(string); ok {
		result.Kind = kind
	}
	if groupID, ok := props["group_id"].(string); ok {
		result.GroupID = groupID
	}
	if subtype, ok := props["subtype"].(string); ok {
		result.Subtype = subtype
	}
	if fact, ok := props["fact"].(string); ok {
		result.Fact = fact
	}
	if deleted, ok := props["deleted"].(bool); ok {
		result.Deleted = deleted
	}

	if createdAtStr, ok := props["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, createdAtStr); err == nil {
			result.CreatedAt = t
		}
	}
	if updatedAtStr, ok := props["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, updatedAtStr); err == nil {
			result.UpdatedAt = t
		}
	}
	if deletedAtStr, ok := props["deleted_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, deletedAtStr); err == nil {
			result.DeletedAt = &t
		}
	}
	if tValidStr, ok := props["t_valid"].(string); ok {
		if t, err := time.Parse(time.RFC3339, tValidStr); err == nil {
			result.TValid = &t
		}
	}
	if tInvalidStr, ok := props["t_invalid"].(string); ok {
		if t, err := time.Parse(time.RFC3339, tInvalidStr); err == nil {
			result.TInvalid = &t
		}
	}

	for key, value := range props {
		if strings.HasPrefix(key, propPrefix) {
			result.Properties[strings.TrimPrefix(key, propPrefix)] = value
		}
	}

	return result
}

func episodeFromNode(node dbtype.Node) *types.Episode {
	props := node.Props
	result := &types.Episode{}

	if episodeID, ok := props["episode_id"].(string); ok {
		result.EpisodeID = episodeID
	}
	if groupID, ok := props["group_id"].(string); ok {
		result.GroupID = groupID
	}
	if contentHash, ok := props["content_hash"].(string); ok {
		result.ContentHash = contentHash
	}
	if entityIDsJSON, ok := props["entity_ids"].(string); ok {
		var entityIDs []string
		if err := json.Unmarshal([]byte(entityIDsJSON), &entityIDs); err == nil {
			result.EntityIDs = entityIDs
		}
	}
	if keysJSON, ok := props["relationship_keys"].(string); ok {
		var keys []types.RelationshipKey
		if err := json.Unmarshal([]byte(keysJSON), &keys); err == nil {
			result.RelationshipKeys = keys
		}
	}
	if createdAtStr, ok := props["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, createdAtStr); err == nil {
			result.CreatedAt = t
		}
	}
	if updatedAtStr, ok := props["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, updatedAtStr); err == nil {
			result.UpdatedAt = t
		}
	}

	return result
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
