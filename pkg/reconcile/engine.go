// Package reconcile keeps the graph's representation of an episode's
// content synchronized with that content, writing only what changed.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/go-graffiti/pkg/driver"
	"github.com/soundprediction/go-graffiti/pkg/embedder"
	"github.com/soundprediction/go-graffiti/pkg/extraction"
	"github.com/soundprediction/go-graffiti/pkg/types"
	"github.com/soundprediction/go-graffiti/pkg/validation"
)

// Config carries the engine's settings. All reconciliation behavior is
// configured here rather than through process-wide state.
type Config struct {
	// Strategy is the default update strategy when a caller passes none.
	// Empty means incremental.
	Strategy types.UpdateStrategy
	Logger   *slog.Logger
}

// Engine computes and applies a minimal diff between an episode's prior
// materialization and the candidates extracted from its new content.
// Extraction and embedding happen outside the store transaction; only
// the final mutation batch is transactional.
type Engine struct {
	driver    driver.GraphDriver
	extractor extraction.Extractor
	embedder  embedder.Client
	strategy  types.UpdateStrategy
	logger    *slog.Logger
}

// NewEngine creates a reconciliation engine. The embedder may be nil.
func NewEngine(d driver.GraphDriver, extractor extraction.Extractor, embedderClient embedder.Client, cfg Config) *Engine {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = types.StrategyIncremental
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		driver:    d,
		extractor: extractor,
		embedder:  embedderClient,
		strategy:  strategy,
		logger:    logger,
	}
}

// ContentHash returns the digest used to detect unchanged content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Reconcile runs one pass for the episode: short-circuit on unchanged
// content, extract, dedupe, diff against the prior materialization, and
// apply every resulting mutation in a single transaction.
func (e *Engine) Reconcile(ctx context.Context, episodeID, content string, strategy types.UpdateStrategy, groupID string) (*types.ReconcileResult, error) {
	id, err := validation.EntityIDField("episode_id", episodeID)
	if err != nil {
		return nil, err
	}
	group, err := validation.GroupID(groupID)
	if err != nil {
		return nil, err
	}
	switch strategy {
	case types.StrategyIncremental, types.StrategyReplace:
	case "":
		strategy = e.strategy
	default:
		return nil, types.NewValidationError("strategy", "must be incremental or replace, got %q", strategy)
	}

	hash := ContentHash(content)
	result := &types.ReconcileResult{
		EpisodeID:   id,
		GroupID:     group,
		ContentHash: hash,
		Strategy:    strategy,
	}

	prior, err := e.driver.GetEpisode(ctx, id, group)
	if err != nil && !types.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load episode %s: %w", id, err)
	}
	if prior != nil && prior.ContentHash == hash {
		e.logger.Debug("content unchanged, skipping reconciliation", "episode_id", id, "group_id", group)
		result.Unchanged = true
		return result, nil
	}

	extracted, err := e.extractor.Extract(ctx, content)
	if err != nil {
		return nil, err
	}

	candidates, err := e.buildCandidates(ctx, extracted, group)
	if err != nil {
		return nil, err
	}

	priorEntities, priorRelationships, err := e.loadPrior(ctx, prior, group)
	if err != nil {
		return nil, err
	}

	var mutations []driver.Mutation
	now := time.Now().UTC()
	switch strategy {
	case types.StrategyReplace:
		mutations = e.planReplace(ctx, candidates, prior, priorEntities, priorRelationships, now, result)
	default:
		mutations = e.planIncremental(ctx, candidates, priorEntities, priorRelationships, now, result)
	}

	episode := &types.Episode{
		EpisodeID:        id,
		GroupID:          group,
		ContentHash:      hash,
		EntityIDs:        candidates.entityIDs,
		RelationshipKeys: candidates.relationshipKeys,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if prior != nil {
		episode.CreatedAt = prior.CreatedAt
	}
	mutations = append(mutations, driver.Mutation{Kind: driver.MutationUpsertEpisode, Episode: episode})

	if err := e.driver.ApplyBatch(ctx, mutations); err != nil {
		return nil, fmt.Errorf("failed to apply reconciliation for episode %s: %w", id, err)
	}

	e.logger.Info("reconciliation applied",
		"episode_id", id, "group_id", group, "strategy", string(strategy),
		"entities_added", result.EntitiesAdded, "entities_updated", result.EntitiesUpdated,
		"entities_removed", result.EntitiesRemoved,
		"relationships_added", result.RelationshipsAdded,
		"relationships_updated", result.RelationshipsUpdated,
		"relationships_removed", result.RelationshipsRemoved)
	return result, nil
}

// candidateSet is the validated, deduplicated output of one extraction.
type candidateSet struct {
	entities         map[string]*types.Entity
	entityIDs        []string
	relationships    map[types.RelationshipKey]*types.Relationship
	relationshipKeys []types.RelationshipKey
}

// buildCandidates validates every extracted candidate and deduplicates
// by natural identity: entity id, and (source, target, kind) for
// relationships. Extraction may emit the same fact more than once.
func (e *Engine) buildCandidates(ctx context.Context, extracted *extraction.Result, group string) (*candidateSet, error) {
	set := &candidateSet{
		entities:      make(map[string]*types.Entity, len(extracted.Entities)),
		relationships: make(map[types.RelationshipKey]*types.Relationship, len(extracted.Relationships)),
	}

	for _, candidate := range extracted.Entities {
		entityID, err := validation.EntityID(candidate.EntityID)
		if err != nil {
			return nil, err
		}
		entityType, err := validation.EntityType(candidate.EntityType)
		if err != nil {
			return nil, err
		}
		name, err := validation.Name(candidate.Name)
		if err != nil {
			return nil, err
		}
		properties, err := validation.Properties(candidate.Properties)
		if err != nil {
			return nil, err
		}
		if _, seen := set.entities[entityID]; seen {
			continue
		}
		set.entities[entityID] = &types.Entity{
			ID:         entityID,
			Type:       entityType,
			Name:       name,
			Summary:    candidate.Summary,
			Properties: properties,
			GroupID:    group,
		}
		set.entityIDs = append(set.entityIDs, entityID)
	}

	for _, candidate := range extracted.Relationships {
		sourceID, err := validation.EntityIDField("source_entity_id", candidate.SourceEntityID)
		if err != nil {
			return nil, err
		}
		targetID, err := validation.EntityIDField("target_entity_id", candidate.TargetEntityID)
		if err != nil {
			return nil, err
		}
		kind, err := validation.RelationshipKind(candidate.RelationshipType)
		if err != nil {
			return nil, err
		}
		properties, err := validation.Properties(candidate.Properties)
		if err != nil {
			return nil, err
		}
		if _, declared := set.entities[sourceID]; !declared {
			e.logger.Warn("dropping relationship candidate with undeclared source",
				"source_id", sourceID, "kind", kind)
			continue
		}
		if _, declared := set.entities[targetID]; !declared {
			e.logger.Warn("dropping relationship candidate with undeclared target",
				"target_id", targetID, "kind", kind)
			continue
		}
		key := types.RelationshipKey{SourceID: sourceID, TargetID: targetID, Kind: kind, GroupID: group}
		if _, seen := set.relationships[key]; seen {
			continue
		}
		set.relationships[key] = &types.Relationship{
			SourceID:   sourceID,
			TargetID:   targetID,
			Kind:       kind,
			Subtype:    candidate.Subtype,
			Fact:       candidate.Fact,
			Properties: properties,
			GroupID:    group,
		}
		set.relationshipKeys = append(set.relationshipKeys, key)
	}

	return set, nil
}

// loadPrior fetches the active entities and relationships the episode
// last materialized. Items hard-deleted or tombstoned since then are
// simply no longer ours to manage.
func (e *Engine) loadPrior(ctx context.Context, prior *types.Episode, group string) (map[string]*types.Entity, map[types.RelationshipKey]*types.Relationship, error) {
	entities := make(map[string]*types.Entity)
	relationships := make(map[types.RelationshipKey]*types.Relationship)
	if prior == nil {
		return entities, relationships, nil
	}

	for _, entityID := range prior.EntityIDs {
		entity, err := e.driver.GetEntity(ctx, entityID, group, false)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to load prior entity %s: %w", entityID, err)
		}
		entities[entityID] = entity
	}
	for _, key := range prior.RelationshipKeys {
		rel, err := e.driver.GetRelationship(ctx, key, false)
		if err != nil {
			if types.IsNotFound(err) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to load prior relationship %s: %w", key, err)
		}
		relationships[key] = rel
	}
	return entities, relationships, nil
}

// planIncremental emits mutations only for candidates classified added
// or modified and prior items classified removed. Unchanged items get
// no mutation at all, so their updated_at never moves.
func (e *Engine) planIncremental(ctx context.Context, candidates *candidateSet, priorEntities map[string]*types.Entity, priorRelationships map[types.RelationshipKey]*types.Relationship, now time.Time, result *types.ReconcileResult) []driver.Mutation {
	var mutations []driver.Mutation

	for _, entityID := range candidates.entityIDs {
		candidate := candidates.entities[entityID]
		prior, existed := priorEntities[entityID]
		if !existed {
			added := candidate.Clone()
			added.CreatedAt = now
			added.UpdatedAt = now
			added.Embedding = e.embedText(ctx, embedder.EntityText(added.Name, added.Summary), entityID)
			mutations = append(mutations, driver.Mutation{Kind: driver.MutationCreateEntity, Entity: added})
			result.EntitiesAdded++
			continue
		}

		textChanged := candidate.Name != prior.Name || candidate.Summary != prior.Summary
		if !textChanged && types.PropertiesEqual(candidate.Properties, prior.Properties) {
			continue
		}
		updated := prior.Clone()
		updated.Name = candidate.Name
		updated.Summary = candidate.Summary
		updated.Properties = candidate.Properties
		updated.UpdatedAt = now
		if textChanged {
			if embedding := e.embedText(ctx, embedder.EntityText(updated.Name, updated.Summary), entityID); embedding != nil {
				updated.Embedding = embedding
			}
		}
		mutations = append(mutations, driver.Mutation{Kind: driver.MutationUpdateEntity, Entity: updated})
		result.EntitiesUpdated++
	}

	for entityID := range priorEntities {
		if _, kept := candidates.entities[entityID]; kept {
			continue
		}
		mutations = append(mutations, driver.Mutation{
			Kind: driver.MutationSoftDeleteEntity, EntityID: entityID, GroupID: result.GroupID, At: now,
		})
		result.EntitiesRemoved++
	}

	for _, key := range candidates.relationshipKeys {
		candidate := candidates.relationships[key]
		prior, existed := priorRelationships[key]
		if !existed {
			added := candidate.Clone()
			added.CreatedAt = now
			added.UpdatedAt = now
			mutations = append(mutations, driver.Mutation{Kind: driver.MutationMergeRelationship, Relationship: added})
			result.RelationshipsAdded++
			continue
		}
		if candidate.Fact == prior.Fact && candidate.Subtype == prior.Subtype &&
			types.PropertiesEqual(candidate.Properties, prior.Properties) {
			continue
		}
		updated := prior.Clone()
		updated.Subtype = candidate.Subtype
		updated.Fact = candidate.Fact
		updated.Properties = candidate.Properties
		updated.UpdatedAt = now
		mutations = append(mutations, driver.Mutation{Kind: driver.MutationPutRelationship, Relationship: updated})
		result.RelationshipsUpdated++
	}

	for key := range priorRelationships {
		if _, kept := candidates.relationships[key]; kept {
			continue
		}
		keyCopy := key
		mutations = append(mutations, driver.Mutation{
			Kind: driver.MutationSoftDeleteRelationship, RelationshipKey: &keyCopy, At: now,
		})
		result.RelationshipsRemoved++
	}

	return mutations
}

// planReplace soft-deletes everything previously attributed to the
// episode, then writes every candidate fresh. Candidates overlapping
// the prior set are revived by the put mutations later in the same
// batch, so ordering within the batch matters: deletes first.
func (e *Engine) planReplace(ctx context.Context, candidates *candidateSet, prior *types.Episode, priorEntities map[string]*types.Entity, priorRelationships map[types.RelationshipKey]*types.Relationship, now time.Time, result *types.ReconcileResult) []driver.Mutation {
	var mutations []driver.Mutation

	for key := range priorRelationships {
		keyCopy := key
		mutations = append(mutations, driver.Mutation{
			Kind: driver.MutationSoftDeleteRelationship, RelationshipKey: &keyCopy, At: now,
		})
		if _, kept := candidates.relationships[key]; !kept {
			result.RelationshipsRemoved++
		}
	}
	for entityID := range priorEntities {
		mutations = append(mutations, driver.Mutation{
			Kind: driver.MutationSoftDeleteEntity, EntityID: entityID, GroupID: result.GroupID, At: now,
		})
		if _, kept := candidates.entities[entityID]; !kept {
			result.EntitiesRemoved++
		}
	}

	for _, entityID := range candidates.entityIDs {
		fresh := candidates.entities[entityID].Clone()
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		fresh.Embedding = e.embedText(ctx, embedder.EntityText(fresh.Name, fresh.Summary), entityID)
		mutations = append(mutations, driver.Mutation{Kind: driver.MutationPutEntity, Entity: fresh})
		result.EntitiesAdded++
	}
	for _, key := range candidates.relationshipKeys {
		fresh := candidates.relationships[key].Clone()
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		mutations = append(mutations, driver.Mutation{Kind: driver.MutationPutRelationship, Relationship: fresh})
		result.RelationshipsAdded++
	}

	return mutations
}

// embedText generates an embedding, logging and returning nil on any
// failure. Embedding happens before the transactional write and never
// blocks it.
func (e *Engine) embedText(ctx context.Context, text, entityID string) []float32 {
	if e.embedder == nil || text == "" {
		return nil
	}
	embedding, err := e.embedder.EmbedSingle(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed, continuing without vector",
			"entity_id", entityID, "error", &types.EmbeddingError{Err: err})
		return nil
	}
	return embedding
}
