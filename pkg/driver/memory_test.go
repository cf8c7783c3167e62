package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

func newEntity(id, entityType, name, groupID string) *types.Entity {
	now := time.Now().UTC()
	return &types.Entity{
		ID:        id,
		Type:      entityType,
		Name:      name,
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryDriverCreateEntityConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()

	require.NoError(t, store.CreateEntity(ctx, newEntity("e1", "Person", "Alice", "acme")))

	err := store.CreateEntity(ctx, newEntity("e1", "Person", "Alice again", "acme"))
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	// The same id in another group is a distinct key.
	require.NoError(t, store.CreateEntity(ctx, newEntity("e1", "Person", "Alice", "other")))
}

func TestMemoryDriverSoftDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("e1", "Person", "Alice", "acme")))

	first := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.SoftDeleteEntity(ctx, "e1", "acme", first))
	require.NoError(t, store.SoftDeleteEntity(ctx, "e1", "acme", first.Add(time.Hour)))

	entity, err := store.GetEntity(ctx, "e1", "acme", true)
	require.NoError(t, err)
	assert.True(t, entity.Deleted)
	require.NotNil(t, entity.DeletedAt)
	assert.Equal(t, first, *entity.DeletedAt)

	_, err = store.GetEntity(ctx, "e1", "acme", false)
	assert.True(t, types.IsNotFound(err))

	require.NoError(t, store.RestoreEntity(ctx, "e1", "acme"))
	restored, err := store.GetEntity(ctx, "e1", "acme", false)
	require.NoError(t, err)
	assert.False(t, restored.Deleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, "Alice", restored.Name)
}

func TestMemoryDriverUpsertRelationshipSingleEdge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("a", "Person", "A", "acme")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("b", "Company", "B", "acme")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpsertRelationship(ctx, &types.Relationship{
				SourceID:   "a",
				TargetID:   "b",
				Kind:       "WORKS_AT",
				GroupID:    "acme",
				Properties: map[string]any{"attempt": i},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	views, err := store.GetRelationships(ctx, "a", "acme", types.DirectionOutgoing, nil, 100, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "WORKS_AT", views[0].Kind)
}

func TestMemoryDriverUpsertRelationshipMergesAttributes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("a", "Person", "A", "acme")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("b", "Company", "B", "acme")))

	_, err := store.UpsertRelationship(ctx, &types.Relationship{
		SourceID:   "a",
		TargetID:   "b",
		Kind:       "WORKS_AT",
		Subtype:    "full_time",
		GroupID:    "acme",
		Properties: map[string]any{"since": "2024", "team": "infra"},
	})
	require.NoError(t, err)

	// A second upsert with the same identity merges rather than
	// replaces, and never creates a second edge.
	merged, err := store.UpsertRelationship(ctx, &types.Relationship{
		SourceID:   "a",
		TargetID:   "b",
		Kind:       "WORKS_AT",
		GroupID:    "acme",
		Properties: map[string]any{"team": "platform"},
	})
	require.NoError(t, err)
	assert.Equal(t, "full_time", merged.Subtype)
	assert.Equal(t, "2024", merged.Properties["since"])
	assert.Equal(t, "platform", merged.Properties["team"])

	views, err := store.GetRelationships(ctx, "a", "acme", types.DirectionBoth, nil, 100, false)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestMemoryDriverGetRelationshipsAllKinds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("x", "Person", "X", "acme")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("y", "Company", "Y", "acme")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("z", "Person", "Z", "acme")))

	for _, rel := range []*types.Relationship{
		{SourceID: "x", TargetID: "y", Kind: "WORKS_AT", GroupID: "acme"},
		{SourceID: "x", TargetID: "z", Kind: "KNOWS", GroupID: "acme"},
		{SourceID: "z", TargetID: "x", Kind: "MANAGES", GroupID: "acme"},
	} {
		_, err := store.UpsertRelationship(ctx, rel)
		require.NoError(t, err)
	}

	views, err := store.GetRelationships(ctx, "x", "acme", types.DirectionBoth, nil, 100, false)
	require.NoError(t, err)
	require.Len(t, views, 3)

	kinds := map[string]types.Direction{}
	for _, view := range views {
		kinds[view.Kind] = view.Direction
	}
	assert.Equal(t, types.DirectionOutgoing, kinds["WORKS_AT"])
	assert.Equal(t, types.DirectionOutgoing, kinds["KNOWS"])
	assert.Equal(t, types.DirectionIncoming, kinds["MANAGES"])

	// Kind filter narrows without hiding other kinds from unfiltered calls.
	filtered, err := store.GetRelationships(ctx, "x", "acme", types.DirectionBoth, []string{"KNOWS"}, 100, false)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "KNOWS", filtered[0].Kind)
}

func TestMemoryDriverSoftDeletedEndpointHidesEdge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("e1", "Person", "E1", "acme")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("e2", "Company", "E2", "acme")))
	_, err := store.UpsertRelationship(ctx, &types.Relationship{SourceID: "e1", TargetID: "e2", Kind: "WORKS_AT", GroupID: "acme"})
	require.NoError(t, err)

	require.NoError(t, store.SoftDeleteEntity(ctx, "e2", "acme", time.Now()))
	views, err := store.GetRelationships(ctx, "e1", "acme", types.DirectionOutgoing, nil, 100, false)
	require.NoError(t, err)
	assert.Empty(t, views)

	require.NoError(t, store.RestoreEntity(ctx, "e2", "acme"))
	views, err = store.GetRelationships(ctx, "e1", "acme", types.DirectionOutgoing, nil, 100, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "WORKS_AT", views[0].Kind)
}

func TestMemoryDriverHardDeleteEntityCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("e1", "Person", "E1", "acme")))
	require.NoError(t, store.CreateEntity(ctx, newEntity("e2", "Company", "E2", "acme")))
	_, err := store.UpsertRelationship(ctx, &types.Relationship{SourceID: "e1", TargetID: "e2", Kind: "WORKS_AT", GroupID: "acme"})
	require.NoError(t, err)

	require.NoError(t, store.HardDeleteEntity(ctx, "e2", "acme"))

	_, err = store.GetEntity(ctx, "e2", "acme", true)
	assert.True(t, types.IsNotFound(err))

	views, err := store.GetRelationships(ctx, "e1", "acme", types.DirectionBoth, nil, 100, true)
	require.NoError(t, err)
	assert.Empty(t, views)

	// The key is free for reuse after a hard delete.
	require.NoError(t, store.CreateEntity(ctx, newEntity("e2", "Company", "E2 reborn", "acme")))
}

func TestMemoryDriverApplyBatchAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()
	require.NoError(t, store.CreateEntity(ctx, newEntity("a", "Person", "A", "acme")))

	now := time.Now().UTC()
	mutations := []Mutation{
		{Kind: MutationCreateEntity, Entity: newEntity("b", "Company", "B", "acme")},
		// References an entity that does not exist, so the whole batch
		// must roll back, including the create above.
		{Kind: MutationMergeRelationship, Relationship: &types.Relationship{
			SourceID: "a", TargetID: "missing", Kind: "KNOWS", GroupID: "acme",
		}},
		{Kind: MutationSoftDeleteEntity, EntityID: "a", GroupID: "acme", At: now},
	}

	err := store.ApplyBatch(ctx, mutations)
	require.Error(t, err)

	_, err = store.GetEntity(ctx, "b", "acme", true)
	assert.True(t, types.IsNotFound(err), "failed batch must not leave partial writes")

	a, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	assert.False(t, a.Deleted)
}

func TestMemoryDriverApplyBatchCommits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()

	mutations := []Mutation{
		{Kind: MutationCreateEntity, Entity: newEntity("a", "Person", "A", "acme")},
		{Kind: MutationCreateEntity, Entity: newEntity("b", "Company", "B", "acme")},
		{Kind: MutationMergeRelationship, Relationship: &types.Relationship{
			SourceID: "a", TargetID: "b", Kind: "WORKS_AT", GroupID: "acme",
		}},
		{Kind: MutationUpsertEpisode, Episode: &types.Episode{
			EpisodeID:   "ep1",
			GroupID:     "acme",
			ContentHash: "abc",
			EntityIDs:   []string{"a", "b"},
			RelationshipKeys: []types.RelationshipKey{
				{SourceID: "a", TargetID: "b", Kind: "WORKS_AT", GroupID: "acme"},
			},
		}},
	}
	require.NoError(t, store.ApplyBatch(ctx, mutations))

	episode, err := store.GetEpisode(ctx, "ep1", "acme")
	require.NoError(t, err)
	assert.Equal(t, "abc", episode.ContentHash)
	assert.Equal(t, []string{"a", "b"}, episode.EntityIDs)

	views, err := store.GetRelationships(ctx, "a", "acme", types.DirectionOutgoing, nil, 100, false)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestMemoryDriverSearchEntitiesByEmbedding(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDriver()

	alice := newEntity("alice", "Person", "Alice", "acme")
	alice.Embedding = []float32{1, 0}
	bob := newEntity("bob", "Person", "Bob", "acme")
	bob.Embedding = []float32{0, 1}
	plain := newEntity("plain", "Person", "No embedding", "acme")

	require.NoError(t, store.CreateEntity(ctx, alice))
	require.NoError(t, store.CreateEntity(ctx, bob))
	require.NoError(t, store.CreateEntity(ctx, plain))

	results, err := store.SearchEntitiesByEmbedding(ctx, []float32{0.9, 0.1}, "acme", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alice", results[0].ID)

	results, err = store.SearchEntitiesByEmbedding(ctx, []float32{0.9, 0.1}, "acme", []string{"Company"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
