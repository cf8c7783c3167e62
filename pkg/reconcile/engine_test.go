package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/driver"
	"github.com/soundprediction/go-graffiti/pkg/extraction"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// fakeExtractor serves canned results keyed by content and counts how
// often it is invoked.
type fakeExtractor struct {
	results map[string]*extraction.Result
	calls   int
	err     error
}

func (f *fakeExtractor) Extract(ctx context.Context, content string) (*extraction.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, &types.ExtractionError{Err: f.err}
	}
	result, ok := f.results[content]
	if !ok {
		return &extraction.Result{}, nil
	}
	return result, nil
}

func worksAtResult() *extraction.Result {
	return &extraction.Result{
		Entities: []extraction.Entity{
			{EntityID: "a", EntityType: "Person", Name: "A", Summary: "a person"},
			{EntityID: "b", EntityType: "Company", Name: "B"},
		},
		Relationships: []extraction.Relationship{
			{SourceEntityID: "a", TargetEntityID: "b", RelationshipType: "WORKS_AT", Fact: "A works at B"},
		},
	}
}

func worksAtKnowsResult() *extraction.Result {
	result := worksAtResult()
	result.Entities = append(result.Entities, extraction.Entity{
		EntityID: "c", EntityType: "Person", Name: "C",
	})
	result.Relationships = append(result.Relationships, extraction.Relationship{
		SourceEntityID: "a", TargetEntityID: "c", RelationshipType: "KNOWS", Fact: "A knows C",
	})
	return result
}

func newEngine(results map[string]*extraction.Result) (*Engine, *driver.MemoryDriver, *fakeExtractor) {
	store := driver.NewMemoryDriver()
	extractor := &fakeExtractor{results: results}
	return NewEngine(store, extractor, nil, Config{}), store, extractor
}

func TestReconcileFirstPass(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newEngine(map[string]*extraction.Result{
		"A works at B": worksAtResult(),
	})

	result, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)
	assert.False(t, result.Unchanged)
	assert.Equal(t, types.StrategyIncremental, result.Strategy)
	assert.Equal(t, 2, result.EntitiesAdded)
	assert.Equal(t, 1, result.RelationshipsAdded)

	entity, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	assert.Equal(t, "A", entity.Name)

	views, err := store.GetRelationships(ctx, "a", "acme", types.DirectionOutgoing, nil, 10, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "WORKS_AT", views[0].Kind)

	episode, err := store.GetEpisode(ctx, "ep1", "acme")
	require.NoError(t, err)
	assert.Equal(t, ContentHash("A works at B"), episode.ContentHash)
	assert.ElementsMatch(t, []string{"a", "b"}, episode.EntityIDs)
	require.Len(t, episode.RelationshipKeys, 1)
}

func TestReconcileUnchangedContentIsNoOp(t *testing.T) {
	ctx := context.Background()
	engine, store, extractor := newEngine(map[string]*extraction.Result{
		"A works at B": worksAtResult(),
	})

	_, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)
	before, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	callsAfterFirst := extractor.calls

	result, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)
	assert.True(t, result.Unchanged)
	assert.Zero(t, result.EntitiesAdded)
	assert.Equal(t, callsAfterFirst, extractor.calls, "unchanged content must not reach the extractor")

	after, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestReconcileIncrementalAddition(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newEngine(map[string]*extraction.Result{
		"A works at B":            worksAtResult(),
		"A works at B. A knows C": worksAtKnowsResult(),
	})

	_, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)
	aBefore, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	bBefore, err := store.GetEntity(ctx, "b", "acme", false)
	require.NoError(t, err)

	result, err := engine.Reconcile(ctx, "ep1", "A works at B. A knows C", "", "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesAdded)
	assert.Equal(t, 0, result.EntitiesUpdated)
	assert.Equal(t, 0, result.EntitiesRemoved)
	assert.Equal(t, 1, result.RelationshipsAdded)

	aAfter, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	bAfter, err := store.GetEntity(ctx, "b", "acme", false)
	require.NoError(t, err)
	assert.Equal(t, aBefore.UpdatedAt, aAfter.UpdatedAt, "unchanged entities must not be touched")
	assert.Equal(t, bBefore.UpdatedAt, bAfter.UpdatedAt)

	views, err := store.GetRelationships(ctx, "a", "acme", types.DirectionOutgoing, nil, 10, false)
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestReconcileIncrementalModificationAndRemoval(t *testing.T) {
	ctx := context.Background()
	modified := worksAtResult()
	modified.Entities = modified.Entities[:1]
	modified.Entities[0].Summary = "a senior person"
	modified.Relationships = nil

	engine, store, _ := newEngine(map[string]*extraction.Result{
		"A works at B": worksAtResult(),
		"Just A now":   modified,
	})

	_, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)

	result, err := engine.Reconcile(ctx, "ep1", "Just A now", "", "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesUpdated)
	assert.Equal(t, 1, result.EntitiesRemoved)
	assert.Equal(t, 1, result.RelationshipsRemoved)

	a, err := store.GetEntity(ctx, "a", "acme", false)
	require.NoError(t, err)
	assert.Equal(t, "a senior person", a.Summary)

	_, err = store.GetEntity(ctx, "b", "acme", false)
	assert.True(t, types.IsNotFound(err), "removed entity is tombstoned, not hard-deleted")
	b, err := store.GetEntity(ctx, "b", "acme", true)
	require.NoError(t, err)
	assert.True(t, b.Deleted)
}

func TestReconcileReplaceStrategy(t *testing.T) {
	ctx := context.Background()
	second := &extraction.Result{
		Entities: []extraction.Entity{
			{EntityID: "b", EntityType: "Company", Name: "B"},
			{EntityID: "c", EntityType: "Person", Name: "C"},
		},
	}
	engine, store, _ := newEngine(map[string]*extraction.Result{
		"A works at B": worksAtResult(),
		"B and C":      second,
	})

	_, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)

	result, err := engine.Reconcile(ctx, "ep1", "B and C", types.StrategyReplace, "acme")
	require.NoError(t, err)
	assert.Equal(t, types.StrategyReplace, result.Strategy)
	assert.Equal(t, 2, result.EntitiesAdded)
	assert.Equal(t, 1, result.EntitiesRemoved, "only prior items absent from the new set count as removed")

	_, err = store.GetEntity(ctx, "a", "acme", false)
	assert.True(t, types.IsNotFound(err))

	b, err := store.GetEntity(ctx, "b", "acme", false)
	require.NoError(t, err, "overlapping entity is revived by the replace write")
	assert.False(t, b.Deleted)
	_, err = store.GetEntity(ctx, "c", "acme", false)
	require.NoError(t, err)
}

func TestReconcileExtractionFailureAborts(t *testing.T) {
	ctx := context.Background()
	engine, store, extractor := newEngine(nil)
	extractor.err = errors.New("model unavailable")

	_, err := engine.Reconcile(ctx, "ep1", "anything", "", "acme")
	require.Error(t, err)
	var extractionErr *types.ExtractionError
	assert.True(t, errors.As(err, &extractionErr))

	_, err = store.GetEpisode(ctx, "ep1", "acme")
	assert.True(t, types.IsNotFound(err), "a failed pass must leave no episode record")
}

func TestReconcileDeduplicatesCandidates(t *testing.T) {
	ctx := context.Background()
	doubled := worksAtResult()
	doubled.Entities = append(doubled.Entities, doubled.Entities...)
	doubled.Relationships = append(doubled.Relationships, doubled.Relationships...)

	engine, store, _ := newEngine(map[string]*extraction.Result{
		"A works at B": doubled,
	})

	result, err := engine.Reconcile(ctx, "ep1", "A works at B", "", "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesAdded)
	assert.Equal(t, 1, result.RelationshipsAdded)

	listed, err := store.ListEntitiesByType(ctx, "Person", "acme", 10, false)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestReconcileRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newEngine(nil)

	_, err := engine.Reconcile(ctx, "", "content", "", "acme")
	assert.True(t, types.IsValidation(err))

	_, err = engine.Reconcile(ctx, "ep1", "content", "sideways", "acme")
	assert.True(t, types.IsValidation(err))

	_, err = engine.Reconcile(ctx, "ep1", "content", "", "system")
	assert.True(t, types.IsValidation(err))
}

func TestContentHashIsStable(t *testing.T) {
	assert.Equal(t, ContentHash("A works at B"), ContentHash("A works at B"))
	assert.NotEqual(t, ContentHash("A works at B"), ContentHash("A works at C"))
	assert.Len(t, ContentHash(""), 64)
}
