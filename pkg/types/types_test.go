package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityClone(t *testing.T) {
	deletedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	original := &Entity{
		ID:         "e1",
		Type:       "Person",
		Name:       "Alice",
		Properties: map[string]any{"role": "engineer"},
		Embedding:  []float32{0.1, 0.2},
		GroupID:    "acme",
		Deleted:    true,
		DeletedAt:  &deletedAt,
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	clone.Properties["role"] = "manager"
	clone.Embedding[0] = 0.9
	*clone.DeletedAt = time.Now()

	assert.Equal(t, "engineer", original.Properties["role"])
	assert.Equal(t, float32(0.1), original.Embedding[0])
	assert.Equal(t, deletedAt, *original.DeletedAt)
}

func TestRelationshipKey(t *testing.T) {
	rel := &Relationship{
		SourceID: "e1",
		TargetID: "e2",
		Kind:     "WORKS_AT",
		Subtype:  "full_time",
		GroupID:  "acme",
	}

	key := rel.Key()
	assert.Equal(t, RelationshipKey{SourceID: "e1", TargetID: "e2", Kind: "WORKS_AT", GroupID: "acme"}, key)
	// Subtype never participates in identity.
	other := rel.Clone()
	other.Subtype = "contractor"
	assert.Equal(t, key, other.Key())
}

func TestPropertiesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    map[string]any
		b    map[string]any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs empty", nil, map[string]any{}, true},
		{"equal strings", map[string]any{"k": "v"}, map[string]any{"k": "v"}, true},
		{"int vs float same value", map[string]any{"n": 3}, map[string]any{"n": 3.0}, true},
		{"int64 vs int", map[string]any{"n": int64(7)}, map[string]any{"n": 7}, true},
		{"different values", map[string]any{"k": "v"}, map[string]any{"k": "w"}, false},
		{"missing key", map[string]any{"k": "v"}, map[string]any{"j": "v"}, false},
		{"extra key", map[string]any{"k": "v"}, map[string]any{"k": "v", "j": 1}, false},
		{"bool mismatch", map[string]any{"b": true}, map[string]any{"b": false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PropertiesEqual(tt.a, tt.b))
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	notFound := NewNotFoundError("entity", "e1", "acme")
	wrapped := fmt.Errorf("failed to get entity: %w", notFound)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))

	var nf *NotFoundError
	require.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "e1", nf.ID)

	conflict := &ConflictError{Resource: "entity", ID: "e1", GroupID: "acme"}
	assert.True(t, IsConflict(fmt.Errorf("create: %w", conflict)))

	validation := NewValidationError("group_id", "reserved identifier %q", "system")
	assert.True(t, IsValidation(validation))
	assert.Contains(t, validation.Error(), "group_id")

	storeErr := &StoreError{Op: "apply_batch", Err: errors.New("connection refused")}
	assert.ErrorContains(t, storeErr, "apply_batch")
	assert.NotNil(t, errors.Unwrap(storeErr))
}
