package validation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

func TestEntityID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid", "user:john_doe", "user:john_doe", false},
		{"trims whitespace", "  module:auth  ", "module:auth", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"too long", strings.Repeat("x", MaxKeyLength+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EntityID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProperties(t *testing.T) {
	t.Run("nil becomes empty map", func(t *testing.T) {
		got, err := Properties(nil)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("scalar values accepted", func(t *testing.T) {
		got, err := Properties(map[string]any{
			"email":  "test@example.com",
			"age":    30,
			"score":  0.95,
			"active": true,
			"note":   nil,
		})
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})

	t.Run("trims keys", func(t *testing.T) {
		got, err := Properties(map[string]any{"  role  ": "engineer"})
		require.NoError(t, err)
		assert.Equal(t, "engineer", got["role"])
	})

	t.Run("too many entries", func(t *testing.T) {
		props := make(map[string]any, MaxProperties+1)
		for i := 0; i <= MaxProperties; i++ {
			props[fmt.Sprintf("key%03d", i)] = i
		}
		_, err := Properties(props)
		require.Error(t, err)
		assert.True(t, types.IsValidation(err))
	})

	t.Run("key too long", func(t *testing.T) {
		_, err := Properties(map[string]any{strings.Repeat("k", MaxKeyLength+1): "v"})
		require.Error(t, err)
	})

	t.Run("string value too long", func(t *testing.T) {
		_, err := Properties(map[string]any{"v": strings.Repeat("x", MaxValueLength+1)})
		require.Error(t, err)
	})

	t.Run("nested values rejected", func(t *testing.T) {
		_, err := Properties(map[string]any{"nested": map[string]any{"a": 1}})
		require.Error(t, err)
		_, err = Properties(map[string]any{"list": []string{"a"}})
		require.Error(t, err)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		_, err := Properties(map[string]any{"   ": "v"})
		require.Error(t, err)
	})
}

func TestGroupID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid", "my_group", "my_group", false},
		{"empty falls back to default", "", DefaultGroupID, false},
		{"normalizes case and whitespace", "  TEST_GROUP  ", "test_group", false},
		{"reserved default", "default", "", true},
		{"reserved system", "system", "", true},
		{"reserved case-insensitive", "GLOBAL", "", true},
		{"reserved prefix", "_system_backup", "", true},
		{"reserved internal prefix", "_internal_cache", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GroupID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelationshipKind(t *testing.T) {
	got, err := RelationshipKind("  DEPENDS_ON  ")
	require.NoError(t, err)
	assert.Equal(t, "DEPENDS_ON", got)

	_, err = RelationshipKind("")
	require.Error(t, err)
}

func TestListLimit(t *testing.T) {
	got, err := ListLimit(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultListLimit, got)

	got, err = ListLimit(200)
	require.NoError(t, err)
	assert.Equal(t, 200, got)

	_, err = ListLimit(MaxListLimit + 1)
	require.Error(t, err)
}
