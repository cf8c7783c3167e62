// Package validation enforces shape and size limits on identifiers,
// property maps, and tenant identifiers before any store call is made.
// Every manager validates through this package so the limits are
// applied uniformly.
package validation

import (
	"strings"

	"github.com/soundprediction/go-graffiti/pkg/types"
)

// Limits for bounded property maps and list queries.
const (
	MaxProperties  = 50
	MaxKeyLength   = 255
	MaxValueLength = 10000

	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// DefaultGroupID is the tenant used when no group id is supplied.
const DefaultGroupID = "default"

// reservedGroupIDs may not be claimed by callers. "default" is only
// reachable through omission, never by explicit request.
var reservedGroupIDs = map[string]bool{
	"default":    true,
	"global":     true,
	"system":     true,
	"admin":      true,
	"_system_":   true,
	"_internal_": true,
	"_admin_":    true,
}

var reservedGroupPrefixes = []string{"_system_", "_internal_", "_admin_"}

// EntityID validates and trims an entity id.
func EntityID(entityID string) (string, error) {
	return EntityIDField("entity_id", entityID)
}

// EntityIDField validates an entity id, attributing failures to the
// named field (source_id, target_id).
func EntityIDField(field, entityID string) (string, error) {
	trimmed := strings.TrimSpace(entityID)
	if trimmed == "" {
		return "", types.NewValidationError(field, "%s cannot be empty", field)
	}
	if len(trimmed) > MaxKeyLength {
		return "", types.NewValidationError(field, "%s too long: %d > %d", field, len(trimmed), MaxKeyLength)
	}
	return trimmed, nil
}

// EntityType validates and trims an entity type label.
func EntityType(entityType string) (string, error) {
	trimmed := strings.TrimSpace(entityType)
	if trimmed == "" {
		return "", types.NewValidationError("entity_type", "entity_type cannot be empty")
	}
	if len(trimmed) > MaxKeyLength {
		return "", types.NewValidationError("entity_type", "entity_type too long: %d > %d", len(trimmed), MaxKeyLength)
	}
	return trimmed, nil
}

// Name validates and trims a display name.
func Name(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", types.NewValidationError("name", "name cannot be empty")
	}
	return trimmed, nil
}

// RelationshipKind validates and trims a relationship's structural type.
func RelationshipKind(kind string) (string, error) {
	trimmed := strings.TrimSpace(kind)
	if trimmed == "" {
		return "", types.NewValidationError("kind", "relationship kind cannot be empty")
	}
	if len(trimmed) > MaxKeyLength {
		return "", types.NewValidationError("kind", "relationship kind too long: %d > %d", len(trimmed), MaxKeyLength)
	}
	return trimmed, nil
}

// Properties validates a bounded flat property map: at most
// MaxProperties entries, string keys up to MaxKeyLength, and scalar
// values (string, number, boolean, or nil) with string values up to
// MaxValueLength. A nil map validates to an empty map.
func Properties(properties map[string]any) (map[string]any, error) {
	if properties == nil {
		return map[string]any{}, nil
	}

	if len(properties) > MaxProperties {
		return nil, types.NewValidationError("properties",
			"maximum %d properties allowed, got %d", MaxProperties, len(properties))
	}

	validated := make(map[string]any, len(properties))
	for key, value := range properties {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return nil, types.NewValidationError("properties", "property key cannot be empty")
		}
		if len(key) > MaxKeyLength {
			return nil, types.NewValidationError("properties",
				"property key too long: %d > %d", len(key), MaxKeyLength)
		}

		switch v := value.(type) {
		case nil, bool, int, int32, int64, float32, float64:
		case string:
			if len(v) > MaxValueLength {
				return nil, types.NewValidationError("properties",
					"property value too long for key %q: %d > %d", trimmedKey, len(v), MaxValueLength)
			}
		default:
			return nil, types.NewValidationError("properties",
				"property value must be string, number, boolean, or null, got %T for key %q", value, trimmedKey)
		}

		validated[trimmedKey] = value
	}

	return validated, nil
}

// GroupID validates and normalizes a tenant identifier: lowercased,
// trimmed, empty falls back to DefaultGroupID. Reserved names and
// prefixes are rejected.
func GroupID(groupID string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(groupID))
	if normalized == "" {
		return DefaultGroupID, nil
	}

	if reservedGroupIDs[normalized] {
		return "", types.NewValidationError("group_id", "group id %q is reserved", groupID)
	}
	for _, prefix := range reservedGroupPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return "", types.NewValidationError("group_id", "group id %q uses reserved prefix", groupID)
		}
	}
	if len(normalized) > MaxKeyLength {
		return "", types.NewValidationError("group_id", "group id too long: %d > %d", len(normalized), MaxKeyLength)
	}

	return normalized, nil
}

// ListLimit clamps a caller-supplied list limit: non-positive falls
// back to DefaultListLimit, values above MaxListLimit are rejected.
func ListLimit(limit int) (int, error) {
	if limit <= 0 {
		return DefaultListLimit, nil
	}
	if limit > MaxListLimit {
		return 0, types.NewValidationError("limit", "limit %d exceeds maximum %d", limit, MaxListLimit)
	}
	return limit, nil
}
