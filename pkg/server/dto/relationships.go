package dto

import "time"

// CreateRelationshipRequest represents a request to create or merge a
// relationship
type CreateRelationshipRequest struct {
	SourceID   string         `json:"source_id" binding:"required"`
	TargetID   string         `json:"target_id" binding:"required"`
	Kind       string         `json:"kind" binding:"required"`
	Subtype    string         `json:"subtype,omitempty"`
	Fact       string         `json:"fact,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	TValid     *time.Time     `json:"t_valid,omitempty"`
	TInvalid   *time.Time     `json:"t_invalid,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
}

// RelationshipKeyRequest identifies a relationship for delete and
// restore operations
type RelationshipKeyRequest struct {
	SourceID string `json:"source_id" binding:"required"`
	TargetID string `json:"target_id" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	GroupID  string `json:"group_id,omitempty"`
}
