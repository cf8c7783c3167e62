package dto

// CreateEntityRequest represents a request to create an entity
type CreateEntityRequest struct {
	ID         string         `json:"id" binding:"required"`
	Type       string         `json:"type" binding:"required"`
	Name       string         `json:"name" binding:"required"`
	Summary    string         `json:"summary,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
}

// UpdateEntityRequest represents a partial entity update. Omitted
// fields are left unchanged; a supplied properties map replaces the
// stored one.
type UpdateEntityRequest struct {
	Name       *string        `json:"name,omitempty"`
	Summary    *string        `json:"summary,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	GroupID    string         `json:"group_id,omitempty"`
}

// SearchEntitiesRequest represents a semantic entity search
type SearchEntitiesRequest struct {
	Query       string   `json:"query" binding:"required"`
	GroupID     string   `json:"group_id,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}
