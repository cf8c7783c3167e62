package types

// ContextKey is the type for request-scoped values carried on contexts.
type ContextKey string

const (
	ContextKeyGroupID   ContextKey = "group_id"
	ContextKeyEpisodeID ContextKey = "episode_id"
	ContextKeyRequestID ContextKey = "request_id"
)
