package dto

// ReconcileRequest represents a request to reconcile an episode's
// content against the graph
type ReconcileRequest struct {
	EpisodeID string `json:"episode_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
	Strategy  string `json:"strategy,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}
