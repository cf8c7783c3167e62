package embedder

import "strings"

// EntityText builds the canonical text embedded for an entity. Name
// and summary are joined so either changing invalidates the vector.
func EntityText(name, summary string) string {
	if strings.TrimSpace(summary) == "" {
		return strings.TrimSpace(name)
	}
	return strings.TrimSpace(name) + "\n\n" + strings.TrimSpace(summary)
}
