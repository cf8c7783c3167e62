// Package graffiti is a multi-tenant knowledge-graph consistency
// layer. It manages typed entities and relationships in a graph store,
// guarantees idempotent creation under concurrent writers, supports
// reversible and irreversible deletion, and reconciles previously
// materialized graph fragments against newly extracted knowledge.
package graffiti

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soundprediction/go-graffiti/pkg/driver"
	"github.com/soundprediction/go-graffiti/pkg/embedder"
	"github.com/soundprediction/go-graffiti/pkg/entities"
	"github.com/soundprediction/go-graffiti/pkg/extraction"
	"github.com/soundprediction/go-graffiti/pkg/llm"
	"github.com/soundprediction/go-graffiti/pkg/reconcile"
	"github.com/soundprediction/go-graffiti/pkg/relationships"
	"github.com/soundprediction/go-graffiti/pkg/types"
	"github.com/soundprediction/go-graffiti/pkg/validation"
)

// Graffiti is the transport-agnostic operation surface of the
// consistency layer.
type Graffiti interface {
	// Entity lifecycle.
	CreateEntity(ctx context.Context, input entities.CreateInput) (*types.Entity, error)
	GetEntity(ctx context.Context, entityID, groupID string, includeDeleted bool) (*types.Entity, error)
	ListEntitiesByType(ctx context.Context, entityType, groupID string, limit int, includeDeleted bool) ([]*types.Entity, error)
	UpdateEntity(ctx context.Context, entityID, groupID string, update types.EntityUpdate) (*types.Entity, error)
	SoftDeleteEntity(ctx context.Context, entityID, groupID string) error
	RestoreEntity(ctx context.Context, entityID, groupID string) error
	HardDeleteEntity(ctx context.Context, entityID, groupID string) error

	// Relationship lifecycle.
	CreateRelationship(ctx context.Context, input relationships.CreateInput) (*types.Relationship, error)
	GetRelationships(ctx context.Context, entityID, groupID string, direction types.Direction, kinds []string, limit int, includeDeleted bool) ([]*types.RelationshipView, error)
	SoftDeleteRelationship(ctx context.Context, key types.RelationshipKey) error
	RestoreRelationship(ctx context.Context, key types.RelationshipKey) error
	HardDeleteRelationship(ctx context.Context, key types.RelationshipKey) error

	// Reconcile synchronizes the graph with an episode's content,
	// writing only what changed.
	Reconcile(ctx context.Context, episodeID, content string, strategy types.UpdateStrategy, groupID string) (*types.ReconcileResult, error)

	// SearchEntities ranks entities by semantic similarity to the query.
	SearchEntities(ctx context.Context, query, groupID string, entityTypes []string, limit int) ([]*types.Entity, error)

	// CreateIndices creates store indices and uniqueness constraints.
	CreateIndices(ctx context.Context) error

	// Close closes all connections and cleans up resources.
	Close(ctx context.Context) error
}

// Config holds client-level configuration. There are no process-wide
// defaults; everything reconciliation-related is set here.
type Config struct {
	// GroupID is the tenant applied when an operation is called with an
	// empty group id. Empty means the store-level default tenant.
	GroupID string
	// Strategy is the default reconciliation strategy. Empty means
	// incremental.
	Strategy types.UpdateStrategy
	// Logger receives structured operational logs. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Client implements Graffiti on top of a GraphDriver and the optional
// LLM and embedding collaborators.
type Client struct {
	driver        driver.GraphDriver
	llm           llm.Client
	embedder      embedder.Client
	entities      *entities.Manager
	relationships *relationships.Manager
	engine        *reconcile.Engine
	config        *Config
	logger        *slog.Logger
}

// NewClient creates a Graffiti client. The LLM client may be nil, in
// which case Reconcile is unavailable; the embedder may be nil, in
// which case entities carry no vectors and SearchEntities is
// unavailable.
func NewClient(d driver.GraphDriver, llmClient llm.Client, embedderClient embedder.Client, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{
		driver:        d,
		llm:           llmClient,
		embedder:      embedderClient,
		entities:      entities.NewManager(d, embedderClient, logger),
		relationships: relationships.NewManager(d, logger),
		config:        config,
		logger:        logger,
	}
	if llmClient != nil {
		extractor := extraction.NewLLMExtractor(llmClient, logger)
		client.engine = reconcile.NewEngine(d, extractor, embedderClient, reconcile.Config{
			Strategy: config.Strategy,
			Logger:   logger,
		})
	}
	return client
}

// NewClientWithExtractor creates a client with a caller-supplied
// extraction collaborator instead of the LLM-backed one.
func NewClientWithExtractor(d driver.GraphDriver, extractor extraction.Extractor, embedderClient embedder.Client, config *Config) *Client {
	client := NewClient(d, nil, embedderClient, config)
	client.engine = reconcile.NewEngine(d, extractor, embedderClient, reconcile.Config{
		Strategy: client.config.Strategy,
		Logger:   client.logger,
	})
	return client
}

// group substitutes the configured default tenant for an empty group id.
func (c *Client) group(groupID string) string {
	if groupID == "" {
		return c.config.GroupID
	}
	return groupID
}

func (c *Client) CreateEntity(ctx context.Context, input entities.CreateInput) (*types.Entity, error) {
	input.GroupID = c.group(input.GroupID)
	return c.entities.Create(ctx, input)
}

func (c *Client) GetEntity(ctx context.Context, entityID, groupID string, includeDeleted bool) (*types.Entity, error) {
	return c.entities.Get(ctx, entityID, c.group(groupID), includeDeleted)
}

func (c *Client) ListEntitiesByType(ctx context.Context, entityType, groupID string, limit int, includeDeleted bool) ([]*types.Entity, error) {
	return c.entities.ListByType(ctx, entityType, c.group(groupID), limit, includeDeleted)
}

func (c *Client) UpdateEntity(ctx context.Context, entityID, groupID string, update types.EntityUpdate) (*types.Entity, error) {
	return c.entities.Update(ctx, entityID, c.group(groupID), update)
}

func (c *Client) SoftDeleteEntity(ctx context.Context, entityID, groupID string) error {
	return c.entities.SoftDelete(ctx, entityID, c.group(groupID))
}

func (c *Client) RestoreEntity(ctx context.Context, entityID, groupID string) error {
	return c.entities.Restore(ctx, entityID, c.group(groupID))
}

func (c *Client) HardDeleteEntity(ctx context.Context, entityID, groupID string) error {
	return c.entities.HardDelete(ctx, entityID, c.group(groupID))
}

func (c *Client) CreateRelationship(ctx context.Context, input relationships.CreateInput) (*types.Relationship, error) {
	input.GroupID = c.group(input.GroupID)
	return c.relationships.Create(ctx, input)
}

func (c *Client) GetRelationships(ctx context.Context, entityID, groupID string, direction types.Direction, kinds []string, limit int, includeDeleted bool) ([]*types.RelationshipView, error) {
	return c.relationships.Get(ctx, entityID, c.group(groupID), direction, kinds, limit, includeDeleted)
}

func (c *Client) SoftDeleteRelationship(ctx context.Context, key types.RelationshipKey) error {
	key.GroupID = c.group(key.GroupID)
	return c.relationships.SoftDelete(ctx, key)
}

func (c *Client) RestoreRelationship(ctx context.Context, key types.RelationshipKey) error {
	key.GroupID = c.group(key.GroupID)
	return c.relationships.Restore(ctx, key)
}

func (c *Client) HardDeleteRelationship(ctx context.Context, key types.RelationshipKey) error {
	key.GroupID = c.group(key.GroupID)
	return c.relationships.HardDelete(ctx, key)
}

func (c *Client) Reconcile(ctx context.Context, episodeID, content string, strategy types.UpdateStrategy, groupID string) (*types.ReconcileResult, error) {
	if c.engine == nil {
		return nil, &types.ExtractionError{Err: fmt.Errorf("no extraction client configured")}
	}
	return c.engine.Reconcile(ctx, episodeID, content, strategy, c.group(groupID))
}

func (c *Client) SearchEntities(ctx context.Context, query, groupID string, entityTypes []string, limit int) ([]*types.Entity, error) {
	if c.embedder == nil {
		return nil, &types.EmbeddingError{Err: fmt.Errorf("no embedding client configured")}
	}
	group, err := validation.GroupID(c.group(groupID))
	if err != nil {
		return nil, err
	}
	bounded, err := validation.ListLimit(limit)
	if err != nil {
		return nil, err
	}

	embedding, err := c.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, &types.EmbeddingError{Err: err}
	}
	return c.driver.SearchEntitiesByEmbedding(ctx, embedding, group, entityTypes, bounded)
}

func (c *Client) CreateIndices(ctx context.Context) error {
	return c.driver.CreateIndices(ctx)
}

// Close closes the driver and both collaborators.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.driver != nil {
		if err := c.driver.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close driver: %w", err))
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close llm client: %w", err))
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close embedder: %w", err))
		}
	}
	for _, err := range errs {
		c.logger.Warn("error during close", "error", err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
