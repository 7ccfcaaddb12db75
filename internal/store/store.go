// Package store persists the engine's keyed JSON documents: cost envelopes,
// variance configuration and cache, project records, and tender BOQs.
package store

import (
	"context"

	"github.com/sells-group/costwatch/internal/model"
)

// Store is the persistence interface for the cost engine. Lookups return
// (nil, nil) when no document exists under the key.
type Store interface {
	// Envelopes
	GetEnvelope(ctx context.Context, projectID string) (*model.CostEnvelope, error)
	PutEnvelope(ctx context.Context, env *model.CostEnvelope) error

	// Variance analyzer state
	GetVarianceConfig(ctx context.Context, projectID string) (*model.ProjectVarianceConfig, error)
	PutVarianceConfig(ctx context.Context, cfg *model.ProjectVarianceConfig) error
	GetVarianceCache(ctx context.Context, projectID string) (*model.VarianceCacheEntry, error)
	PutVarianceCache(ctx context.Context, entry *model.VarianceCacheEntry) error

	// Project records
	GetProject(ctx context.Context, id string) (*model.Project, error)
	PutProject(ctx context.Context, p *model.Project) error
	UpdateProject(ctx context.Context, id string, apply func(*model.Project)) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)

	// Tender BOQs produced by the bidding subsystem
	GetTenderBOQ(ctx context.Context, tenderID string) (*model.BOQSnapshot, error)
	PutTenderBOQ(ctx context.Context, tenderID string, snap *model.BOQSnapshot) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
