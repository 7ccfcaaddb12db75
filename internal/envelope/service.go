// Package envelope owns the draft/official lifecycle of a project's cost
// envelope: lazy creation, guarded mutation with recompute-and-persist, and
// promotion of the draft into the official baseline.
package envelope

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/breakdown"
	"github.com/sells-group/costwatch/internal/bus"
	"github.com/sells-group/costwatch/internal/model"
	"github.com/sells-group/costwatch/internal/profit"
	"github.com/sells-group/costwatch/internal/store"
)

// Fatal precondition errors. Matched with errors.Is through eris wrapping.
var (
	ErrDraftNotInitialized = eris.New("draft not initialized")
	ErrNothingToPromote    = eris.New("nothing to promote")
	ErrItemNotFound        = eris.New("cost item not found")
)

// ProjectRepository is the external project-record collaborator. Lookups
// return (nil, nil) when the project does not exist.
type ProjectRepository interface {
	GetProject(ctx context.Context, id string) (*model.Project, error)
	UpdateProject(ctx context.Context, id string, apply func(*model.Project)) (*model.Project, error)
}

// Service is the envelope mutator. All state lives in the injected store;
// the service itself only carries collaborators and per-project locks.
type Service struct {
	store    store.Store
	projects ProjectRepository
	bus      bus.Emitter
	log      *zap.Logger
	locks    locker
}

// NewService wires a mutator from its collaborators. A nil logger falls back
// to the global one.
func NewService(st store.Store, projects ProjectRepository, emitter bus.Emitter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	return &Service{store: st, projects: projects, bus: emitter, log: log}
}

// MutationResult is the synchronous outcome of a mutating operation. The
// returned draft reflects the recomputed totals; the profit-metric tail and
// event broadcast finish later. Settled is closed once they have.
type MutationResult struct {
	Envelope *model.CostEnvelope
	Draft    *model.BOQSnapshot
	Settled  <-chan struct{}
}

// GetEnvelope reads a project's envelope. Returns (nil, nil) when none exists.
func (s *Service) GetEnvelope(ctx context.Context, projectID string) (*model.CostEnvelope, error) {
	return s.store.GetEnvelope(ctx, projectID)
}

func newDraft(projectID string) *model.BOQSnapshot {
	return &model.BOQSnapshot{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Status:      model.SnapshotDraft,
		Items:       []model.CostItem{},
		LastUpdated: time.Now().UTC(),
	}
}

// EnsureDraft creates the envelope and/or its draft as needed. An existing
// official baseline is cloned into the fresh draft; otherwise the draft
// starts empty. Idempotent when a draft already exists.
func (s *Service) EnsureDraft(ctx context.Context, projectID string) (*model.CostEnvelope, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	env, err := s.store.GetEnvelope(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = &model.CostEnvelope{ProjectID: projectID}
	}
	if env.Draft != nil {
		return env, nil
	}

	if env.Official != nil {
		draft := env.Official.Clone()
		draft.ID = uuid.New().String()
		draft.Status = model.SnapshotDraft
		env.Draft = draft
	} else {
		env.Draft = newDraft(projectID)
	}

	env.Version++
	if err := s.store.PutEnvelope(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Mutate applies fn to the whole envelope under the project lock, recomputes
// the draft totals, persists, and spawns the settlement tail. It fails with
// ErrDraftNotInitialized when the draft does not exist yet. Reconciliation
// routes through here so meta updates share the same guarded path.
func (s *Service) Mutate(ctx context.Context, projectID string, fn func(env *model.CostEnvelope) error) (*MutationResult, error) {
	return s.apply(ctx, projectID, ErrDraftNotInitialized, false, fn)
}

// SaveDraft applies mutate to the draft snapshot. mutate may edit the draft
// in place or return a full replacement; returning nil keeps the edited
// draft.
func (s *Service) SaveDraft(ctx context.Context, projectID string, mutate func(draft *model.BOQSnapshot) (*model.BOQSnapshot, error)) (*MutationResult, error) {
	return s.Mutate(ctx, projectID, func(env *model.CostEnvelope) error {
		replacement, err := mutate(env.Draft)
		if err != nil {
			return err
		}
		if replacement != nil {
			replacement.ProjectID = projectID
			replacement.Status = model.SnapshotDraft
			env.Draft = replacement
		}
		return nil
	})
}

// Promote deep-clones the draft into the official baseline and stamps the
// promotion time. The draft survives and keeps accepting edits, diverging
// from the frozen copy. The tail additionally pushes the promoted cost
// figures back onto the project record.
func (s *Service) Promote(ctx context.Context, projectID string) (*MutationResult, error) {
	return s.apply(ctx, projectID, ErrNothingToPromote, true, func(env *model.CostEnvelope) error {
		official := env.Draft.Clone()
		official.Status = model.SnapshotOfficial
		env.Official = official
		now := time.Now().UTC()
		env.Meta.LastPromotionAt = &now
		return nil
	})
}

// apply is the shared guarded read-mutate-write path. precond is returned
// when no draft exists; pushback selects the project-record update in the
// tail.
func (s *Service) apply(ctx context.Context, projectID string, precond error, pushback bool, fn func(env *model.CostEnvelope) error) (*MutationResult, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	env, err := s.store.GetEnvelope(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Draft == nil {
		return nil, precond
	}

	if err := fn(env); err != nil {
		return nil, err
	}

	corrected := breakdown.RecomputeTotals(env.Draft)
	for _, id := range corrected {
		s.log.Warn("envelope: normalized non-positive quantity to 1",
			zap.String("project", projectID),
			zap.String("item", id),
		)
	}

	env.Version++
	if err := s.store.PutEnvelope(ctx, env); err != nil {
		return nil, err
	}

	return &MutationResult{
		Envelope: env,
		Draft:    env.Draft,
		Settled:  s.spawnTail(projectID, pushback),
	}, nil
}

// spawnTail runs the deferred settlement step: profit-metric recompute,
// re-persist, and event broadcast. Failures are logged and swallowed; the
// returned channel closes when the tail is done either way.
func (s *Service) spawnTail(projectID string, pushback bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.settle(context.Background(), projectID, pushback)
	}()
	return done
}

func (s *Service) settle(ctx context.Context, projectID string, pushback bool) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	env, err := s.store.GetEnvelope(ctx, projectID)
	if err != nil || env == nil {
		s.log.Warn("envelope: settlement re-read failed",
			zap.String("project", projectID), zap.Error(err))
		return
	}

	proj, err := s.projects.GetProject(ctx, projectID)
	switch {
	case err != nil:
		s.log.Warn("envelope: project lookup failed, skipping profit metrics",
			zap.String("project", projectID), zap.Error(err))
	case proj == nil:
		// No project record, nothing to compute against.
	default:
		totals := env.Draft.Totals
		metrics := profit.Compute(proj.ContractValue, totals)
		env.Meta.Profit = &metrics

		if pushback && env.Official != nil {
			ot := env.Official.Totals
			if _, err := s.projects.UpdateProject(ctx, projectID, func(p *model.Project) {
				p.EstimatedCost = ot.EstimatedTotal
				p.ActualCost = ot.ActualTotal
				p.Spent = ot.ActualTotal
				p.Remaining = ot.EstimatedTotal - ot.ActualTotal
				p.ActualProfit = p.ContractValue - ot.ActualTotal
			}); err != nil {
				s.log.Warn("envelope: project pushback failed",
					zap.String("project", projectID), zap.Error(err))
			}
		}

		env.Version++
		if err := s.store.PutEnvelope(ctx, env); err != nil {
			s.log.Warn("envelope: settlement persist failed",
				zap.String("project", projectID), zap.Error(err))
		}
	}

	s.bus.Emit(bus.EnvelopeUpdated, bus.EnvelopePayload{
		ProjectID: projectID,
		Version:   env.Version,
		Totals:    env.Draft.Totals,
	})
}

// ComputeActualCostDecomposition summarizes the draft's actual costs per
// category. A project without a draft decomposes to all zeros.
func (s *Service) ComputeActualCostDecomposition(ctx context.Context, projectID string) (breakdown.Decomposition, error) {
	env, err := s.store.GetEnvelope(ctx, projectID)
	if err != nil {
		return breakdown.Decomposition{}, err
	}
	if env == nil || env.Draft == nil {
		return breakdown.Decomposition{}, nil
	}
	return breakdown.Decompose(env.Draft), nil
}
