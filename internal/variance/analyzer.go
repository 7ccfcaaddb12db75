// Package variance reads a persisted envelope, applies global, per-project,
// and per-category thresholds, and emits classified alerts.
package variance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/bus"
	"github.com/sells-group/costwatch/internal/model"
	"github.com/sells-group/costwatch/internal/store"
)

// Default thresholds applied when a project config is created lazily.
const (
	DefaultItemVariancePct    = 10
	DefaultProjectVariancePct = 5
	DefaultErosionPct         = 15
)

// DefaultCriticalMultiplier scales a threshold into its critical band.
// Inherited untuned constant; override per analyzer when tuned.
const DefaultCriticalMultiplier = 2.0

// Analyzer runs threshold analysis over persisted envelopes. It is decoupled
// from the mutator and reads the draft independently.
type Analyzer struct {
	store store.Store
	bus   bus.Emitter
	log   *zap.Logger

	// CriticalMultiplier decides when a breach escalates from warning to
	// critical: value >= multiplier * threshold.
	CriticalMultiplier float64

	// Policy optionally supplies per-category default thresholds consulted
	// between a project's own overrides and its project-wide thresholds.
	Policy *ThresholdPolicy
}

// NewAnalyzer wires an analyzer. A nil logger falls back to the global one.
func NewAnalyzer(st store.Store, emitter bus.Emitter, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.L()
	}
	return &Analyzer{
		store:              st,
		bus:                emitter,
		log:                log,
		CriticalMultiplier: DefaultCriticalMultiplier,
	}
}

func defaultConfig(projectID string) *model.ProjectVarianceConfig {
	return &model.ProjectVarianceConfig{
		ProjectID: projectID,
		Enabled:   true,
		Thresholds: model.VarianceThresholds{
			ItemVariancePct:    DefaultItemVariancePct,
			ProjectVariancePct: DefaultProjectVariancePct,
			ErosionPct:         DefaultErosionPct,
		},
		LastUpdated: time.Now().UTC(),
	}
}

// GetProjectConfig reads the project's analyzer config, creating and
// persisting the defaults on first access.
func (a *Analyzer) GetProjectConfig(ctx context.Context, projectID string) (*model.ProjectVarianceConfig, error) {
	cfg, err := a.store.GetVarianceConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	cfg = defaultConfig(projectID)
	if err := a.store.PutVarianceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPatch is a shallow patch of the project config. Nil fields are left
// untouched.
type ConfigPatch struct {
	Enabled           *bool                               `json:"enabled,omitempty"`
	Thresholds        *model.VarianceThresholds           `json:"thresholds,omitempty"`
	CategoryOverrides map[string]model.VarianceThresholds `json:"category_overrides,omitempty"`
}

// UpdateProjectConfig shallow-merges patch into the stored config, stamps
// LastUpdated, persists, and broadcasts a config-updated event.
func (a *Analyzer) UpdateProjectConfig(ctx context.Context, projectID string, patch ConfigPatch) (*model.ProjectVarianceConfig, error) {
	cfg, err := a.GetProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Thresholds != nil {
		cfg.Thresholds = *patch.Thresholds
	}
	if patch.CategoryOverrides != nil {
		cfg.CategoryOverrides = patch.CategoryOverrides
	}
	cfg.LastUpdated = time.Now().UTC()

	if err := a.store.PutVarianceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	a.bus.Emit(bus.VarianceConfigUpdated, bus.ConfigPayload{ProjectID: projectID})
	return cfg, nil
}

// GetCachedAnalysis returns the last cached run, or nil for a project never
// analyzed. It never recomputes; staleness is resolved by AnalyzeProject.
func (a *Analyzer) GetCachedAnalysis(ctx context.Context, projectID string) (*model.VarianceCacheEntry, error) {
	return a.store.GetVarianceCache(ctx, projectID)
}

// AnalyzeOptions controls one analysis run.
type AnalyzeOptions struct {
	// Force recomputes even when the cached run is newer than the draft.
	Force bool
}

// AnalyzeProject runs the threshold analysis for one project, persists the
// cache entry, broadcasts a variance event, and returns the entry. A project
// with no draft or with analysis disabled yields an empty entry that is
// neither persisted nor broadcast.
func (a *Analyzer) AnalyzeProject(ctx context.Context, projectID string, opts AnalyzeOptions) (*model.VarianceCacheEntry, error) {
	env, err := a.store.GetEnvelope(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Draft == nil {
		return emptyEntry(projectID), nil
	}

	cfg, err := a.GetProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return emptyEntry(projectID), nil
	}

	if !opts.Force {
		cached, err := a.store.GetVarianceCache(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if cached != nil && !cached.RunAt.Before(env.Draft.LastUpdated) {
			return cached, nil
		}
	}

	entry := a.analyze(env, cfg)
	if err := a.store.PutVarianceCache(ctx, entry); err != nil {
		return nil, err
	}

	a.bus.Emit(bus.VarianceUpdated, bus.VariancePayload{
		ProjectID: projectID,
		Alerts:    entry.Alerts,
		Stats:     entry.Stats,
	})
	a.log.Info("variance: analysis complete",
		zap.String("project", projectID),
		zap.Int("alerts", len(entry.Alerts)),
		zap.Int("items_breached", entry.Stats.ItemsBreached),
	)
	return entry, nil
}

func emptyEntry(projectID string) *model.VarianceCacheEntry {
	return &model.VarianceCacheEntry{
		ProjectID: projectID,
		RunAt:     time.Now().UTC(),
		Alerts:    []model.VarianceAlert{},
	}
}

func (a *Analyzer) analyze(env *model.CostEnvelope, cfg *model.ProjectVarianceConfig) *model.VarianceCacheEntry {
	draft := env.Draft
	entry := emptyEntry(env.ProjectID)
	entry.Stats.ProjectVariancePct = draft.Totals.VariancePct

	for i := range draft.Items {
		item := &draft.Items[i]
		entry.Stats.ItemsChecked++

		eff := a.effectiveThresholds(cfg, item.Category)
		absPct := math.Abs(item.Variance.Pct)
		absVal := math.Abs(item.Variance.Value)

		pctBreach := eff.ItemVariancePct > 0 && absPct >= eff.ItemVariancePct
		valBreach := eff.ItemVarianceValue > 0 && absVal >= eff.ItemVarianceValue
		if !pctBreach && !valBreach {
			continue
		}
		entry.Stats.ItemsBreached++

		level := model.AlertInfo
		if pctBreach {
			level = maxLevel(level, a.classify(eff.ItemVariancePct, absPct))
		}
		if valBreach {
			level = maxLevel(level, a.classify(eff.ItemVarianceValue, absVal))
		}

		entry.Alerts = append(entry.Alerts, model.VarianceAlert{
			ID:            uuid.New().String(),
			ProjectID:     env.ProjectID,
			Level:         level,
			Type:          model.AlertItemVariance,
			Message:       fmt.Sprintf("item %q variance %.2f%% (%.2f)", item.Description, item.Variance.Pct, item.Variance.Value),
			ItemID:        item.ID,
			Description:   item.Description,
			Category:      item.Category,
			VarianceValue: item.Variance.Value,
			VariancePct:   item.Variance.Pct,
			CreatedAt:     entry.RunAt,
		})
	}

	if t := cfg.Thresholds.ProjectVariancePct; t > 0 && math.Abs(draft.Totals.VariancePct) >= t {
		entry.Alerts = append(entry.Alerts, model.VarianceAlert{
			ID:            uuid.New().String(),
			ProjectID:     env.ProjectID,
			Level:         a.classify(t, math.Abs(draft.Totals.VariancePct)),
			Type:          model.AlertProjectVariance,
			Message:       fmt.Sprintf("project variance %.2f%% exceeds threshold %.2f%%", draft.Totals.VariancePct, t),
			VarianceValue: draft.Totals.VarianceTotal,
			VariancePct:   draft.Totals.VariancePct,
			CreatedAt:     entry.RunAt,
		})
	}

	if m := env.Meta.Profit; m != nil {
		entry.Stats.ErosionPct = m.ErosionPct
		if t := cfg.Thresholds.ErosionPct; t > 0 && math.Abs(m.ErosionPct) >= t {
			entry.Alerts = append(entry.Alerts, model.VarianceAlert{
				ID:         uuid.New().String(),
				ProjectID:  env.ProjectID,
				Level:      a.classify(t, math.Abs(m.ErosionPct)),
				Type:       model.AlertProfitErosion,
				Message:    fmt.Sprintf("profit erosion %.2f%% exceeds threshold %.2f%%", m.ErosionPct, t),
				ErosionPct: m.ErosionPct,
				CreatedAt:  entry.RunAt,
			})
		}
	}

	return entry
}

// effectiveThresholds resolves the thresholds for one item category:
// project category override, then policy-file category default, then the
// project-wide thresholds, field by field.
func (a *Analyzer) effectiveThresholds(cfg *model.ProjectVarianceConfig, category string) model.VarianceThresholds {
	eff := cfg.Thresholds
	if a.Policy != nil {
		if t, ok := a.Policy.Categories[category]; ok {
			overlay(&eff, t)
		}
	}
	if t, ok := cfg.CategoryOverrides[category]; ok {
		overlay(&eff, t)
	}
	return eff
}

func overlay(dst *model.VarianceThresholds, src model.VarianceThresholds) {
	if src.ItemVariancePct > 0 {
		dst.ItemVariancePct = src.ItemVariancePct
	}
	if src.ItemVarianceValue > 0 {
		dst.ItemVarianceValue = src.ItemVarianceValue
	}
	if src.ProjectVariancePct > 0 {
		dst.ProjectVariancePct = src.ProjectVariancePct
	}
	if src.ErosionPct > 0 {
		dst.ErosionPct = src.ErosionPct
	}
}

// classify grades a breach: critical at CriticalMultiplier times the
// threshold, warning at the threshold, info below.
func (a *Analyzer) classify(base, value float64) model.AlertLevel {
	switch {
	case value >= a.CriticalMultiplier*base:
		return model.AlertCritical
	case value >= base:
		return model.AlertWarning
	default:
		return model.AlertInfo
	}
}

var levelRank = map[model.AlertLevel]int{
	model.AlertInfo:     0,
	model.AlertWarning:  1,
	model.AlertCritical: 2,
}

func maxLevel(a, b model.AlertLevel) model.AlertLevel {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}
