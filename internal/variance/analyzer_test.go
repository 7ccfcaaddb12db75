package variance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/bus"
	"github.com/sells-group/costwatch/internal/model"
	"github.com/sells-group/costwatch/internal/store"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, store.Store, *bus.Bus) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	b := bus.New(zap.NewNop())
	return NewAnalyzer(st, b, zap.NewNop()), st, b
}

// putDraft persists an envelope whose draft carries pre-derived totals and
// item variances, the way the mutator leaves them.
func putDraft(t *testing.T, st store.Store, projectID string, items []model.CostItem, totals model.Totals) {
	t.Helper()
	require.NoError(t, st.PutEnvelope(context.Background(), &model.CostEnvelope{
		ProjectID: projectID,
		Draft: &model.BOQSnapshot{
			ID:          "draft-" + projectID,
			ProjectID:   projectID,
			Status:      model.SnapshotDraft,
			Items:       items,
			Totals:      totals,
			LastUpdated: time.Now().UTC(),
		},
	}))
}

func varianceItem(id, category string, pct, value float64) model.CostItem {
	return model.CostItem{
		ID:       id,
		Category: category,
		Variance: model.ItemVariance{Pct: pct, Value: value},
	}
}

func TestGetProjectConfig_LazyDefaults(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	cfg, err := a.GetProjectConfig(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.InDelta(t, float64(DefaultItemVariancePct), cfg.Thresholds.ItemVariancePct, 1e-9)
	assert.InDelta(t, float64(DefaultProjectVariancePct), cfg.Thresholds.ProjectVariancePct, 1e-9)
	assert.InDelta(t, float64(DefaultErosionPct), cfg.Thresholds.ErosionPct, 1e-9)

	// The defaults are persisted on first access.
	stored, err := st.GetVarianceConfig(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, cfg.Thresholds, stored.Thresholds)
}

func TestUpdateProjectConfig_ShallowMergeAndEvent(t *testing.T) {
	a, _, b := newTestAnalyzer(t)
	ctx := context.Background()

	var events int
	b.Subscribe(bus.VarianceConfigUpdated, func(string, any) error {
		events++
		return nil
	})

	enabled := false
	cfg, err := a.UpdateProjectConfig(ctx, "p1", ConfigPatch{Enabled: &enabled})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	// Untouched fields keep their defaults.
	assert.InDelta(t, float64(DefaultItemVariancePct), cfg.Thresholds.ItemVariancePct, 1e-9)
	assert.Equal(t, 1, events)

	cfg, err = a.UpdateProjectConfig(ctx, "p1", ConfigPatch{
		Thresholds: &model.VarianceThresholds{ItemVariancePct: 20, ProjectVariancePct: 8, ErosionPct: 25},
	})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.InDelta(t, 20.0, cfg.Thresholds.ItemVariancePct, 1e-9)
	assert.Equal(t, 2, events)
}

func TestAnalyzeProject_ClassifiesByThresholdBands(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	putDraft(t, st, "p1", []model.CostItem{
		varianceItem("crit", "", 25, 250), // >= 2x threshold
		varianceItem("warn", "", 12, 120), // >= threshold, < 2x
		varianceItem("ok", "", 5, 50),     // below threshold
	}, model.Totals{VariancePct: 2})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)

	require.Len(t, entry.Alerts, 2)
	byItem := map[string]model.VarianceAlert{}
	for _, al := range entry.Alerts {
		byItem[al.ItemID] = al
	}
	assert.Equal(t, model.AlertCritical, byItem["crit"].Level)
	assert.Equal(t, model.AlertItemVariance, byItem["crit"].Type)
	assert.Equal(t, model.AlertWarning, byItem["warn"].Level)

	assert.Equal(t, 3, entry.Stats.ItemsChecked)
	assert.Equal(t, 2, entry.Stats.ItemsBreached)
}

func TestAnalyzeProject_NegativeVarianceBreachesOnMagnitude(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	putDraft(t, st, "p1", []model.CostItem{
		varianceItem("under", "", -30, -300),
	}, model.Totals{})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, entry.Alerts, 1)
	assert.Equal(t, model.AlertCritical, entry.Alerts[0].Level)
}

func TestAnalyzeProject_ProjectLevelAlert(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	putDraft(t, st, "p1", nil, model.Totals{VariancePct: 11, VarianceTotal: 1100})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, entry.Alerts, 1)
	al := entry.Alerts[0]
	assert.Equal(t, model.AlertProjectVariance, al.Type)
	// 11 >= 2*5, the default project threshold.
	assert.Equal(t, model.AlertCritical, al.Level)
	assert.InDelta(t, 11.0, entry.Stats.ProjectVariancePct, 1e-9)
}

func TestAnalyzeProject_ProfitErosionAlert(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	require.NoError(t, st.PutEnvelope(ctx, &model.CostEnvelope{
		ProjectID: "p1",
		Draft: &model.BOQSnapshot{
			ID: "d", ProjectID: "p1", Status: model.SnapshotDraft,
			LastUpdated: time.Now().UTC(),
		},
		Meta: model.EnvelopeMeta{Profit: &model.ProfitMetrics{ErosionPct: 20}},
	}))

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, entry.Alerts, 1)
	assert.Equal(t, model.AlertProfitErosion, entry.Alerts[0].Type)
	assert.Equal(t, model.AlertWarning, entry.Alerts[0].Level)
	assert.InDelta(t, 20.0, entry.Stats.ErosionPct, 1e-9)
}

func TestAnalyzeProject_CategoryOverrides(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	_, err := a.UpdateProjectConfig(ctx, "p1", ConfigPatch{
		CategoryOverrides: map[string]model.VarianceThresholds{
			"steel": {ItemVariancePct: 30},
		},
	})
	require.NoError(t, err)

	putDraft(t, st, "p1", []model.CostItem{
		varianceItem("steel-item", "steel", 20, 200),  // under the 30% override
		varianceItem("other-item", "timber", 20, 200), // over the 10% default
	}, model.Totals{})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, entry.Alerts, 1)
	assert.Equal(t, "other-item", entry.Alerts[0].ItemID)
}

func TestAnalyzeProject_PolicyFileDefaults(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()
	a.Policy = &ThresholdPolicy{Categories: map[string]model.VarianceThresholds{
		"earthworks": {ItemVariancePct: 50},
	}}

	putDraft(t, st, "p1", []model.CostItem{
		varianceItem("e1", "earthworks", 40, 400),
	}, model.Totals{})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Empty(t, entry.Alerts)
}

func TestAnalyzeProject_ValueThresholdOnlyWhenSet(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	_, err := a.UpdateProjectConfig(ctx, "p1", ConfigPatch{
		Thresholds: &model.VarianceThresholds{ItemVariancePct: 90, ItemVarianceValue: 100},
	})
	require.NoError(t, err)

	putDraft(t, st, "p1", []model.CostItem{
		varianceItem("big-abs", "", 5, 5000),
	}, model.Totals{})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, entry.Alerts, 1)
	assert.Equal(t, model.AlertCritical, entry.Alerts[0].Level)
}

func TestAnalyzeProject_DisabledYieldsEmptyEntry(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	enabled := false
	_, err := a.UpdateProjectConfig(ctx, "p1", ConfigPatch{Enabled: &enabled})
	require.NoError(t, err)

	putDraft(t, st, "p1", []model.CostItem{varianceItem("x", "", 50, 500)}, model.Totals{})

	entry, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Empty(t, entry.Alerts)

	// Disabled runs are not cached.
	cached, err := a.GetCachedAnalysis(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestAnalyzeProject_NoDraft(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)

	entry, err := a.AnalyzeProject(context.Background(), "nope", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Empty(t, entry.Alerts)
}

func TestAnalyzeProject_CacheAndForce(t *testing.T) {
	a, st, b := newTestAnalyzer(t)
	ctx := context.Background()

	var events int
	b.Subscribe(bus.VarianceUpdated, func(string, any) error {
		events++
		return nil
	})

	putDraft(t, st, "p1", []model.CostItem{varianceItem("x", "", 15, 150)}, model.Totals{})

	first, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, events)

	// A fresh cache is returned as-is without a new run or event.
	second, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.RunAt, second.RunAt)
	assert.Equal(t, 1, events)

	// Force bypasses the freshness check.
	third, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, third.RunAt.Before(first.RunAt))
	assert.Equal(t, 2, events)
}

func TestGetCachedAnalysis_StaysStaleAfterDraftMutation(t *testing.T) {
	a, st, _ := newTestAnalyzer(t)
	ctx := context.Background()

	putDraft(t, st, "p1", []model.CostItem{varianceItem("x", "", 15, 150)}, model.Totals{})
	first, err := a.AnalyzeProject(ctx, "p1", AnalyzeOptions{})
	require.NoError(t, err)

	// The draft changes underneath; the cache must not move.
	putDraft(t, st, "p1", []model.CostItem{varianceItem("x", "", 90, 900)}, model.Totals{})

	cached, err := a.GetCachedAnalysis(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, first.RunAt, cached.RunAt)
	assert.Len(t, cached.Alerts, 1)
}
