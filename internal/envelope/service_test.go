package envelope

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

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	svc := NewService(st, st, bus.New(zap.NewNop()), zap.NewNop())
	return svc, st
}

func seedProject(t *testing.T, st store.Store, id string, contract float64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.PutProject(context.Background(), &model.Project{
		ID:            id,
		Name:          "Test Project",
		ContractValue: contract,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func TestEnsureDraft_CreatesEnvelopeWithEmptyDraft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	env, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, env.Draft)
	assert.Equal(t, "p1", env.Draft.ProjectID)
	assert.Equal(t, model.SnapshotDraft, env.Draft.Status)
	assert.Empty(t, env.Draft.Items)
	assert.Nil(t, env.Official)
	assert.NotEmpty(t, env.Draft.ID)
}

func TestEnsureDraft_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)
	second, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, first.Draft.ID, second.Draft.ID)
	assert.Equal(t, first.Version, second.Version)
}

func TestEnsureDraft_ClonesOfficialIntoFreshDraft(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	official := &model.BOQSnapshot{
		ID:        "off-1",
		ProjectID: "p1",
		Status:    model.SnapshotOfficial,
		Items: []model.CostItem{
			{ID: "item-1", Description: "Concrete works"},
		},
	}
	require.NoError(t, st.PutEnvelope(ctx, &model.CostEnvelope{
		ProjectID: "p1",
		Official:  official,
	}))

	env, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, env.Draft)
	assert.NotEqual(t, official.ID, env.Draft.ID)
	assert.Equal(t, model.SnapshotDraft, env.Draft.Status)
	require.Len(t, env.Draft.Items, 1)
	assert.Equal(t, "Concrete works", env.Draft.Items[0].Description)

	// Mutating the draft item must not leak into the official snapshot.
	env.Draft.Items[0].Description = "changed"
	assert.Equal(t, "Concrete works", env.Official.Items[0].Description)
}

func TestSaveDraft_RequiresDraft(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SaveDraft(context.Background(), "missing", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrDraftNotInitialized)
}

func TestSaveDraft_RecomputesTotalsAndBumpsVersion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	env, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)
	before := env.Version

	res, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		d.Items = append(d.Items, model.CostItem{
			ID:        "item-1",
			Estimated: model.CostSide{TotalPrice: 100},
			Actual: model.CostSide{
				Quantity: 1,
				Breakdown: model.CostBreakdownSet{
					Materials: []model.BreakdownRow{{TotalCost: 120}},
				},
			},
		})
		return nil, nil
	})
	require.NoError(t, err)
	<-res.Settled

	assert.Greater(t, res.Envelope.Version, before)
	assert.InDelta(t, 100.0, res.Draft.Totals.EstimatedTotal, 1e-9)
	assert.InDelta(t, 120.0, res.Draft.Totals.ActualTotal, 1e-9)
	assert.InDelta(t, 20.0, res.Draft.Totals.VarianceTotal, 1e-9)
	assert.InDelta(t, 20.0, res.Draft.Totals.VariancePct, 1e-9)
}

func TestSaveDraft_ReplacementDraft(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)

	replacement := &model.BOQSnapshot{
		ID:    "replacement",
		Items: []model.CostItem{{ID: "r1", Estimated: model.CostSide{TotalPrice: 10}}},
	}
	res, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		return replacement, nil
	})
	require.NoError(t, err)
	<-res.Settled

	assert.Equal(t, "replacement", res.Draft.ID)
	assert.Equal(t, "p1", res.Draft.ProjectID)
	assert.Equal(t, model.SnapshotDraft, res.Draft.Status)
}

func TestSaveDraft_SettlesProfitMetrics(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedProject(t, st, "p1", 1000)

	_, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)

	res, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		d.Items = append(d.Items, model.CostItem{
			ID:        "item-1",
			Estimated: model.CostSide{TotalPrice: 800},
			Actual: model.CostSide{
				Quantity: 1,
				Breakdown: model.CostBreakdownSet{
					Labor: []model.BreakdownRow{{TotalCost: 900}},
				},
			},
		})
		return nil, nil
	})
	require.NoError(t, err)
	<-res.Settled

	stored, err := st.GetEnvelope(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored.Meta.Profit)
	assert.InDelta(t, 200.0, stored.Meta.Profit.ExpectedProfit, 1e-9)
	assert.InDelta(t, 100.0, stored.Meta.Profit.ActualProfit, 1e-9)
	assert.InDelta(t, 100.0, stored.Meta.Profit.ErosionValue, 1e-9)
	assert.InDelta(t, 50.0, stored.Meta.Profit.ErosionPct, 1e-9)
}

func TestSaveDraft_MissingProjectSkipsProfit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)

	res, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		return nil, nil
	})
	require.NoError(t, err)
	<-res.Settled

	stored, err := st.GetEnvelope(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, stored.Meta.Profit)
}

func TestPromote_RequiresDraft(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Promote(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNothingToPromote)
}

func TestPromote_FreezesOfficialSnapshot(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedProject(t, st, "p1", 1000)

	_, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)
	saveRes, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		d.Items = append(d.Items, model.CostItem{
			ID:        "item-1",
			Estimated: model.CostSide{TotalPrice: 500},
			Actual: model.CostSide{
				Quantity: 1,
				Breakdown: model.CostBreakdownSet{
					Materials: []model.BreakdownRow{{TotalCost: 450}},
				},
			},
		})
		return nil, nil
	})
	require.NoError(t, err)
	<-saveRes.Settled

	res, err := svc.Promote(ctx, "p1")
	require.NoError(t, err)
	<-res.Settled

	env := res.Envelope
	require.NotNil(t, env.Official)
	assert.Equal(t, model.SnapshotOfficial, env.Official.Status)
	assert.NotNil(t, env.Meta.LastPromotionAt)
	frozen := env.Official.Totals

	// Keep editing the draft; the official snapshot must not move.
	editRes, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		d.Items[0].Actual.Breakdown.Materials[0].TotalCost = 999
		return nil, nil
	})
	require.NoError(t, err)
	<-editRes.Settled

	stored, err := st.GetEnvelope(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, frozen, stored.Official.Totals)
	assert.InDelta(t, 999.0, stored.Draft.Totals.ActualTotal, 1e-9)
}

func TestPromote_PushesCostsOntoProjectRecord(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedProject(t, st, "p1", 1000)

	_, err := svc.EnsureDraft(ctx, "p1")
	require.NoError(t, err)
	saveRes, err := svc.SaveDraft(ctx, "p1", func(d *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		d.Items = append(d.Items, model.CostItem{
			ID:        "item-1",
			Estimated: model.CostSide{TotalPrice: 800},
			Actual: model.CostSide{
				Quantity: 1,
				Breakdown: model.CostBreakdownSet{
					Subcontractors: []model.BreakdownRow{{TotalCost: 700}},
				},
			},
		})
		return nil, nil
	})
	require.NoError(t, err)
	<-saveRes.Settled

	res, err := svc.Promote(ctx, "p1")
	require.NoError(t, err)
	<-res.Settled

	p, err := st.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 800.0, p.EstimatedCost, 1e-9)
	assert.InDelta(t, 700.0, p.ActualCost, 1e-9)
	assert.InDelta(t, 700.0, p.Spent, 1e-9)
	assert.InDelta(t, 100.0, p.Remaining, 1e-9)
	assert.InDelta(t, 300.0, p.ActualProfit, 1e-9)
}

func TestMutate_RequiresDraft(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Mutate(context.Background(), "missing", func(env *model.CostEnvelope) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrDraftNotInitialized)
}

func TestComputeActualCostDecomposition_NoDraft(t *testing.T) {
	svc, _ := newTestService(t)

	dec, err := svc.ComputeActualCostDecomposition(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, dec.Total)
}
