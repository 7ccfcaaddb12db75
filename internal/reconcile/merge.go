// Package reconcile merges an externally re-imported tender BOQ into a live
// draft without destroying local edits, flagging conflicts instead of
// overwriting them.
package reconcile

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/envelope"
	"github.com/sells-group/costwatch/internal/model"
)

// ErrTenderBOQNotFound is returned when the source BOQ cannot be located.
var ErrTenderBOQNotFound = eris.New("tender BOQ not found")

// DefaultTotalChangeEpsilon is the threshold below which a source total
// change is treated as noise rather than an incoming change. Untuned
// inherited constant; override per engine when a better figure exists.
const DefaultTotalChangeEpsilon = 1e-4

// BOQRepository looks up the source BOQ produced by the bidding subsystem.
// Returns (nil, nil) when no BOQ exists for the tender.
type BOQRepository interface {
	GetTenderBOQ(ctx context.Context, tenderID string) (*model.BOQSnapshot, error)
}

// Mutator is the guarded envelope mutation path the merge routes through.
type Mutator interface {
	Mutate(ctx context.Context, projectID string, fn func(env *model.CostEnvelope) error) (*envelope.MutationResult, error)
}

// Engine reconciles tender BOQs into drafts.
type Engine struct {
	boqs    BOQRepository
	mutator Mutator
	log     *zap.Logger

	// TotalChangeEpsilon guards the conflict check on locally modified items.
	TotalChangeEpsilon float64
}

// NewEngine wires a reconciliation engine. A nil logger falls back to the
// global one.
func NewEngine(boqs BOQRepository, mutator Mutator, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.L()
	}
	return &Engine{
		boqs:               boqs,
		mutator:            mutator,
		log:                log,
		TotalChangeEpsilon: DefaultTotalChangeEpsilon,
	}
}

// Result is the synchronous merge outcome plus the settlement signal of the
// underlying mutation. The broadcast event may be observed before Settled
// closes; callers wanting strong consistency wait on it.
type Result struct {
	Stats   model.MergeStats
	Settled <-chan struct{}
}

// MergeFromTender merges the tender's BOQ into the project draft. Items are
// matched by a normalized key (original id, else description, else id,
// case-insensitive). Unmatched source items are added; unmodified matches
// have their estimated side overwritten; modified matches whose source total
// moved past the epsilon are flagged HasIncomingChange and left untouched.
// Draft items absent from the source are never removed.
func (e *Engine) MergeFromTender(ctx context.Context, projectID, tenderID string) (*Result, error) {
	source, err := e.boqs.GetTenderBOQ(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, eris.Wrapf(ErrTenderBOQNotFound, "reconcile: tender %s", tenderID)
	}

	var stats model.MergeStats
	res, err := e.mutator.Mutate(ctx, projectID, func(env *model.CostEnvelope) error {
		stats = e.mergeItems(env.Draft, source)
		now := time.Now().UTC()
		env.Meta.LastImportFromTenderAt = &now
		env.Meta.SourceTenderID = tenderID
		env.Meta.ItemStats = &stats
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("reconcile: merged tender BOQ",
		zap.String("project", projectID),
		zap.String("tender", tenderID),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("conflicted", stats.Conflicted),
	)

	return &Result{Stats: stats, Settled: res.Settled}, nil
}

func (e *Engine) mergeItems(draft *model.BOQSnapshot, source *model.BOQSnapshot) model.MergeStats {
	var stats model.MergeStats

	index := make(map[string]int, len(draft.Items))
	for i := range draft.Items {
		index[matchKey(&draft.Items[i])] = i
	}

	for i := range source.Items {
		src := &source.Items[i]
		stats.Total++

		ti, ok := index[matchKey(src)]
		if !ok {
			draft.Items = append(draft.Items, importItem(src))
			stats.Added++
			continue
		}

		target := &draft.Items[ti]
		if !target.State.IsModified {
			overwriteEstimated(target, src)
			stats.Updated++
			continue
		}

		if math.Abs(src.Estimated.TotalPrice-target.Estimated.TotalPrice) > e.TotalChangeEpsilon {
			target.State.HasIncomingChange = true
			stats.Conflicted++
			continue
		}
		stats.Unchanged++
	}

	return stats
}

// matchKey normalizes the identity used to pair source and draft items:
// first non-empty of original id, description, id, lowercased.
func matchKey(item *model.CostItem) string {
	for _, k := range []string{item.OriginalID, item.Description, item.ID} {
		if k = strings.TrimSpace(k); k != "" {
			return strings.ToLower(k)
		}
	}
	return ""
}

// importItem builds a fresh draft item from a source item. The estimated
// breakdown seeds the actual side since a new item carries no actual work
// yet.
func importItem(src *model.CostItem) model.CostItem {
	item := model.CostItem{
		ID:          uuid.New().String(),
		OriginalID:  src.OriginalID,
		Description: src.Description,
		Unit:        src.Unit,
		Category:    src.Category,
		Origin:      model.ItemOriginImported,
		Estimated:   src.Estimated.Clone(),
	}
	if item.OriginalID == "" {
		item.OriginalID = src.ID
	}
	item.Actual = src.Estimated.Clone()
	markRowsEstimated(&item.Actual.Breakdown)
	for i := range item.Actual.BreakdownTables {
		markRowsEstimated(&item.Actual.BreakdownTables[i].Rows)
	}
	return item
}

// overwriteEstimated replaces the target's estimated fields from the source
// and, only when the target's actual side holds no rows at all, re-seeds the
// actual breakdown from the fresh estimate. Existing actual-side work is
// never clobbered.
func overwriteEstimated(target, src *model.CostItem) {
	target.Estimated = src.Estimated.Clone()
	target.State.HasIncomingChange = false

	if len(target.Actual.Tables()) == 0 {
		target.Actual.Breakdown = src.Estimated.Breakdown.Clone()
		markRowsEstimated(&target.Actual.Breakdown)
		if target.Actual.Quantity == 0 {
			target.Actual.Quantity = src.Estimated.Quantity
		}
		if target.Actual.AdditionalPercentages == (model.MarkupPercentages{}) {
			target.Actual.AdditionalPercentages = src.Estimated.AdditionalPercentages
		}
	}
}

func markRowsEstimated(set *model.CostBreakdownSet) {
	for _, rows := range [][]model.BreakdownRow{set.Materials, set.Labor, set.Equipment, set.Subcontractors} {
		for i := range rows {
			rows[i].Origin = model.RowOriginEstimated
		}
	}
}
