// Package breakdown implements the cost-breakdown aggregation arithmetic:
// summing nested rows, applying markup percentages, deriving unit and total
// prices, and computing per-item and snapshot-level variance.
package breakdown

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/costwatch/internal/model"
)

// SumRows totals a row list, falling back to quantity*unit cost when a row
// carries no explicit total. An empty list sums to zero.
func SumRows(rows []model.BreakdownRow) float64 {
	var sum float64
	for _, r := range rows {
		if r.TotalCost != 0 {
			sum += r.TotalCost
			continue
		}
		sum += r.Quantity * r.UnitCost
	}
	return sum
}

func sumSet(set *model.CostBreakdownSet) float64 {
	return SumRows(set.Materials) + SumRows(set.Labor) +
		SumRows(set.Equipment) + SumRows(set.Subcontractors)
}

// SideResult reports the intermediate figures of one actual-side computation.
type SideResult struct {
	Base              float64
	Administrative    float64
	Operational       float64
	Profit            float64
	Total             float64
	QuantityCorrected bool
}

// ComputeActualSide recomputes a cost side in place from its breakdown tables
// and markup percentages. The three markups are each taken from the base
// independently. A non-positive quantity is normalized to 1 before the unit
// price is derived; the returned QuantityCorrected flag reports that the
// stored quantity was rewritten. A side with no breakdown rows at all keeps
// its stored prices: lump-sum entries have nothing to derive from. Only ever
// call this on the actual side; the estimated side is owned by the import
// source.
func ComputeActualSide(side *model.CostSide) SideResult {
	tables := side.Tables()
	if len(tables) == 0 {
		return SideResult{Total: side.TotalPrice}
	}

	var base float64
	for _, t := range tables {
		base += sumSet(&t.Rows)
	}

	pct := side.AdditionalPercentages
	res := SideResult{
		Base:           base,
		Administrative: base * pct.Administrative / 100,
		Operational:    base * pct.Operational / 100,
		Profit:         base * pct.Profit / 100,
	}
	res.Total = res.Base + res.Administrative + res.Operational + res.Profit

	if side.Quantity <= 0 {
		side.Quantity = 1
		res.QuantityCorrected = true
	}
	side.UnitPrice = round(res.Total/side.Quantity, 4)
	side.TotalPrice = round(res.Total, 2)
	return res
}

// ItemVariance recomputes an item's variance from its two total prices.
// A zero estimated total maps to 100% when any actual cost exists, 0 otherwise.
func ItemVariance(item *model.CostItem) {
	item.Variance.Value = item.Actual.TotalPrice - item.Estimated.TotalPrice
	item.Variance.Pct = variancePct(item.Estimated.TotalPrice, item.Actual.TotalPrice, item.Variance.Value)
}

func variancePct(estimated, actual, value float64) float64 {
	if estimated > 0 {
		return value / estimated * 100
	}
	if actual > 0 {
		return 100
	}
	return 0
}

// RecomputeTotals recomputes every item's actual side and variance, folds the
// snapshot totals from the items, and stamps LastUpdated. It returns the ids
// of items whose stored quantity was normalized so the caller can surface the
// correction instead of losing it silently.
func RecomputeTotals(snap *model.BOQSnapshot) []string {
	var corrected []string
	var estimated, actual float64

	for i := range snap.Items {
		item := &snap.Items[i]
		res := ComputeActualSide(&item.Actual)
		if res.QuantityCorrected {
			corrected = append(corrected, item.ID)
		}
		ItemVariance(item)
		estimated += item.Estimated.TotalPrice
		actual += item.Actual.TotalPrice
	}

	snap.Totals.EstimatedTotal = round(estimated, 2)
	snap.Totals.ActualTotal = round(actual, 2)
	snap.Totals.VarianceTotal = round(actual-estimated, 2)
	snap.Totals.VariancePct = variancePct(snap.Totals.EstimatedTotal, snap.Totals.ActualTotal, snap.Totals.VarianceTotal)
	snap.LastUpdated = time.Now().UTC()
	return corrected
}

// round rounds half away from zero to the given number of decimal places.
func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
