// Package profit derives expected/actual profit and profit erosion from a
// project's contract value and the envelope totals.
package profit

import (
	"time"

	"github.com/sells-group/costwatch/internal/model"
)

// Compute derives the profit metrics for one contract value against a set of
// envelope totals. Erosion percentage is zero when there was no expected
// profit to erode.
func Compute(contractValue float64, totals model.Totals) model.ProfitMetrics {
	m := model.ProfitMetrics{
		ContractValue:  contractValue,
		ExpectedProfit: contractValue - totals.EstimatedTotal,
		ActualProfit:   contractValue - totals.ActualTotal,
		ComputedAt:     time.Now().UTC(),
	}
	m.ErosionValue = m.ExpectedProfit - m.ActualProfit
	if m.ExpectedProfit > 0 {
		m.ErosionPct = m.ErosionValue / m.ExpectedProfit * 100
	}
	return m
}
