package breakdown

import "github.com/sells-group/costwatch/internal/model"

// Decomposition summarizes a snapshot's actual costs per category plus the
// accumulated markups. Read-only; feeds the presentation layer.
type Decomposition struct {
	Materials      float64 `json:"materials"`
	Labor          float64 `json:"labor"`
	Equipment      float64 `json:"equipment"`
	Subcontractors float64 `json:"subcontractors"`
	Base           float64 `json:"base"`
	Administrative float64 `json:"administrative"`
	Operational    float64 `json:"operational"`
	Profit         float64 `json:"profit"`
	Total          float64 `json:"total"`
}

// Decompose folds the actual sides of all items into one category summary.
// Markups are taken per item from its own percentages, then summed.
func Decompose(snap *model.BOQSnapshot) Decomposition {
	var d Decomposition
	for i := range snap.Items {
		side := &snap.Items[i].Actual
		var base float64
		for _, t := range side.Tables() {
			d.Materials += SumRows(t.Rows.Materials)
			d.Labor += SumRows(t.Rows.Labor)
			d.Equipment += SumRows(t.Rows.Equipment)
			d.Subcontractors += SumRows(t.Rows.Subcontractors)
			base += sumSet(&t.Rows)
		}
		pct := side.AdditionalPercentages
		d.Administrative += base * pct.Administrative / 100
		d.Operational += base * pct.Operational / 100
		d.Profit += base * pct.Profit / 100
	}
	d.Materials = round(d.Materials, 2)
	d.Labor = round(d.Labor, 2)
	d.Equipment = round(d.Equipment, 2)
	d.Subcontractors = round(d.Subcontractors, 2)
	d.Base = round(d.Materials+d.Labor+d.Equipment+d.Subcontractors, 2)
	d.Administrative = round(d.Administrative, 2)
	d.Operational = round(d.Operational, 2)
	d.Profit = round(d.Profit, 2)
	d.Total = round(d.Base+d.Administrative+d.Operational+d.Profit, 2)
	return d
}
