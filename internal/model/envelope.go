// Package model defines the cost envelope domain types shared across the
// store, mutation, reconciliation, and variance packages.
package model

import "time"

// SnapshotStatus marks a BOQ snapshot as the working draft or the frozen
// official baseline.
type SnapshotStatus string

const (
	SnapshotDraft    SnapshotStatus = "draft"
	SnapshotOfficial SnapshotStatus = "official"
)

// Totals holds the derived envelope-level sums. It is always recomputed from
// the item list, never set directly.
type Totals struct {
	EstimatedTotal float64 `json:"estimated_total"`
	ActualTotal    float64 `json:"actual_total"`
	VarianceTotal  float64 `json:"variance_total"`
	VariancePct    float64 `json:"variance_pct"`
}

// BOQSnapshot is one bill-of-quantities snapshot for a project.
type BOQSnapshot struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Status      SnapshotStatus `json:"status"`
	Items       []CostItem     `json:"items"`
	Totals      Totals         `json:"totals"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Clone returns a deep copy with no aliasing into the receiver.
func (s *BOQSnapshot) Clone() *BOQSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = make([]CostItem, len(s.Items))
	for i := range s.Items {
		out.Items[i] = *s.Items[i].Clone()
	}
	return &out
}

// MergeStats summarizes the outcome of one tender reconciliation run.
type MergeStats struct {
	Added      int `json:"added"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Conflicted int `json:"conflicted"`
	Total      int `json:"total"`
}

// ProfitMetrics holds the derived profit and erosion figures for a project,
// computed against the external contract value.
type ProfitMetrics struct {
	ContractValue  float64   `json:"contract_value"`
	ExpectedProfit float64   `json:"expected_profit"`
	ActualProfit   float64   `json:"actual_profit"`
	ErosionValue   float64   `json:"erosion_value"`
	ErosionPct     float64   `json:"erosion_pct"`
	ComputedAt     time.Time `json:"computed_at"`
}

// EnvelopeMeta carries bookkeeping that survives snapshot churn.
type EnvelopeMeta struct {
	LastPromotionAt        *time.Time     `json:"last_promotion_at,omitempty"`
	LastImportFromTenderAt *time.Time     `json:"last_import_from_tender_at,omitempty"`
	SourceTenderID         string         `json:"source_tender_id,omitempty"`
	ItemStats              *MergeStats    `json:"item_stats,omitempty"`
	Profit                 *ProfitMetrics `json:"profit,omitempty"`
}

// CostEnvelope is the per-project document holding at most one draft and one
// official snapshot.
type CostEnvelope struct {
	ProjectID string       `json:"project_id"`
	Draft     *BOQSnapshot `json:"draft,omitempty"`
	Official  *BOQSnapshot `json:"official,omitempty"`
	Meta      EnvelopeMeta `json:"meta"`
	Version   int64        `json:"version"`
}
