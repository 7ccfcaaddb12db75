package model

import "time"

// RowOrigin distinguishes rows seeded from the estimated breakdown from rows
// added against actuals only.
type RowOrigin string

const (
	RowOriginEstimated  RowOrigin = "estimated"
	RowOriginActualOnly RowOrigin = "actual-only"
)

// ItemOrigin records how a cost item entered the draft.
type ItemOrigin string

const (
	ItemOriginManual     ItemOrigin = "manual"
	ItemOriginImported   ItemOrigin = "imported"
	ItemOriginActualOnly ItemOrigin = "actual-only"
)

// ProcurementLink ties an allocated purchase-order amount to a breakdown row.
type ProcurementLink struct {
	PurchaseOrderID string  `json:"purchase_order_id"`
	BreakdownItemID string  `json:"breakdown_item_id"`
	Amount          float64 `json:"amount"`
}

// Procurement accumulates committed and allocated purchase amounts per item.
type Procurement struct {
	Committed float64           `json:"committed"`
	Allocated float64           `json:"allocated"`
	Links     []ProcurementLink `json:"links"`
}

// BreakdownRow is one cost line inside a breakdown category.
type BreakdownRow struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Unit             string            `json:"unit,omitempty"`
	Quantity         float64           `json:"quantity"`
	UnitCost         float64           `json:"unit_cost"`
	TotalCost        float64           `json:"total_cost"`
	Origin           RowOrigin         `json:"origin"`
	ProcurementLinks []ProcurementLink `json:"procurement_links,omitempty"`
}

// CostBreakdownSet groups breakdown rows into the four cost categories.
type CostBreakdownSet struct {
	Materials      []BreakdownRow `json:"materials"`
	Labor          []BreakdownRow `json:"labor"`
	Equipment      []BreakdownRow `json:"equipment"`
	Subcontractors []BreakdownRow `json:"subcontractors"`
}

// Empty reports whether no category holds any row.
func (b *CostBreakdownSet) Empty() bool {
	return len(b.Materials) == 0 && len(b.Labor) == 0 &&
		len(b.Equipment) == 0 && len(b.Subcontractors) == 0
}

// Clone returns a deep copy of the set.
func (b *CostBreakdownSet) Clone() CostBreakdownSet {
	return CostBreakdownSet{
		Materials:      cloneRows(b.Materials),
		Labor:          cloneRows(b.Labor),
		Equipment:      cloneRows(b.Equipment),
		Subcontractors: cloneRows(b.Subcontractors),
	}
}

func cloneRows(rows []BreakdownRow) []BreakdownRow {
	if rows == nil {
		return nil
	}
	out := make([]BreakdownRow, len(rows))
	for i, r := range rows {
		out[i] = r
		if r.ProcurementLinks != nil {
			out[i].ProcurementLinks = append([]ProcurementLink(nil), r.ProcurementLinks...)
		}
	}
	return out
}

// ActualBreakdownTable is a named breakdown table on the actual side. An item
// may carry several (one per work package, change order, etc.).
type ActualBreakdownTable struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Rows CostBreakdownSet `json:"rows"`
}

// MarkupPercentages are the surcharge percentages applied on top of the
// breakdown base.
type MarkupPercentages struct {
	Administrative float64 `json:"administrative"`
	Operational    float64 `json:"operational"`
	Profit         float64 `json:"profit"`
}

// CostSide is one side (estimated or actual) of a cost item.
type CostSide struct {
	Quantity              float64                `json:"quantity"`
	UnitPrice             float64                `json:"unit_price"`
	TotalPrice            float64                `json:"total_price"`
	Breakdown             CostBreakdownSet       `json:"breakdown"`
	AdditionalPercentages MarkupPercentages      `json:"additional_percentages"`
	BreakdownTables       []ActualBreakdownTable `json:"breakdown_tables,omitempty"`
}

// Tables returns the side's breakdowns normalized to a list of named tables.
// Legacy data carrying only the single Breakdown set is viewed as a singleton
// list; callers always iterate the list.
func (s *CostSide) Tables() []ActualBreakdownTable {
	if len(s.BreakdownTables) > 0 {
		return s.BreakdownTables
	}
	if s.Breakdown.Empty() {
		return nil
	}
	return []ActualBreakdownTable{{ID: "legacy", Name: "General", Rows: s.Breakdown}}
}

// MigrateTables moves a legacy single Breakdown set into the tables list so
// that structural edits always operate on tables. No-op when tables already
// exist or the legacy set is empty.
func (s *CostSide) MigrateTables() {
	if len(s.BreakdownTables) > 0 || s.Breakdown.Empty() {
		return
	}
	s.BreakdownTables = []ActualBreakdownTable{{ID: "legacy", Name: "General", Rows: s.Breakdown}}
	s.Breakdown = CostBreakdownSet{}
}

// Clone returns a deep copy of the side.
func (s *CostSide) Clone() CostSide {
	out := *s
	out.Breakdown = s.Breakdown.Clone()
	if s.BreakdownTables != nil {
		out.BreakdownTables = make([]ActualBreakdownTable, len(s.BreakdownTables))
		for i, t := range s.BreakdownTables {
			out.BreakdownTables[i] = ActualBreakdownTable{ID: t.ID, Name: t.Name, Rows: t.Rows.Clone()}
		}
	}
	return out
}

// ItemVariance is the actual-minus-estimated gap for one item.
type ItemVariance struct {
	Value float64 `json:"value"`
	Pct   float64 `json:"pct"`
}

// ItemState tracks local-edit and reconciliation flags for one item.
type ItemState struct {
	IsModified        bool       `json:"is_modified"`
	HasIncomingChange bool       `json:"has_incoming_change,omitempty"`
	IsNew             bool       `json:"is_new,omitempty"`
	BreakdownDirty    bool       `json:"breakdown_dirty,omitempty"`
	LastEditAt        *time.Time `json:"last_edit_at,omitempty"`
}

// CostItem is one line of the bill of quantities.
type CostItem struct {
	ID          string       `json:"id"`
	OriginalID  string       `json:"original_id,omitempty"`
	Description string       `json:"description"`
	Unit        string       `json:"unit,omitempty"`
	Category    string       `json:"category,omitempty"`
	Estimated   CostSide     `json:"estimated"`
	Actual      CostSide     `json:"actual"`
	Procurement Procurement  `json:"procurement"`
	Variance    ItemVariance `json:"variance"`
	State       ItemState    `json:"state"`
	Origin      ItemOrigin   `json:"origin"`
}

// Clone returns a deep copy of the item.
func (c *CostItem) Clone() *CostItem {
	out := *c
	out.Estimated = c.Estimated.Clone()
	out.Actual = c.Actual.Clone()
	if c.Procurement.Links != nil {
		out.Procurement.Links = append([]ProcurementLink(nil), c.Procurement.Links...)
	}
	if c.State.LastEditAt != nil {
		t := *c.State.LastEditAt
		out.State.LastEditAt = &t
	}
	return &out
}
