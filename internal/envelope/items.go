package envelope

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/costwatch/internal/model"
)

// ItemInput is a partial cost item for upserts. Zero-valued fields leave the
// existing item untouched on merge.
type ItemInput struct {
	ID          string            `json:"id,omitempty"`
	OriginalID  string            `json:"original_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Category    string            `json:"category,omitempty"`
	Origin      model.ItemOrigin  `json:"origin,omitempty"`
	Estimated   *model.CostSide   `json:"estimated,omitempty"`
	Actual      *model.CostSide   `json:"actual,omitempty"`
}

// UpsertItem creates or field-merges one draft item. New items get a
// generated id and the IsNew flag; existing items are marked IsModified.
// Actual-only items have their estimated side zeroed, and a lone lump-sum
// total is backfilled to quantity 1 at that unit price.
func (s *Service) UpsertItem(ctx context.Context, projectID string, input ItemInput) (*MutationResult, error) {
	return s.SaveDraft(ctx, projectID, func(draft *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		now := time.Now().UTC()

		if existing := findItem(draft, input.ID); existing != nil {
			mergeItem(existing, input)
			existing.State.IsModified = true
			existing.State.LastEditAt = &now
			return nil, nil
		}

		item := model.CostItem{
			ID:          input.ID,
			OriginalID:  input.OriginalID,
			Description: input.Description,
			Unit:        input.Unit,
			Category:    input.Category,
			Origin:      input.Origin,
			State:       model.ItemState{IsNew: true, LastEditAt: &now},
		}
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if item.Origin == "" {
			item.Origin = model.ItemOriginManual
		}
		if input.Estimated != nil {
			item.Estimated = input.Estimated.Clone()
		}
		if input.Actual != nil {
			item.Actual = input.Actual.Clone()
		}
		if item.Origin == model.ItemOriginActualOnly {
			item.Estimated = model.CostSide{}
			if item.Actual.TotalPrice > 0 && item.Actual.Quantity == 0 && item.Actual.UnitPrice == 0 {
				item.Actual.Quantity = 1
				item.Actual.UnitPrice = item.Actual.TotalPrice
			}
		}

		draft.Items = append(draft.Items, item)
		return nil, nil
	})
}

func findItem(draft *model.BOQSnapshot, id string) *model.CostItem {
	if id == "" {
		return nil
	}
	for i := range draft.Items {
		if draft.Items[i].ID == id {
			return &draft.Items[i]
		}
	}
	return nil
}

// mergeItem overlays the non-zero fields of input onto item.
func mergeItem(item *model.CostItem, input ItemInput) {
	if input.OriginalID != "" {
		item.OriginalID = input.OriginalID
	}
	if input.Description != "" {
		item.Description = input.Description
	}
	if input.Unit != "" {
		item.Unit = input.Unit
	}
	if input.Category != "" {
		item.Category = input.Category
	}
	if input.Origin != "" {
		item.Origin = input.Origin
	}
	if input.Estimated != nil {
		item.Estimated = input.Estimated.Clone()
	}
	if input.Actual != nil {
		item.Actual = input.Actual.Clone()
	}
}

// AllocationParams identifies one purchase-order allocation to a breakdown
// row of a draft item.
type AllocationParams struct {
	ProjectID       string  `json:"project_id"`
	ItemID          string  `json:"item_id"`
	PurchaseOrderID string  `json:"purchase_order_id"`
	BreakdownItemID string  `json:"breakdown_item_id"`
	Amount          float64 `json:"amount"`
}

// AllocatePurchaseToItem records a purchase allocation against a draft item:
// an existing (purchase order, breakdown row) link is incremented, otherwise
// a new link is appended, and the committed/allocated counters grow by the
// amount. Fails with ErrItemNotFound when the target item is absent.
func (s *Service) AllocatePurchaseToItem(ctx context.Context, params AllocationParams) (*MutationResult, error) {
	return s.SaveDraft(ctx, params.ProjectID, func(draft *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		item := findItem(draft, params.ItemID)
		if item == nil {
			return nil, ErrItemNotFound
		}

		linked := false
		for i := range item.Procurement.Links {
			l := &item.Procurement.Links[i]
			if l.PurchaseOrderID == params.PurchaseOrderID && l.BreakdownItemID == params.BreakdownItemID {
				l.Amount += params.Amount
				linked = true
				break
			}
		}
		if !linked {
			item.Procurement.Links = append(item.Procurement.Links, model.ProcurementLink{
				PurchaseOrderID: params.PurchaseOrderID,
				BreakdownItemID: params.BreakdownItemID,
				Amount:          params.Amount,
			})
		}
		item.Procurement.Committed += params.Amount
		item.Procurement.Allocated += params.Amount
		return nil, nil
	})
}

// mutateItemTables is the shared path for breakdown-table CRUD: every
// structural change routes through SaveDraft so it triggers recompute,
// persist, and notify.
func (s *Service) mutateItemTables(ctx context.Context, projectID, itemID string, fn func(item *model.CostItem) error) (*MutationResult, error) {
	return s.SaveDraft(ctx, projectID, func(draft *model.BOQSnapshot) (*model.BOQSnapshot, error) {
		item := findItem(draft, itemID)
		if item == nil {
			return nil, ErrItemNotFound
		}
		item.Actual.MigrateTables()
		if err := fn(item); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		item.State.IsModified = true
		item.State.BreakdownDirty = true
		item.State.LastEditAt = &now
		return nil, nil
	})
}

// AddActualBreakdownTable appends an empty named table to the item's actual
// side and returns its generated id through the recomputed draft.
func (s *Service) AddActualBreakdownTable(ctx context.Context, projectID, itemID, name string) (*MutationResult, error) {
	return s.mutateItemTables(ctx, projectID, itemID, func(item *model.CostItem) error {
		item.Actual.BreakdownTables = append(item.Actual.BreakdownTables, model.ActualBreakdownTable{
			ID:   uuid.New().String(),
			Name: name,
		})
		return nil
	})
}

// RenameActualBreakdownTable renames one table.
func (s *Service) RenameActualBreakdownTable(ctx context.Context, projectID, itemID, tableID, name string) (*MutationResult, error) {
	return s.mutateItemTables(ctx, projectID, itemID, func(item *model.CostItem) error {
		t := findTable(item, tableID)
		if t == nil {
			return eris.Errorf("envelope: breakdown table %s not found", tableID)
		}
		t.Name = name
		return nil
	})
}

// RemoveActualBreakdownTable deletes one table and all its rows.
func (s *Service) RemoveActualBreakdownTable(ctx context.Context, projectID, itemID, tableID string) (*MutationResult, error) {
	return s.mutateItemTables(ctx, projectID, itemID, func(item *model.CostItem) error {
		tables := item.Actual.BreakdownTables
		for i := range tables {
			if tables[i].ID == tableID {
				item.Actual.BreakdownTables = append(tables[:i], tables[i+1:]...)
				return nil
			}
		}
		return eris.Errorf("envelope: breakdown table %s not found", tableID)
	})
}

// UpsertActualBreakdownRow creates or replaces one row in a table category.
// A row without an id gets a generated one.
func (s *Service) UpsertActualBreakdownRow(ctx context.Context, projectID, itemID, tableID, category string, row model.BreakdownRow) (*MutationResult, error) {
	return s.mutateItemTables(ctx, projectID, itemID, func(item *model.CostItem) error {
		t := findTable(item, tableID)
		if t == nil {
			return eris.Errorf("envelope: breakdown table %s not found", tableID)
		}
		rows, err := categoryRows(&t.Rows, category)
		if err != nil {
			return err
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		if row.Origin == "" {
			row.Origin = model.RowOriginActualOnly
		}
		for i := range *rows {
			if (*rows)[i].ID == row.ID {
				(*rows)[i] = row
				return nil
			}
		}
		*rows = append(*rows, row)
		return nil
	})
}

// RemoveActualBreakdownRow deletes one row from a table category.
func (s *Service) RemoveActualBreakdownRow(ctx context.Context, projectID, itemID, tableID, category, rowID string) (*MutationResult, error) {
	return s.mutateItemTables(ctx, projectID, itemID, func(item *model.CostItem) error {
		t := findTable(item, tableID)
		if t == nil {
			return eris.Errorf("envelope: breakdown table %s not found", tableID)
		}
		rows, err := categoryRows(&t.Rows, category)
		if err != nil {
			return err
		}
		for i := range *rows {
			if (*rows)[i].ID == rowID {
				*rows = append((*rows)[:i], (*rows)[i+1:]...)
				return nil
			}
		}
		return eris.Errorf("envelope: breakdown row %s not found", rowID)
	})
}

func findTable(item *model.CostItem, tableID string) *model.ActualBreakdownTable {
	for i := range item.Actual.BreakdownTables {
		if item.Actual.BreakdownTables[i].ID == tableID {
			return &item.Actual.BreakdownTables[i]
		}
	}
	return nil
}

func categoryRows(set *model.CostBreakdownSet, category string) (*[]model.BreakdownRow, error) {
	switch category {
	case "materials":
		return &set.Materials, nil
	case "labor":
		return &set.Labor, nil
	case "equipment":
		return &set.Equipment, nil
	case "subcontractors":
		return &set.Subcontractors, nil
	default:
		return nil, eris.Errorf("envelope: unknown breakdown category %q", category)
	}
}
