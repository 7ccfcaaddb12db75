// Package boqxlsx parses tender BOQ workbooks into BOQ snapshots ready for
// reconciliation. Construction BOQs arrive as Excel; this is the ingest edge.
package boqxlsx

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/costwatch/internal/model"
)

// ColumnMap maps workbook columns to item fields. Negative indexes mark a
// column as absent.
type ColumnMap struct {
	OriginalID  int
	Description int
	Unit        int
	Category    int
	Quantity    int
	UnitPrice   int
}

// DefaultColumnMap matches the common code/description/unit/category/qty/rate
// layout.
func DefaultColumnMap() ColumnMap {
	return ColumnMap{OriginalID: 0, Description: 1, Unit: 2, Category: 3, Quantity: 4, UnitPrice: 5}
}

// Options configures one workbook import.
type Options struct {
	SheetIndex int
	SheetName  string // overrides SheetIndex when set
	SkipRows   int    // header rows to skip, default 1
	Columns    ColumnMap
	ProjectID  string
	TenderID   string
}

// Result is a parsed tender BOQ plus row accounting.
type Result struct {
	Snapshot *model.BOQSnapshot
	Rows     int
	Skipped  int
}

// breakdown categories a Category cell may name directly.
var breakdownCategories = map[string]bool{
	"materials": true, "labor": true, "equipment": true, "subcontractors": true,
}

// ReadTenderBOQ reads a workbook into a BOQ snapshot. Rows without a
// description or with unparseable numbers are skipped and counted, not
// fatal. Estimated totals are derived as quantity times unit price; when the
// category names a breakdown category, a single seed row is placed there.
func ReadTenderBOQ(path string, opts Options) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "boqxlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	skip := opts.SkipRows
	if skip == 0 {
		skip = 1
	}

	res := &Result{
		Snapshot: &model.BOQSnapshot{
			ID:          opts.TenderID,
			ProjectID:   opts.ProjectID,
			Status:      model.SnapshotDraft,
			Items:       []model.CostItem{},
			LastUpdated: time.Now().UTC(),
		},
	}

	for i, row := range sheet.Rows {
		if i < skip {
			continue
		}
		cells := rowToStrings(row)
		res.Rows++

		item, ok := parseItem(cells, opts.Columns)
		if !ok {
			res.Skipped++
			continue
		}
		res.Snapshot.Items = append(res.Snapshot.Items, item)
		res.Snapshot.Totals.EstimatedTotal += item.Estimated.TotalPrice
	}

	return res, nil
}

func parseItem(cells []string, cols ColumnMap) (model.CostItem, bool) {
	desc := cellAt(cells, cols.Description)
	if desc == "" {
		return model.CostItem{}, false
	}

	qty, err := parseNumber(cellAt(cells, cols.Quantity))
	if err != nil {
		return model.CostItem{}, false
	}
	unitPrice, err := parseNumber(cellAt(cells, cols.UnitPrice))
	if err != nil {
		return model.CostItem{}, false
	}

	item := model.CostItem{
		ID:          uuid.New().String(),
		OriginalID:  cellAt(cells, cols.OriginalID),
		Description: desc,
		Unit:        cellAt(cells, cols.Unit),
		Category:    cellAt(cells, cols.Category),
		Origin:      model.ItemOriginImported,
		Estimated: model.CostSide{
			Quantity:   qty,
			UnitPrice:  unitPrice,
			TotalPrice: qty * unitPrice,
		},
	}

	if cat := strings.ToLower(item.Category); breakdownCategories[cat] {
		row := model.BreakdownRow{
			ID:        uuid.New().String(),
			Name:      desc,
			Unit:      item.Unit,
			Quantity:  qty,
			UnitCost:  unitPrice,
			TotalCost: qty * unitPrice,
			Origin:    model.RowOriginEstimated,
		}
		switch cat {
		case "materials":
			item.Estimated.Breakdown.Materials = []model.BreakdownRow{row}
		case "labor":
			item.Estimated.Breakdown.Labor = []model.BreakdownRow{row}
		case "equipment":
			item.Estimated.Breakdown.Equipment = []model.BreakdownRow{row}
		case "subcontractors":
			item.Estimated.Breakdown.Subcontractors = []model.BreakdownRow{row}
		}
	}

	return item, true
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("boqxlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("boqxlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
