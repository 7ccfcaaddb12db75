package boqxlsx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/costwatch/internal/model"
)

func writeWorkbook(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, cols := range rows {
		row := sheet.AddRow()
		for _, v := range cols {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "boq.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadTenderBOQ_ParsesRows(t *testing.T) {
	path := writeWorkbook(t, "BOQ", [][]string{
		{"Code", "Description", "Unit", "Category", "Qty", "Rate"},
		{"1.01", "Excavation", "m3", "earthworks", "100", "12.5"},
		{"1.02", "Rebar supply", "t", "Materials", "2", "1,500"},
	})

	res, err := ReadTenderBOQ(path, Options{
		ProjectID: "p1",
		TenderID:  "t1",
		Columns:   DefaultColumnMap(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.Zero(t, res.Skipped)
	require.Len(t, res.Snapshot.Items, 2)
	assert.Equal(t, "t1", res.Snapshot.ID)
	assert.Equal(t, "p1", res.Snapshot.ProjectID)

	first := res.Snapshot.Items[0]
	assert.Equal(t, "1.01", first.OriginalID)
	assert.Equal(t, "Excavation", first.Description)
	assert.Equal(t, "m3", first.Unit)
	assert.Equal(t, model.ItemOriginImported, first.Origin)
	assert.InDelta(t, 100.0, first.Estimated.Quantity, 1e-9)
	assert.InDelta(t, 12.5, first.Estimated.UnitPrice, 1e-9)
	assert.InDelta(t, 1250.0, first.Estimated.TotalPrice, 1e-9)
	// "earthworks" is not a breakdown category, no seed row.
	assert.True(t, first.Estimated.Breakdown.Empty())

	second := res.Snapshot.Items[1]
	assert.InDelta(t, 3000.0, second.Estimated.TotalPrice, 1e-9)
	require.Len(t, second.Estimated.Breakdown.Materials, 1)
	seed := second.Estimated.Breakdown.Materials[0]
	assert.Equal(t, model.RowOriginEstimated, seed.Origin)
	assert.InDelta(t, 3000.0, seed.TotalCost, 1e-9)

	assert.InDelta(t, 4250.0, res.Snapshot.Totals.EstimatedTotal, 1e-9)
}

func TestReadTenderBOQ_SkipsBadRows(t *testing.T) {
	path := writeWorkbook(t, "BOQ", [][]string{
		{"Code", "Description", "Unit", "Category", "Qty", "Rate"},
		{"1.01", "", "m3", "", "1", "10"},          // no description
		{"1.02", "Unpriced item", "", "", "x", ""}, // bad quantity
		{"1.03", "Good item", "", "", "2", "5"},
	})

	res, err := ReadTenderBOQ(path, Options{Columns: DefaultColumnMap()})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Snapshot.Items, 1)
	assert.Equal(t, "Good item", res.Snapshot.Items[0].Description)
}

func TestReadTenderBOQ_SheetSelection(t *testing.T) {
	path := writeWorkbook(t, "Summary", [][]string{
		{"Description"},
	})

	_, err := ReadTenderBOQ(path, Options{SheetName: "BOQ", Columns: DefaultColumnMap()})
	assert.ErrorContains(t, err, `sheet "BOQ" not found`)

	_, err = ReadTenderBOQ(path, Options{SheetIndex: 3, Columns: DefaultColumnMap()})
	assert.ErrorContains(t, err, "out of range")
}

func TestReadTenderBOQ_MissingFile(t *testing.T) {
	_, err := ReadTenderBOQ(filepath.Join(t.TempDir(), "nope.xlsx"), Options{Columns: DefaultColumnMap()})
	assert.Error(t, err)
}
