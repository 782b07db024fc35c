package raster

import (
	"fmt"
	"math"
)

// PixelTable holds one row per valid raster cell, stored as parallel
// columns in raster-scan (row-major) insertion order. (Row, Col) pairs
// are unique within a table.
//
// The X, Y, Row, Col, LST and spectral-index columns are filled by
// ingestion. StatAnomaly, Predicted and Residual are filled by the
// detection stage; until then Predicted and Residual are NaN.
type PixelTable struct {
	X   []float64
	Y   []float64
	Row []int
	Col []int
	LST []float64

	NDVI  []float64
	NDWI  []float64
	NDBI  []float64
	NDBSI []float64

	StatAnomaly []bool
	Predicted   []float64
	Residual    []float64
}

// NewPixelTable returns an empty table with capacity for n rows.
func NewPixelTable(n int) *PixelTable {
	return &PixelTable{
		X:           make([]float64, 0, n),
		Y:           make([]float64, 0, n),
		Row:         make([]int, 0, n),
		Col:         make([]int, 0, n),
		LST:         make([]float64, 0, n),
		NDVI:        make([]float64, 0, n),
		NDWI:        make([]float64, 0, n),
		NDBI:        make([]float64, 0, n),
		NDBSI:       make([]float64, 0, n),
		StatAnomaly: make([]bool, 0, n),
		Predicted:   make([]float64, 0, n),
		Residual:    make([]float64, 0, n),
	}
}

// Append adds one pixel row. Detection columns start as false/NaN.
func (t *PixelTable) Append(x, y float64, row, col int, lst, ndvi, ndwi, ndbi, ndbsi float64) {
	t.X = append(t.X, x)
	t.Y = append(t.Y, y)
	t.Row = append(t.Row, row)
	t.Col = append(t.Col, col)
	t.LST = append(t.LST, lst)
	t.NDVI = append(t.NDVI, ndvi)
	t.NDWI = append(t.NDWI, ndwi)
	t.NDBI = append(t.NDBI, ndbi)
	t.NDBSI = append(t.NDBSI, ndbsi)
	t.StatAnomaly = append(t.StatAnomaly, false)
	t.Predicted = append(t.Predicted, math.NaN())
	t.Residual = append(t.Residual, math.NaN())
}

// Len returns the number of rows in the table.
func (t *PixelTable) Len() int {
	return len(t.LST)
}

// Clone returns a deep copy of the table. Pipeline stages that update
// detection columns operate on a copy rather than mutating their input.
func (t *PixelTable) Clone() *PixelTable {
	out := &PixelTable{
		X:           append([]float64(nil), t.X...),
		Y:           append([]float64(nil), t.Y...),
		Row:         append([]int(nil), t.Row...),
		Col:         append([]int(nil), t.Col...),
		LST:         append([]float64(nil), t.LST...),
		NDVI:        append([]float64(nil), t.NDVI...),
		NDWI:        append([]float64(nil), t.NDWI...),
		NDBI:        append([]float64(nil), t.NDBI...),
		NDBSI:       append([]float64(nil), t.NDBSI...),
		StatAnomaly: append([]bool(nil), t.StatAnomaly...),
		Predicted:   append([]float64(nil), t.Predicted...),
		Residual:    append([]float64(nil), t.Residual...),
	}
	return out
}

// Features returns the spectral-index feature row for table row i, in the
// column order the regression model is trained with.
func (t *PixelTable) Features(i int) []float64 {
	return []float64{t.NDVI[i], t.NDWI[i], t.NDBI[i], t.NDBSI[i]}
}

// Dataset couples a pixel table with the temperature grid and validity
// mask it was scanned from. Construction enforces the alignment
// invariant: all three share one shape and every table (row, col) lands
// on a valid, finite temperature cell. Stages consume a Dataset instead
// of trusting caller-supplied pairs to line up.
type Dataset struct {
	Table *PixelTable
	LST   Grid
	Valid Mask
}

// NewDataset validates alignment between the table and the grids and
// returns the combined dataset.
func NewDataset(table *PixelTable, lst Grid, valid Mask) (*Dataset, error) {
	if table == nil {
		return nil, fmt.Errorf("pixel table is nil")
	}
	if !valid.SameShape(lst.Rows, lst.Cols) {
		return nil, fmt.Errorf("validity mask shape %dx%d does not match temperature grid %dx%d",
			valid.Rows, valid.Cols, lst.Rows, lst.Cols)
	}
	seen := make(map[int]struct{}, table.Len())
	for i := 0; i < table.Len(); i++ {
		r, c := table.Row[i], table.Col[i]
		if !lst.InBounds(r, c) {
			return nil, fmt.Errorf("table row %d references out-of-bounds cell (%d, %d)", i, r, c)
		}
		key := r*lst.Cols + c
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("table row %d duplicates cell (%d, %d)", i, r, c)
		}
		seen[key] = struct{}{}
		if !valid.At(r, c) {
			return nil, fmt.Errorf("table row %d references invalid cell (%d, %d)", i, r, c)
		}
		if math.IsNaN(lst.At(r, c)) {
			return nil, fmt.Errorf("table row %d references NaN temperature at (%d, %d)", i, r, c)
		}
	}
	return &Dataset{Table: table, LST: lst, Valid: valid}, nil
}
