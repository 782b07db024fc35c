package raster

import (
	"math"
	"testing"
)

// TestMaskSetOperations verifies the basic boolean mask algebra used
// throughout the pipeline.
func TestMaskSetOperations(t *testing.T) {
	a := NewMask(2, 3)
	b := NewMask(2, 3)
	a.Set(0, 0, true)
	a.Set(0, 1, true)
	b.Set(0, 1, true)
	b.Set(1, 2, true)

	and, err := a.And(b)
	if err != nil {
		t.Fatalf("And failed: %v", err)
	}
	if and.Count() != 1 || !and.At(0, 1) {
		t.Errorf("Expected intersection {(0,1)}, got %d cells", and.Count())
	}

	or, err := a.Or(b)
	if err != nil {
		t.Fatalf("Or failed: %v", err)
	}
	if or.Count() != 3 {
		t.Errorf("Expected union of 3 cells, got %d", or.Count())
	}

	diff, err := a.AndNot(b)
	if err != nil {
		t.Fatalf("AndNot failed: %v", err)
	}
	if diff.Count() != 1 || !diff.At(0, 0) {
		t.Errorf("Expected difference {(0,0)}, got %d cells", diff.Count())
	}

	if !a.Intersects(b) {
		t.Error("Expected masks to intersect")
	}
}

// TestMaskShapeMismatch verifies that set operations reject masks of
// different shapes.
func TestMaskShapeMismatch(t *testing.T) {
	a := NewMask(2, 3)
	b := NewMask(3, 2)
	if _, err := a.And(b); err == nil {
		t.Error("Expected error for mismatched shapes, got nil")
	}
}

// TestGridNaN verifies that NewGridNaN marks every cell as no-data.
func TestGridNaN(t *testing.T) {
	g := NewGridNaN(3, 4)
	for i, v := range g.Data {
		if !math.IsNaN(v) {
			t.Fatalf("Cell %d is %v, expected NaN", i, v)
		}
	}
	g.Set(1, 2, 7.5)
	if g.At(1, 2) != 7.5 {
		t.Errorf("Expected 7.5 at (1,2), got %v", g.At(1, 2))
	}
}

// TestNewDataset verifies that a consistent table/grid/mask triple is
// accepted.
func TestNewDataset(t *testing.T) {
	lst := NewGridNaN(2, 2)
	valid := NewMask(2, 2)
	lst.Set(0, 0, 21.5)
	valid.Set(0, 0, true)

	table := NewPixelTable(1)
	table.Append(0, 0, 0, 0, 21.5, 0.1, 0.2, 0.3, 0.4)

	ds, err := NewDataset(table, lst, valid)
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	if ds.Table.Len() != 1 {
		t.Errorf("Expected 1 table row, got %d", ds.Table.Len())
	}
}

// TestNewDatasetRejectsMisalignment verifies the alignment invariant:
// out-of-bounds cells, duplicates, invalid cells and NaN temperatures
// are all rejected at construction.
func TestNewDatasetRejectsMisalignment(t *testing.T) {
	makeInputs := func() (*PixelTable, Grid, Mask) {
		lst := NewGridNaN(2, 2)
		valid := NewMask(2, 2)
		lst.Set(0, 0, 21.5)
		valid.Set(0, 0, true)
		table := NewPixelTable(1)
		table.Append(0, 0, 0, 0, 21.5, 0.1, 0.2, 0.3, 0.4)
		return table, lst, valid
	}

	// Out-of-bounds row.
	table, lst, valid := makeInputs()
	table.Row[0] = 5
	if _, err := NewDataset(table, lst, valid); err == nil {
		t.Error("Expected error for out-of-bounds cell, got nil")
	}

	// Duplicate (row, col).
	table, lst, valid = makeInputs()
	table.Append(0, 0, 0, 0, 21.5, 0.1, 0.2, 0.3, 0.4)
	if _, err := NewDataset(table, lst, valid); err == nil {
		t.Error("Expected error for duplicate cell, got nil")
	}

	// Cell not marked valid.
	table, lst, valid = makeInputs()
	valid.Set(0, 0, false)
	if _, err := NewDataset(table, lst, valid); err == nil {
		t.Error("Expected error for invalid cell, got nil")
	}

	// NaN temperature under a table row.
	table, lst, valid = makeInputs()
	lst.Set(0, 0, math.NaN())
	if _, err := NewDataset(table, lst, valid); err == nil {
		t.Error("Expected error for NaN temperature, got nil")
	}

	// Mismatched grid and mask shapes.
	table, lst, _ = makeInputs()
	if _, err := NewDataset(table, lst, NewMask(3, 3)); err == nil {
		t.Error("Expected error for shape mismatch, got nil")
	}
}

// TestPixelTableClone verifies that clones are independent of the
// original table.
func TestPixelTableClone(t *testing.T) {
	table := NewPixelTable(1)
	table.Append(0, 0, 0, 0, 21.5, 0.1, 0.2, 0.3, 0.4)

	clone := table.Clone()
	clone.StatAnomaly[0] = true
	clone.LST[0] = 99

	if table.StatAnomaly[0] {
		t.Error("Mutating the clone changed the original StatAnomaly column")
	}
	if table.LST[0] != 21.5 {
		t.Error("Mutating the clone changed the original LST column")
	}
	if !math.IsNaN(table.Residual[0]) {
		t.Error("Expected the residual column to start as NaN")
	}
}
