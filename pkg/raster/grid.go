// Package raster defines the in-memory data model shared by all pipeline
// stages: dense 2D grids, binary masks, labeled regions and the pixel table.
// Grids are stored as flat row-major slices with explicit dimensions, and
// NaN marks cells with no data.
package raster

import (
	"fmt"
	"math"
)

// Connectivity selects the pixel neighborhood used when labeling
// connected components.
type Connectivity int

const (
	// Conn4 connects pixels sharing an edge.
	Conn4 Connectivity = 4
	// Conn8 connects pixels sharing an edge or a corner.
	Conn8 Connectivity = 8
)

// Valid reports whether the connectivity is one of the supported values.
func (c Connectivity) Valid() bool {
	return c == Conn4 || c == Conn8
}

// Grid is a dense 2D float64 raster in row-major order.
type Grid struct {
	Rows int
	Cols int
	Data []float64
}

// NewGrid returns a zero-filled grid with the given shape.
func NewGrid(rows, cols int) Grid {
	return Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewGridNaN returns a grid with every cell set to NaN (no data).
func NewGridNaN(rows, cols int) Grid {
	g := NewGrid(rows, cols)
	nan := math.NaN()
	for i := range g.Data {
		g.Data[i] = nan
	}
	return g
}

// At returns the value at (row, col).
func (g Grid) At(row, col int) float64 {
	return g.Data[row*g.Cols+col]
}

// Set writes the value at (row, col).
func (g Grid) Set(row, col int, v float64) {
	g.Data[row*g.Cols+col] = v
}

// InBounds reports whether (row, col) lies inside the grid.
func (g Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Rows && col >= 0 && col < g.Cols
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	out := Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// SameShape reports whether two grids have identical dimensions.
func (g Grid) SameShape(rows, cols int) bool {
	return g.Rows == rows && g.Cols == cols
}

// Mask is a dense 2D boolean raster in row-major order.
type Mask struct {
	Rows int
	Cols int
	Data []bool
}

// NewMask returns an all-false mask with the given shape.
func NewMask(rows, cols int) Mask {
	return Mask{Rows: rows, Cols: cols, Data: make([]bool, rows*cols)}
}

// At returns the mask value at (row, col).
func (m Mask) At(row, col int) bool {
	return m.Data[row*m.Cols+col]
}

// Set writes the mask value at (row, col).
func (m Mask) Set(row, col int, v bool) {
	m.Data[row*m.Cols+col] = v
}

// Clone returns a deep copy of the mask.
func (m Mask) Clone() Mask {
	out := Mask{Rows: m.Rows, Cols: m.Cols, Data: make([]bool, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// SameShape reports whether the mask matches the given dimensions.
func (m Mask) SameShape(rows, cols int) bool {
	return m.Rows == rows && m.Cols == cols
}

// Any reports whether at least one cell is set.
func (m Mask) Any() bool {
	for _, v := range m.Data {
		if v {
			return true
		}
	}
	return false
}

// Count returns the number of set cells.
func (m Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// And returns the cellwise intersection of two masks of the same shape.
func (m Mask) And(other Mask) (Mask, error) {
	if !other.SameShape(m.Rows, m.Cols) {
		return Mask{}, fmt.Errorf("mask shape mismatch: %dx%d vs %dx%d",
			m.Rows, m.Cols, other.Rows, other.Cols)
	}
	out := NewMask(m.Rows, m.Cols)
	for i := range m.Data {
		out.Data[i] = m.Data[i] && other.Data[i]
	}
	return out, nil
}

// AndNot returns the cells set in m but not in other.
func (m Mask) AndNot(other Mask) (Mask, error) {
	if !other.SameShape(m.Rows, m.Cols) {
		return Mask{}, fmt.Errorf("mask shape mismatch: %dx%d vs %dx%d",
			m.Rows, m.Cols, other.Rows, other.Cols)
	}
	out := NewMask(m.Rows, m.Cols)
	for i := range m.Data {
		out.Data[i] = m.Data[i] && !other.Data[i]
	}
	return out, nil
}

// Or returns the cellwise union of two masks of the same shape.
func (m Mask) Or(other Mask) (Mask, error) {
	if !other.SameShape(m.Rows, m.Cols) {
		return Mask{}, fmt.Errorf("mask shape mismatch: %dx%d vs %dx%d",
			m.Rows, m.Cols, other.Rows, other.Cols)
	}
	out := NewMask(m.Rows, m.Cols)
	for i := range m.Data {
		out.Data[i] = m.Data[i] || other.Data[i]
	}
	return out, nil
}

// Intersects reports whether the two masks share any set cell.
func (m Mask) Intersects(other Mask) bool {
	if !other.SameShape(m.Rows, m.Cols) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] && other.Data[i] {
			return true
		}
	}
	return false
}

// Labels is a dense 2D labeling of connected components. Zero means
// background; positive values identify one component each.
type Labels struct {
	Rows  int
	Cols  int
	Data  []int32
	Count int
}

// NewLabels returns an all-background labeling with the given shape.
func NewLabels(rows, cols int) Labels {
	return Labels{Rows: rows, Cols: cols, Data: make([]int32, rows*cols)}
}

// At returns the label at (row, col).
func (l Labels) At(row, col int) int32 {
	return l.Data[row*l.Cols+col]
}

// ByteGrid is a dense 2D uint8 raster, used for categorical outputs such
// as the zone classification map.
type ByteGrid struct {
	Rows int
	Cols int
	Data []uint8
}

// NewByteGrid returns a zero-filled byte grid with the given shape.
func NewByteGrid(rows, cols int) *ByteGrid {
	return &ByteGrid{Rows: rows, Cols: cols, Data: make([]uint8, rows*cols)}
}

// At returns the value at (row, col).
func (b *ByteGrid) At(row, col int) uint8 {
	return b.Data[row*b.Cols+col]
}

// Set writes the value at (row, col).
func (b *ByteGrid) Set(row, col int, v uint8) {
	b.Data[row*b.Cols+col] = v
}
