package score

import (
	"math"
	"testing"

	"thermascan/pkg/config"
	"thermascan/pkg/raster"
)

func newEngine(t *testing.T, cfg config.Scoring) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

// fillBlock sets a solid rectangular block of mask cells.
func fillBlock(m raster.Mask, r0, r1, c0, c1 int) {
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			m.Set(r, c, true)
		}
	}
}

// fillResidual writes a constant residual over a rectangular block.
func fillResidual(g raster.Grid, r0, r1, c0, c1 int, v float64) {
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			g.Set(r, c, v)
		}
	}
}

// TestGradientMagnitude verifies the finite-difference gradient on a
// uniform grid and a linear ramp.
func TestGradientMagnitude(t *testing.T) {
	flat := raster.NewGrid(4, 5)
	for i := range flat.Data {
		flat.Data[i] = 7
	}
	g := gradientMagnitude(flat)
	for i, v := range g.Data {
		if v != 0 {
			t.Fatalf("Uniform grid cell %d has gradient %v, expected 0", i, v)
		}
	}

	ramp := raster.NewGrid(4, 5)
	for r := 0; r < 4; r++ {
		for c := 0; c < 5; c++ {
			ramp.Set(r, c, float64(c))
		}
	}
	g = gradientMagnitude(ramp)
	for r := 0; r < 4; r++ {
		for c := 0; c < 5; c++ {
			if math.Abs(g.At(r, c)-1) > 1e-12 {
				t.Fatalf("Ramp gradient at (%d,%d) = %v, expected 1", r, c, g.At(r, c))
			}
		}
	}
}

// TestMedian verifies odd and even length behavior.
func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("median of odd slice = %v, expected 2", got)
	}
	if got := median([]float64{4, 1, 2, 3}); got != 2.5 {
		t.Errorf("median of even slice = %v, expected 2.5", got)
	}
	if !math.IsNaN(median(nil)) {
		t.Error("median of empty slice should be NaN")
	}
}

// TestCalculateScoresSingleObject verifies the submetrics of one hot
// anomaly with a known zone.
func TestCalculateScoresSingleObject(t *testing.T) {
	const rows, cols = 12, 12

	hotCore := raster.NewMask(rows, cols)
	fillBlock(hotCore, 2, 3, 2, 3)
	hotZone := raster.NewMask(rows, cols)
	fillBlock(hotZone, 2, 3, 4, 5)
	coldCore := raster.NewMask(rows, cols)
	coldZone := raster.NewMask(rows, cols)

	residual := raster.NewGrid(rows, cols)
	fillResidual(residual, 2, 3, 2, 3, 5)
	fillResidual(residual, 2, 3, 4, 5, 2)

	e := newEngine(t, config.Scoring{MinInfluencePixels: 1, StdFloor: 0.05})
	records, err := e.CalculateScores(hotCore, coldCore, hotZone, coldZone, residual, 0.1, 30, raster.Conn8)
	if err != nil {
		t.Fatalf("CalculateScores failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.Polarity != Hot {
		t.Errorf("Expected hot polarity, got %s", rec.Polarity)
	}
	if rec.AreaPixels != 4 {
		t.Errorf("Expected 4 zone pixels, got %d", rec.AreaPixels)
	}
	if rec.AreaM2 != 4*30*30 {
		t.Errorf("Expected area %v m2, got %v", 4*30*30, rec.AreaM2)
	}
	if rec.MedianDeltaT != 2 {
		t.Errorf("Expected median deltaT 2, got %v", rec.MedianDeltaT)
	}
	if math.Abs(rec.Severity-20) > 1e-9 {
		t.Errorf("Expected severity 20 (2 / 0.1), got %v", rec.Severity)
	}
	if rec.ResidualStdUsed != 0.1 {
		t.Errorf("Expected sigma 0.1, got %v", rec.ResidualStdUsed)
	}
	if rec.Continuity <= 0 || rec.Continuity > 1 {
		t.Errorf("Continuity %v outside (0, 1]", rec.Continuity)
	}
	if rec.IS <= 0 {
		t.Errorf("Expected a positive Impact Score for a hot object, got %v", rec.IS)
	}
	if want := math.Log(1+rec.RawScore) * 1; math.Abs(rec.IS-want) > 1e-12 {
		t.Errorf("IS = %v inconsistent with raw score %v", rec.IS, rec.RawScore)
	}
}

// TestStdFloor verifies that a tiny residual spread is clamped before
// severity normalization.
func TestStdFloor(t *testing.T) {
	const rows, cols = 10, 10

	hotCore := raster.NewMask(rows, cols)
	fillBlock(hotCore, 2, 3, 2, 3)
	hotZone := raster.NewMask(rows, cols)
	fillBlock(hotZone, 2, 3, 4, 5)
	empty := raster.NewMask(rows, cols)

	residual := raster.NewGrid(rows, cols)
	fillResidual(residual, 2, 3, 2, 5, 2)

	e := newEngine(t, config.Scoring{MinInfluencePixels: 1, StdFloor: 0.05})
	records, err := e.CalculateScores(hotCore, empty, hotZone, empty, residual, 0.01, 30, raster.Conn8)
	if err != nil {
		t.Fatalf("CalculateScores failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].ResidualStdUsed != 0.05 {
		t.Errorf("Expected the floor 0.05 to apply, got sigma %v", records[0].ResidualStdUsed)
	}
	if math.Abs(records[0].Severity-40) > 1e-9 {
		t.Errorf("Expected severity 40 (2 / 0.05), got %v", records[0].Severity)
	}
}

// TestZeroRecordForTinyZone verifies that a core with no influence zone
// still yields exactly one record, zero-valued.
func TestZeroRecordForTinyZone(t *testing.T) {
	const rows, cols = 10, 10

	hotCore := raster.NewMask(rows, cols)
	fillBlock(hotCore, 2, 3, 2, 3)
	empty := raster.NewMask(rows, cols)

	residual := raster.NewGrid(rows, cols)
	fillResidual(residual, 2, 3, 2, 3, 5)

	e := newEngine(t, config.Scoring{MinInfluencePixels: 1, StdFloor: 0.05})
	records, err := e.CalculateScores(hotCore, empty, empty, empty, residual, 0.1, 30, raster.Conn8)
	if err != nil {
		t.Fatalf("CalculateScores failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected exactly one record for the core, got %d", len(records))
	}

	rec := records[0]
	if rec.IS != 0 || rec.Severity != 0 || rec.AreaPixels != 0 {
		t.Errorf("Expected a zero-valued record, got IS=%v severity=%v area=%d",
			rec.IS, rec.Severity, rec.AreaPixels)
	}
	if rec.ResidualStdUsed != 0.1 {
		t.Errorf("Zero record should keep the run sigma, got %v", rec.ResidualStdUsed)
	}
}

// TestScoreOrdering verifies that records sort by absolute Impact Score
// and that cold objects carry negative scores.
func TestScoreOrdering(t *testing.T) {
	const rows, cols = 16, 16

	hotCore := raster.NewMask(rows, cols)
	fillBlock(hotCore, 2, 3, 2, 3)
	hotZone := raster.NewMask(rows, cols)
	fillBlock(hotZone, 2, 3, 4, 6)
	coldCore := raster.NewMask(rows, cols)
	fillBlock(coldCore, 10, 11, 10, 11)
	coldZone := raster.NewMask(rows, cols)
	fillBlock(coldZone, 10, 11, 12, 12)

	residual := raster.NewGrid(rows, cols)
	fillResidual(residual, 2, 3, 2, 3, 5)
	fillResidual(residual, 2, 3, 4, 6, 4)
	fillResidual(residual, 10, 11, 10, 11, -5)
	fillResidual(residual, 10, 11, 12, 12, -1)

	e := newEngine(t, config.Scoring{MinInfluencePixels: 1, StdFloor: 0.05})
	records, err := e.CalculateScores(hotCore, coldCore, hotZone, coldZone, residual, 1.0, 30, raster.Conn8)
	if err != nil {
		t.Fatalf("CalculateScores failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	if records[0].Polarity != Hot || records[0].IS <= 0 {
		t.Errorf("Expected the strong hot object first, got %s with IS=%v",
			records[0].Polarity, records[0].IS)
	}
	if records[1].Polarity != Cold || records[1].IS >= 0 {
		t.Errorf("Expected a negative cold score, got %s with IS=%v",
			records[1].Polarity, records[1].IS)
	}
	if math.Abs(records[0].IS) < math.Abs(records[1].IS) {
		t.Error("Records are not sorted by absolute Impact Score")
	}
}

// TestCalculateScoresRejectsBadPixelSize verifies input validation.
func TestCalculateScoresRejectsBadPixelSize(t *testing.T) {
	empty := raster.NewMask(4, 4)
	e := newEngine(t, config.Scoring{MinInfluencePixels: 1, StdFloor: 0.05})
	if _, err := e.CalculateScores(empty, empty, empty, empty, raster.NewGrid(4, 4), 1, 0, raster.Conn8); err == nil {
		t.Error("Expected error for non-positive pixel size, got nil")
	}
}
