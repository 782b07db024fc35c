package morph

import (
	"testing"

	"thermascan/pkg/config"
	"thermascan/pkg/raster"
)

func newEngine(t *testing.T, cfg config.Morphology) *Engine {
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

// TestLabelConnectivity verifies that a diagonal pixel pair is one
// component under 8-connectivity and two under 4-connectivity.
func TestLabelConnectivity(t *testing.T) {
	m := raster.NewMask(5, 5)
	m.Set(1, 1, true)
	m.Set(2, 2, true)

	l8, err := Label(m, raster.Conn8)
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if l8.Count != 1 {
		t.Errorf("Expected 1 component under 8-connectivity, got %d", l8.Count)
	}

	l4, err := Label(m, raster.Conn4)
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if l4.Count != 2 {
		t.Errorf("Expected 2 components under 4-connectivity, got %d", l4.Count)
	}

	if _, err := Label(m, raster.Connectivity(6)); err == nil {
		t.Error("Expected error for unsupported connectivity, got nil")
	}
}

// TestUnifyCoresMergesNearby verifies that two blocks within the
// agglutination radius become one object, and stay separate when the
// radius is too small to bridge them.
func TestUnifyCoresMergesNearby(t *testing.T) {
	coreHot := raster.NewMask(30, 30)
	fillBlock(coreHot, 10, 12, 5, 7)
	fillBlock(coreHot, 10, 12, 12, 14)
	coreCold := raster.NewMask(30, 30)

	wide := newEngine(t, config.Morphology{
		MinAnomalySize: 1, AgglutinationRadius: 4, KernelRadius: 1, Connectivity: 8,
	})
	_, _, hotLabels, coldLabels, err := wide.UnifyCores(coreHot, coreCold)
	if err != nil {
		t.Fatalf("UnifyCores failed: %v", err)
	}
	if hotLabels.Count != 1 {
		t.Errorf("Expected the blocks to merge into 1 object, got %d", hotLabels.Count)
	}
	if coldLabels.Count != 0 {
		t.Errorf("Expected no cold objects, got %d", coldLabels.Count)
	}

	narrow := newEngine(t, config.Morphology{
		MinAnomalySize: 1, AgglutinationRadius: 1, KernelRadius: 1, Connectivity: 8,
	})
	_, _, hotLabels, _, err = narrow.UnifyCores(coreHot, coreCold)
	if err != nil {
		t.Fatalf("UnifyCores failed: %v", err)
	}
	if hotLabels.Count != 2 {
		t.Errorf("Expected the blocks to stay separate, got %d objects", hotLabels.Count)
	}
}

// TestUnifyCoresPrunesSmall verifies that objects below the minimum size
// are removed after unification.
func TestUnifyCoresPrunesSmall(t *testing.T) {
	coreHot := raster.NewMask(20, 20)
	coreHot.Set(10, 10, true)
	coreCold := raster.NewMask(20, 20)

	keep := newEngine(t, config.Morphology{
		MinAnomalySize: 1, AgglutinationRadius: 2, KernelRadius: 1, Connectivity: 8,
	})
	unifiedHot, _, hotLabels, _, err := keep.UnifyCores(coreHot, coreCold)
	if err != nil {
		t.Fatalf("UnifyCores failed: %v", err)
	}
	if hotLabels.Count != 1 || !unifiedHot.Any() {
		t.Errorf("Expected the single pixel to survive with minSize 1, got %d objects", hotLabels.Count)
	}

	prune := newEngine(t, config.Morphology{
		MinAnomalySize: 200, AgglutinationRadius: 2, KernelRadius: 1, Connectivity: 8,
	})
	unifiedHot, _, hotLabels, _, err = prune.UnifyCores(coreHot, coreCold)
	if err != nil {
		t.Fatalf("UnifyCores failed: %v", err)
	}
	if hotLabels.Count != 0 || unifiedHot.Any() {
		t.Errorf("Expected the object to be pruned, got %d objects over %d pixels",
			hotLabels.Count, unifiedHot.Count())
	}
}

// TestGrowInfluenceZones verifies that beyond-threshold pixels join the
// zone only when connected to a core, and that zones never overlap
// cores.
func TestGrowInfluenceZones(t *testing.T) {
	const rows, cols = 30, 30

	unifiedHot := raster.NewMask(rows, cols)
	fillBlock(unifiedHot, 10, 12, 10, 12)
	unifiedCold := raster.NewMask(rows, cols)

	residual := raster.NewGrid(rows, cols)
	// Attached beyond-threshold block to the right of the core.
	for r := 9; r <= 13; r++ {
		for c := 13; c <= 16; c++ {
			residual.Set(r, c, 5)
		}
	}
	// Floating beyond-threshold block with no path to any core.
	for r := 25; r <= 27; r++ {
		for c := 25; c <= 27; c++ {
			residual.Set(r, c, 5)
		}
	}

	valid := raster.NewMask(rows, cols)
	for i := range valid.Data {
		valid.Data[i] = true
	}

	e := newEngine(t, config.Morphology{
		MinAnomalySize: 1, AgglutinationRadius: 4, KernelRadius: 1, Connectivity: 8,
	})
	hotZone, coldZone, err := e.GrowInfluenceZones(unifiedHot, unifiedCold, residual, valid, 1.0, 1.5)
	if err != nil {
		t.Fatalf("GrowInfluenceZones failed: %v", err)
	}

	if !hotZone.Any() {
		t.Fatal("Expected a nonempty hot zone")
	}
	if !hotZone.At(11, 14) {
		t.Error("Expected the attached block interior inside the zone")
	}
	if hotZone.At(26, 26) {
		t.Error("Floating block must not join the zone")
	}
	if hotZone.Intersects(unifiedHot) {
		t.Error("Zone must stay disjoint from the cores")
	}
	if coldZone.Any() {
		t.Error("Expected an empty cold zone when there are no cold cores")
	}
}

// TestClassificationMap verifies the cell priority of the categorical
// map.
func TestClassificationMap(t *testing.T) {
	coldZone := raster.NewMask(2, 3)
	hotZone := raster.NewMask(2, 3)
	coldCore := raster.NewMask(2, 3)
	hotCore := raster.NewMask(2, 3)

	coldZone.Set(0, 0, true)
	hotZone.Set(0, 1, true)
	coldCore.Set(0, 2, true)
	hotCore.Set(1, 0, true)
	// Overlap: hot core wins over everything else.
	coldZone.Set(1, 1, true)
	hotCore.Set(1, 1, true)

	e := newEngine(t, config.Morphology{
		MinAnomalySize: 1, AgglutinationRadius: 1, KernelRadius: 1, Connectivity: 8,
	})
	m := e.ClassificationMap(2, 3, coldZone, hotZone, coldCore, hotCore)

	cases := []struct {
		r, c int
		want uint8
	}{
		{0, 0, ClassColdZone},
		{0, 1, ClassHotZone},
		{0, 2, ClassColdCore},
		{1, 0, ClassHotCore},
		{1, 1, ClassHotCore},
		{1, 2, ClassBackground},
	}
	for _, tc := range cases {
		if got := m.At(tc.r, tc.c); got != tc.want {
			t.Errorf("Class at (%d,%d) = %d, expected %d", tc.r, tc.c, got, tc.want)
		}
	}
}

// TestBoundaries verifies the inner and outer boundary extraction used
// by the continuity metric.
func TestBoundaries(t *testing.T) {
	m := raster.NewMask(12, 12)
	fillBlock(m, 5, 8, 5, 8)

	inner, err := InnerBoundary(m)
	if err != nil {
		t.Fatalf("InnerBoundary failed: %v", err)
	}
	if inner.Count() != 12 {
		t.Errorf("Expected 12 inner boundary pixels for a 4x4 block, got %d", inner.Count())
	}
	if inner.At(6, 6) {
		t.Error("Block interior must not be in the inner boundary")
	}
	if !inner.At(5, 5) {
		t.Error("Block corner must be in the inner boundary")
	}

	single := raster.NewMask(5, 5)
	single.Set(2, 2, true)
	outer, err := OuterBoundary(single)
	if err != nil {
		t.Fatalf("OuterBoundary failed: %v", err)
	}
	if outer.Count() != 4 {
		t.Errorf("Expected 4 outer boundary pixels for a single pixel, got %d", outer.Count())
	}
	if outer.At(2, 2) {
		t.Error("The pixel itself must not be in its outer boundary")
	}
}
