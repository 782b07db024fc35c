// Package morph turns noisy per-pixel anomaly masks into spatially
// coherent objects. It unifies core pixels into labeled blobs, grows the
// influence zones attached to them, and renders the categorical
// classification map. All binary morphology is done with OpenCV via
// gocv; Mats never leave this package.
package morph

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"thermascan/pkg/config"
	"thermascan/pkg/raster"
)

// Classification codes, fixed as part of the output contract.
const (
	ClassBackground uint8 = 0
	ClassColdZone   uint8 = 1
	ClassHotZone    uint8 = 2
	ClassColdCore   uint8 = 3
	ClassHotCore    uint8 = 4
)

// Engine applies the configured morphological processing to anomaly
// masks. Engines are cheap and stateless; one per run keeps the pipeline
// ownership model simple.
type Engine struct {
	cfg config.Morphology
}

// New returns a morphology engine for the given configuration.
func New(cfg config.Morphology) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// UnifyCores merges nearby core pixels of each polarity into unified
// anomaly objects and labels them. The close -> dilate -> open -> prune
// order matters: closing first keeps the dilation from inflating already
// solid blobs, and opening after dilation undoes bridges created purely
// by the dilation radius rather than true proximity.
func (e *Engine) UnifyCores(coreHot, coreCold raster.Mask) (raster.Mask, raster.Mask, raster.Labels, raster.Labels, error) {
	unifiedHot, err := e.processCores(coreHot)
	if err != nil {
		return raster.Mask{}, raster.Mask{}, raster.Labels{}, raster.Labels{}, fmt.Errorf("hot cores: %w", err)
	}
	unifiedCold, err := e.processCores(coreCold)
	if err != nil {
		return raster.Mask{}, raster.Mask{}, raster.Labels{}, raster.Labels{}, fmt.Errorf("cold cores: %w", err)
	}

	conn := raster.Connectivity(e.cfg.Connectivity)
	hotLabels, err := Label(unifiedHot, conn)
	if err != nil {
		return raster.Mask{}, raster.Mask{}, raster.Labels{}, raster.Labels{}, err
	}
	coldLabels, err := Label(unifiedCold, conn)
	if err != nil {
		return raster.Mask{}, raster.Mask{}, raster.Labels{}, raster.Labels{}, err
	}

	fmt.Printf("Unified anomaly cores: %d hot, %d cold\n", hotLabels.Count, coldLabels.Count)

	return unifiedHot, unifiedCold, hotLabels, coldLabels, nil
}

// processCores runs the configured closing, agglutination and
// small-object pruning on one polarity's core mask.
func (e *Engine) processCores(mask raster.Mask) (raster.Mask, error) {
	src, err := maskToMat(mask)
	if err != nil {
		return raster.Mask{}, err
	}
	defer src.Close()

	kernel := diskKernel(e.cfg.KernelRadius)
	defer kernel.Close()
	agglut := diskKernel(e.cfg.AgglutinationRadius)
	defer agglut.Close()

	gocv.MorphologyEx(src, &src, gocv.MorphClose, kernel)
	gocv.Dilate(src, &src, agglut)
	gocv.MorphologyEx(src, &src, gocv.MorphOpen, agglut)

	return e.removeSmallObjects(src, mask.Rows, mask.Cols)
}

// removeSmallObjects drops connected components below the configured
// minimum pixel count.
func (e *Engine) removeSmallObjects(src gocv.Mat, rows, cols int) (raster.Mask, error) {
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStatsWithParams(src, &labels, &stats, &centroids,
		e.cfg.Connectivity, gocv.MatTypeCV32S)

	keep := make([]bool, n)
	for l := 1; l < n; l++ {
		area := int(stats.GetIntAt(l, int(gocv.CCStatArea)))
		keep[l] = area >= e.cfg.MinAnomalySize
	}

	out := raster.NewMask(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			l := labels.GetIntAt(r, c)
			if l > 0 && keep[l] {
				out.Set(r, c, true)
			}
		}
	}
	return out, nil
}

// GrowInfluenceZones finds, for each polarity, the beyond-threshold
// pixels that are spatially connected to a unified core. Growth is a
// connectivity test rather than a dilation: anomalous pixels with no
// path to a core are excluded, so no zone floats free of a real object.
func (e *Engine) GrowInfluenceZones(unifiedHot, unifiedCold raster.Mask, residual raster.Grid, valid raster.Mask, residualStd, kThreshold float64) (raster.Mask, raster.Mask, error) {
	threshold := kThreshold * residualStd

	potentialHot := raster.NewMask(residual.Rows, residual.Cols)
	potentialCold := raster.NewMask(residual.Rows, residual.Cols)
	for i, r := range residual.Data {
		if !valid.Data[i] {
			continue
		}
		// NaN residuals fail both comparisons.
		potentialHot.Data[i] = r > threshold && !unifiedHot.Data[i]
		potentialCold.Data[i] = r < -threshold && !unifiedCold.Data[i]
	}

	hotZone, err := e.growZone(unifiedHot, potentialHot)
	if err != nil {
		return raster.Mask{}, raster.Mask{}, fmt.Errorf("hot zone: %w", err)
	}
	coldZone, err := e.growZone(unifiedCold, potentialCold)
	if err != nil {
		return raster.Mask{}, raster.Mask{}, fmt.Errorf("cold zone: %w", err)
	}

	return hotZone, coldZone, nil
}

// growZone keeps the connected components of cores+potential that
// contain at least one core pixel, subtracts the cores, and smooths the
// boundary with one radius-1 close/open round. The final subtraction
// keeps the zone disjoint from the cores even after smoothing.
func (e *Engine) growZone(cores, potential raster.Mask) (raster.Mask, error) {
	if !cores.Any() {
		return raster.NewMask(cores.Rows, cores.Cols), nil
	}

	union, err := cores.Or(potential)
	if err != nil {
		return raster.Mask{}, err
	}
	labels, err := Label(union, raster.Conn4)
	if err != nil {
		return raster.Mask{}, err
	}

	attached := make([]bool, labels.Count+1)
	for i, core := range cores.Data {
		if core && labels.Data[i] > 0 {
			attached[labels.Data[i]] = true
		}
	}

	zone := raster.NewMask(cores.Rows, cores.Cols)
	for i, l := range labels.Data {
		zone.Data[i] = l > 0 && attached[l] && !cores.Data[i]
	}

	smoothed, err := e.smooth(zone)
	if err != nil {
		return raster.Mask{}, err
	}
	return smoothed.AndNot(cores)
}

// smooth applies one round of closing then opening with a radius-1 disk.
func (e *Engine) smooth(mask raster.Mask) (raster.Mask, error) {
	src, err := maskToMat(mask)
	if err != nil {
		return raster.Mask{}, err
	}
	defer src.Close()

	kernel := diskKernel(1)
	defer kernel.Close()
	gocv.MorphologyEx(src, &src, gocv.MorphClose, kernel)
	gocv.MorphologyEx(src, &src, gocv.MorphOpen, kernel)

	return matToMask(src, mask.Rows, mask.Cols), nil
}

// ClassificationMap renders the categorical zone map. Later writes
// override earlier ones; cores and zones are disjoint by construction,
// so the fixed priority order only matters defensively.
func (e *Engine) ClassificationMap(rows, cols int, coldZone, hotZone, coldCore, hotCore raster.Mask) *raster.ByteGrid {
	out := raster.NewByteGrid(rows, cols)
	for i := range out.Data {
		switch {
		case hotCore.Data[i]:
			out.Data[i] = ClassHotCore
		case coldCore.Data[i]:
			out.Data[i] = ClassColdCore
		case hotZone.Data[i]:
			out.Data[i] = ClassHotZone
		case coldZone.Data[i]:
			out.Data[i] = ClassColdZone
		default:
			out.Data[i] = ClassBackground
		}
	}
	return out
}

// Label produces connected-component labels for a binary mask with the
// given pixel connectivity. Zero is background.
func Label(mask raster.Mask, conn raster.Connectivity) (raster.Labels, error) {
	if !conn.Valid() {
		return raster.Labels{}, fmt.Errorf("connectivity must be 4 or 8, got %d", conn)
	}
	src, err := maskToMat(mask)
	if err != nil {
		return raster.Labels{}, err
	}
	defer src.Close()

	labelMat := gocv.NewMat()
	defer labelMat.Close()
	n := gocv.ConnectedComponentsWithParams(src, &labelMat, int(conn), gocv.MatTypeCV32S)

	out := raster.NewLabels(mask.Rows, mask.Cols)
	out.Count = n - 1
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			out.Data[r*mask.Cols+c] = labelMat.GetIntAt(r, c)
		}
	}
	return out, nil
}

// InnerBoundary returns the mask pixels that touch background under
// 4-connectivity (erosion difference with a cross kernel).
func InnerBoundary(mask raster.Mask) (raster.Mask, error) {
	src, err := maskToMat(mask)
	if err != nil {
		return raster.Mask{}, err
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphCross, image.Pt(3, 3))
	defer kernel.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(src, &eroded, kernel)

	return mask.AndNot(matToMask(eroded, mask.Rows, mask.Cols))
}

// OuterBoundary returns the background pixels that touch the mask under
// 4-connectivity (dilation difference with a cross kernel).
func OuterBoundary(mask raster.Mask) (raster.Mask, error) {
	src, err := maskToMat(mask)
	if err != nil {
		return raster.Mask{}, err
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphCross, image.Pt(3, 3))
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(src, &dilated, kernel)

	return matToMask(dilated, mask.Rows, mask.Cols).AndNot(mask)
}

// diskKernel returns an elliptical structuring element with the given
// radius (side 2r+1).
func diskKernel(radius int) gocv.Mat {
	side := 2*radius + 1
	return gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(side, side))
}

// maskToMat converts a boolean mask to an 8-bit binary Mat (255 = set).
// The caller owns the returned Mat.
func maskToMat(m raster.Mask) (gocv.Mat, error) {
	data := make([]byte, len(m.Data))
	for i, v := range m.Data {
		if v {
			data[i] = 255
		}
	}
	mat, err := gocv.NewMatFromBytes(m.Rows, m.Cols, gocv.MatTypeCV8U, data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to create mat from mask: %w", err)
	}
	return mat, nil
}

// matToMask converts an 8-bit binary Mat back to a boolean mask.
func matToMask(mat gocv.Mat, rows, cols int) raster.Mask {
	out := raster.NewMask(rows, cols)
	data := mat.ToBytes()
	for i := range out.Data {
		out.Data[i] = data[i] != 0
	}
	return out
}
