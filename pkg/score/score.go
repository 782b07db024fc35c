// Package score converts labeled anomaly objects into signed Impact
// Scores. Each unified core blob yields exactly one record combining the
// magnitude of its residual deviation, the area of its influence zone
// and the smoothness of its boundary.
package score

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"thermascan/pkg/config"
	"thermascan/pkg/morph"
	"thermascan/pkg/raster"
)

// Polarity tags a record as a heat or cool anomaly.
type Polarity string

const (
	Hot  Polarity = "hot"
	Cold Polarity = "cold"
)

// Record holds the Impact Score and submetrics for one anomaly object.
// Records are created once and never mutated; ids are unique per
// polarity within a run but not stable across runs.
type Record struct {
	ID       int
	Polarity Polarity

	CentroidRow float64
	CentroidCol float64

	// IS is the signed Impact Score: log(1 + raw) carrying the sign of
	// the median residual, so hot and cold objects rank on one axis.
	IS float64

	Severity             float64
	AreaM2               float64
	AreaPixels           int
	Continuity           float64
	MedianDeltaT         float64
	MeanBoundaryGradient float64
	ResidualStdUsed      float64
	RawScore             float64
}

// Engine computes Impact Scores. The residual gradient-magnitude map is
// computed once per run and shared by both polarities.
type Engine struct {
	cfg      config.Scoring
	gradient raster.Grid
	haveGrad bool
}

// New returns a score engine for the given configuration.
func New(cfg config.Scoring) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// ComputeGradientMap precomputes the spatial gradient magnitude of the
// residual grid. NaN residuals are treated as zero before
// differentiation.
func (e *Engine) ComputeGradientMap(residual raster.Grid) {
	e.gradient = gradientMagnitude(residual)
	e.haveGrad = true
}

// CalculateScores scores every unified core of both polarities and
// returns the records sorted by |IS| descending.
func (e *Engine) CalculateScores(hotCore, coldCore, hotZone, coldZone raster.Mask, residual raster.Grid, residualStd, pixelSizeM float64, conn raster.Connectivity) ([]Record, error) {
	if pixelSizeM <= 0 {
		return nil, fmt.Errorf("pixel size must be positive, got %g", pixelSizeM)
	}
	e.ComputeGradientMap(residual)

	hotRecords, err := e.scoreAnomalies(hotCore, hotZone, Hot, residual, residualStd, pixelSizeM, conn)
	if err != nil {
		return nil, fmt.Errorf("hot anomalies: %w", err)
	}
	coldRecords, err := e.scoreAnomalies(coldCore, coldZone, Cold, residual, residualStd, pixelSizeM, conn)
	if err != nil {
		return nil, fmt.Errorf("cold anomalies: %w", err)
	}

	records := append(hotRecords, coldRecords...)
	sort.SliceStable(records, func(i, j int) bool {
		return math.Abs(records[i].IS) > math.Abs(records[j].IS)
	})

	fmt.Printf("Calculated Impact Scores for %d anomalies\n", len(records))

	return records, nil
}

// scoreAnomalies scores all anomalies of one polarity. Cores are labeled
// individually while core+zone is labeled as full objects; each core's
// centroid is looked up in the coarse labeling to find the full object
// it belongs to.
func (e *Engine) scoreAnomalies(cores, influence raster.Mask, polarity Polarity, residual raster.Grid, residualStd, pixelSizeM float64, conn raster.Connectivity) ([]Record, error) {
	if !cores.Any() {
		return nil, nil
	}

	labeledCores, err := morph.Label(cores, conn)
	if err != nil {
		return nil, err
	}
	full, err := cores.Or(influence)
	if err != nil {
		return nil, err
	}
	labeledFull, err := morph.Label(full, conn)
	if err != nil {
		return nil, err
	}

	centroids := regionCentroids(labeledCores)

	var records []Record
	for l := 1; l <= labeledCores.Count; l++ {
		cy, cx := centroids[l][0], centroids[l][1]

		fullLabel := labeledFull.At(int(cy), int(cx))
		if fullLabel == 0 {
			// Centroid landed on background in the coarse labeling;
			// the zone-growing containment rule should prevent this.
			continue
		}

		fullMask := raster.NewMask(cores.Rows, cores.Cols)
		influenceOnly := raster.NewMask(cores.Rows, cores.Cols)
		for i, lab := range labeledFull.Data {
			if lab == fullLabel {
				fullMask.Data[i] = true
				influenceOnly.Data[i] = influence.Data[i]
			}
		}

		rec, ok, err := e.singleScore(residual, fullMask, influenceOnly, residualStd, pixelSizeM)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec.ID = l
		rec.Polarity = polarity
		rec.CentroidRow = cy
		rec.CentroidCol = cx
		records = append(records, rec)
	}

	return records, nil
}

// singleScore computes the Impact Score and submetrics for one full
// anomaly object. ok is false when a non-finite median or severity makes
// the object numerically unusable; too few influence pixels instead
// yields a zero-valued record so every core keeps exactly one record.
func (e *Engine) singleScore(residual raster.Grid, fullMask, influenceOnly raster.Mask, residualStd, pixelSizeM float64) (Record, bool, error) {
	var zonePixels []float64
	for i, in := range influenceOnly.Data {
		if in {
			zonePixels = append(zonePixels, residual.Data[i])
		}
	}

	if len(zonePixels) < e.cfg.MinInfluencePixels {
		return Record{ResidualStdUsed: residualStd}, true, nil
	}

	areaM2 := float64(len(zonePixels)) * pixelSizeM * pixelSizeM
	medianDeltaT := median(zonePixels)

	sigma := math.Max(residualStd, e.cfg.StdFloor)
	severity := math.Abs(medianDeltaT) / sigma

	meanGradient, err := e.boundaryGradient(fullMask)
	if err != nil {
		return Record{}, false, err
	}
	continuity := 1.0 / (1.0 + meanGradient)

	rawScore := severity * areaM2 * continuity
	is := math.Log(1.0+rawScore) * sign(medianDeltaT)

	if !isFinite(medianDeltaT) || !isFinite(severity) {
		return Record{}, false, nil
	}

	return Record{
		IS:                   is,
		Severity:             severity,
		AreaM2:               areaM2,
		AreaPixels:           len(zonePixels),
		Continuity:           continuity,
		MedianDeltaT:         medianDeltaT,
		MeanBoundaryGradient: meanGradient,
		ResidualStdUsed:      sigma,
		RawScore:             rawScore,
	}, true, nil
}

// boundaryGradient samples the gradient-magnitude map on the inner and
// outer 1-pixel boundary of the object. Degenerate geometry with no
// boundary pixels yields 0 rather than an interior fallback, so a smooth
// edge and missing edge data stay distinguishable.
func (e *Engine) boundaryGradient(mask raster.Mask) (float64, error) {
	if !e.haveGrad {
		return 0, fmt.Errorf("gradient map has not been computed")
	}

	inner, err := morph.InnerBoundary(mask)
	if err != nil {
		return 0, err
	}
	outer, err := morph.OuterBoundary(mask)
	if err != nil {
		return 0, err
	}

	var values []float64
	for i := range e.gradient.Data {
		if inner.Data[i] || outer.Data[i] {
			if v := e.gradient.Data[i]; !math.IsNaN(v) {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return 0, nil
	}
	return stat.Mean(values, nil), nil
}

// regionCentroids returns the (row, col) centroid of every label,
// indexed by label id.
func regionCentroids(labels raster.Labels) [][2]float64 {
	sums := make([][2]float64, labels.Count+1)
	counts := make([]int, labels.Count+1)
	for r := 0; r < labels.Rows; r++ {
		for c := 0; c < labels.Cols; c++ {
			l := labels.At(r, c)
			if l > 0 {
				sums[l][0] += float64(r)
				sums[l][1] += float64(c)
				counts[l]++
			}
		}
	}
	for l := 1; l <= labels.Count; l++ {
		if counts[l] > 0 {
			sums[l][0] /= float64(counts[l])
			sums[l][1] /= float64(counts[l])
		}
	}
	return sums
}

// gradientMagnitude computes sqrt(gy^2 + gx^2) using central differences
// in the interior and one-sided differences at the edges, after mapping
// NaN to zero.
func gradientMagnitude(g raster.Grid) raster.Grid {
	f := g.Clone()
	for i, v := range f.Data {
		if math.IsNaN(v) {
			f.Data[i] = 0
		}
	}

	out := raster.NewGrid(g.Rows, g.Cols)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			var gy, gx float64
			switch {
			case g.Rows < 2:
				gy = 0
			case r == 0:
				gy = f.At(1, c) - f.At(0, c)
			case r == g.Rows-1:
				gy = f.At(r, c) - f.At(r-1, c)
			default:
				gy = (f.At(r+1, c) - f.At(r-1, c)) / 2
			}
			switch {
			case g.Cols < 2:
				gx = 0
			case c == 0:
				gx = f.At(r, 1) - f.At(r, 0)
			case c == g.Cols-1:
				gx = f.At(r, c) - f.At(r, c-1)
			default:
				gx = (f.At(r, c+1) - f.At(r, c-1)) / 2
			}
			out.Set(r, c, math.Hypot(gy, gx))
		}
	}
	return out
}

// median returns the middle value of xs, averaging the two central
// values for even lengths. The input is not modified.
func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
