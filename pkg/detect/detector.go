// Package detect implements the hybrid thermal anomaly detector. It
// combines extreme-tail percentile thresholds with a per-scene regression
// model of the temperature / land-cover relationship: a pixel is a core
// anomaly only when it is both statistically extreme and unexplained by
// its spectral context.
package detect

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"thermascan/pkg/config"
	"thermascan/pkg/forest"
	"thermascan/pkg/raster"
)

// Tail percentiles of the statistical anomaly definition. These are part
// of the observable contract and deliberately not configurable.
const (
	coldTailQuantile = 0.02
	hotTailQuantile  = 0.98
)

// Stats holds the in-sample training diagnostics of the regression model.
// ResidualStd is reused later as the base unit of the anomaly-residual
// threshold.
type Stats struct {
	R2          float64
	ResidualStd float64
}

// Detector runs the statistical and regression-based detection steps.
// A Detector is single-run state: it owns the model trained for one
// scene and must not be shared across concurrent runs.
type Detector struct {
	cfg   config.Detector
	model *forest.Forest
	stats Stats
}

// New returns a detector for the given configuration.
func New(cfg config.Detector) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// DetectStatisticalAnomalies computes the 2nd and 98th percentile of the
// table's temperature column and returns the hot and cold extreme-tail
// masks plus a table copy whose StatAnomaly column flags tail rows. The
// flag decides training-set membership only; the masks carry the spatial
// information.
func (d *Detector) DetectStatisticalAnomalies(ds *raster.Dataset) (raster.Mask, raster.Mask, *raster.PixelTable, error) {
	table := ds.Table
	if table.Len() == 0 {
		return raster.Mask{}, raster.Mask{}, nil, fmt.Errorf("no valid pixels to analyze")
	}

	sorted := append([]float64(nil), table.LST...)
	sort.Float64s(sorted)
	p2 := stat.Quantile(coldTailQuantile, stat.LinInterp, sorted, nil)
	p98 := stat.Quantile(hotTailQuantile, stat.LinInterp, sorted, nil)

	hot := raster.NewMask(ds.LST.Rows, ds.LST.Cols)
	cold := raster.NewMask(ds.LST.Rows, ds.LST.Cols)
	for i := range ds.LST.Data {
		if !ds.Valid.Data[i] {
			continue
		}
		v := ds.LST.Data[i]
		hot.Data[i] = v >= p98
		cold.Data[i] = v <= p2
	}

	out := table.Clone()
	for i := 0; i < out.Len(); i++ {
		out.StatAnomaly[i] = out.LST[i] <= p2 || out.LST[i] >= p98
	}

	n := 0
	for i := range hot.Data {
		if hot.Data[i] || cold.Data[i] {
			n++
		}
	}
	fmt.Printf("Detected %d statistical anomaly pixels (p2=%.2f, p98=%.2f)\n", n, p2, p98)

	return hot, cold, out, nil
}

// TrainModel trains the random forest on the rows not flagged as
// statistical anomalies. Tail pixels deviate from the normal
// temperature/land-cover relationship and would bias the baseline, so
// they are excluded. In-sample R2 and the population standard deviation
// of the training residuals are retained as diagnostics.
func (d *Detector) TrainModel(table *raster.PixelTable) error {
	var features [][]float64
	var targets []float64
	for i := 0; i < table.Len(); i++ {
		if table.StatAnomaly[i] {
			continue
		}
		features = append(features, table.Features(i))
		targets = append(targets, table.LST[i])
	}
	if len(features) == 0 {
		return fmt.Errorf("training set is empty: every pixel is flagged as a statistical anomaly")
	}

	params := forest.Params{
		NumTrees:        d.cfg.Forest.NumTrees,
		MaxDepth:        d.cfg.Forest.MaxDepth,
		MinSamplesSplit: d.cfg.Forest.MinSamplesSplit,
		MinSamplesLeaf:  d.cfg.Forest.MinSamplesLeaf,
		MaxFeatures:     d.cfg.Forest.MaxFeatures,
		Seed:            d.cfg.Forest.Seed,
		NumWorkers:      d.cfg.Forest.NumWorkers,
	}
	model, err := forest.Train(features, targets, params)
	if err != nil {
		return fmt.Errorf("failed to train regression model: %w", err)
	}
	d.model = model

	predicted := model.PredictAll(features)
	residuals := make([]float64, len(targets))
	for i := range targets {
		residuals[i] = targets[i] - predicted[i]
	}
	d.stats = Stats{
		R2:          stat.RSquaredFrom(predicted, targets, nil),
		ResidualStd: popStdDev(residuals),
	}

	fmt.Printf("Model trained on %d pixels (R2 = %.4f, sigma = %.4f degC)\n",
		len(targets), d.stats.R2, d.stats.ResidualStd)

	return nil
}

// CalculateResiduals predicts temperature for all table rows, including
// the flagged anomalies, and scatters residual = actual - predicted into
// a dense grid at the recorded row/col positions. Cells without a table
// row stay NaN.
func (d *Detector) CalculateResiduals(table *raster.PixelTable, lst raster.Grid) (raster.Grid, *raster.PixelTable, error) {
	if d.model == nil {
		return raster.Grid{}, nil, fmt.Errorf("model has not been trained")
	}

	out := table.Clone()
	residual := raster.NewGridNaN(lst.Rows, lst.Cols)
	for i := 0; i < out.Len(); i++ {
		p := d.model.Predict(out.Features(i))
		out.Predicted[i] = p
		out.Residual[i] = out.LST[i] - p
		residual.Set(out.Row[i], out.Col[i], out.Residual[i])
	}

	return residual, out, nil
}

// RefineAnomalyCores intersects the statistical masks with the
// residual-threshold test. The two-test design separates truly anomalous
// pixels from pixels that merely sit at the tail of a legitimate
// land-cover gradient.
func (d *Detector) RefineAnomalyCores(hot, cold raster.Mask, residual raster.Grid, valid raster.Mask) (raster.Mask, raster.Mask) {
	threshold := d.cfg.KThreshold * d.stats.ResidualStd

	coreHot := raster.NewMask(residual.Rows, residual.Cols)
	coreCold := raster.NewMask(residual.Rows, residual.Cols)
	for i, r := range residual.Data {
		if !valid.Data[i] {
			continue
		}
		// NaN residuals fail both comparisons.
		coreHot.Data[i] = hot.Data[i] && r > threshold
		coreCold.Data[i] = cold.Data[i] && r < -threshold
	}

	return coreHot, coreCold
}

// TrainingStats returns the diagnostics recorded by TrainModel.
func (d *Detector) TrainingStats() Stats {
	return d.stats
}

// popStdDev returns the population standard deviation (denominator n).
func popStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
