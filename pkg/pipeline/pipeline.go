// Package pipeline wires the detection, morphology and scoring stages
// into the complete per-scene analysis. Data flows strictly downstream;
// every stage returns new values and no stage mutates a structure owned
// by an earlier one.
package pipeline

import (
	"fmt"

	"thermascan/pkg/config"
	"thermascan/pkg/detect"
	"thermascan/pkg/morph"
	"thermascan/pkg/raster"
	"thermascan/pkg/score"
)

// Results holds everything a run produces for the caller: the ranked
// score table, the categorical classification grid and the residual
// grid, plus run diagnostics.
type Results struct {
	// Scores is the combined hot+cold anomaly table, sorted by |IS|
	// descending.
	Scores []score.Record

	// Classification is the categorical zone map with the fixed codes
	// 0=background, 1=cold zone, 2=hot zone, 3=cold core, 4=hot core.
	Classification *raster.ByteGrid

	// Residual is the actual-minus-predicted temperature grid; cells
	// without a table row are NaN.
	Residual raster.Grid

	// Table is the pixel table with the detection columns filled in
	// (statistical flag, predicted temperature, residual).
	Table *raster.PixelTable

	// TrainingStats carries the regression diagnostics (R2 and residual
	// standard deviation).
	TrainingStats detect.Stats

	// HotCores and ColdCores count the labeled unified core objects.
	HotCores  int
	ColdCores int
}

// Pipeline runs one scene through the full analysis. A Pipeline value is
// single-use: grids and tables created during a run are owned by that
// run, so each invocation needs a fresh instance.
type Pipeline struct {
	cfg  *config.Config
	used bool
}

// New returns a pipeline for the given configuration.
func New(cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run executes the full pipeline on the dataset. It either completes all
// stages or fails outright; there are no retries and no partial results.
func (p *Pipeline) Run(ds *raster.Dataset) (*Results, error) {
	if p.used {
		return nil, fmt.Errorf("pipeline instances are single-use; create a new one per run")
	}
	p.used = true
	if ds == nil {
		return nil, fmt.Errorf("dataset is nil")
	}

	detector, err := detect.New(p.cfg.Detector)
	if err != nil {
		return nil, err
	}
	morphEngine, err := morph.New(p.cfg.Morphology)
	if err != nil {
		return nil, err
	}
	scoreEngine, err := score.New(p.cfg.Scoring)
	if err != nil {
		return nil, err
	}

	fmt.Println("Step 1: Detecting statistical anomalies...")
	hot, cold, table, err := detector.DetectStatisticalAnomalies(ds)
	if err != nil {
		return nil, fmt.Errorf("statistical detection failed: %w", err)
	}

	fmt.Println("Step 2: Training background regression model...")
	if err := detector.TrainModel(table); err != nil {
		return nil, fmt.Errorf("model training failed: %w", err)
	}

	fmt.Println("Step 3: Calculating temperature residuals...")
	residual, table, err := detector.CalculateResiduals(table, ds.LST)
	if err != nil {
		return nil, fmt.Errorf("residual calculation failed: %w", err)
	}

	fmt.Println("Step 4: Refining anomaly cores...")
	coreHot, coreCold := detector.RefineAnomalyCores(hot, cold, residual, ds.Valid)

	fmt.Println("Step 5: Unifying cores and growing influence zones...")
	unifiedHot, unifiedCold, hotLabels, coldLabels, err := morphEngine.UnifyCores(coreHot, coreCold)
	if err != nil {
		return nil, fmt.Errorf("core unification failed: %w", err)
	}

	stats := detector.TrainingStats()
	hotZone, coldZone, err := morphEngine.GrowInfluenceZones(
		unifiedHot, unifiedCold, residual, ds.Valid, stats.ResidualStd, p.cfg.Detector.KThreshold)
	if err != nil {
		return nil, fmt.Errorf("influence zone growth failed: %w", err)
	}

	classification := morphEngine.ClassificationMap(
		ds.LST.Rows, ds.LST.Cols, coldZone, hotZone, unifiedCold, unifiedHot)

	fmt.Println("Step 6: Calculating Impact Scores...")
	records, err := scoreEngine.CalculateScores(
		unifiedHot, unifiedCold, hotZone, coldZone, residual,
		stats.ResidualStd, p.cfg.Raster.PixelSizeM,
		raster.Connectivity(p.cfg.Morphology.Connectivity))
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}

	return &Results{
		Scores:         records,
		Table:          table,
		Classification: classification,
		Residual:       residual,
		TrainingStats:  stats,
		HotCores:       hotLabels.Count,
		ColdCores:      coldLabels.Count,
	}, nil
}
