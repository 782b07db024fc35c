// Package export writes analysis results to disk: the ranked anomaly
// score table as CSV, the residual and classification grids as GeoTIFFs
// aligned with the input scene, and a color rendering of the
// classification map as PNG.
package export

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/airbusgeo/godal"

	"thermascan/pkg/ingest"
	"thermascan/pkg/morph"
	"thermascan/pkg/pipeline"
	"thermascan/pkg/raster"
	"thermascan/pkg/score"
)

var registerOnce sync.Once

// scoreHeader is the CSV column order of the score table.
var scoreHeader = []string{
	"Anomaly_ID", "Type", "Centroid_Row", "Centroid_Col",
	"IS", "Severity", "Area_m2", "Area_pixels", "Continuity",
	"Median_Delta_T", "Mean_Boundary_Gradient", "Residual_Std_Used", "Raw_Score",
}

// WriteScoresCSV writes the ranked score table to a CSV file.
func WriteScoresCSV(path string, records []score.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(scoreHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.ID),
			string(r.Polarity),
			formatFloat(r.CentroidRow),
			formatFloat(r.CentroidCol),
			formatFloat(r.IS),
			formatFloat(r.Severity),
			formatFloat(r.AreaM2),
			strconv.Itoa(r.AreaPixels),
			formatFloat(r.Continuity),
			formatFloat(r.MedianDeltaT),
			formatFloat(r.MeanBoundaryGradient),
			formatFloat(r.ResidualStdUsed),
			formatFloat(r.RawScore),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteResidualGeoTIFF writes the residual grid as a single-band
// float64 GeoTIFF with the input scene's georeferencing.
func WriteResidualGeoTIFF(path string, grid raster.Grid, meta *ingest.Meta) error {
	return writeGeoTIFF(path, godal.Float64, grid.Cols, grid.Rows, meta, func(band *godal.Band) error {
		return band.Write(0, 0, grid.Data, grid.Cols, grid.Rows)
	})
}

// WriteClassificationGeoTIFF writes the categorical classification grid
// as a single-band byte GeoTIFF.
func WriteClassificationGeoTIFF(path string, grid *raster.ByteGrid, meta *ingest.Meta) error {
	return writeGeoTIFF(path, godal.Byte, grid.Cols, grid.Rows, meta, func(band *godal.Band) error {
		return band.Write(0, 0, grid.Data, grid.Cols, grid.Rows)
	})
}

func writeGeoTIFF(path string, dtype godal.DataType, width, height int, meta *ingest.Meta, write func(*godal.Band) error) error {
	registerOnce.Do(func() {
		godal.RegisterAll()
	})

	ds, err := godal.Create(godal.GTiff, path, 1, dtype, width, height)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if meta != nil {
		if err := ds.SetGeoTransform(meta.GeoTransform); err != nil {
			ds.Close()
			return fmt.Errorf("failed to set geotransform: %w", err)
		}
		if meta.Projection != "" {
			if err := ds.SetProjection(meta.Projection); err != nil {
				ds.Close()
				return fmt.Errorf("failed to set projection: %w", err)
			}
		}
	}

	bands := ds.Bands()
	if err := write(&bands[0]); err != nil {
		ds.Close()
		return fmt.Errorf("failed to write band: %w", err)
	}

	if err := ds.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// classPalette maps classification codes to display colors.
var classPalette = map[uint8]color.RGBA{
	morph.ClassBackground: {0, 0, 0, 255},
	morph.ClassColdZone:   {120, 180, 255, 255},
	morph.ClassHotZone:    {255, 170, 80, 255},
	morph.ClassColdCore:   {0, 60, 255, 255},
	morph.ClassHotCore:    {255, 30, 30, 255},
}

// RenderClassificationPNG writes a color rendering of the classification
// map for quick visual inspection.
func RenderClassificationPNG(path string, grid *raster.ByteGrid) error {
	img := image.NewRGBA(image.Rect(0, 0, grid.Cols, grid.Rows))
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			img.SetRGBA(c, r, classPalette[grid.At(r, c)])
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveAll writes the complete result set into outputDir.
func SaveAll(outputDir string, results *pipeline.Results, meta *ingest.Meta) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := WriteScoresCSV(filepath.Join(outputDir, "impact_scores.csv"), results.Scores); err != nil {
		return err
	}
	if err := WriteResidualGeoTIFF(filepath.Join(outputDir, "lst_residuals.tif"), results.Residual, meta); err != nil {
		return err
	}
	if err := WriteClassificationGeoTIFF(filepath.Join(outputDir, "zone_classification.tif"), results.Classification, meta); err != nil {
		return err
	}
	if err := RenderClassificationPNG(filepath.Join(outputDir, "zone_classification.png"), results.Classification); err != nil {
		return err
	}

	fmt.Printf("Results saved to: %s\n", outputDir)
	return nil
}
