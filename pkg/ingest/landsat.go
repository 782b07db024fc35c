// Package ingest loads multi-band Landsat Collection 2 GeoTIFF scenes
// and produces the aligned dataset the analysis pipeline consumes: a
// pixel table of temperature and spectral indices plus the temperature
// grid and validity mask.
package ingest

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"

	"thermascan/pkg/raster"
)

// Conversion constants for Landsat Collection 2 surface temperature.
const (
	stScale  = 0.00341802
	stOffset = 149.0
	kelvin0  = 273.15
)

var registerOnce sync.Once

// BandMapping assigns 1-based raster band indices to the spectral roles
// the pipeline needs.
type BandMapping struct {
	Blue    int `yaml:"blue"`
	Green   int `yaml:"green"`
	Red     int `yaml:"red"`
	NIR     int `yaml:"nir"`
	SWIR1   int `yaml:"swir1"`
	SWIR2   int `yaml:"swir2"`
	Thermal int `yaml:"thermal"`
	QA      int `yaml:"qa"`
}

// Landsat8Mapping returns the band layout of a stacked Landsat 8/9
// Level-2 product.
func Landsat8Mapping() BandMapping {
	return BandMapping{Blue: 2, Green: 3, Red: 4, NIR: 5, SWIR1: 6, SWIR2: 7, Thermal: 9, QA: 1}
}

// Landsat5Mapping returns the band layout of a stacked Landsat 5
// Level-2 product, where the thermal band sits at ST_B6.
func Landsat5Mapping() BandMapping {
	return BandMapping{Blue: 1, Green: 2, Red: 3, NIR: 4, SWIR1: 5, SWIR2: 7, Thermal: 6, QA: 1}
}

// Validate checks that every band index is positive.
func (m BandMapping) Validate() error {
	for name, idx := range map[string]int{
		"blue": m.Blue, "green": m.Green, "red": m.Red, "nir": m.NIR,
		"swir1": m.SWIR1, "swir2": m.SWIR2, "thermal": m.Thermal, "qa": m.QA,
	} {
		if idx < 1 {
			return fmt.Errorf("band index for %s must be 1-based positive, got %d", name, idx)
		}
	}
	return nil
}

// Meta carries the raster geometry needed to write aligned outputs.
type Meta struct {
	Width        int
	Height       int
	GeoTransform [6]float64
	Projection   string
	PixelSizeM   float64
}

// Load opens a stacked Landsat GeoTIFF, converts the thermal band to
// land-surface temperature in Celsius, computes the four spectral
// indices and assembles the aligned dataset.
func Load(path string, mapping BandMapping, pixelSizeM float64) (*raster.Dataset, *Meta, error) {
	if err := mapping.Validate(); err != nil {
		return nil, nil, err
	}

	registerOnce.Do(func() {
		godal.RegisterAll()
	})

	ds, err := godal.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	structure := ds.Structure()
	width, height := structure.SizeX, structure.SizeY
	bands := ds.Bands()

	readBand := func(idx int) ([]float64, error) {
		if idx > len(bands) {
			return nil, fmt.Errorf("band %d requested but raster has %d bands", idx, len(bands))
		}
		buf := make([]float64, width*height)
		if err := bands[idx-1].Read(0, 0, buf, width, height); err != nil {
			return nil, fmt.Errorf("failed to read band %d: %w", idx, err)
		}
		return buf, nil
	}

	blue, err := readBand(mapping.Blue)
	if err != nil {
		return nil, nil, err
	}
	green, err := readBand(mapping.Green)
	if err != nil {
		return nil, nil, err
	}
	red, err := readBand(mapping.Red)
	if err != nil {
		return nil, nil, err
	}
	nir, err := readBand(mapping.NIR)
	if err != nil {
		return nil, nil, err
	}
	swir1, err := readBand(mapping.SWIR1)
	if err != nil {
		return nil, nil, err
	}
	thermal, err := readBand(mapping.Thermal)
	if err != nil {
		return nil, nil, err
	}
	qa, err := readBand(mapping.QA)
	if err != nil {
		return nil, nil, err
	}

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read geotransform: %w", err)
	}
	meta := &Meta{
		Width:        width,
		Height:       height,
		GeoTransform: gt,
		Projection:   ds.Projection(),
		PixelSizeM:   pixelSizeM,
	}

	lst := ConvertToLST(thermal, qa)
	ndvi := NormalizedDifference(nir, red)
	ndwi := NormalizedDifference(green, nir)
	ndbi := NormalizedDifference(swir1, nir)
	ndbsi := BareSoilIndex(red, swir1, nir, blue)

	dataset, err := BuildDataset(lst, ndvi, ndwi, ndbi, ndbsi, width, height, gt)
	if err != nil {
		return nil, nil, err
	}

	fmt.Printf("Loaded %dx%d scene with %d valid pixels\n", width, height, dataset.Table.Len())

	return dataset, meta, nil
}

// ConvertToLST converts the surface-temperature band to degrees Celsius.
// Raw digital numbers are first rescaled to Kelvin with the Collection 2
// gain and offset; cells flagged by the QA band (codes 0 and 1) or
// lacking thermal data become NaN.
func ConvertToLST(st, qa []float64) []float64 {
	maxVal := math.Inf(-1)
	for _, v := range st {
		if !math.IsNaN(v) && v > maxVal {
			maxVal = v
		}
	}
	scale := maxVal < 100

	out := make([]float64, len(st))
	for i, v := range st {
		if math.IsNaN(v) || qa[i] == 0 || qa[i] == 1 {
			out[i] = math.NaN()
			continue
		}
		if scale {
			v = v*stScale + stOffset
		}
		out[i] = v - kelvin0
	}
	return out
}

// NormalizedDifference computes (a-b)/(a+b) elementwise.
func NormalizedDifference(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (a[i] - b[i]) / (a[i] + b[i])
	}
	return out
}

// BareSoilIndex computes the NDBSI: ((red+swir1)-(nir+blue)) over the
// sum of the same terms.
func BareSoilIndex(red, swir1, nir, blue []float64) []float64 {
	out := make([]float64, len(red))
	for i := range red {
		p := red[i] + swir1[i]
		q := nir[i] + blue[i]
		out[i] = (p - q) / (p + q)
	}
	return out
}

// BuildDataset assembles the pixel table, temperature grid and validity
// mask from per-band slices in row-major order. A pixel joins the table
// only when its temperature is finite and every spectral index is a
// number; the validity mask marks finite-temperature cells.
func BuildDataset(lst, ndvi, ndwi, ndbi, ndbsi []float64, width, height int, gt [6]float64) (*raster.Dataset, error) {
	if len(lst) != width*height {
		return nil, fmt.Errorf("temperature band has %d cells, expected %d", len(lst), width*height)
	}

	grid := raster.Grid{Rows: height, Cols: width, Data: append([]float64(nil), lst...)}
	valid := raster.NewMask(height, width)
	table := raster.NewPixelTable(width * height)

	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			i := r*width + c
			finite := !math.IsNaN(lst[i]) && !math.IsInf(lst[i], 0)
			valid.Data[i] = finite
			if !finite ||
				math.IsNaN(ndvi[i]) || math.IsNaN(ndwi[i]) ||
				math.IsNaN(ndbi[i]) || math.IsNaN(ndbsi[i]) {
				continue
			}
			x := gt[0] + (float64(c)+0.5)*gt[1] + (float64(r)+0.5)*gt[2]
			y := gt[3] + (float64(c)+0.5)*gt[4] + (float64(r)+0.5)*gt[5]
			table.Append(x, y, r, c, lst[i], ndvi[i], ndwi[i], ndbi[i], ndbsi[i])
		}
	}

	return raster.NewDataset(table, grid, valid)
}
