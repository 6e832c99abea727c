package domain

import (
	"fmt"
	"time"
)

// DataType is the sample type of an output raster band. Values match GDAL's
// GDALDataType enumeration so that reference files can be compared directly.
type DataType int

const (
	Float32 DataType = 6
	Float64 DataType = 7
)

func (d DataType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// Bits returns the sample width in bits.
func (d DataType) Bits() int {
	if d == Float64 {
		return 64
	}
	return 32
}

// ModelType is the GeoTIFF GTModelType of a spatial reference.
type ModelType int

const (
	ModelProjected  ModelType = 1
	ModelGeographic ModelType = 2
)

// SpatialRef identifies the coordinate reference system of a grid.
type SpatialRef struct {
	EPSG      int
	Model     ModelType
	Citation  string
	PixelArea bool // GTRasterType PixelIsArea (true) or PixelIsPoint
}

// WGS84 is the geographic reference assigned to lat/lon NetCDF grids.
var WGS84 = SpatialRef{
	EPSG:      4326,
	Model:     ModelGeographic,
	Citation:  "WGS 84",
	PixelArea: true,
}

// GeoRef carries the georeferencing of a raster. It is read once from the
// source and copied unchanged to every raster derived from it.
type GeoRef struct {
	NoData   float64
	Width    int
	Height   int
	DataType DataType

	// GeoTransform holds the six affine coefficients in GDAL order:
	// x0, pixel width, row rotation, y0, column rotation, pixel height.
	GeoTransform [6]float64
	SpatialRef   SpatialRef
}

// Cells returns the number of cells in one band.
func (g GeoRef) Cells() int {
	return g.Width * g.Height
}

// Rotated reports whether the geotransform has non-zero rotation terms.
func (g GeoRef) Rotated() bool {
	return g.GeoTransform[2] != 0 || g.GeoTransform[4] != 0
}

// Grid is a (time, lat, lon) series of cells. Steps[i] holds the row-major,
// north-up values sampled at Times[i].
type Grid struct {
	Times  []time.Time
	Steps  [][]float64
	GeoRef GeoRef
}

// Validate checks that the time axis and the step shapes agree.
func (g *Grid) Validate() error {
	if len(g.Times) != len(g.Steps) {
		return fmt.Errorf("grid has %d timestamps but %d steps", len(g.Times), len(g.Steps))
	}
	cells := g.GeoRef.Cells()
	for i, step := range g.Steps {
		if len(step) != cells {
			return fmt.Errorf("grid step %d has %d cells, want %d", i, len(step), cells)
		}
	}
	return nil
}

// MonthlyGrid is the total of all steps that fall in Month.
type MonthlyGrid struct {
	Month  time.Time
	Values []float64
}
