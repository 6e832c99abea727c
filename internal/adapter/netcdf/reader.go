// Package netcdf reads CF-convention gridded time series from NetCDF files
// and writes small COARDS files for exports and fixtures.
package netcdf

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// A File is an open NetCDF dataset, either classic CDF or NetCDF-4/HDF5.
type File struct {
	path  string
	group api.Group
}

// Result is a decoded (time, lat, lon) variable.
type Result struct {
	Grid *domain.Grid

	// FillValueStripped is set when strict decoding failed with
	// ErrMalformedFillValue and the grid was decoded without _FillValue.
	FillValueStripped bool
	StrictErr         error
}

// Open opens the dataset at path.
func Open(path string) (*File, error) {
	group, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &File{path: path, group: group}, nil
}

func (f *File) Close() {
	f.group.Close()
}

// ReadGrid opens path and decodes variable. See File.Grid.
func ReadGrid(path, variable string) (*Result, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Grid(variable)
}

// Grid decodes variable as a north-up (time, lat, lon) grid. Fill and missing
// values become NaN and packed values are unpacked. If the variable's
// _FillValue is malformed the attribute is ignored and decoding is retried
// once.
func (f *File) Grid(variable string) (*Result, error) {
	grid, err := f.decode(variable, false)
	if err == nil {
		return &Result{Grid: grid}, nil
	}
	if !errors.Is(err, ErrMalformedFillValue) {
		return nil, err
	}
	grid, retryErr := f.decode(variable, true)
	if retryErr != nil {
		return nil, errors.Join(err, retryErr)
	}
	return &Result{Grid: grid, FillValueStripped: true, StrictErr: err}, nil
}

func (f *File) decode(variable string, ignoreFill bool) (*domain.Grid, error) {
	v, err := f.group.GetVariable(variable)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %s: %w", f.path, variable, err)
	}
	if len(v.Dimensions) != 3 {
		return nil, fmt.Errorf("%s: variable %s has dimensions %v, want (time, lat, lon)", f.path, variable, v.Dimensions)
	}

	p, err := parsePacking(v.Attributes, ignoreFill)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %s: %w", f.path, variable, err)
	}

	raw, shape, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: variable %s: %w", f.path, variable, err)
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("%s: variable %s has shape %v", f.path, variable, shape)
	}
	nt, ny, nx := shape[0], shape[1], shape[2]

	times, err := f.times(v.Dimensions[0], nt)
	if err != nil {
		return nil, err
	}
	lats, err := f.coordinate(v.Dimensions[1], ny)
	if err != nil {
		return nil, err
	}
	lons, err := f.coordinate(v.Dimensions[2], nx)
	if err != nil {
		return nil, err
	}

	p.decode(raw)

	dataType := domain.Float32
	if isFloat64(v.Values) && !p.packed() {
		dataType = domain.Float64
	}
	ref := domain.GeoRef{
		NoData:     p.noData(),
		Width:      nx,
		Height:     ny,
		DataType:   dataType,
		SpatialRef: domain.WGS84,
	}
	var flip bool
	ref.GeoTransform, flip = geoTransform(lats, lons)

	g := &domain.Grid{Times: times, Steps: make([][]float64, nt), GeoRef: ref}
	cells := nx * ny
	for i := range nt {
		step := raw[i*cells : (i+1)*cells : (i+1)*cells]
		if flip {
			step = flipRows(step, nx, ny)
		}
		g.Steps[i] = step
	}
	return g, g.Validate()
}

func (f *File) times(name string, n int) ([]time.Time, error) {
	v, err := f.group.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%s: time coordinate %s: %w", f.path, name, err)
	}
	offsets, _, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: time coordinate %s: %w", f.path, name, err)
	}
	if len(offsets) != n {
		return nil, fmt.Errorf("%s: time coordinate %s has %d values, want %d", f.path, name, len(offsets), n)
	}
	units, err := ParseTimeUnits(attrString(v.Attributes, "units"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	times := make([]time.Time, n)
	for i, off := range offsets {
		times[i] = units.Time(off)
	}
	return times, nil
}

func (f *File) coordinate(name string, n int) ([]float64, error) {
	v, err := f.group.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%s: coordinate %s: %w", f.path, name, err)
	}
	values, _, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("%s: coordinate %s: %w", f.path, name, err)
	}
	if len(values) != n {
		return nil, fmt.Errorf("%s: coordinate %s has %d values, want %d", f.path, name, len(values), n)
	}
	return values, nil
}

// geoTransform derives a GDAL-style affine transform from cell-centre
// coordinates, assuming regular spacing between the first and last centre.
// flip reports whether rows must be reversed to make the grid north-up.
func geoTransform(lats, lons []float64) (gt [6]float64, flip bool) {
	dx := 1.0
	if n := len(lons); n > 1 {
		dx = (lons[n-1] - lons[0]) / float64(n-1)
	}
	dy := 1.0
	top := lats[0]
	if n := len(lats); n > 1 {
		flip = lats[n-1] > lats[0]
		if flip {
			top = lats[n-1]
		}
		dy = math.Abs(lats[n-1]-lats[0]) / float64(n-1)
	}
	return [6]float64{lons[0] - dx/2, dx, 0, top + dy/2, 0, -dy}, flip
}

func flipRows(values []float64, nx, ny int) []float64 {
	out := make([]float64, len(values))
	for row := range ny {
		copy(out[(ny-1-row)*nx:(ny-row)*nx], values[row*nx:(row+1)*nx])
	}
	return out
}
