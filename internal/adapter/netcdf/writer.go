package netcdf

import (
	"fmt"
	"math"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// NCEPTimeUnits is the time axis used by NCEP/NCAR reanalysis files.
const NCEPTimeUnits = "hours since 1800-01-01 00:00:0.0"

// Var is one variable of a file written by Write.
type Var struct {
	Name       string
	Dimensions []string
	Values     any
	Attributes map[string]any
}

// Write creates a classic CDF file at path holding vars in order.
func Write(path string, globals map[string]any, vars ...Var) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if len(globals) > 0 {
		attrs, err := orderedAttributes(globals)
		if err != nil {
			_ = cw.Close()
			return err
		}
		if err := cw.AddGlobalAttrs(attrs); err != nil {
			_ = cw.Close()
			return fmt.Errorf("%s: global attributes: %w", path, err)
		}
	}
	for _, v := range vars {
		attrs, err := orderedAttributes(v.Attributes)
		if err != nil {
			_ = cw.Close()
			return fmt.Errorf("%s: variable %s: %w", path, v.Name, err)
		}
		if err := cw.AddVar(v.Name, api.Variable{
			Values:     v.Values,
			Dimensions: v.Dimensions,
			Attributes: attrs,
		}); err != nil {
			_ = cw.Close()
			return fmt.Errorf("%s: variable %s: %w", path, v.Name, err)
		}
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func orderedAttributes(m map[string]any) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if m == nil {
		m = map[string]any{}
	}
	return util.NewOrderedMap(keys, m)
}

// Packing stores a grid as scaled 16-bit integers, the way NCEP distributes
// its reanalysis fields.
type Packing struct {
	Scale  float64
	Offset float64
	Fill   int16
}

// GridOptions controls how WriteGrid lays out a grid.
type GridOptions struct {
	// Attributes are added to the data variable and override generated ones.
	Attributes   map[string]any
	AscendingLat bool
	Packing      *Packing
	TimeUnits    string
}

// WriteGrid writes g as variable with time, lat, and lon coordinate variables.
// Cell-centre coordinates are derived from the grid's geotransform.
func WriteGrid(path, variable string, g *domain.Grid, opts GridOptions) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g.GeoRef.Rotated() {
		return fmt.Errorf("%s: rotated grids cannot be written as lat/lon coordinates", path)
	}
	if opts.TimeUnits == "" {
		opts.TimeUnits = NCEPTimeUnits
	}
	units, err := ParseTimeUnits(opts.TimeUnits)
	if err != nil {
		return err
	}

	ref := g.GeoRef
	nx, ny := ref.Width, ref.Height
	gt := ref.GeoTransform

	times := make([]float64, len(g.Times))
	for i, t := range g.Times {
		times[i] = units.Offset(t)
	}
	lons := make([]float32, nx)
	for i := range lons {
		lons[i] = float32(gt[0] + (float64(i)+0.5)*gt[1])
	}
	lats := make([]float32, ny)
	for j := range lats {
		lats[j] = float32(gt[3] + (float64(j)+0.5)*gt[5])
	}
	row := func(j int) int { return j }
	if opts.AscendingLat {
		slices.Reverse(lats)
		row = func(j int) int { return ny - 1 - j }
	}

	attrs := map[string]any{}
	var values any
	if p := opts.Packing; p != nil {
		attrs["scale_factor"] = float32(p.Scale)
		attrs["add_offset"] = float32(p.Offset)
		attrs["missing_value"] = p.Fill
		attrs["_FillValue"] = p.Fill
		values = packedCube(g, nx, ny, row, p)
	} else {
		fill := float32(ref.NoData)
		attrs["_FillValue"] = fill
		attrs["missing_value"] = fill
		values = floatCube(g, nx, ny, row, fill)
	}
	for k, v := range opts.Attributes {
		attrs[k] = v
	}

	return Write(path,
		map[string]any{"Conventions": "COARDS"},
		Var{Name: "time", Dimensions: []string{"time"}, Values: times, Attributes: map[string]any{
			"units":     opts.TimeUnits,
			"long_name": "Time",
		}},
		Var{Name: "lat", Dimensions: []string{"lat"}, Values: lats, Attributes: map[string]any{
			"units":     "degrees_north",
			"long_name": "Latitude",
		}},
		Var{Name: "lon", Dimensions: []string{"lon"}, Values: lons, Attributes: map[string]any{
			"units":     "degrees_east",
			"long_name": "Longitude",
		}},
		Var{Name: variable, Dimensions: []string{"time", "lat", "lon"}, Values: values, Attributes: attrs},
	)
}

func floatCube(g *domain.Grid, nx, ny int, row func(int) int, fill float32) [][][]float32 {
	cube := make([][][]float32, len(g.Steps))
	for t, step := range g.Steps {
		cube[t] = make([][]float32, ny)
		for j := range ny {
			src := step[row(j)*nx : (row(j)+1)*nx]
			out := make([]float32, nx)
			for i, v := range src {
				if math.IsNaN(v) {
					out[i] = fill
				} else {
					out[i] = float32(v)
				}
			}
			cube[t][j] = out
		}
	}
	return cube
}

func packedCube(g *domain.Grid, nx, ny int, row func(int) int, p *Packing) [][][]int16 {
	cube := make([][][]int16, len(g.Steps))
	for t, step := range g.Steps {
		cube[t] = make([][]int16, ny)
		for j := range ny {
			src := step[row(j)*nx : (row(j)+1)*nx]
			out := make([]int16, nx)
			for i, v := range src {
				if math.IsNaN(v) {
					out[i] = p.Fill
					continue
				}
				packed := math.Round((v - p.Offset) / p.Scale)
				out[i] = int16(max(math.MinInt16, min(math.MaxInt16, packed)))
			}
			cube[t][j] = out
		}
	}
	return cube
}

// WriteMonthlyCube exports monthly totals sharing ref as a (time, lat, lon)
// COARDS file. Missing cells are written as the netCDF default float fill.
func WriteMonthlyCube(path, variable string, ref domain.GeoRef, monthly []domain.MonthlyGrid) error {
	g := &domain.Grid{GeoRef: ref}
	g.GeoRef.NoData = DefaultFillFloat
	for _, m := range monthly {
		g.Times = append(g.Times, m.Month)
		g.Steps = append(g.Steps, m.Values)
	}
	return WriteGrid(path, variable, g, GridOptions{
		Attributes: map[string]any{
			"long_name": "Monthly total precipitation",
			"units":     "kg/m^2",
		},
	})
}
