package netcdf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

func sixHourly(start time.Time, n int) []time.Time {
	times := make([]time.Time, n)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * 6 * time.Hour)
	}
	return times
}

func testGrid() *domain.Grid {
	ref := domain.GeoRef{
		NoData:       DefaultFillFloat,
		Width:        4,
		Height:       3,
		DataType:     domain.Float32,
		GeoTransform: [6]float64{-85, 2.5, 0, 16.25, 0, -2.5},
		SpatialRef:   domain.WGS84,
	}
	times := sixHourly(time.Date(2005, 1, 31, 12, 0, 0, 0, time.UTC), 3)
	steps := make([][]float64, len(times))
	for t := range steps {
		steps[t] = make([]float64, ref.Cells())
		for i := range steps[t] {
			steps[t][i] = float64(t*100+i) / 1024
		}
	}
	steps[1][5] = math.NaN()
	return &domain.Grid{Times: times, Steps: steps, GeoRef: ref}
}

func assertGridsMatch(t *testing.T, want, got *domain.Grid, delta float64) {
	t.Helper()
	assert.Equal(t, want.Times, got.Times)
	assert.Equal(t, want.GeoRef.Width, got.GeoRef.Width)
	assert.Equal(t, want.GeoRef.Height, got.GeoRef.Height)
	assert.Equal(t, want.GeoRef.SpatialRef, got.GeoRef.SpatialRef)
	for i := range want.GeoRef.GeoTransform {
		assert.InDelta(t, want.GeoRef.GeoTransform[i], got.GeoRef.GeoTransform[i], 1e-4, "geotransform[%d]", i)
	}
	require.Len(t, got.Steps, len(want.Steps))
	for s := range want.Steps {
		require.Len(t, got.Steps[s], len(want.Steps[s]))
		for i, v := range want.Steps[s] {
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(got.Steps[s][i]), "step %d cell %d", s, i)
				continue
			}
			assert.InDelta(t, v, got.Steps[s][i], delta, "step %d cell %d", s, i)
		}
	}
}

func TestWriteGrid_ReadGrid(t *testing.T) {
	want := testGrid()
	path := filepath.Join(t.TempDir(), "prate.2005.nc")
	require.NoError(t, WriteGrid(path, "prate", want, GridOptions{}))

	res, err := ReadGrid(path, "prate")
	require.NoError(t, err)
	assert.False(t, res.FillValueStripped)
	assertGridsMatch(t, want, res.Grid, 1e-6)
	assert.Equal(t, domain.Float32, res.Grid.GeoRef.DataType)
	assert.Equal(t, DefaultFillFloat, res.Grid.GeoRef.NoData)
}

func TestReadGrid_AscendingLatitudeIsFlipped(t *testing.T) {
	want := testGrid()
	path := filepath.Join(t.TempDir(), "ascending.nc")
	require.NoError(t, WriteGrid(path, "prate", want, GridOptions{AscendingLat: true}))

	res, err := ReadGrid(path, "prate")
	require.NoError(t, err)
	assertGridsMatch(t, want, res.Grid, 1e-6)
}

func TestReadGrid_Packed(t *testing.T) {
	want := testGrid()
	packing := &Packing{Scale: 1e-4, Offset: 0.5, Fill: 32766}
	path := filepath.Join(t.TempDir(), "packed.nc")
	require.NoError(t, WriteGrid(path, "prate", want, GridOptions{Packing: packing}))

	res, err := ReadGrid(path, "prate")
	require.NoError(t, err)
	assertGridsMatch(t, want, res.Grid, 1e-4)
	assert.Equal(t, domain.Float32, res.Grid.GeoRef.DataType)
	assert.Equal(t, 32766.0, res.Grid.GeoRef.NoData)
}

func TestReadGrid_MalformedFillValueFallsBack(t *testing.T) {
	for _, tc := range []struct {
		name string
		fill any
	}{
		{"string", "n/a"},
		{"multi-valued", []float32{-1, -2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			want := testGrid()
			path := filepath.Join(t.TempDir(), "malformed.nc")
			require.NoError(t, WriteGrid(path, "prate", want, GridOptions{
				Attributes: map[string]any{"_FillValue": tc.fill},
			}))

			res, err := ReadGrid(path, "prate")
			require.NoError(t, err)
			assert.True(t, res.FillValueStripped)
			require.ErrorIs(t, res.StrictErr, ErrMalformedFillValue)
			// missing_value still masks the gap.
			assertGridsMatch(t, want, res.Grid, 1e-6)
		})
	}
}

func TestReadGrid_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prate.nc")
	require.NoError(t, WriteGrid(path, "prate", testGrid(), GridOptions{}))

	_, err := ReadGrid(path, "air")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "air")

	_, err = ReadGrid(path, "lat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want (time, lat, lon)")

	_, err = ReadGrid(filepath.Join(t.TempDir(), "absent.nc"), "prate")
	require.Error(t, err)
}

func TestWriteMonthlyCube(t *testing.T) {
	g := testGrid()
	monthly, err := domain.AggregateMonthly(g)
	require.NoError(t, err)
	require.Len(t, monthly, 2)

	path := filepath.Join(t.TempDir(), "monthly.nc")
	require.NoError(t, WriteMonthlyCube(path, "precip", g.GeoRef, monthly))

	res, err := ReadGrid(path, "precip")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2005, 2, 1, 0, 0, 0, 0, time.UTC),
	}, res.Grid.Times)
	assert.InDelta(t, monthly[0].Values[0], res.Grid.Steps[0][0], 1e-6)
	assert.True(t, math.IsNaN(res.Grid.Steps[0][5]))
	assert.False(t, math.IsNaN(res.Grid.Steps[1][5]))
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units  string
		offset float64
		want   time.Time
	}{
		{"hours since 1800-01-01 00:00:0.0", 1797744, time.Date(2005, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"hours since 1800-1-1 00:00:00", 6, time.Date(1800, 1, 1, 6, 0, 0, 0, time.UTC)},
		{"days since 2001-01-01", 31.25, time.Date(2001, 2, 1, 6, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01T00:00:00Z", 86400, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2000-01-01 00:00:00 UTC", 90, time.Date(2000, 1, 1, 1, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			tu, err := ParseTimeUnits(tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tu.Time(tt.offset))
			assert.InDelta(t, tt.offset, tu.Offset(tt.want), 1e-9)
		})
	}
}

func TestParseTimeUnits_Errors(t *testing.T) {
	for _, units := range []string{"", "hours", "fortnights since 1800-01-01", "hours since yesterday", "hours since 1800-01-01 12:xx"} {
		t.Run(units, func(t *testing.T) {
			_, err := ParseTimeUnits(units)
			require.Error(t, err)
		})
	}
}

func TestFlatten(t *testing.T) {
	values, shape, err := flatten([][][]int16{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, values)

	values, shape, err = flatten(float32(2.5))
	require.NoError(t, err)
	assert.Empty(t, shape)
	assert.Equal(t, []float64{2.5}, values)

	_, _, err = flatten([][]float64{{1, 2}, {3}})
	require.Error(t, err)

	_, _, err = flatten("text")
	require.Error(t, err)
}

func TestGeoTransform(t *testing.T) {
	gt, flip := geoTransform([]float64{-10, 0, 10}, []float64{0, 1.875, 3.75})
	assert.True(t, flip)
	assert.Equal(t, [6]float64{-0.9375, 1.875, 0, 15, 0, -10}, gt)

	gt, flip = geoTransform([]float64{10, 0, -10}, []float64{5})
	assert.False(t, flip)
	assert.Equal(t, [6]float64{4.5, 1, 0, 15, 0, -10}, gt)
}

func TestYearFiles(t *testing.T) {
	dir := t.TempDir()
	path := func(year int) string { return filepath.Join(dir, fmt.Sprintf("prate.%d.nc", year)) }
	require.NoError(t, WriteGrid(path(2005), "prate", testGrid(), GridOptions{}))
	require.NoError(t, WriteGrid(path(2006), "prate", testGrid(), GridOptions{
		Attributes: map[string]any{"_FillValue": "n/a"},
	}))

	metrics := observability.NewMetricsForTesting()
	src := NewYearFiles(path, "prate", slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	assert.Equal(t, path(2005), src.Path(2005))

	g, err := src.Grid(context.Background(), 2005)
	require.NoError(t, err)
	assertGridsMatch(t, testGrid(), g, 1e-6)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.DecodeFallbacks), 0)

	_, err = src.Grid(context.Background(), 2006)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.DecodeFallbacks), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.FilesProcessed.WithLabelValues("precip")), 0)
	assert.InDelta(t, 6.0, testutil.ToFloat64(metrics.RowsRead.WithLabelValues("precip")), 0)

	_, err = src.Grid(context.Background(), 2007)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Grid(ctx, 2005)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCubeDir(t *testing.T) {
	g := testGrid()
	monthly, err := domain.AggregateMonthly(g)
	require.NoError(t, err)

	root := filepath.Join(t.TempDir(), "out")
	cubes, err := NewCubeDir(root, "precip")
	require.NoError(t, err)
	require.NoError(t, cubes.WriteCube("precip-2005-monthly.nc", g.GeoRef, monthly))

	res, err := ReadGrid(filepath.Join(root, "precip-2005-monthly.nc"), "precip")
	require.NoError(t, err)
	assert.Len(t, res.Grid.Times, 2)
}
