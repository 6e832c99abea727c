package main

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/geotiff"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/climate-prep-etl/internal/config"
	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

func newTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CLIMPREP_CONFIG", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	cmd := newRootCmd(cfg)
	cmd.SetArgs(args)
	return cmd
}

const rate = 1e-5 // kg/m^2/s

// writeYear stores a 3x2 grid of constant rate sampled every six hours
// through year, with a NaN in cell 4 of the first step of nanMonth.
func writeYear(t *testing.T, dir string, year int, nanMonth time.Month) {
	t.Helper()
	ref := domain.GeoRef{
		NoData:       netcdf.DefaultFillFloat,
		Width:        3,
		Height:       2,
		DataType:     domain.Float32,
		GeoTransform: [6]float64{-60, 1.875, 0, 0, 0, -1.9},
		SpatialRef:   domain.WGS84,
	}
	g := &domain.Grid{GeoRef: ref}
	nanDone := false
	for ts := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC); ts.Year() == year; ts = ts.Add(6 * time.Hour) {
		step := make([]float64, ref.Cells())
		for i := range step {
			step[i] = rate
		}
		if ts.Month() == nanMonth && !nanDone {
			step[4] = math.NaN()
			nanDone = true
		}
		g.Times = append(g.Times, ts)
		g.Steps = append(g.Steps, step)
	}
	path := filepath.Join(dir, fmt.Sprintf("prate.sfc.gauss.%d.nc", year))
	require.NoError(t, netcdf.WriteGrid(path, "prate", g, netcdf.GridOptions{}))
}

func TestPrecipSeasonal(t *testing.T) {
	raw, out := t.TempDir(), t.TempDir()
	writeYear(t, raw, 2004, 0)
	writeYear(t, raw, 2005, time.February)

	cmd := newTestCmd(t, "precip", "seasonal",
		"--raw-dir", raw, "--out-dir", out,
		"--first-year", "2005", "--last-year", "2005", "--compress", "--rows-per-strip", "1")
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	r, err := geotiff.Read(filepath.Join(out, "precip-2005.tif"))
	require.NoError(t, err)
	assert.Equal(t, 3, r.GeoRef.Width)
	assert.Equal(t, 2, r.GeoRef.Height)
	assert.Equal(t, domain.Float32, r.GeoRef.DataType)
	assert.Equal(t, geotiff.CompressionDeflate, r.Compression)
	assert.Equal(t, domain.WGS84, r.GeoRef.SpatialRef)
	assert.InDelta(t, -60.0, r.GeoRef.GeoTransform[0], 1e-4)

	// December 2004 plus January-April 2005, four samples a day.
	steps := float64((31 + 31 + 28 + 31 + 30) * 4)
	for i, v := range r.Values {
		if i == 4 {
			assert.True(t, r.IsNoData(v), "cell 4 had a NaN in February")
			continue
		}
		assert.InDelta(t, steps*rate*domain.SecondsPerSixHours, v, 1e-3, "cell %d", i)
	}
}

func TestPrecipMonthly_Cube(t *testing.T) {
	raw, out := t.TempDir(), t.TempDir()
	writeYear(t, raw, 2006, 0)

	cmd := newTestCmd(t, "precip", "monthly",
		"--raw-dir", raw, "--out-dir", out,
		"--first-year", "2006", "--last-year", "2006", "--cube")
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var rasters int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tif") {
			rasters++
		}
	}
	assert.Equal(t, 12, rasters)
	assert.FileExists(t, filepath.Join(out, "precip-2006-01.tif"))

	res, err := netcdf.ReadGrid(filepath.Join(out, "precip-2006-monthly.nc"), "prate")
	require.NoError(t, err)
	assert.Len(t, res.Grid.Times, 12)
	assert.InDelta(t, 31*4*rate*domain.SecondsPerSixHours, res.Grid.Steps[0][0], 1e-3)
}

func TestPrecip_InvalidYears(t *testing.T) {
	cmd := newTestCmd(t, "precip", "seasonal", "--first-year", "2010", "--last-year", "2000")
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRECIP_FIRST_YEAR")
}

func TestAMO_LocalFile(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "amon.us.data")
	require.NoError(t, os.WriteFile(raw, []byte(` 2000         2000
 2000   0.1   0.2   0.3   0.4   0.5   0.6   0.7   0.8   0.9   1.0   1.1 -99.99
  -99.99
  AMO unsmoothed
  Calculated at NOAA PSL1
  http://www.psl.noaa.gov/data/timeseries/AMO/
`), 0o600))
	csvFile := filepath.Join(dir, "out", "amo.csv")

	cmd := newTestCmd(t, "amo", "--download=false", "--raw-file", raw, "--csv-file", csvFile)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	data, err := os.ReadFile(csvFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 13)
	assert.Equal(t, "2000,12,", lines[12])
}

func TestAMO_HTTPAddrInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	dir := t.TempDir()
	csvFile := filepath.Join(dir, "amo.csv")
	cmd := newTestCmd(t, "amo", "--download=false", "--raw-file", filepath.Join(dir, "absent"),
		"--csv-file", csvFile, "--http-addr", l.Addr().String())
	err = cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.NoFileExists(t, csvFile)
}

func writeDetections(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MCD14ML.200508.txt"), []byte(
		"YYYYMMDD HHMM sat lat lon T21 T31 sample FRP conf type\n"+
			"20050801 0005 T -10.100 -60.100 330.1 300.2 100 12.5 80 0\n"+
			"20050801 0005 T -10.200 -60.200 330.1 300.2 101 12.5 40 0\n"+
			"20050801 1340 A 45.000 10.000 320.0 290.0 5 3.2 90 0\n"), 0o600))
}

func countDetections(t *testing.T, db string) int {
	t.Helper()
	conn, err := sql.Open("sqlite", db)
	require.NoError(t, err)
	defer conn.Close()
	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM fire_detections").Scan(&n))
	return n
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestFires_SQLiteSink(t *testing.T) {
	dir := t.TempDir()
	writeDetections(t, dir)
	csvFile := filepath.Join(dir, "cleaned_data.csv")
	db := filepath.Join(t.TempDir(), "fires.db")

	cmd := newTestCmd(t, "fires", "--data-dir", dir, "--csv-file", csvFile, "--min-conf", "50", "--sqlite", db)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	data, err := os.ReadFile(csvFile)
	require.NoError(t, err)
	assert.Equal(t, "YYYYMMDD,HHMM,sat,lat,lon,conf\n20050801,0005,T,-10.100,-60.100,80\n", string(data))
	assert.Equal(t, 1, countDetections(t, db))
}

func TestFires_SQLiteInDataDir(t *testing.T) {
	dir := t.TempDir()
	writeDetections(t, dir)
	csvFile := filepath.Join(dir, "cleaned_data.csv")
	db := filepath.Join(dir, "fires.db")
	args := []string{"fires", "--data-dir", dir, "--csv-file", csvFile, "--min-conf", "50", "--sqlite", db}

	// The second run lists the database left by the first.
	require.NoError(t, newTestCmd(t, args...).ExecuteContext(context.Background()))
	require.NoError(t, newTestCmd(t, args...).ExecuteContext(context.Background()))
	assert.Equal(t, 1, countDetections(t, db))
}

func TestFires_HTTPAddrInUse(t *testing.T) {
	dir, dbDir := t.TempDir(), t.TempDir()
	writeDetections(t, dir)
	csvFile := filepath.Join(dir, "cleaned_data.csv")
	db := filepath.Join(dbDir, "fires.db")
	args := []string{"fires", "--data-dir", dir, "--csv-file", csvFile, "--min-conf", "50", "--sqlite", db}

	require.NoError(t, newTestCmd(t, args...).ExecuteContext(context.Background()))
	require.Equal(t, 1, countDetections(t, db))
	csvBefore, err := os.ReadFile(csvFile)
	require.NoError(t, err)
	dataBefore, dbBefore := listDir(t, dir), listDir(t, dbDir)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	err = newTestCmd(t, append(args, "--http-addr", l.Addr().String())...).ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")

	assert.Equal(t, 1, countDetections(t, db), "previous run's rows were removed")
	csvAfter, err := os.ReadFile(csvFile)
	require.NoError(t, err)
	assert.Equal(t, string(csvBefore), string(csvAfter))
	assert.Equal(t, dataBefore, listDir(t, dir))
	assert.Equal(t, dbBefore, listDir(t, dbDir))
}

func TestPendingReadiness(t *testing.T) {
	ctx := context.Background()
	r := &pendingReadiness{job: "fires"}
	err := r.CheckReadiness(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not started")

	r.attach(stubReadiness{})
	require.NoError(t, r.CheckReadiness(ctx))
}

type stubReadiness struct{}

func (stubReadiness) CheckReadiness(context.Context) error { return nil }
