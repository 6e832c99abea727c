// Command genmock synthesizes input fixtures for the three climprep pipelines:
// NCEP-style yearly precipitation-rate NetCDF files, a NOAA PSL AMO table, and
// monthly MCD14ML fire-detection tables. Output is deterministic for a seed.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -first-year 2004 -last-year 2006
//
// then point the pipelines at it:
//
//	PRECIP_RAW_DIR=data/mock/ncep AMO_DOWNLOAD=false AMO_RAW_FILE=data/mock/amon.us.data \
//	FIRES_DATA_DIR=data/mock/MCD14ML go run ./cmd/climprep precip seasonal
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// NCEP reanalysis packs prate as int16 with these attributes.
var ncepPacking = netcdf.Packing{Scale: 1e-7, Offset: 0.0032765, Fill: 32766}

type options struct {
	out           string
	firstYear     int
	lastYear      int
	width         int
	height        int
	packed        bool
	malformedFill bool
	fireMonths    int
	fireRows      int
	seed          uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var o options
	flag.StringVar(&o.out, "out", "", "output directory")
	flag.IntVar(&o.firstYear, "first-year", 2004, "first precipitation year (December of it feeds the next season)")
	flag.IntVar(&o.lastYear, "last-year", 2006, "last precipitation year")
	flag.IntVar(&o.width, "width", 28, "grid columns")
	flag.IntVar(&o.height, "height", 28, "grid rows")
	flag.BoolVar(&o.packed, "packed", true, "store prate as packed int16 like NCEP")
	flag.BoolVar(&o.malformedFill, "malformed-fill", false, "give the last year a non-numeric _FillValue")
	flag.IntVar(&o.fireMonths, "fire-months", 3, "number of monthly detection files")
	flag.IntVar(&o.fireRows, "fire-rows", 500, "detections per file")
	flag.Uint64Var(&o.seed, "seed", 42, "random seed")
	flag.Parse()

	if o.out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if o.firstYear > o.lastYear {
		return fmt.Errorf("-first-year %d is after -last-year %d", o.firstYear, o.lastYear)
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))

	ncepDir := filepath.Join(o.out, "ncep")
	if err := os.MkdirAll(ncepDir, 0o755); err != nil {
		return err
	}
	for year := o.firstYear; year <= o.lastYear; year++ {
		path := filepath.Join(ncepDir, fmt.Sprintf("prate.sfc.gauss.%d.nc", year))
		malformed := o.malformedFill && year == o.lastYear
		if err := writePrecipYear(path, year, o, malformed, rng); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("wrote %s", path)
	}

	amoPath := filepath.Join(o.out, "amon.us.data")
	if err := writeAMO(amoPath, 1950, o.lastYear, rng); err != nil {
		return fmt.Errorf("writing AMO table: %w", err)
	}
	log.Printf("wrote %s (%d years)", amoPath, o.lastYear-1950+1)

	fireDir := filepath.Join(o.out, "MCD14ML")
	if err := os.MkdirAll(fireDir, 0o755); err != nil {
		return err
	}
	start := time.Date(o.lastYear, time.August, 1, 0, 0, 0, 0, time.UTC)
	var kept int
	for i := range o.fireMonths {
		month := start.AddDate(0, i, 0)
		name := fmt.Sprintf("MCD14ML.%s.006.01.txt", month.Format("200601"))
		if i%2 == 1 {
			name += ".gz"
		}
		n, err := writeDetections(filepath.Join(fireDir, name), month, o.fireRows, i == 0, rng)
		if err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		kept += n
		log.Printf("wrote %s: %d rows, %d pass the default filter", name, o.fireRows, n)
	}
	log.Printf("total detections passing the default filter: %d", kept)
	return nil
}

// writePrecipYear stores one year of 6-hourly rates over a South American
// window. A storm band drifts east through the year; one corner cell is
// missing in every step.
func writePrecipYear(path string, year int, o options, malformedFill bool, rng *rand.Rand) error {
	const dx, dy = 1.875, 1.9
	ref := domain.GeoRef{
		NoData:       netcdf.DefaultFillFloat,
		Width:        o.width,
		Height:       o.height,
		DataType:     domain.Float32,
		GeoTransform: [6]float64{-85 - dx/2, dx, 0, 15 + dy/2, 0, -dy},
		SpatialRef:   domain.WGS84,
	}

	g := &domain.Grid{GeoRef: ref}
	for ts := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC); ts.Year() == year; ts = ts.Add(6 * time.Hour) {
		band := float64(ts.YearDay()) / 366 * float64(o.width)
		step := make([]float64, ref.Cells())
		for row := range o.height {
			for col := range o.width {
				wet := math.Exp(-math.Pow(float64(col)-band, 2) / 8)
				step[row*o.width+col] = 5e-5 * wet * rng.Float64()
			}
		}
		step[0] = math.NaN()
		g.Times = append(g.Times, ts)
		g.Steps = append(g.Steps, step)
	}

	opts := netcdf.GridOptions{
		Attributes: map[string]any{
			"long_name": "Mean Daily Precipitation Rate at surface",
			"units":     "Kg/m^2/s",
		},
	}
	if o.packed {
		opts.Packing = &ncepPacking
	}
	if malformedFill {
		opts.Attributes["_FillValue"] = "missing"
	}
	return netcdf.WriteGrid(path, "prate", g, opts)
}

// writeAMO writes a PSL-style table: the year range, one row per year, and a
// four-line trailer. The last three months of the final year are missing.
func writeAMO(path string, first, last int, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, " %d         %d\n", first, last)
	for year := first; year <= last; year++ {
		fmt.Fprintf(w, " %d", year)
		for m := range 12 {
			if year == last && m >= 9 {
				fmt.Fprintf(w, " %7.2f", domain.AMOMissing)
				continue
			}
			fmt.Fprintf(w, " %7.3f", 0.3*math.Sin(float64(year-first)/10)+0.1*rng.NormFloat64())
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  %.2f\n", domain.AMOMissing)
	fmt.Fprintln(w, "  AMO unsmoothed from the Kaplan SST V2")
	fmt.Fprintln(w, "  Calculated at NOAA PSL1")
	fmt.Fprintln(w, "  http://www.psl.noaa.gov/data/timeseries/AMO/")

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// boundaryRows sit exactly on the default filter's edges.
var boundaryRows = []string{
	"%s 0100 T -38.000 -60.000 330.0 300.0 10 5.0 30 0",  // kept
	"%s 0100 T -38.000 -60.000 330.0 300.0 11 5.0 29 0",  // dropped: confidence
	"%s 0100 A  15.000 -32.000 330.0 300.0 12 5.0 100 0", // kept
	"%s 0100 A  15.001 -32.000 330.0 300.0 13 5.0 100 0", // dropped: latitude
	"%s 0100 T -10.000 -84.000 330.0 300.0 14 5.0 80 2",  // dropped: type
}

// writeDetections writes a month of MCD14ML rows, gzip-compressed when path
// ends in .gz, and returns how many pass the default filter.
func writeDetections(path string, month time.Time, rows int, withBoundary bool, rng *rand.Rand) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	var out io.Writer = f
	var zw *gzip.Writer
	if filepath.Ext(path) == ".gz" {
		zw = gzip.NewWriter(f)
		out = zw
	}
	w := bufio.NewWriter(out)

	fmt.Fprintln(w, "YYYYMMDD HHMM sat    lat      lon      T21    T31  sample   FRP conf type")
	kept := 0
	date := month.Format("20060102")
	if withBoundary {
		for _, row := range boundaryRows {
			fmt.Fprintf(w, row+"\n", date)
		}
		kept += 2
	}
	sats := []string{"T", "A"}
	for range rows {
		d := domain.FireDetection{
			Date:       month.AddDate(0, 0, rng.IntN(28)).Format("20060102"),
			Time:       fmt.Sprintf("%02d%02d", rng.IntN(24), rng.IntN(60)),
			Satellite:  sats[rng.IntN(2)],
			Lat:        math.Round((-45+rng.Float64()*65)*1000) / 1000,
			Lon:        math.Round((-90+rng.Float64()*65)*1000) / 1000,
			Confidence: float64(rng.IntN(101)),
		}
		if rng.IntN(10) == 0 {
			d.Type = 2 + rng.IntN(2)
		}
		if domain.DefaultFireFilter.Keep(d) {
			kept++
		}
		fmt.Fprintf(w, "%s %s %s %8.3f %8.3f %6.1f %6.1f %6d %6.1f %3.0f %d\n",
			d.Date, d.Time, d.Satellite, d.Lat, d.Lon,
			300+rng.Float64()*60, 280+rng.Float64()*30, rng.IntN(1354), rng.Float64()*200,
			d.Confidence, d.Type)
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	return kept, f.Close()
}
