// Command validate checks climprep outputs against their inputs: rasters
// carry the source georeferencing and the expected totals, the AMO CSV has
// twelve rows per year with no sentinel left, and every merged detection
// passes the filter.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -ncep-dir data/mock/ncep \
//	  -rasters data/precip_rasters \
//	  -amo-csv climate_data/amo.csv \
//	  -fires-csv data/mock/MCD14ML/cleaned_data.csv \
//	  -fires-sqlite data/mock/fires.db
//
// Any flag may be omitted to skip its phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/geotiff"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/table"
	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name    string
	checked int
	errors  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	ncepDir     string
	filePattern string
	variable    string
	rasters     string
	amoCSV      string
	firesCSV    string
	firesSQLite string
	filter      domain.FireFilter
}

func main() {
	o := options{filter: domain.DefaultFireFilter}
	flag.StringVar(&o.ncepDir, "ncep-dir", "", "directory of yearly NetCDF inputs")
	flag.StringVar(&o.filePattern, "file-pattern", "prate.sfc.gauss.%d.nc", "yearly file name, %d is the year")
	flag.StringVar(&o.variable, "variable", "prate", "NetCDF precipitation variable")
	flag.StringVar(&o.rasters, "rasters", "", "directory of precip-*.tif outputs")
	flag.StringVar(&o.amoCSV, "amo-csv", "", "AMO CSV output")
	flag.StringVar(&o.firesCSV, "fires-csv", "", "merged detection CSV output")
	flag.StringVar(&o.firesSQLite, "fires-sqlite", "", "SQLite mirror of the detection CSV (needs -fires-csv)")
	flag.Float64Var(&o.filter.Box.LatMin, "lat-min", o.filter.Box.LatMin, "filter latitude minimum")
	flag.Float64Var(&o.filter.Box.LatMax, "lat-max", o.filter.Box.LatMax, "filter latitude maximum")
	flag.Float64Var(&o.filter.Box.LonMin, "lon-min", o.filter.Box.LonMin, "filter longitude minimum")
	flag.Float64Var(&o.filter.Box.LonMax, "lon-max", o.filter.Box.LonMax, "filter longitude maximum")
	flag.Float64Var(&o.filter.MinConfidence, "min-conf", o.filter.MinConfidence, "filter minimum confidence")
	flag.Parse()

	if o.rasters != "" && o.ncepDir == "" {
		fmt.Fprintln(os.Stderr, "-rasters needs -ncep-dir")
		os.Exit(1)
	}
	if o.firesSQLite != "" && o.firesCSV == "" {
		fmt.Fprintln(os.Stderr, "-fires-sqlite needs -fires-csv")
		os.Exit(1)
	}
	if o.rasters == "" && o.amoCSV == "" && o.firesCSV == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(o))
}

func run(o options) int {
	fmt.Println("=== climprep Output Validation ===")
	fmt.Println()

	var phases []*phase
	if o.rasters != "" {
		phases = append(phases, validateRasters(o))
	}
	if o.amoCSV != "" {
		phases = append(phases, validateAMO(o.amoCSV))
	}
	if o.firesCSV != "" {
		phases = append(phases, validateFires(o.firesCSV, o.filter))
	}
	if o.firesSQLite != "" {
		phases = append(phases, validateFiresSQLite(o.firesCSV, o.firesSQLite))
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %6d checked  %s\n", p.name, p.checked, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Rasters ──

var (
	seasonalName = regexp.MustCompile(`^precip-(\d{4})\.tif$`)
	monthlyName  = regexp.MustCompile(`^precip-(\d{4})-(\d{2})\.tif$`)
)

// yearTotals decodes and aggregates input years on demand.
type yearTotals struct {
	o     options
	cache map[int]*netcdf.Result
	sums  map[int][]domain.MonthlyGrid
}

func (y *yearTotals) get(year int) (*netcdf.Result, []domain.MonthlyGrid, error) {
	if res, ok := y.cache[year]; ok {
		return res, y.sums[year], nil
	}
	path := filepath.Join(y.o.ncepDir, fmt.Sprintf(y.o.filePattern, year))
	res, err := netcdf.ReadGrid(path, y.o.variable)
	if err != nil {
		return nil, nil, err
	}
	domain.Rescale(res.Grid, domain.SecondsPerSixHours)
	monthly, err := domain.AggregateMonthly(res.Grid)
	if err != nil {
		return nil, nil, err
	}
	y.cache[year] = res
	y.sums[year] = monthly
	return res, monthly, nil
}

func validateRasters(o options) *phase {
	p := &phase{name: "Rasters match source georeferencing/totals"}
	entries, err := os.ReadDir(o.rasters)
	if err != nil {
		p.errorf("list %s: %v", o.rasters, err)
		return p
	}
	totals := &yearTotals{o: o, cache: map[int]*netcdf.Result{}, sums: map[int][]domain.MonthlyGrid{}}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var want []float64
		var ref domain.GeoRef
		switch {
		case seasonalName.MatchString(name):
			year, _ := strconv.Atoi(seasonalName.FindStringSubmatch(name)[1])
			cur, curMonthly, err := totals.get(year)
			if err != nil {
				p.errorf("%s: %v", name, err)
				continue
			}
			_, prevMonthly, err := totals.get(year - 1)
			if err != nil {
				p.errorf("%s: %v", name, err)
				continue
			}
			if want, err = domain.SeasonalTotal(year, curMonthly, prevMonthly); err != nil {
				p.errorf("%s: %v", name, err)
				continue
			}
			ref = cur.Grid.GeoRef
		case monthlyName.MatchString(name):
			m := monthlyName.FindStringSubmatch(name)
			year, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			res, monthly, err := totals.get(year)
			if err != nil {
				p.errorf("%s: %v", name, err)
				continue
			}
			sel, err := domain.SelectMonths(monthly, year, time.Month(month))
			if err != nil {
				p.errorf("%s: %v", name, err)
				continue
			}
			want, ref = sel[0].Values, res.Grid.GeoRef
		default:
			continue
		}
		p.checked++
		checkRaster(p, filepath.Join(o.rasters, name), want, ref)
	}
	if p.checked == 0 {
		p.errorf("no precip-*.tif files in %s", o.rasters)
	}
	return p
}

func checkRaster(p *phase, path string, want []float64, ref domain.GeoRef) {
	name := filepath.Base(path)
	r, err := geotiff.Read(path)
	if err != nil {
		p.errorf("%s: %v", name, err)
		return
	}
	got := r.GeoRef
	if got.Width != ref.Width || got.Height != ref.Height {
		p.errorf("%s: size %dx%d, source %dx%d", name, got.Width, got.Height, ref.Width, ref.Height)
		return
	}
	if got.DataType != ref.DataType {
		p.errorf("%s: data type %s, source %s", name, got.DataType, ref.DataType)
	}
	if got.SpatialRef.EPSG != ref.SpatialRef.EPSG {
		p.errorf("%s: EPSG %d, source %d", name, got.SpatialRef.EPSG, ref.SpatialRef.EPSG)
	}
	for i := range got.GeoTransform {
		if !floatEq(got.GeoTransform[i], ref.GeoTransform[i], 1e-9) {
			p.errorf("%s: geotransform[%d] = %g, source %g", name, i, got.GeoTransform[i], ref.GeoTransform[i])
		}
	}

	for i, v := range r.Values {
		switch {
		case math.IsNaN(want[i]) != r.IsNoData(v):
			p.errorf("%s: cell %d no-data mismatch (value %g, expected %g)", name, i, v, want[i])
		case math.IsNaN(v):
			p.errorf("%s: cell %d is NaN", name, i)
		case !math.IsNaN(want[i]) && !floatEq(v, want[i], 1e-5*math.Max(1, math.Abs(want[i]))):
			p.errorf("%s: cell %d = %g, expected %g", name, i, v, want[i])
		}
	}
}

// ── AMO ──

func validateAMO(path string) *phase {
	p := &phase{name: "AMO CSV: 12 rows per year, no sentinel"}
	f, err := os.Open(path)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	defer f.Close()

	records, err := table.ReadAMOCSV(f)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	perYear := map[int]map[int]bool{}
	for i, r := range records {
		p.checked++
		if r.Month < 1 || r.Month > 12 {
			p.errorf("row %d: month %d", i+2, r.Month)
		}
		if r.Value != nil && floatEq(*r.Value, domain.AMOMissing, 1e-9) {
			p.errorf("row %d: sentinel %.2f left in output", i+2, domain.AMOMissing)
		}
		if perYear[r.Year] == nil {
			perYear[r.Year] = map[int]bool{}
		}
		if perYear[r.Year][r.Month] {
			p.errorf("row %d: duplicate %d-%02d", i+2, r.Year, r.Month)
		}
		perYear[r.Year][r.Month] = true
	}
	for year, months := range perYear {
		if len(months) != 12 {
			p.errorf("year %d has %d months", year, len(months))
		}
	}
	if len(records) != 12*len(perYear) {
		p.errorf("%d rows for %d years, want %d", len(records), len(perYear), 12*len(perYear))
	}
	return p
}

// ── Fires ──

func validateFires(path string, filter domain.FireFilter) *phase {
	p := &phase{name: "Fire CSV: rows satisfy the filter"}
	f, err := os.Open(path)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	defer f.Close()

	detections, err := table.ReadDetectionCSV(f)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	for i, d := range detections {
		p.checked++
		// The projection drops the type column, so only box and confidence
		// can be checked here.
		if !filter.Box.Contains(d.Lat, d.Lon) {
			p.errorf("row %d: (%s, %s) outside box", i+2, d.LatText, d.LonText)
		}
		if d.Confidence < filter.MinConfidence {
			p.errorf("row %d: confidence %s below %g", i+2, d.ConfText, filter.MinConfidence)
		}
	}
	return p
}

// validateFiresSQLite checks that the SQLite sink holds the CSV rows in the
// same order.
func validateFiresSQLite(csvPath, dbPath string) *phase {
	p := &phase{name: "Fire SQLite: mirrors the CSV"}
	f, err := os.Open(csvPath)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	defer f.Close()
	want, err := table.ReadDetectionCSV(f)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	ctx := context.Background()
	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	defer store.Close()
	got, err := store.Detections(ctx)
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	if len(got) != len(want) {
		p.errorf("%d stored detections, CSV has %d rows", len(got), len(want))
	}
	for i := range min(len(got), len(want)) {
		p.checked++
		if got[i].Key() != want[i].Key() || got[i].ConfText != want[i].ConfText {
			p.errorf("row %d: stored %s conf %s, CSV %s conf %s",
				i+1, got[i].Key(), got[i].ConfText, want[i].Key(), want[i].ConfText)
		}
	}
	return p
}

func floatEq(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
