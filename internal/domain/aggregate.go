package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// SecondsPerSixHours converts a mean rate per second over a 6-hourly sample
// into the total for that interval.
const SecondsPerSixHours = 6 * 60 * 60

// ErrMissingMonth is returned when a calendar month needed for an aggregate
// is not present in the input.
var ErrMissingMonth = errors.New("month not present in input")

// Rescale multiplies every cell of every step by factor in place.
// NaN cells stay NaN.
func Rescale(g *Grid, factor float64) {
	for _, step := range g.Steps {
		for i := range step {
			step[i] *= factor
		}
	}
}

// TruncateToMonth returns the first instant of t's calendar month in UTC.
func TruncateToMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AggregateMonthly sums the steps of g by calendar month. It returns one
// MonthlyGrid per distinct month, in chronological order. A NaN in any step
// makes the corresponding monthly cell NaN.
func AggregateMonthly(g *Grid) ([]MonthlyGrid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	cells := g.GeoRef.Cells()
	sums := make(map[time.Time][]float64)
	for i, ts := range g.Times {
		month := TruncateToMonth(ts)
		acc, ok := sums[month]
		if !ok {
			acc = make([]float64, cells)
			sums[month] = acc
		}
		for c, v := range g.Steps[i] {
			acc[c] += v
		}
	}

	months := make([]time.Time, 0, len(sums))
	for m := range sums {
		months = append(months, m)
	}
	slices.SortFunc(months, func(a, b time.Time) int { return a.Compare(b) })

	out := make([]MonthlyGrid, len(months))
	for i, m := range months {
		out[i] = MonthlyGrid{Month: m, Values: sums[m]}
	}
	return out, nil
}

// SelectMonths picks the grids of the given calendar months of year, in the
// order requested.
func SelectMonths(monthly []MonthlyGrid, year int, months ...time.Month) ([]MonthlyGrid, error) {
	out := make([]MonthlyGrid, 0, len(months))
	for _, m := range months {
		want := time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
		idx := slices.IndexFunc(monthly, func(g MonthlyGrid) bool { return g.Month.Equal(want) })
		if idx < 0 {
			return nil, fmt.Errorf("%d-%02d: %w", year, int(m), ErrMissingMonth)
		}
		out = append(out, monthly[idx])
	}
	return out, nil
}

// SeasonalTotal returns the December-April precipitation total for year:
// January through April of year plus December of the previous year.
func SeasonalTotal(year int, current, previous []MonthlyGrid) ([]float64, error) {
	janApr, err := SelectMonths(current, year, time.January, time.February, time.March, time.April)
	if err != nil {
		return nil, err
	}
	dec, err := SelectMonths(previous, year-1, time.December)
	if err != nil {
		return nil, err
	}

	grids := make([][]float64, 0, 5)
	for _, g := range append(janApr, dec...) {
		grids = append(grids, g.Values)
	}
	return SumGrids(grids...)
}

// SumGrids adds grids cell by cell into a new slice.
func SumGrids(grids ...[]float64) ([]float64, error) {
	if len(grids) == 0 {
		return nil, errors.New("no grids to sum")
	}
	out := make([]float64, len(grids[0]))
	for i, g := range grids {
		if len(g) != len(out) {
			return nil, fmt.Errorf("grid %d has %d cells, want %d", i, len(g), len(out))
		}
		for c, v := range g {
			out[c] += v
		}
	}
	return out, nil
}

// FillNoData returns a copy of values with every NaN replaced by noData, and
// the number of cells replaced.
func FillNoData(values []float64, noData float64) ([]float64, int) {
	out := make([]float64, len(values))
	n := 0
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = noData
			n++
			continue
		}
		out[i] = v
	}
	return out, n
}
