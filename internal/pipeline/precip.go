package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

// GridSource decodes the yearly precipitation-rate grids.
type GridSource interface {
	Grid(ctx context.Context, year int) (*domain.Grid, error)
	Path(year int) string
}

// RasterWriter stores one single-band raster under name and returns the
// number of cells written as no-data.
type RasterWriter interface {
	WriteRaster(name string, values []float64, ref domain.GeoRef) (int, error)
}

// CubeWriter stores a year of monthly totals as one multi-step file.
type CubeWriter interface {
	WriteCube(name string, ref domain.GeoRef, monthly []domain.MonthlyGrid) error
}

// Two entries hold years Y-1 and Y, which is all a seasonal run needs.
const monthlyCacheSize = 2

type yearTotals struct {
	ref     domain.GeoRef
	monthly []domain.MonthlyGrid
}

// PrecipPipeline converts 6-hourly precipitation rates into seasonal or
// monthly GeoTIFF totals.
type PrecipPipeline struct {
	readiness
	source  GridSource
	rasters RasterWriter
	cubes   CubeWriter
	cache   *lru.Cache[string, *yearTotals]
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPrecip creates a PrecipPipeline. cubes may be nil to skip the NetCDF
// cube export in monthly runs.
func NewPrecip(source GridSource, rasters RasterWriter, cubes CubeWriter, logger *slog.Logger, metrics *observability.Metrics) (*PrecipPipeline, error) {
	cache, err := lru.New[string, *yearTotals](monthlyCacheSize)
	if err != nil {
		return nil, err
	}
	return &PrecipPipeline{
		readiness: readiness{name: "precip"},
		source:    source,
		rasters:   rasters,
		cubes:     cubes,
		cache:     cache,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// RunSeasonal writes precip-Y.tif for every year Y, holding the December of
// Y-1 through April of Y total. Georeferencing is copied from the file of Y.
func (p *PrecipPipeline) RunSeasonal(ctx context.Context, years []int) (err error) {
	if len(years) == 0 {
		return ErrNoYears
	}
	p.logger.Info("seasonal precipitation started", "first_year", years[0], "last_year", years[len(years)-1])
	done := p.track(p.metrics)
	written := 0
	defer func() {
		elapsed := done(&err)
		if err == nil {
			p.logger.Info("seasonal precipitation finished", "rasters", written, "duration", elapsed)
		}
	}()

	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return err
		}
		previous, err := p.monthlyTotals(ctx, year-1)
		if err != nil {
			return err
		}
		current, err := p.monthlyTotals(ctx, year)
		if err != nil {
			return err
		}
		total, err := domain.SeasonalTotal(year, current.monthly, previous.monthly)
		if err != nil {
			return fmt.Errorf("season %d: %w", year, err)
		}
		if err := p.write(fmt.Sprintf("precip-%d.tif", year), total, current.ref); err != nil {
			return err
		}
		written++
	}
	return nil
}

// RunMonthly writes precip-YYYY-MM.tif for every month present in the file of
// each year. A year with other than twelve months is logged and converted
// as-is.
func (p *PrecipPipeline) RunMonthly(ctx context.Context, years []int) (err error) {
	if len(years) == 0 {
		return ErrNoYears
	}
	p.logger.Info("monthly precipitation started", "first_year", years[0], "last_year", years[len(years)-1])
	done := p.track(p.metrics)
	written := 0
	defer func() {
		elapsed := done(&err)
		if err == nil {
			p.logger.Info("monthly precipitation finished", "rasters", written, "duration", elapsed)
		}
	}()

	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return err
		}
		totals, err := p.monthlyTotals(ctx, year)
		if err != nil {
			return err
		}
		if len(totals.monthly) != 12 {
			p.logger.Warn("partial year", "year", year, "months", len(totals.monthly), "file", p.source.Path(year))
		}
		for _, m := range totals.monthly {
			name := fmt.Sprintf("precip-%s.tif", m.Month.Format("2006-01"))
			if err := p.write(name, m.Values, totals.ref); err != nil {
				return err
			}
			written++
		}
		if p.cubes != nil {
			name := fmt.Sprintf("precip-%d-monthly.nc", year)
			if err := p.cubes.WriteCube(name, totals.ref, totals.monthly); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
		}
	}
	return nil
}

// monthlyTotals returns the monthly totals of the file holding year,
// decoding it only on a cache miss.
func (p *PrecipPipeline) monthlyTotals(ctx context.Context, year int) (*yearTotals, error) {
	key := p.source.Path(year)
	if t, ok := p.cache.Get(key); ok {
		p.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return t, nil
	}
	p.metrics.CacheLookups.WithLabelValues("miss").Inc()

	g, err := p.source.Grid(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	domain.Rescale(g, domain.SecondsPerSixHours)
	monthly, err := domain.AggregateMonthly(g)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", key, err)
	}
	p.logger.Debug("aggregated year", "year", year, "file", key, "steps", len(g.Times), "months", len(monthly))

	t := &yearTotals{ref: g.GeoRef, monthly: monthly}
	p.cache.Add(key, t)
	return t, nil
}

func (p *PrecipPipeline) write(name string, values []float64, ref domain.GeoRef) error {
	noData, err := p.rasters.WriteRaster(name, values, ref)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	p.metrics.RastersWritten.Inc()
	p.metrics.NoDataCells.Add(float64(noData))
	p.logger.Info("raster written", "name", name, "nodata_cells", noData)
	return nil
}
