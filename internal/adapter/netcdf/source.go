package netcdf

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

// YearFiles decodes one variable from a directory of yearly files.
// It implements pipeline.GridSource.
type YearFiles struct {
	path     func(year int) string
	variable string
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewYearFiles creates a source reading variable from path(year).
func NewYearFiles(path func(year int) string, variable string, logger *slog.Logger, metrics *observability.Metrics) *YearFiles {
	return &YearFiles{path: path, variable: variable, logger: logger, metrics: metrics}
}

// Path returns the file holding year.
func (y *YearFiles) Path(year int) string {
	return y.path(year)
}

// Grid decodes the file for year. A decode that only succeeded after
// stripping a malformed _FillValue is logged and counted.
func (y *YearFiles) Grid(ctx context.Context, year int) (*domain.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := y.path(year)
	res, err := ReadGrid(path, y.variable)
	if err != nil {
		return nil, err
	}
	if res.FillValueStripped {
		y.logger.Warn("decoded without _FillValue", "file", path, "variable", y.variable, "error", res.StrictErr)
		y.metrics.DecodeFallbacks.Inc()
	}
	y.metrics.FilesProcessed.WithLabelValues("precip").Inc()
	y.metrics.RowsRead.WithLabelValues("precip").Add(float64(len(res.Grid.Steps)))
	return res.Grid, nil
}
