package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/table"
	"github.com/couchcryptid/climate-prep-etl/internal/config"
	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

// Downloader fetches url into dest.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// AMOPipeline turns the yearly-wide AMO table into a long CSV.
type AMOPipeline struct {
	readiness
	cfg        config.AMOConfig
	downloader Downloader
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewAMO creates an AMOPipeline. downloader is only used when cfg.Download
// is set.
func NewAMO(cfg config.AMOConfig, downloader Downloader, logger *slog.Logger, metrics *observability.Metrics) *AMOPipeline {
	return &AMOPipeline{
		readiness:  readiness{name: "amo"},
		cfg:        cfg,
		downloader: downloader,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run downloads the raw table (unless disabled), unpivots it and writes the
// CSV. Sentinel values become empty fields.
func (p *AMOPipeline) Run(ctx context.Context) (err error) {
	p.logger.Info("amo started", "raw_file", p.cfg.RawFile, "download", p.cfg.Download)
	done := p.track(p.metrics)
	var records []domain.AMORecord
	defer func() {
		elapsed := done(&err)
		if err == nil {
			p.logger.Info("amo finished", "records", len(records), "csv_file", p.cfg.CSVFile, "duration", elapsed)
		}
	}()

	if p.cfg.Download {
		n, err := p.downloader.Download(ctx, p.cfg.URL, p.cfg.RawFile)
		if err != nil {
			return err
		}
		p.logger.Info("amo table downloaded", "url", p.cfg.URL, "bytes", n)
	}

	f, err := os.Open(p.cfg.RawFile)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := table.ReadAMO(f, table.AMOHeaderLines, table.AMOFooterLines)
	if err != nil {
		return fmt.Errorf("parse %s: %w", p.cfg.RawFile, err)
	}
	p.metrics.FilesProcessed.WithLabelValues("amo").Inc()
	p.metrics.RowsRead.WithLabelValues("amo").Add(float64(len(rows)))

	records = domain.UnpivotAMO(rows)
	if err := table.WriteAMOFile(p.cfg.CSVFile, records); err != nil {
		return err
	}
	p.metrics.RowsWritten.WithLabelValues("amo").Add(float64(len(records)))
	return nil
}
