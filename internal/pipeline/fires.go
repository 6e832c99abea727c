package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/table"
	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

// DetectionLoader receives retained detections in order. Close commits.
type DetectionLoader interface {
	LoadBatch(ctx context.Context, detections []domain.FireDetection) error
	Close() error
}

// aborter is implemented by loaders that can discard partial output.
type aborter interface {
	Abort()
}

// FirePipeline filters every detection table in a directory and merges the
// retained rows into its loaders.
type FirePipeline struct {
	readiness
	dir       string
	outputs   []string
	filter    domain.FireFilter
	batchSize int
	loaders   []DetectionLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewFires creates a FirePipeline reading dir. outputs are the files the
// loaders write, excluded from the listing when they live in dir. The
// pipeline owns loaders and closes them at the end of Run.
func NewFires(dir string, outputs []string, filter domain.FireFilter, batchSize int, loaders []DetectionLoader, logger *slog.Logger, metrics *observability.Metrics) *FirePipeline {
	return &FirePipeline{
		readiness: readiness{name: "fires"},
		dir:       dir,
		outputs:   outputs,
		filter:    filter,
		batchSize: max(batchSize, 1),
		loaders:   loaders,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run reads files in lexical order and streams retained detections to every
// loader, file order then row order. Any failure aborts the run and discards
// partial outputs where the loader supports it.
func (p *FirePipeline) Run(ctx context.Context) (err error) {
	p.logger.Info("fires started", "dir", p.dir, "loaders", len(p.loaders))
	done := p.track(p.metrics)
	var read, kept int
	defer func() {
		if err != nil {
			p.abort()
		} else {
			err = p.close()
		}
		elapsed := done(&err)
		if err == nil {
			p.logger.Info("fires finished", "rows_read", read, "rows_kept", kept, "duration", elapsed)
		}
	}()

	files, err := p.inputs()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		p.logger.Warn("no detection files found", "dir", p.dir)
	}

	batch := make([]domain.FireDetection, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.load(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		fileKept := 0
		n, err := p.readFile(path, func(d domain.FireDetection) error {
			if !p.filter.Keep(d) {
				return nil
			}
			fileKept++
			batch = append(batch, d)
			if len(batch) < p.batchSize {
				return nil
			}
			return flush()
		})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		read += n
		kept += fileKept
		p.metrics.FilesProcessed.WithLabelValues("fires").Inc()
		p.metrics.RowsRead.WithLabelValues("fires").Add(float64(n))
		p.logger.Info("detection file filtered", "file", filepath.Base(path), "rows", n, "kept", fileKept)
	}
	return flush()
}

func (p *FirePipeline) readFile(path string, fn func(domain.FireDetection) error) (int, error) {
	rc, err := table.OpenDetections(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return table.ReadDetections(rc, fn)
}

// inputs lists the regular, non-hidden files of dir in lexical order,
// skipping the pipeline's own outputs.
func (p *FirePipeline) inputs() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("list detection files: %w", err)
	}
	skip := make(map[string]struct{}, len(p.outputs))
	for _, out := range p.outputs {
		abs, err := filepath.Abs(out)
		if err != nil {
			return nil, err
		}
		skip[abs] = struct{}{}
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		if abs, err := filepath.Abs(path); err == nil {
			if _, ok := skip[abs]; ok {
				continue
			}
		}
		files = append(files, path)
	}
	return files, nil
}

func (p *FirePipeline) load(ctx context.Context, batch []domain.FireDetection) error {
	for _, l := range p.loaders {
		if err := l.LoadBatch(ctx, batch); err != nil {
			return err
		}
	}
	p.metrics.RowsWritten.WithLabelValues("fires").Add(float64(len(batch)))
	return nil
}

func (p *FirePipeline) close() error {
	var errs []error
	for _, l := range p.loaders {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}

func (p *FirePipeline) abort() {
	for _, l := range p.loaders {
		if a, ok := l.(aborter); ok {
			a.Abort()
			continue
		}
		if err := l.Close(); err != nil {
			p.logger.Warn("close loader after failure", "error", err)
		}
	}
}
