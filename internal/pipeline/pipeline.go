// Package pipeline runs the three batch jobs: precipitation rasters, the AMO
// index table, and the fire-detection merge. Each pipeline reads through
// narrow interfaces so adapters can be swapped in tests.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

// readiness reports ready once a run has completed successfully.
type readiness struct {
	name  string
	ready atomic.Bool
}

// CheckReadiness returns nil after the first successful run.
func (r *readiness) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return fmt.Errorf("%s pipeline has not completed a run yet", r.name)
	}
	return nil
}

// track marks name as running and returns a func that records the run
// duration and, on success, marks the pipeline ready.
func (r *readiness) track(metrics *observability.Metrics) func(err *error) time.Duration {
	start := domain.Now()
	metrics.PipelineRunning.WithLabelValues(r.name).Set(1)
	return func(err *error) time.Duration {
		metrics.PipelineRunning.WithLabelValues(r.name).Set(0)
		elapsed := domain.Since(start)
		metrics.RunDuration.WithLabelValues(r.name).Observe(elapsed.Seconds())
		if *err == nil {
			r.ready.Store(true)
		}
		return elapsed
	}
}

// ErrNoYears is returned when a precipitation run is given no years.
var ErrNoYears = errors.New("no years to process")
