package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the batch pipelines.
// Every series carries a "pipeline" label: precip, amo, or fires.
type Metrics struct {
	FilesProcessed  *prometheus.CounterVec
	RowsRead        *prometheus.CounterVec
	RowsWritten     *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	PipelineRunning *prometheus.GaugeVec

	// Precipitation converter metrics.
	RastersWritten  prometheus.Counter
	NoDataCells     prometheus.Counter
	DecodeFallbacks prometheus.Counter
	CacheLookups    *prometheus.CounterVec // labels: result={hit,miss}

	// Download metrics.
	DownloadDuration prometheus.Histogram
	DownloadBytes    prometheus.Counter
}

// NewMetrics creates all pipeline metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()

	reg.MustRegister(
		m.FilesProcessed,
		m.RowsRead,
		m.RowsWritten,
		m.RunDuration,
		m.PipelineRunning,
		m.RastersWritten,
		m.NoDataCells,
		m.DecodeFallbacks,
		m.CacheLookups,
		m.DownloadDuration,
		m.DownloadBytes,
	)

	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "files_processed_total",
			Help:      "Input files fully read by a pipeline.",
		}, []string{"pipeline"}),
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "rows_read_total",
			Help:      "Table rows or grid steps read from inputs.",
		}, []string{"pipeline"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "rows_written_total",
			Help:      "Rows written to tabular outputs.",
		}, []string{"pipeline"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "climprep",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"pipeline"}),
		PipelineRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "climprep",
			Name:      "pipeline_running",
			Help:      "1 while a pipeline is running, 0 otherwise.",
		}, []string{"pipeline"}),
		RastersWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "rasters_written_total",
			Help:      "GeoTIFF rasters written by the precipitation converter.",
		}),
		NoDataCells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "nodata_cells_total",
			Help:      "Raster cells written as the no-data sentinel.",
		}),
		DecodeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "netcdf_decode_fallbacks_total",
			Help:      "NetCDF files decoded only after stripping a malformed _FillValue.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "monthly_cache_total",
			Help:      "Monthly-total cache lookups by result.",
		}, []string{"result"}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climprep",
			Name:      "download_duration_seconds",
			Help:      "Duration of source downloads.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climprep",
			Name:      "download_bytes_total",
			Help:      "Bytes downloaded from source URLs.",
		}),
	}
}
