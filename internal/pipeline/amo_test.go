package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/noaa"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/table"
	"github.com/couchcryptid/climate-prep-etl/internal/config"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
	"github.com/couchcryptid/climate-prep-etl/internal/pipeline"
)

const amoTable = ` 1950         1952
 1950  -0.050   0.010  -0.030  -0.120  -0.090   0.020   0.110   0.150   0.080   0.070   0.020  -0.010
 1951   0.100   0.140   0.090   0.050   0.120   0.160   0.210   0.250   0.230   0.200   0.150   0.120
 1952   0.090   0.080   0.110   0.130   0.170   0.220   0.260   0.300 -99.99  -99.99  -99.99  -99.99
  -99.99
  AMO unsmoothed from the Kaplan SST V2
  Calculated at NOAA PSL1
  http://www.psl.noaa.gov/data/timeseries/AMO/
`

func amoConfig(t *testing.T) config.AMOConfig {
	t.Helper()
	dir := t.TempDir()
	return config.AMOConfig{
		RawFile: filepath.Join(dir, "raw", "amon.us.data"),
		CSVFile: filepath.Join(dir, "amo.csv"),
		Timeout: 5 * time.Second,
	}
}

func readAMOCSV(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestAMO_Run_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(amoTable))
	}))
	defer srv.Close()

	cfg := amoConfig(t)
	cfg.URL = srv.URL
	cfg.Download = true
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()
	p := pipeline.NewAMO(cfg, noaa.NewClient(cfg.Timeout, metrics, logger), logger, metrics)

	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.CheckReadiness(context.Background()))

	out := readAMOCSV(t, cfg.CSVFile)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 1+12*3)
	assert.NotContains(t, out, "-99.99")
	assert.Contains(t, out, "1952,9,\n")

	f, err := os.Open(cfg.CSVFile)
	require.NoError(t, err)
	defer f.Close()
	records, err := table.ReadAMOCSV(f)
	require.NoError(t, err)
	nulls := 0
	for _, r := range records {
		if r.Value == nil {
			nulls++
		}
	}
	assert.Equal(t, 4, nulls)
	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.RowsRead.WithLabelValues("amo")), 0)
	assert.InDelta(t, 36.0, testutil.ToFloat64(metrics.RowsWritten.WithLabelValues("amo")), 0)
}

func TestAMO_Run_LocalFile(t *testing.T) {
	cfg := amoConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.RawFile), 0o755))
	require.NoError(t, os.WriteFile(cfg.RawFile, []byte(amoTable), 0o600))

	p := pipeline.NewAMO(cfg, nil, discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, p.Run(context.Background()))
	assert.True(t, strings.HasPrefix(readAMOCSV(t, cfg.CSVFile), "year,month,amo_value\n1950,1,-0.05\n"))
}

func TestAMO_Run_DownloadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := amoConfig(t)
	cfg.URL = srv.URL
	cfg.Download = true
	metrics := observability.NewMetricsForTesting()
	p := pipeline.NewAMO(cfg, noaa.NewClient(cfg.Timeout, metrics, discardLogger()), discardLogger(), metrics)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	require.Error(t, p.CheckReadiness(context.Background()))
	assert.NoFileExists(t, cfg.CSVFile)
}

func TestAMO_Run_MalformedTable(t *testing.T) {
	cfg := amoConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.RawFile), 0o755))
	bad := strings.Replace(amoTable, "0.140", "n/a", 1)
	require.NoError(t, os.WriteFile(cfg.RawFile, []byte(bad), 0o600))

	p := pipeline.NewAMO(cfg, nil, discardLogger(), observability.NewMetricsForTesting())
	err := p.Run(context.Background())
	require.ErrorIs(t, err, table.ErrBadRow)
	assert.NoFileExists(t, cfg.CSVFile)
}
