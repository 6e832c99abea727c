package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/climate-prep-etl/internal/adapter/geotiff"
	kafkaadapter "github.com/couchcryptid/climate-prep-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/noaa"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/climate-prep-etl/internal/adapter/table"
	"github.com/couchcryptid/climate-prep-etl/internal/config"
	"github.com/couchcryptid/climate-prep-etl/internal/pipeline"
)

func (a *app) precipCmd() *cobra.Command {
	p := &a.cfg.Precip
	cmd := &cobra.Command{
		Use:   "precip",
		Short: "Convert NCEP 6-hourly precipitation rates to GeoTIFF totals",
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&p.RawDir, "raw-dir", p.RawDir, "directory of yearly NetCDF files")
	flags.StringVar(&p.OutDir, "out-dir", p.OutDir, "directory for output rasters")
	flags.StringVar(&p.FilePattern, "file-pattern", p.FilePattern, "yearly file name, %d is replaced by the year")
	flags.StringVar(&p.Variable, "variable", p.Variable, "NetCDF variable holding the precipitation rate")
	flags.IntVar(&p.FirstYear, "first-year", p.FirstYear, "first year to convert")
	flags.IntVar(&p.LastYear, "last-year", p.LastYear, "last year to convert")
	flags.BoolVar(&p.Compress, "compress", p.Compress, "Deflate-compress raster strips")
	flags.IntVar(&p.RowsPerStrip, "rows-per-strip", p.RowsPerStrip, "raster strip height, 0 to size strips automatically")

	seasonal := &cobra.Command{
		Use:   "seasonal",
		Short: "Write precip-YYYY.tif holding December of the previous year through April",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pl, err := a.precipPipeline()
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), "precip_seasonal", pl, func(ctx context.Context) error {
				return pl.RunSeasonal(ctx, a.cfg.Precip.Years())
			})
		},
	}

	monthly := &cobra.Command{
		Use:   "monthly",
		Short: "Write precip-YYYY-MM.tif for every month present",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pl, err := a.precipPipeline()
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), "precip_monthly", pl, func(ctx context.Context) error {
				return pl.RunMonthly(ctx, a.cfg.Precip.Years())
			})
		},
	}
	monthly.Flags().BoolVar(&p.Cube, "cube", p.Cube, "also write each year's monthly totals as one NetCDF file")

	cmd.AddCommand(seasonal, monthly)
	return cmd
}

func (a *app) precipPipeline() (*pipeline.PrecipPipeline, error) {
	p := a.cfg.Precip
	source := netcdf.NewYearFiles(p.File, p.Variable, a.logger, a.metrics)

	var opts []geotiff.WriteOption
	if p.Compress {
		opts = append(opts, geotiff.WithDeflate())
	}
	if p.RowsPerStrip > 0 {
		opts = append(opts, geotiff.WithRowsPerStrip(p.RowsPerStrip))
	}
	rasters, err := geotiff.NewDir(p.OutDir, opts...)
	if err != nil {
		return nil, err
	}

	var cubes pipeline.CubeWriter
	if p.Cube {
		dir, err := netcdf.NewCubeDir(p.OutDir, p.Variable)
		if err != nil {
			return nil, err
		}
		cubes = dir
	}
	return pipeline.NewPrecip(source, rasters, cubes, a.logger, a.metrics)
}

func (a *app) amoCmd() *cobra.Command {
	c := &a.cfg.AMO
	cmd := &cobra.Command{
		Use:   "amo",
		Short: "Download the AMO index and reshape it to year,month,amo_value CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := noaa.NewClient(c.Timeout, a.metrics, a.logger)
			pl := pipeline.NewAMO(*c, client, a.logger, a.metrics)
			return a.run(cmd.Context(), "amo", pl, pl.Run)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&c.URL, "url", c.URL, "source URL of the whitespace-delimited AMO table")
	flags.StringVar(&c.RawFile, "raw-file", c.RawFile, "where the downloaded table is stored")
	flags.StringVar(&c.CSVFile, "csv-file", c.CSVFile, "output CSV")
	flags.BoolVar(&c.Download, "download", c.Download, "fetch the table before parsing; false reuses raw-file")
	flags.DurationVar(&c.Timeout, "timeout", c.Timeout, "download timeout")
	return cmd
}

func (a *app) firesCmd() *cobra.Command {
	f := &a.cfg.Fires
	cmd := &cobra.Command{
		Use:   "fires",
		Short: "Filter MCD14ML detection files and merge them into one CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ready := &pendingReadiness{job: "fires"}
			return a.run(cmd.Context(), "fires", ready, func(ctx context.Context) error {
				// Outputs are opened once the server is bound, so a failed
				// bind leaves the previous run's results in place.
				loaders, err := a.detectionLoaders(ctx)
				if err != nil {
					return err
				}
				pl := pipeline.NewFires(f.DataDir, fireOutputs(*f), f.Filter(), a.cfg.BatchSize, loaders, a.logger, a.metrics)
				ready.attach(pl)
				return pl.Run(ctx)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.DataDir, "data-dir", f.DataDir, "directory of MCD14ML detection files")
	flags.StringVar(&f.CSVFile, "csv-file", f.CSVFile, "merged output CSV")
	flags.Float64Var(&f.LatMin, "lat-min", f.LatMin, "southern edge of the bounding box")
	flags.Float64Var(&f.LatMax, "lat-max", f.LatMax, "northern edge of the bounding box")
	flags.Float64Var(&f.LonMin, "lon-min", f.LonMin, "western edge of the bounding box")
	flags.Float64Var(&f.LonMax, "lon-max", f.LonMax, "eastern edge of the bounding box")
	flags.IntVar(&f.Type, "type", f.Type, "detection type to keep (0 = presumed vegetation fire)")
	flags.Float64Var(&f.MinConfidence, "min-conf", f.MinConfidence, "minimum detection confidence")
	flags.StringVar(&f.SQLitePath, "sqlite", f.SQLitePath, "also load retained detections into this SQLite database")
	flags.StringVar(&f.KafkaTopic, "kafka-topic", f.KafkaTopic, "also publish retained detections to this Kafka topic")
	return cmd
}

// fireOutputs lists every file the fires loaders may write, including
// SQLite's side files.
func fireOutputs(f config.FiresConfig) []string {
	outputs := []string{f.CSVFile}
	if f.SQLitePath != "" {
		outputs = append(outputs, f.SQLitePath, f.SQLitePath+"-journal", f.SQLitePath+"-wal", f.SQLitePath+"-shm")
	}
	return outputs
}

// detectionLoaders opens the CSV output and any optional sinks.
func (a *app) detectionLoaders(ctx context.Context) ([]pipeline.DetectionLoader, error) {
	f := a.cfg.Fires
	csvOut, err := table.NewDetectionCSV(f.CSVFile)
	if err != nil {
		return nil, err
	}
	loaders := []pipeline.DetectionLoader{csvOut}

	if f.SQLitePath != "" {
		store, err := sqlite.Open(ctx, f.SQLitePath)
		if err != nil {
			csvOut.Abort()
			return nil, err
		}
		if err := store.Reset(ctx); err != nil {
			_ = store.Close()
			csvOut.Abort()
			return nil, err
		}
		loaders = append(loaders, store)
		a.logger.Info("sqlite sink enabled", "path", f.SQLitePath)
	}
	if f.KafkaTopic != "" {
		loaders = append(loaders, kafkaadapter.NewWriter(a.cfg, a.logger))
		a.logger.Info("kafka sink enabled", "topic", f.KafkaTopic, "brokers", a.cfg.KafkaBrokers)
	}
	return loaders, nil
}
