package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// DefaultAMOURL is the NOAA PSL location of the unsmoothed AMO index.
const DefaultAMOURL = "https://psl.noaa.gov/data/correlation/amon.us.data"

// Config holds all pipeline settings. Values come from built-in defaults,
// then an optional YAML job file named by CLIMPREP_CONFIG, then environment
// variables (a .env file in the working directory is loaded first).
type Config struct {
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	HTTPAddr        string        `yaml:"http_addr"`
	PushgatewayURL  string        `yaml:"pushgateway_url"`
	ShutdownTimeout time.Duration `yaml:"-"`
	BatchSize       int           `yaml:"-"`
	KafkaBrokers    []string      `yaml:"kafka_brokers"`

	Precip PrecipConfig `yaml:"precip"`
	AMO    AMOConfig    `yaml:"amo"`
	Fires  FiresConfig  `yaml:"fires"`
}

// PrecipConfig configures the NetCDF to GeoTIFF converter.
type PrecipConfig struct {
	RawDir      string `yaml:"raw_dir"`
	OutDir      string `yaml:"out_dir"`
	FilePattern string `yaml:"file_pattern"` // yearly file name, %d is the year
	Variable    string `yaml:"variable"`
	FirstYear   int    `yaml:"first_year"`
	LastYear    int    `yaml:"last_year"`
	Compress    bool   `yaml:"compress"`
	Cube        bool   `yaml:"cube"`

	// RowsPerStrip sets the GeoTIFF strip height; 0 picks one automatically.
	RowsPerStrip int `yaml:"rows_per_strip"`
}

// AMOConfig configures the oscillation-index preprocessor.
type AMOConfig struct {
	URL      string        `yaml:"url"`
	RawFile  string        `yaml:"raw_file"`
	CSVFile  string        `yaml:"csv_file"`
	Download bool          `yaml:"download"`
	Timeout  time.Duration `yaml:"timeout"`
}

// FiresConfig configures the fire-detection filter and merge.
type FiresConfig struct {
	DataDir       string  `yaml:"data_dir"`
	CSVFile       string  `yaml:"csv_file"`
	LatMin        float64 `yaml:"lat_min"`
	LatMax        float64 `yaml:"lat_max"`
	LonMin        float64 `yaml:"lon_min"`
	LonMax        float64 `yaml:"lon_max"`
	Type          int     `yaml:"type"`
	MinConfidence float64 `yaml:"min_confidence"`
	SQLitePath    string  `yaml:"sqlite_path"`
	KafkaTopic    string  `yaml:"kafka_topic"`
}

// Filter returns the detection filter described by c.
func (c FiresConfig) Filter() domain.FireFilter {
	return domain.FireFilter{
		Box: domain.BoundingBox{
			LatMin: c.LatMin,
			LatMax: c.LatMax,
			LonMin: c.LonMin,
			LonMax: c.LonMax,
		},
		Type:          c.Type,
		MinConfidence: c.MinConfidence,
	}
}

// File returns the path of the yearly input file for year.
func (c PrecipConfig) File(year int) string {
	return filepath.Join(c.RawDir, fmt.Sprintf(c.FilePattern, year))
}

// Years returns the inclusive range of years to convert.
func (c PrecipConfig) Years() []int {
	years := make([]int, 0, c.LastYear-c.FirstYear+1)
	for y := c.FirstYear; y <= c.LastYear; y++ {
		years = append(years, y)
	}
	return years
}

func defaults() *Config {
	box := domain.DefaultFireFilter.Box
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Precip: PrecipConfig{
			RawDir:      "data/ncep_reanalysis/netcdf",
			OutDir:      "data/precip_rasters",
			FilePattern: "prate.sfc.gauss.%d.nc",
			Variable:    "prate",
			FirstYear:   2001,
			LastYear:    2016,
		},
		AMO: AMOConfig{
			URL:      DefaultAMOURL,
			RawFile:  "climate_data/amon.us.data",
			CSVFile:  "climate_data/amo.csv",
			Download: true,
			Timeout:  30 * time.Second,
		},
		Fires: FiresConfig{
			DataDir:       "data/MCD14ML",
			CSVFile:       "data/MCD14ML/cleaned_data.csv",
			LatMin:        box.LatMin,
			LatMax:        box.LatMax,
			LonMin:        box.LonMin,
			LonMax:        box.LonMax,
			Type:          domain.DefaultFireFilter.Type,
			MinConfidence: domain.DefaultFireFilter.MinConfidence,
		},
	}
}

// Load reads configuration from the YAML job file and environment variables,
// applying defaults where unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CLIMPREP_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = shutdownTimeout

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	cfg.BatchSize = batchSize

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CLIMPREP_CONFIG: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse CLIMPREP_CONFIG %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.LogLevel = sharedcfg.EnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = sharedcfg.EnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.HTTPAddr = sharedcfg.EnvOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PushgatewayURL = sharedcfg.EnvOrDefault("PUSHGATEWAY_URL", cfg.PushgatewayURL)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(v)
	} else if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers("localhost:9092")
	}

	p := &cfg.Precip
	p.RawDir = sharedcfg.EnvOrDefault("PRECIP_RAW_DIR", p.RawDir)
	p.OutDir = sharedcfg.EnvOrDefault("PRECIP_OUT_DIR", p.OutDir)
	p.FilePattern = sharedcfg.EnvOrDefault("PRECIP_FILE_PATTERN", p.FilePattern)
	p.Variable = sharedcfg.EnvOrDefault("PRECIP_VARIABLE", p.Variable)

	a := &cfg.AMO
	a.URL = sharedcfg.EnvOrDefault("AMO_URL", a.URL)
	a.RawFile = sharedcfg.EnvOrDefault("AMO_RAW_FILE", a.RawFile)
	a.CSVFile = sharedcfg.EnvOrDefault("AMO_CSV_FILE", a.CSVFile)

	f := &cfg.Fires
	f.DataDir = sharedcfg.EnvOrDefault("FIRES_DATA_DIR", f.DataDir)
	f.CSVFile = sharedcfg.EnvOrDefault("FIRES_CSV_FILE", f.CSVFile)
	f.SQLitePath = sharedcfg.EnvOrDefault("FIRES_SQLITE_PATH", f.SQLitePath)
	f.KafkaTopic = sharedcfg.EnvOrDefault("FIRES_KAFKA_TOPIC", f.KafkaTopic)

	return errors.Join(
		envInt("PRECIP_FIRST_YEAR", &p.FirstYear),
		envInt("PRECIP_LAST_YEAR", &p.LastYear),
		envBool("PRECIP_COMPRESS", &p.Compress),
		envInt("PRECIP_ROWS_PER_STRIP", &p.RowsPerStrip),
		envBool("PRECIP_CUBE", &p.Cube),
		envBool("AMO_DOWNLOAD", &a.Download),
		envDuration("AMO_TIMEOUT", &a.Timeout),
		envFloat("FIRES_LAT_MIN", &f.LatMin),
		envFloat("FIRES_LAT_MAX", &f.LatMax),
		envFloat("FIRES_LON_MIN", &f.LonMin),
		envFloat("FIRES_LON_MAX", &f.LonMax),
		envInt("FIRES_TYPE", &f.Type),
		envFloat("FIRES_MIN_CONF", &f.MinConfidence),
	)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Precip.Variable == "":
		return errors.New("PRECIP_VARIABLE is required")
	case strings.Count(c.Precip.FilePattern, "%d") != 1:
		return fmt.Errorf("PRECIP_FILE_PATTERN %q must contain %%d exactly once", c.Precip.FilePattern)
	case c.Precip.FirstYear > c.Precip.LastYear:
		return fmt.Errorf("PRECIP_FIRST_YEAR %d is after PRECIP_LAST_YEAR %d", c.Precip.FirstYear, c.Precip.LastYear)
	case c.Precip.RowsPerStrip < 0:
		return fmt.Errorf("PRECIP_ROWS_PER_STRIP %d must not be negative", c.Precip.RowsPerStrip)
	case c.AMO.Download && c.AMO.URL == "":
		return errors.New("AMO_URL is required when AMO_DOWNLOAD is true")
	case c.AMO.Timeout <= 0:
		return errors.New("invalid AMO_TIMEOUT")
	case c.Fires.LatMin > c.Fires.LatMax:
		return errors.New("FIRES_LAT_MIN must not exceed FIRES_LAT_MAX")
	case c.Fires.LonMin > c.Fires.LonMax:
		return errors.New("FIRES_LON_MIN must not exceed FIRES_LON_MAX")
	case c.Fires.KafkaTopic != "" && len(c.KafkaBrokers) == 0:
		return errors.New("FIRES_KAFKA_TOPIC is set but KAFKA_BROKERS is empty")
	}
	return nil
}

func envInt(key string, dst *int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = v
	return nil
}

func envBool(key string, dst *bool) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = v
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}
