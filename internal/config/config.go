// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Sampling SamplingConfig `mapstructure:"sampling"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// HarvestConfig holds the run-level harvest settings.
type HarvestConfig struct {
	SavePath   string   `mapstructure:"save_path"`
	Dates      []string `mapstructure:"dates"` // YYYY-MM-DD reference dates
	WindowDays int      `mapstructure:"window_days"`
	Bands      []string `mapstructure:"bands"`
	Crops      []int    `mapstructure:"crops"` // per-band target sizes, 0 keeps native
	DType      string   `mapstructure:"dtype"` // uint8, uint16, float32
	Workers    int      `mapstructure:"workers"`
	LogFreq    int      `mapstructure:"log_freq"`
	StartIndex int      `mapstructure:"start_index"`
	EndIndex   int      `mapstructure:"end_index"`
	Resume     string   `mapstructure:"resume"` // checkpoint CSV to continue from
	MatchFile  string   `mapstructure:"match_file"`
	Follow     bool     `mapstructure:"follow"` // tail the match file while running
	MaxRetries int      `mapstructure:"max_retries"`
	Debug      bool     `mapstructure:"debug"`
}

// SamplingConfig holds coordinate sampling settings.
type SamplingConfig struct {
	Mode         string  `mapstructure:"mode"` // uniform, gaussian, bounded
	Seed         int64   `mapstructure:"seed"`
	NumCities    int     `mapstructure:"num_cities"`
	StdKm        float64 `mapstructure:"std_km"`
	RadiusMeters float64 `mapstructure:"radius_meters"`
	OverlapIndex string  `mapstructure:"overlap_index"` // grid, rtree
	CitiesURL    string  `mapstructure:"cities_url"`
	CitiesCache  string  `mapstructure:"cities_cache"`
	AnchorFile   string  `mapstructure:"anchor_file"`   // GeoJSON points replacing the city anchors
	BoundaryFile string  `mapstructure:"boundary_file"` // GeoJSON polygon to sample within
}

// CatalogConfig holds imagery catalog client settings.
type CatalogConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	CloudField string        `mapstructure:"cloud_field"`
	CloudPct   float64       `mapstructure:"cloud_pct"`
	Timeout    time.Duration `mapstructure:"timeout"`
	QABand     string        `mapstructure:"qa_band"`
	QACloudBit int           `mapstructure:"qa_cloud_bit"`
	MaskClouds bool          `mapstructure:"mask_clouds"`
}

// StorageConfig holds patch store configuration.
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // local, s3, azure
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// ManifestConfig holds the optional SQLite patch manifest.
type ManifestConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Harvest defaults mirror a seasonal Sentinel-2 surface-reflectance
	// pull: four solstice/equinox reference dates, all 13 bands, 264 px
	// patches at 10 m with the coarser bands cropped proportionally.
	viper.SetDefault("harvest.save_path", "./data")
	viper.SetDefault("harvest.dates", []string{"2021-12-21", "2021-09-22", "2021-06-21", "2021-03-20"})
	viper.SetDefault("harvest.window_days", 60)
	viper.SetDefault("harvest.bands", []string{
		"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B8A", "B9", "B10", "B11", "B12",
	})
	viper.SetDefault("harvest.crops", []int{
		44, 264, 264, 264, 132, 132, 132, 264, 132, 44, 44, 132, 132,
	})
	viper.SetDefault("harvest.dtype", "uint16")
	viper.SetDefault("harvest.workers", 8)
	viper.SetDefault("harvest.log_freq", 100)
	viper.SetDefault("harvest.start_index", 0)
	viper.SetDefault("harvest.end_index", 250000)
	viper.SetDefault("harvest.max_retries", 0)
	viper.SetDefault("harvest.debug", false)

	// Sampling defaults
	viper.SetDefault("sampling.mode", "gaussian")
	viper.SetDefault("sampling.seed", 42)
	viper.SetDefault("sampling.num_cities", 10000)
	viper.SetDefault("sampling.std_km", 50)
	viper.SetDefault("sampling.radius_meters", 1320)
	viper.SetDefault("sampling.overlap_index", "grid")
	viper.SetDefault("sampling.cities_url", "https://simplemaps.com/static/data/world-cities/basic/simplemaps_worldcities_basicv1.71.zip")
	viper.SetDefault("sampling.cities_cache", "./cities.csv")

	// Catalog defaults
	viper.SetDefault("catalog.collection", "COPERNICUS/S2")
	viper.SetDefault("catalog.cloud_field", "CLOUDY_PIXEL_PERCENTAGE")
	viper.SetDefault("catalog.cloud_pct", 20)
	viper.SetDefault("catalog.timeout", 2*time.Minute)
	viper.SetDefault("catalog.qa_band", "QA60")
	viper.SetDefault("catalog.qa_cloud_bit", 10)
	viper.SetDefault("catalog.mask_clouds", false)

	// Storage defaults
	viper.SetDefault("storage.type", "local")

	// Manifest defaults
	viper.SetDefault("manifest.enabled", false)
	viper.SetDefault("manifest.path", "./manifest.db")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.host", "0.0.0.0")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("TERRAPATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/terrapatch")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ReferenceDates parses the configured reference dates.
func (c *HarvestConfig) ReferenceDates() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(c.Dates))
	for _, d := range c.Dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("invalid reference date %q: %w", d, err)
		}
		dates = append(dates, t)
	}
	return dates, nil
}

// MatchMode reports whether coordinates come from a match file instead of
// the sampler.
func (c *HarvestConfig) MatchMode() bool {
	return c.MatchFile != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Harvest.SavePath == "" && c.Storage.Type == "local" {
		return fmt.Errorf("save path is required for local storage")
	}
	if c.Harvest.StartIndex < 0 || c.Harvest.EndIndex < c.Harvest.StartIndex {
		return fmt.Errorf("invalid index range [%d, %d)", c.Harvest.StartIndex, c.Harvest.EndIndex)
	}
	if len(c.Harvest.Bands) == 0 {
		return fmt.Errorf("at least one band is required")
	}
	if len(c.Harvest.Crops) != 0 && len(c.Harvest.Crops) != len(c.Harvest.Bands) {
		return fmt.Errorf("crops count %d does not match bands count %d", len(c.Harvest.Crops), len(c.Harvest.Bands))
	}
	if len(c.Harvest.Dates) == 0 {
		return fmt.Errorf("at least one reference date is required")
	}
	if _, err := c.Harvest.ReferenceDates(); err != nil {
		return err
	}
	if c.Harvest.WindowDays <= 0 {
		return fmt.Errorf("window days must be positive: %d", c.Harvest.WindowDays)
	}
	if c.Harvest.Workers < 0 {
		return fmt.Errorf("workers must not be negative: %d", c.Harvest.Workers)
	}
	if c.Harvest.Follow && !c.Harvest.MatchMode() {
		return fmt.Errorf("follow requires a match file")
	}

	switch c.Harvest.DType {
	case "uint8", "uint16", "float32":
	default:
		return fmt.Errorf("unknown dtype: %s", c.Harvest.DType)
	}

	switch c.Sampling.Mode {
	case "uniform":
	case "gaussian":
		if c.Sampling.NumCities <= 0 {
			return fmt.Errorf("gaussian sampling needs a positive city count")
		}
		if c.Sampling.StdKm <= 0 {
			return fmt.Errorf("gaussian sampling needs a positive std: %f", c.Sampling.StdKm)
		}
	case "bounded":
		if c.Sampling.BoundaryFile == "" {
			return fmt.Errorf("bounded sampling needs a boundary file")
		}
	default:
		return fmt.Errorf("unknown sampling mode: %s", c.Sampling.Mode)
	}
	if c.Sampling.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive: %f", c.Sampling.RadiusMeters)
	}
	switch c.Sampling.OverlapIndex {
	case "grid", "rtree":
	default:
		return fmt.Errorf("unknown overlap index: %s", c.Sampling.OverlapIndex)
	}

	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}
	if c.Catalog.CloudPct < 0 || c.Catalog.CloudPct > 100 {
		return fmt.Errorf("cloud percentage out of range: %f", c.Catalog.CloudPct)
	}

	switch c.Storage.Type {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}
	if c.Manifest.Enabled && c.Manifest.Path == "" {
		return fmt.Errorf("manifest path is required when the manifest is enabled")
	}

	return nil
}

// Address returns the metrics server address string.
func (c *MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
