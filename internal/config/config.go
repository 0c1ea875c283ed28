package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Browser   BrowserConfig   `yaml:"browser"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Geo       GeoConfig       `yaml:"geo"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Index     IndexConfig     `yaml:"index"`
	Archive   ArchiveConfig   `yaml:"archive"`
	UserAgent string          `yaml:"user_agent"`
}

// SearchConfig describes the listing search and its collection limits
type SearchConfig struct {
	URL               string `yaml:"url"`
	MaxPages          int    `yaml:"max_pages"`
	TimeFilterMinutes int    `yaml:"time_filter_minutes"`
	MaxDistanceKm     float64 `yaml:"max_distance_km"`
	ReferenceAddress  string `yaml:"reference_address"`
	PageDelaySeconds  int    `yaml:"page_delay_seconds"`
	PageJitterSeconds int    `yaml:"page_jitter_seconds"`
}

// BrowserConfig contains headless browser settings
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ExecPath       string `yaml:"exec_path"`
}

// FetcherConfig contains detail fetch pool settings
type FetcherConfig struct {
	MaxWorkers         int  `yaml:"max_workers"`
	MaxRetries         int  `yaml:"max_retries"`
	RetryDelaySeconds  int  `yaml:"retry_delay_seconds"`
	EstimationBackfill bool `yaml:"estimation_backfill"`
}

// GeoConfig contains geocoding and routing settings
type GeoConfig struct {
	NominatimURL      string `yaml:"nominatim_url"`
	OSRMURL           string `yaml:"osrm_url"`
	MaxRetries        int    `yaml:"max_retries"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// StorageConfig contains flat-file persistence settings
type StorageConfig struct {
	CSVPath    string `yaml:"csv_path"`
	JSONMirror bool   `yaml:"json_mirror"`
}

// SchedulerConfig contains periodic run settings
type SchedulerConfig struct {
	Enabled  bool     `yaml:"enabled"`
	RunTimes []string `yaml:"run_times"`
	Timezone string   `yaml:"timezone"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// IndexConfig contains Meilisearch settings for the optional search index
type IndexConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	APIKey  string `yaml:"api_key"`
	Index   string `yaml:"index"`
}

// ArchiveConfig contains the optional PostgreSQL run-archive settings
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			URL:               "https://www.cian.ru/cat.php?deal_type=rent&engine_version=2&offer_type=flat&region=1&type=4",
			MaxPages:          0,
			TimeFilterMinutes: 0,
			MaxDistanceKm:     0,
			ReferenceAddress:  "Москва, переулок Большой Саввинский, 3",
			PageDelaySeconds:  3,
			PageJitterSeconds: 2,
		},
		Browser: BrowserConfig{
			Headless:       true,
			TimeoutSeconds: 30,
		},
		Fetcher: FetcherConfig{
			MaxWorkers:         4,
			MaxRetries:         3,
			RetryDelaySeconds:  2,
			EstimationBackfill: false,
		},
		Geo: GeoConfig{
			NominatimURL:      "https://nominatim.openstreetmap.org/search",
			OSRMURL:           "https://routing.openstreetmap.de/routed-foot",
			MaxRetries:        5,
			RetryDelaySeconds: 2,
			TimeoutSeconds:    15,
		},
		Storage: StorageConfig{
			CSVPath:    "data/cian_apartments.csv",
			JSONMirror: true,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			RunTimes: []string{"09:00", "21:00"},
			Timezone: "Europe/Moscow",
		},
		API: APIConfig{
			Enabled: false,
			Port:    8080,
		},
		Index: IndexConfig{
			Enabled: false,
			Host:    "http://localhost:7700",
			Index:   "listings",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// GetPageDelay returns the between-page delay as a duration
func (c *SearchConfig) GetPageDelay() time.Duration {
	return time.Duration(c.PageDelaySeconds) * time.Second
}

// GetPageJitter returns the maximum random jitter added to the page delay
func (c *SearchConfig) GetPageJitter() time.Duration {
	return time.Duration(c.PageJitterSeconds) * time.Second
}

// GetTimeout returns the browser page timeout as a duration
func (c *BrowserConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRetryDelay returns the detail fetch retry base delay as a duration
func (c *FetcherConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetRetryDelay returns the geocoding retry base delay as a duration
func (c *GeoConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetTimeout returns the geocoding HTTP timeout as a duration
func (c *GeoConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DSN builds the PostgreSQL connection string for the run archive
func (c *ArchiveConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}
