package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LogLevel  slog.Level
	LogFormat string

	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsAddr     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	VehicleStaleAfter time.Duration
	PruneInterval     time.Duration

	FilterDepots          []string
	FilterInferredStates  []string
	FilterPulloutStatuses []string

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string

	APIBaseURL     string
	RowsPath       string
	StatisticsPath string
	FiltersPath    string
	DetailsPath    string
	StreamPath     string
	RequestTimeout time.Duration

	RefreshIntervalSeconds int
	AutoRefresh            bool
	PageSize               int

	LiveUpdates       bool
	LiveRetryInterval time.Duration
}

// fileConfig mirrors Config for TOML decoding. Unset keys keep the defaults.
type fileConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Server struct {
		HTTPAddr        string   `toml:"http_addr"`
		ReadTimeout     duration `toml:"read_timeout"`
		WriteTimeout    duration `toml:"write_timeout"`
		ShutdownTimeout duration `toml:"shutdown_timeout"`
		MetricsAddr     string   `toml:"metrics_addr"`

		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       *int   `toml:"redis_db"`
		RedisChannel  string `toml:"redis_channel"`

		VehicleStaleAfter duration `toml:"vehicle_stale_after"`
		PruneInterval     duration `toml:"prune_interval"`

		FilterDepots          []string `toml:"filter_depots"`
		FilterInferredStates  []string `toml:"filter_inferred_states"`
		FilterPulloutStatuses []string `toml:"filter_pullout_statuses"`

		RateLimitPerWindow *int     `toml:"rate_limit_per_window"`
		RateLimitWindow    duration `toml:"rate_limit_window"`
		RateLimitWhitelist []string `toml:"rate_limit_whitelist"`
	} `toml:"server"`

	Console struct {
		APIBaseURL     string   `toml:"api_base_url"`
		RowsPath       string   `toml:"rows_path"`
		StatisticsPath string   `toml:"statistics_path"`
		FiltersPath    string   `toml:"filters_path"`
		DetailsPath    string   `toml:"details_path"`
		StreamPath     string   `toml:"stream_path"`
		RequestTimeout duration `toml:"request_timeout"`

		RefreshIntervalSeconds *int  `toml:"refresh_interval_seconds"`
		AutoRefresh            *bool `toml:"auto_refresh"`
		PageSize               *int  `toml:"page_size"`

		LiveUpdates       *bool    `toml:"live_updates"`
		LiveRetryInterval duration `toml:"live_retry_interval"`
	} `toml:"console"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Defaults() *Config {
	return &Config{
		LogLevel:  slog.LevelInfo,
		LogFormat: "json",

		HTTPAddr:        ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MetricsAddr:     "",

		RedisAddr:    "localhost:6379",
		RedisDB:      0,
		RedisChannel: "inferred_locations",

		VehicleStaleAfter: 15 * time.Minute,
		PruneInterval:     time.Minute,

		FilterPulloutStatuses: []string{
			"NOT_PULLED_OUT",
			"PULLED_OUT",
			"PULLED_IN",
		},

		RateLimitPerWindow: 120,
		RateLimitWindow:    time.Minute,

		APIBaseURL:     "http://localhost:8080",
		RowsPath:       "/api/vehicle-status/rows",
		StatisticsPath: "/api/vehicle-status/statistics",
		FiltersPath:    "/filters/vehicle-filters.xml",
		DetailsPath:    "/api/vehicle-status/vehicles",
		StreamPath:     "/api/vehicle-status/stream",
		RequestTimeout: 30 * time.Second,

		RefreshIntervalSeconds: 30,
		AutoRefresh:            false,
		PageSize:               20,

		LiveUpdates:       true,
		LiveRetryInterval: 5 * time.Second,
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}

	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel, c.LogLevel)
	}
	setString(&c.LogFormat, fc.LogFormat)

	s := fc.Server
	setString(&c.HTTPAddr, s.HTTPAddr)
	setDuration(&c.ReadTimeout, s.ReadTimeout)
	setDuration(&c.WriteTimeout, s.WriteTimeout)
	setDuration(&c.ShutdownTimeout, s.ShutdownTimeout)
	setString(&c.MetricsAddr, s.MetricsAddr)
	setString(&c.RedisAddr, s.RedisAddr)
	setString(&c.RedisPassword, s.RedisPassword)
	if s.RedisDB != nil {
		c.RedisDB = *s.RedisDB
	}
	setString(&c.RedisChannel, s.RedisChannel)
	setDuration(&c.VehicleStaleAfter, s.VehicleStaleAfter)
	setDuration(&c.PruneInterval, s.PruneInterval)
	if len(s.FilterDepots) > 0 {
		c.FilterDepots = s.FilterDepots
	}
	if len(s.FilterInferredStates) > 0 {
		c.FilterInferredStates = s.FilterInferredStates
	}
	if len(s.FilterPulloutStatuses) > 0 {
		c.FilterPulloutStatuses = s.FilterPulloutStatuses
	}
	if s.RateLimitPerWindow != nil {
		c.RateLimitPerWindow = *s.RateLimitPerWindow
	}
	setDuration(&c.RateLimitWindow, s.RateLimitWindow)
	if len(s.RateLimitWhitelist) > 0 {
		c.RateLimitWhitelist = s.RateLimitWhitelist
	}

	cs := fc.Console
	setString(&c.APIBaseURL, cs.APIBaseURL)
	setString(&c.RowsPath, cs.RowsPath)
	setString(&c.StatisticsPath, cs.StatisticsPath)
	setString(&c.FiltersPath, cs.FiltersPath)
	setString(&c.DetailsPath, cs.DetailsPath)
	setString(&c.StreamPath, cs.StreamPath)
	setDuration(&c.RequestTimeout, cs.RequestTimeout)
	if cs.RefreshIntervalSeconds != nil {
		c.RefreshIntervalSeconds = *cs.RefreshIntervalSeconds
	}
	if cs.AutoRefresh != nil {
		c.AutoRefresh = *cs.AutoRefresh
	}
	if cs.PageSize != nil {
		c.PageSize = *cs.PageSize
	}
	if cs.LiveUpdates != nil {
		c.LiveUpdates = *cs.LiveUpdates
	}
	setDuration(&c.LiveRetryInterval, cs.LiveRetryInterval)

	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getLogLevelEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.ReadTimeout = getDurationEnv("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getDurationEnv("WRITE_TIMEOUT", c.WriteTimeout)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntEnv("REDIS_DB", c.RedisDB)
	c.RedisChannel = getEnv("REDIS_CHANNEL", c.RedisChannel)

	c.VehicleStaleAfter = getDurationEnv("VEHICLE_STALE_AFTER", c.VehicleStaleAfter)
	c.PruneInterval = getDurationEnv("PRUNE_INTERVAL", c.PruneInterval)

	c.FilterDepots = getCSVEnv("FILTER_DEPOTS", c.FilterDepots)
	c.FilterInferredStates = getCSVEnv("FILTER_INFERRED_STATES", c.FilterInferredStates)
	c.FilterPulloutStatuses = getCSVEnv("FILTER_PULLOUT_STATUSES", c.FilterPulloutStatuses)

	c.RateLimitPerWindow = getIntEnv("RATE_LIMIT_PER_WINDOW", c.RateLimitPerWindow)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	c.RateLimitWhitelist = getCSVEnv("RATE_LIMIT_WHITELIST", c.RateLimitWhitelist)

	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.RowsPath = getEnv("ROWS_PATH", c.RowsPath)
	c.StatisticsPath = getEnv("STATISTICS_PATH", c.StatisticsPath)
	c.FiltersPath = getEnv("FILTERS_PATH", c.FiltersPath)
	c.DetailsPath = getEnv("DETAILS_PATH", c.DetailsPath)
	c.StreamPath = getEnv("STREAM_PATH", c.StreamPath)
	c.RequestTimeout = getDurationEnv("REQUEST_TIMEOUT", c.RequestTimeout)

	c.RefreshIntervalSeconds = getIntEnv("REFRESH_INTERVAL_SECONDS", c.RefreshIntervalSeconds)
	c.AutoRefresh = getBoolEnv("AUTO_REFRESH", c.AutoRefresh)
	c.PageSize = getIntEnv("PAGE_SIZE", c.PageSize)
	c.LiveUpdates = getBoolEnv("LIVE_UPDATES", c.LiveUpdates)
	c.LiveRetryInterval = getDurationEnv("LIVE_RETRY_INTERVAL", c.LiveRetryInterval)
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR cannot be empty"))
	}
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL cannot be empty"))
	}
	if c.RefreshIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL_SECONDS must be positive, got %d", c.RefreshIntervalSeconds))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize))
	}
	if c.LiveRetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("LIVE_RETRY_INTERVAL must be positive, got %s", c.LiveRetryInterval))
	}
	if c.RateLimitPerWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_WINDOW must be positive, got %d", c.RateLimitPerWindow))
	}
	if c.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRUNE_INTERVAL must be positive, got %s", c.PruneInterval))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return parseLogLevel(v, defaultVal)
}

func parseLogLevel(v string, defaultVal slog.Level) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
