package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "storesearch"

type Config struct {
	HTTPAddr             string
	RequestTimeout       time.Duration
	LogLevel             string
	LogFormat            string
	LogFile              string
	UserAgent            string
	CatalogEndpoint      string
	CatalogLang          string
	CatalogRatePerMinute int
	Debounce             time.Duration
	SingleLimit          int
	FanOutLimit          int
	MaxConcurrent        int
	RateLimitRPS         float64
	RateLimitBurst       int
	OTLPEndpoint         string
	ConfigFile           string
}

var defaults = map[string]any{
	"http_addr":                   ":8090",
	"search_timeout_seconds":      15,
	"log_level":                   "info",
	"log_format":                  "text",
	"log_file":                    "",
	"search_user_agent":           "storesearch/1.0",
	"catalog_endpoint":            "https://itunes.apple.com/search",
	"catalog_lang":                "en_us",
	"catalog_rate_per_minute":     20,
	"search_debounce_ms":          300,
	"search_single_limit":         20,
	"search_fanout_limit":         50,
	"search_max_concurrent":       4,
	"http_rate_limit_rps":         50.0,
	"http_rate_limit_burst":       100,
	"otel_exporter_otlp_endpoint": "",
}

// LoadConfig reads config.yaml from the user config directory or the
// working directory, if present, and applies environment overrides.
func LoadConfig() (Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultConfigDir())
	v.AddConfigPath(".")
	return load(v)
}

// LoadConfigFile reads an explicit config file; it must exist.
func LoadConfigFile(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		HTTPAddr:             getString(v, "http_addr"),
		RequestTimeout:       time.Duration(getPositiveInt(v, "search_timeout_seconds")) * time.Second,
		LogLevel:             strings.ToLower(getString(v, "log_level")),
		LogFormat:            strings.ToLower(getString(v, "log_format")),
		LogFile:              getString(v, "log_file"),
		UserAgent:            getString(v, "search_user_agent"),
		CatalogEndpoint:      getString(v, "catalog_endpoint"),
		CatalogLang:          getString(v, "catalog_lang"),
		CatalogRatePerMinute: getPositiveInt(v, "catalog_rate_per_minute"),
		Debounce:             time.Duration(getNonNegativeInt(v, "search_debounce_ms")) * time.Millisecond,
		SingleLimit:          getPositiveInt(v, "search_single_limit"),
		FanOutLimit:          getPositiveInt(v, "search_fanout_limit"),
		MaxConcurrent:        getPositiveInt(v, "search_max_concurrent"),
		RateLimitRPS:         getPositiveFloat(v, "http_rate_limit_rps"),
		RateLimitBurst:       getPositiveInt(v, "http_rate_limit_burst"),
		OTLPEndpoint:         getString(v, "otel_exporter_otlp_endpoint"),
		ConfigFile:           v.ConfigFileUsed(),
	}
	if cfg.LogFile == "" {
		cfg.LogFile = defaultLogPath()
	}
	return cfg, nil
}

func getString(v *viper.Viper, key string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		fallback, _ := defaults[key].(string)
		return fallback
	}
	return value
}

func getPositiveInt(v *viper.Viper, key string) int {
	parsed := v.GetInt(key)
	if parsed <= 0 {
		fallback, _ := defaults[key].(int)
		return fallback
	}
	return parsed
}

// Zero is a valid debounce; only negative or malformed values fall back.
func getNonNegativeInt(v *viper.Viper, key string) int {
	raw := strings.TrimSpace(v.GetString(key))
	parsed := v.GetInt(key)
	if parsed < 0 || (parsed == 0 && raw != "0") {
		fallback, _ := defaults[key].(int)
		return fallback
	}
	return parsed
}

func getPositiveFloat(v *viper.Viper, key string) float64 {
	parsed := v.GetFloat64(key)
	if parsed <= 0 {
		fallback, _ := defaults[key].(float64)
		return fallback
	}
	return parsed
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName)
	}
	return "."
}

func defaultLogPath() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName, appName+".log")
	}
	return filepath.Join(os.TempDir(), appName+".log")
}
