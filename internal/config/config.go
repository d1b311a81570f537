package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CASTPLAN"

	defaultHTTPAddress     = "127.0.0.1:8080"
	defaultDatabasePath    = "castplan.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultPollInterval    = time.Minute
	defaultReconnectBase   = time.Second
	defaultReconnectCap    = time.Minute
	defaultMaxReconnects   = 5
	defaultRequestTimeout  = 15 * time.Second
	defaultTriggerInterval = time.Second
)

// AppConfig captures runtime configuration for the scheduling engine.
type AppConfig struct {
	HTTPAddress     string
	CalendarBaseURL string
	// NotifyEndpoint is the push channel URL. Empty runs the engine in
	// polling-only mode.
	NotifyEndpoint       string
	DatabasePath         string
	LogLevel             string
	LogFormat            string
	PollInterval         time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
	TriggerInterval      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("calendar.base_url", "")
	configViper.SetDefault("calendar.notify_endpoint", "")
	configViper.SetDefault("calendar.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("realtime.poll_interval", defaultPollInterval)
	configViper.SetDefault("realtime.reconnect_base", defaultReconnectBase)
	configViper.SetDefault("realtime.reconnect_cap", defaultReconnectCap)
	configViper.SetDefault("realtime.max_reconnect_attempts", defaultMaxReconnects)
	configViper.SetDefault("trigger.interval", defaultTriggerInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		CalendarBaseURL:      configViper.GetString("calendar.base_url"),
		NotifyEndpoint:       configViper.GetString("calendar.notify_endpoint"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		PollInterval:         configViper.GetDuration("realtime.poll_interval"),
		ReconnectBase:        configViper.GetDuration("realtime.reconnect_base"),
		ReconnectCap:         configViper.GetDuration("realtime.reconnect_cap"),
		MaxReconnectAttempts: configViper.GetInt("realtime.max_reconnect_attempts"),
		RequestTimeout:       configViper.GetDuration("calendar.request_timeout"),
		TriggerInterval:      configViper.GetDuration("trigger.interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.CalendarBaseURL) == "" {
		return fmt.Errorf("calendar.base_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("realtime.poll_interval must be positive")
	}
	if c.ReconnectBase <= 0 || c.ReconnectCap < c.ReconnectBase {
		return fmt.Errorf("realtime reconnect delays must satisfy 0 < base <= cap")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("realtime.max_reconnect_attempts must be positive")
	}
	return nil
}
