package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	PolicyScore      = "score"
	PolicyRoundRobin = "round-robin"
)

const (
	PriorityNormal   = "normal"
	PriorityCritical = "critical"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type ProxyConfig struct {
	Prefix       string        `mapstructure:"prefix"`
	Policy       string        `mapstructure:"policy"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`

	// ProbeInterval enables background snapshot probing. Zero disables it.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

type BackendConfig struct {
	URL      string `mapstructure:"url"`
	Priority string `mapstructure:"priority"`
}

// MetricsConfig tunes this instance's own collector.
type MetricsConfig struct {
	Priority           string        `mapstructure:"priority"`
	LatencyThreshold   time.Duration `mapstructure:"latency_threshold"`
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold"`
	LatencyWindow      int           `mapstructure:"latency_window"`
	ErrorWindow        int           `mapstructure:"error_window"`
	ConcurrencyWindow  int           `mapstructure:"concurrency_window"`
}

// BreakerConfig guards metrics fetches. A zero failure threshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Proxy    ProxyConfig     `mapstructure:"proxy"`
	Backends []BackendConfig `mapstructure:"backends"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Breaker  BreakerConfig   `mapstructure:"breaker"`
}

// Load reads .env, config.yaml from ./config or the working directory, and
// the environment, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFrom("./config", ".")
}

// LoadFrom is Load with explicit search directories.
func LoadFrom(dirs ...string) (*Config, error) {
	return load(dirs, (*Config).Validate)
}

// LoadInstance loads the configuration of an instrumented backend instance,
// which needs no backend list.
func LoadInstance() (*Config, error) {
	return LoadInstanceFrom("./config", ".")
}

func LoadInstanceFrom(dirs ...string) (*Config, error) {
	return load(dirs, (*Config).ValidateInstance)
}

func load(dirs []string, validate func(*Config) error) (*Config, error) {
	for _, dir := range dirs {
		envFile := filepath.Join(dir, ".env")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Error("failed to read env file", slog.String("file", envFile), slog.String("error", err.Error()))
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// AutomaticEnv only sees keys viper already knows about
	if err := v.BindEnv("backends"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToBackendsHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("proxy.prefix", "/api")
	v.SetDefault("proxy.policy", PolicyScore)
	v.SetDefault("proxy.fetch_timeout", "500ms")
	v.SetDefault("proxy.max_body_bytes", 10<<20)
	v.SetDefault("proxy.probe_interval", "0s")
	v.SetDefault("metrics.priority", PriorityNormal)
	v.SetDefault("metrics.latency_threshold", "500ms")
	v.SetDefault("metrics.error_rate_threshold", 0.05)
	v.SetDefault("metrics.latency_window", 20)
	v.SetDefault("metrics.error_window", 10)
	v.SetDefault("metrics.concurrency_window", 100)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "10s")
}

// stringToBackendsHookFunc decodes BACKENDS="url|priority,url" into
// backend entries. A missing priority means normal.
func stringToBackendsHookFunc() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf([]BackendConfig{})
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != target {
			return data, nil
		}
		return ParseBackends(data.(string)), nil
	}
}

// ParseBackends parses the compact "url|priority,url" backend list.
func ParseBackends(raw string) []BackendConfig {
	var backends []BackendConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		rawURL, priority, _ := strings.Cut(entry, "|")
		priority = strings.TrimSpace(priority)
		if priority == "" {
			priority = PriorityNormal
		}
		backends = append(backends, BackendConfig{URL: strings.TrimSpace(rawURL), Priority: priority})
	}
	return backends
}

// Validate checks everything the proxy needs.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.Required, validation.By(validateServer)),
		validation.Field(&c.Logging, validation.Required, validation.By(validateLogging)),
		validation.Field(&c.Proxy, validation.Required, validation.By(validateProxy)),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Metrics, validation.Required, validation.By(validateMetrics)),
		validation.Field(&c.Breaker, validation.By(validateBreaker)),
	)
}

// ValidateInstance checks only what an instrumented backend instance needs.
func (c *Config) ValidateInstance() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.Required, validation.By(validateServer)),
		validation.Field(&c.Logging, validation.Required, validation.By(validateLogging)),
		validation.Field(&c.Metrics, validation.Required, validation.By(validateMetrics)),
	)
}

func validateServer(value interface{}) error {
	sc, ok := value.(ServerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServerConfig")
	}
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&sc.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
	)
}

func validateLogging(value interface{}) error {
	lc, ok := value.(LoggingConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
	}
	return validation.ValidateStruct(&lc,
		validation.Field(&lc.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func validateProxy(value interface{}) error {
	pc, ok := value.(ProxyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
	}
	return validation.ValidateStruct(&pc,
		validation.Field(&pc.Prefix,
			validation.Required,
			validation.By(validatePrefix),
		),
		validation.Field(&pc.Policy,
			validation.Required,
			validation.In(PolicyScore, PolicyRoundRobin),
		),
		validation.Field(&pc.FetchTimeout,
			validation.Required,
			validation.Min(time.Duration(0)).Exclusive(),
		),
		validation.Field(&pc.MaxBodyBytes,
			validation.Required,
			validation.Min(int64(1)),
		),
		validation.Field(&pc.ProbeInterval, validation.Min(time.Duration(0))),
	)
}

func validateMetrics(value interface{}) error {
	mc, ok := value.(MetricsConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
	}
	return validation.ValidateStruct(&mc,
		validation.Field(&mc.Priority,
			validation.Required,
			validation.In(PriorityNormal, PriorityCritical),
		),
		validation.Field(&mc.LatencyThreshold,
			validation.Required,
			validation.Min(time.Duration(0)).Exclusive(),
		),
		validation.Field(&mc.ErrorRateThreshold,
			validation.Required,
			validation.Min(0.0).Exclusive(),
			validation.Max(1.0),
		),
		validation.Field(&mc.LatencyWindow, validation.Required, validation.Min(1)),
		validation.Field(&mc.ErrorWindow, validation.Required, validation.Min(1)),
		validation.Field(&mc.ConcurrencyWindow, validation.Required, validation.Min(1)),
	)
}

func validateBreaker(value interface{}) error {
	bc, ok := value.(BreakerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
	}
	return validation.ValidateStruct(&bc,
		validation.Field(&bc.FailureThreshold, validation.Min(0)),
		validation.Field(&bc.ResetTimeout,
			validation.Required,
			validation.Min(time.Duration(0)).Exclusive(),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validatePrefix(value interface{}) error {
	prefix, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(prefix, "/") {
		return validation.NewError("validation_invalid_prefix", "must start with /")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if backend.Priority != "" && backend.Priority != PriorityNormal && backend.Priority != PriorityCritical {
		return validation.NewError("validation_invalid_priority", "priority must be normal or critical")
	}

	return nil
}
