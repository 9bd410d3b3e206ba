package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/choropleth/internal/area"
)

// Config holds the full application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
	Keys       KeysConfig       `yaml:"keys" mapstructure:"keys"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the reference data manifest.
type DataConfig struct {
	Manifest           string `yaml:"manifest" mapstructure:"manifest" validate:"required"`
	Dir                string `yaml:"dir" mapstructure:"dir"`
	ReloadIntervalSecs int    `yaml:"reload_interval_secs" mapstructure:"reload_interval_secs" validate:"gte=0"`
}

// ReloadInterval is zero when periodic reload is off.
func (c DataConfig) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadIntervalSecs) * time.Second
}

// StoreConfig configures where reference data is read from.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=files postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Schema      string `yaml:"schema" mapstructure:"schema" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=1"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
}

// ProjectionConfig selects the equal-area projection used for region areas.
type ProjectionConfig struct {
	Code     string             `yaml:"code" mapstructure:"code"`
	Fallback *area.AlbersParams `yaml:"fallback" mapstructure:"fallback"`
}

// KeysConfig tunes administrative key matching.
type KeysConfig struct {
	Aliases   map[string]string `yaml:"aliases" mapstructure:"aliases"`
	ExactOnly bool              `yaml:"exact_only" mapstructure:"exact_only"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateRPS             float64  `yaml:"rate_rps" mapstructure:"rate_rps" validate:"gte=0"`
	RateBurst           int      `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs" validate:"gte=0"`
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// CacheConfig configures the classification result cache. MaxEntries 0
// disables it.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"gte=0"`
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs" validate:"gte=0"`
}

// TTL is zero when entries never expire.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// FetchConfig configures dataset downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=1"`
	Retries     int     `yaml:"retries" mapstructure:"retries" validate:"gte=0"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host" validate:"gte=0"`
}

// Timeout is the per-request download timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is fine; existing environment wins over it.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CHOROPLETH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.manifest", "datasets.yaml")
	v.SetDefault("data.reload_interval_secs", 0)
	v.SetDefault("store.driver", "files")
	v.SetDefault("store.sqlite_path", "choropleth.db")
	v.SetDefault("store.schema", "choropleth")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("projection.code", "EPSG:3826")
	v.SetDefault("keys.exact_only", false)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_rps", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("cache.ttl_secs", 600)
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.user_agent", "choropleth-fetch/1.0")
	v.SetDefault("fetch.rate_per_host", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks field ranges and the requirements of the given command
// mode: "serve", "import", "fetch", "classify" or "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	if err := newValidator().Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			errs = append(errs, fieldMessage(fe))
		}
	}

	switch mode {
	case "serve", "classify", "status":
		errs = append(errs, c.storeErrors()...)
	case "import":
		if c.Store.Driver == "files" {
			errs = append(errs, "store.driver must be postgres or sqlite for import")
		}
		errs = append(errs, c.storeErrors()...)
	case "fetch":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrors() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for the sqlite driver"}
		}
	}
	return nil
}

// newValidator reports fields by their config key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessage renders "Config.server.port" as "server.port ...".
func fieldMessage(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	msg := ns + " failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return msg
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
