package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/mobility-cli/internal/regress"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Model     ModelConfig     `yaml:"model" mapstructure:"model"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// FetchConfig configures HTTP downloads of URL-sourced inputs.
type FetchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// AggregateConfig configures the mobility aggregation stage.
type AggregateConfig struct {
	// Resolution pins the hexagon grid; 0 means infer it from the first
	// labeled identifier.
	Resolution   int  `yaml:"resolution" mapstructure:"resolution"`
	BatchSize    int  `yaml:"batch_size" mapstructure:"batch_size"`
	TrackDevices bool `yaml:"track_devices" mapstructure:"track_devices"`
}

// ModelConfig configures training and evaluation.
type ModelConfig struct {
	// Algorithm names one regression strategy; empty compares all of them
	// and keeps the best validation MSE.
	Algorithm          string  `yaml:"algorithm" mapstructure:"algorithm"`
	Seed               uint64  `yaml:"seed" mapstructure:"seed"`
	ValidationFraction float64 `yaml:"validation_fraction" mapstructure:"validation_fraction"`
	ParamsFile         string  `yaml:"params_file" mapstructure:"params_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MOBILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_sec", 5)
	v.SetDefault("fetch.user_agent", "mobility-cli/1.0")
	v.SetDefault("aggregate.resolution", 0)
	v.SetDefault("aggregate.batch_size", 10000)
	v.SetDefault("aggregate.track_devices", false)
	v.SetDefault("model.algorithm", "")
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.validation_fraction", 0.25)
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

// Validate checks the cross-field constraints a command cannot recover from.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Aggregate.Resolution < 0 || c.Aggregate.Resolution > 15 {
		problems = append(problems, "aggregate.resolution must be between 0 and 15")
	}
	if c.Aggregate.BatchSize < 1 {
		problems = append(problems, "aggregate.batch_size must be >= 1")
	}

	if c.Model.Algorithm != "" {
		known := false
		for _, algo := range regress.Algorithms() {
			if c.Model.Algorithm == algo {
				known = true
				break
			}
		}
		if !known {
			problems = append(problems, "model.algorithm must be empty or one of "+strings.Join(regress.Algorithms(), ", "))
		}
	}
	if c.Model.ValidationFraction <= 0 || c.Model.ValidationFraction >= 1 {
		problems = append(problems, "model.validation_fraction must be in (0, 1)")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Params materializes the regression tunables: defaults, then the optional
// params file, then the explicit config keys on top.
func (c *Config) Params() (regress.Params, error) {
	p := regress.DefaultParams()

	if c.Model.ParamsFile != "" {
		loaded, err := regress.LoadParams(c.Model.ParamsFile)
		if err != nil {
			return p, eris.Wrap(err, "config: load params file")
		}
		p = loaded
	}

	if c.Model.Seed != 0 {
		p.Seed = c.Model.Seed
	}
	if c.Model.ValidationFraction > 0 && c.Model.ValidationFraction < 1 {
		p.ValidationFraction = c.Model.ValidationFraction
	}
	return p, nil
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
