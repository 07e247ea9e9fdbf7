package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/affinity/pkg/affinity/internalerr"
	"github.com/cognicore/affinity/pkg/affinity/miner"
)

// Config is the top-level configuration file.
type Config struct {
	Analysis Analysis `yaml:"analysis"`
	Store    Store    `yaml:"store"`
	Log      Log      `yaml:"log"`
	Server   Server   `yaml:"server"`
}

// Analysis tunes mining runs.
type Analysis struct {
	MinUsers        int `yaml:"min_users" validate:"gte=1"`
	MaxCandidates   int `yaml:"max_candidates" validate:"gte=2"`
	MinPopulation   int `yaml:"min_population" validate:"gte=0"`
	Workers         int `yaml:"workers" validate:"gte=1"`
	MaxCombinations int `yaml:"max_combinations" validate:"gte=0"`
	MaxResults      int `yaml:"max_results" validate:"gte=0"`
	PreviewSize     int `yaml:"preview_size" validate:"gte=0"`
}

// Store selects and configures the result store.
type Store struct {
	Driver   string `yaml:"driver" validate:"oneof=sqlite postgres memory"`
	Path     string `yaml:"path" validate:"required_if=Driver sqlite"`
	DSN      string `yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxConns int    `yaml:"max_conns" validate:"gte=0"`
}

// Log configures the global logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Server configures the HTTP API.
type Server struct {
	Addr     string `yaml:"addr" validate:"required"`
	MaxConns int    `yaml:"max_conns" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Analysis: Analysis{
			MinUsers:      1,
			MaxCandidates: 200,
			MinPopulation: miner.DefaultMinPopulation,
			Workers:       runtime.GOMAXPROCS(0),
			PreviewSize:   miner.DefaultPreviewSize,
		},
		Store: Store{Driver: "sqlite", Path: "affinity.db"},
		Log:   Log{Level: "info", Format: "json"},
		Server: Server{
			Addr:     ":8080",
			MaxConns: 256,
		},
	}
}

// Load reads the YAML file at path (optional), applies a .env file if one is
// present and AFFINITY_* environment overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", internalerr.ErrInvalidConfig, path, err)
		}
	}

	// production environments may not have a .env file
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", internalerr.ErrInvalidConfig, f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	return nil
}

// Options converts the analysis section to miner options.
func (a Analysis) Options() miner.Options {
	return miner.Options{
		MinUsers:        a.MinUsers,
		MaxCandidates:   a.MaxCandidates,
		MinPopulation:   a.MinPopulation,
		Workers:         a.Workers,
		MaxCombinations: a.MaxCombinations,
		MaxResults:      a.MaxResults,
		PreviewSize:     a.PreviewSize,
	}
}

func applyEnv(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"AFFINITY_MIN_USERS", &cfg.Analysis.MinUsers},
		{"AFFINITY_MAX_CANDIDATES", &cfg.Analysis.MaxCandidates},
		{"AFFINITY_MIN_POPULATION", &cfg.Analysis.MinPopulation},
		{"AFFINITY_WORKERS", &cfg.Analysis.Workers},
		{"AFFINITY_MAX_COMBINATIONS", &cfg.Analysis.MaxCombinations},
		{"AFFINITY_MAX_RESULTS", &cfg.Analysis.MaxResults},
		{"AFFINITY_PREVIEW_SIZE", &cfg.Analysis.PreviewSize},
		{"AFFINITY_STORE_MAX_CONNS", &cfg.Store.MaxConns},
		{"AFFINITY_SERVER_MAX_CONNS", &cfg.Server.MaxConns},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", internalerr.ErrInvalidConfig, e.key, v)
		}
		*e.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"AFFINITY_STORE_DRIVER", &cfg.Store.Driver},
		{"AFFINITY_STORE_PATH", &cfg.Store.Path},
		{"AFFINITY_STORE_DSN", &cfg.Store.DSN},
		{"AFFINITY_LOG_LEVEL", &cfg.Log.Level},
		{"AFFINITY_LOG_FORMAT", &cfg.Log.Format},
		{"AFFINITY_SERVER_ADDR", &cfg.Server.Addr},
	}
	for _, e := range strs {
		if v := os.Getenv(e.key); v != "" {
			*e.dst = v
		}
	}
	return nil
}
