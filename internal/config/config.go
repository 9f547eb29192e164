// Package config resolves runtime configuration for the frametrace CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/emulab/frametrace/internal/sampler"
)

// Config holds every tunable the pipeline components take by value. It is
// resolved once in the CLI and passed into constructors; nothing reads
// configuration globally.
type Config struct {
	DBPath   string `mapstructure:"db_path"`
	DataDir  string `mapstructure:"data_dir"`
	KeyMap   string `mapstructure:"key_map"`
	Strategy string `mapstructure:"strategy"`

	Sampler SamplerConfig `mapstructure:"sampler"`
}

// SamplerConfig mirrors the sampler parameters.
type SamplerConfig struct {
	MaxConsecutive int     `mapstructure:"max_consecutive"`
	MinGap         int     `mapstructure:"min_gap"`
	TestFraction   float64 `mapstructure:"test_fraction"`
	WindowSize     int     `mapstructure:"window_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:   filepath.Join(home, ".frametrace", "frametrace.db"),
		DataDir:  "data",
		Strategy: "percentile_clamp",
		Sampler: SamplerConfig{
			MaxConsecutive: sampler.DefaultMaxConsecutive,
			MinGap:         sampler.DefaultMinGap,
			TestFraction:   sampler.DefaultTestFraction,
		},
	}
}

// Load resolves configuration with the usual precedence: defaults, then an
// optional frametrace.toml, then FRAMETRACE_* environment variables.
// CLI flags override individual fields after Load returns.
func Load(configDir string) (Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("key_map", d.KeyMap)
	v.SetDefault("strategy", d.Strategy)
	v.SetDefault("sampler.max_consecutive", d.Sampler.MaxConsecutive)
	v.SetDefault("sampler.min_gap", d.Sampler.MinGap)
	v.SetDefault("sampler.test_fraction", d.Sampler.TestFraction)
	v.SetDefault("sampler.window_size", d.Sampler.WindowSize)

	v.SetConfigName("frametrace")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// a missing config file is fine, defaults apply
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("FRAMETRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
