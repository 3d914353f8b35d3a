// Package config loads profiler settings from a .env file, a wprof.yaml file
// and WPROF_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kusoof/wprof/trace"
)

// Config holds the profiler settings.
type Config struct {
	Format      string `mapstructure:"format"`
	OutputDir   string `mapstructure:"output_dir"`
	Strict      bool   `mapstructure:"strict"`
	LogLevel    string `mapstructure:"log_level"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

// Load reads the configuration. An empty path looks for wprof.yaml in the
// working directory; a missing file means defaults. An explicit path must
// exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("format", string(trace.FormatJSON))
	v.SetDefault("output_dir", "wprof_traces")
	v.SetDefault("strict", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("monitor_port", 0)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wprof")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WPROF")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values that cannot be checked by type alone.
func (c *Config) Validate() error {
	if _, err := trace.ParseFormat(c.Format); err != nil {
		return err
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}

	if c.MonitorPort < 0 || c.MonitorPort > 65535 {
		return fmt.Errorf("invalid monitor_port %d", c.MonitorPort)
	}

	return nil
}

// TraceFormat returns the parsed output format.
func (c *Config) TraceFormat() trace.Format {
	f, err := trace.ParseFormat(c.Format)
	if err != nil {
		return trace.FormatJSON
	}

	return f
}

// Logger builds a logger at the configured level. Debug gets the
// development encoder. It never fails; a logger that cannot be built is
// replaced by a no-op one.
func (c *Config) Logger() *zap.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

// WriterFactory creates the trace writer factory for the configured format
// and directory.
func (c *Config) WriterFactory() (trace.WriterFactory, error) {
	if c.OutputDir == "" {
		return nil, errors.New("output_dir is empty")
	}

	return trace.NewFileWriterFactory(c.OutputDir, c.TraceFormat()), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(strings.ToLower(s)))

	return l, err
}
