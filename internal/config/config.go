// Package config loads liveview settings from liveview.yaml and LIVEVIEW_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/liveview/internal/undo"
)

const (
	configFileName = "liveview"
	configFileType = "yaml"
	envPrefix      = "LIVEVIEW"

	KeyStorePath  = "store_path"
	KeyUndoLimit  = "undo_limit"
	KeyLogLevel   = "log_level"
	KeySchemaPath = "schema_path"
)

var (
	ErrInvalidUndoLimit = errors.New("config: undo_limit must be positive")
	ErrInvalidLogLevel  = errors.New("config: log_level must be debug, info, warn or error")
)

// Config holds the resolved settings.
type Config struct {
	// StorePath is the SQLite file backing the reference host. Empty means
	// a throwaway store.
	StorePath string
	// UndoLimit caps the undo stack.
	UndoLimit int
	LogLevel  string
	// SchemaPath is a .cue file or directory; empty means the built-in
	// catalog.
	SchemaPath string
}

// Load reads path, or liveview.yaml in the working directory when path is
// empty, and applies environment overrides. Only an explicit path must
// exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault(KeyStorePath, "")
	v.SetDefault(KeyUndoLimit, undo.DefaultLimit)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeySchemaPath, "")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	c := &Config{
		StorePath:  v.GetString(KeyStorePath),
		UndoLimit:  v.GetInt(KeyUndoLimit),
		LogLevel:   strings.ToLower(v.GetString(KeyLogLevel)),
		SchemaPath: v.GetString(KeySchemaPath),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.UndoLimit <= 0 {
		return ErrInvalidUndoLimit
	}
	if _, ok := levels[c.LogLevel]; !ok {
		return ErrInvalidLogLevel
	}
	return nil
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	return levels[c.LogLevel]
}
