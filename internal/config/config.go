// Package config handles converter configuration loading and management.
package config

import (
	"fmt"
	"runtime"

	"github.com/Faultbox/sgm2obj/pkg/encoding"
)

// Config holds all converter settings.
type Config struct {
	Convert ConvertConfig `yaml:"convert"`
	Decode  DecodeConfig  `yaml:"decode"`
	Batch   BatchConfig   `yaml:"batch"`
	Logging LoggingConfig `yaml:"logging"`
}

// ConvertConfig holds OBJ/MTL output settings.
type ConvertConfig struct {
	OutputDir             string `yaml:"output_dir"`              // Empty writes next to the input
	Texture               string `yaml:"texture"`                 // Single texture used by every textured material
	NormalizeTexturePaths bool   `yaml:"normalize_texture_paths"` // Rewrite backslashes in map_Kd
}

// DecodeConfig holds SGM decoding settings.
type DecodeConfig struct {
	LegacyCharset string `yaml:"legacy_charset"` // For texture names that are not UTF-8
}

// BatchConfig holds settings for converting many files.
type BatchConfig struct {
	Workers   int    `yaml:"workers"`
	Extension string `yaml:"extension"` // Matched when scanning directories
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Convert: ConvertConfig{
			OutputDir:             "",
			Texture:               "",
			NormalizeTexturePaths: false,
		},
		Decode: DecodeConfig{
			LegacyCharset: encoding.DefaultLegacyCharset,
		},
		Batch: BatchConfig{
			Workers:   runtime.NumCPU(),
			Extension: ".sgm",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if err := encoding.ValidateCharset(c.Decode.LegacyCharset); err != nil {
		return fmt.Errorf("decode.legacy_charset: %w", err)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
