package config

import (
	"flag"
	"os"
)

var (
	flagConfig    = flag.String("config", "", "Path to config file")
	flagDebug     = flag.Bool("debug", false, "Enable debug logging")
	flagTexture   = flag.String("texture", "", "Single texture name for every textured material")
	flagOutputDir = flag.String("out-dir", "", "Directory for converted files")
	flagWorkers   = flag.Int("workers", 0, "Parallel conversions in batch mode")
	flagCharset   = flag.String("charset", "", "Charset for texture names that are not UTF-8")
	flagLogFile   = flag.String("log-file", "", "Also write logs to this file")
)

var positional []string

// ParseFlags parses command-line flags. Call this early in main().
// Flags may appear before or after the command and its arguments.
func ParseFlags() {
	// CommandLine exits on error, so the error is always nil here.
	positional, _ = parseInterspersed(flag.CommandLine, os.Args[1:])
}

// Args returns the non-flag arguments.
func Args() []string {
	return positional
}

// parseInterspersed parses args with fs, collecting non-flag arguments
// wherever they appear. Everything after "--" is positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var rest []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		remaining := fs.Args()
		consumed := len(args) - len(remaining)
		if consumed > 0 && args[consumed-1] == "--" {
			return append(rest, remaining...), nil
		}
		if len(remaining) == 0 {
			return rest, nil
		}
		rest = append(rest, remaining[0])
		args = remaining[1:]
	}
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagTexture != "" {
		cfg.Convert.Texture = *flagTexture
	}
	if *flagOutputDir != "" {
		cfg.Convert.OutputDir = *flagOutputDir
	}
	if *flagWorkers > 0 {
		cfg.Batch.Workers = *flagWorkers
	}
	if *flagCharset != "" {
		cfg.Decode.LegacyCharset = *flagCharset
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
