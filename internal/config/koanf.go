package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "LAUNCHER_"

	// ConfigPathEnvVar names the config file when -config is not given.
	ConfigPathEnvVar = EnvPrefix + "CONFIG"
)

// DefaultConfigPaths are searched in order when neither -config nor
// LAUNCHER_CONFIG names a file. The first existing file is used.
var DefaultConfigPaths = []string{
	"launcher.yaml",
	"launcher.yml",
}

// sliceKeys are split on commas when they arrive as a single string.
var sliceKeys = []string{
	"jvm_args",
	"app_args",
	"env",
	"command",
	"markers",
}

// Load builds the configuration from defaults, the config file, the
// environment and args (without the program name), in increasing priority.
// It returns flag.ErrHelp after printing usage for -h.
func Load(args []string) (*Config, error) {
	return load(args, os.Stderr)
}

func load(args []string, output io.Writer) (*Config, error) {
	// The config file path can come from a flag, so look for it first.
	scratch := DefaultConfig()
	_ = newFlagSet(scratch, io.Discard).Parse(args)

	configPath, err := findConfigFile(scratch.ConfigFile)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.Command = rest
	}
	cfg.ConfigFile = configPath

	return cfg, nil
}

// findConfigFile returns explicit if set, then $LAUNCHER_CONFIG, then the
// first of DefaultConfigPaths that exists. An explicitly named file must exist.
func findConfigFile(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(ConfigPathEnvVar)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, "go-backend-launcher", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", nil
}

// envTransformFunc maps LAUNCHER_HEALTH_PORT to health_port. The config
// path variable is consumed by findConfigFile and skipped here.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
}

// processSliceFields splits comma-separated strings from the environment
// into slices. Values from YAML are already slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}

		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
