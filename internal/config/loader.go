package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"neurodb/internal/graph"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: NEURODB_MANAGED__HOST -> managed.host.
const EnvPrefix = "NEURODB_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var configNames = []string{"neurodb.yaml", "neurodb.yml"}

// flagKeys maps flag names onto config keys where they differ.
// Flags absent here and from the config tree are ignored.
var flagKeys = map[string]string{
	"db":            "path",
	"verbose":       "verbose",
	"pg-host":       "managed.host",
	"pg-port":       "managed.port",
	"pg-user":       "managed.user",
	"pg-password":   "managed.password",
	"pg-database":   "managed.database",
	"pg-schema":     "managed.schema",
	"pg-sslmode":    "managed.sslmode",
	"len-threshold": "analyzer.len_threshold",
	"hub-threshold": "analyzer.hub_threshold",
	"top-n":         "analyzer.top_n",
	"stale-days":    "analyzer.stale_days",
}

// findConfigUpward searches upward from startDir for a neurodb config file
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func defaults() map[string]interface{} {
	a := graph.DefaultConfig()
	return map[string]interface{}{
		"path":                   "",
		"verbose":                false,
		"managed.host":           "localhost",
		"managed.port":           5432,
		"managed.schema":         "public",
		"managed.sslmode":        "disable",
		"analyzer.len_threshold": a.LenThreshold,
		"analyzer.hub_threshold": a.HubThreshold,
		"analyzer.top_n":         a.TopN,
		"analyzer.stale_days":    a.StaleDays,
	}
}

// Load reads configuration. Precedence (highest to lowest):
// flags > env vars > config file > defaults.
// cfgFile is an explicit file; when empty, neurodb.yaml is searched upward from the CWD.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfgFile = findConfigUpward(cwd)
		}
	}
	var filePath string
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		filePath = k.String("path")
	}

	// 3. Environment: NEURODB_ANALYZER__LEN_THRESHOLD -> analyzer.len_threshold
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = cfgFile

	// A relative store path from the file is anchored at the file's directory
	if cfg.Path != "" && cfg.Path == filePath && !filepath.IsAbs(cfg.Path) {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			cfg.Path = filepath.Join(filepath.Dir(abs), cfg.Path)
		}
	}
	return &cfg, nil
}
