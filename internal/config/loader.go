// Package config loads the Heron configuration from defaults, a YAML file,
// HERON_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/opensource-clinical/heron/internal/domain"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HERON_"

// DefaultFile is read from the working directory when no file is named.
const DefaultFile = "heron.yaml"

// sections are the top-level config blocks. An environment variable whose
// first segment names one maps its remainder to a key inside that block:
// HERON_CACHE_REDIS_ADDR -> cache.redis_addr.
var sections = map[string]bool{
	"server":     true,
	"engine":     true,
	"catalog":    true,
	"repository": true,
	"cache":      true,
	"bus":        true,
	"logging":    true,
}

// flagKeys maps CLI flag names to config keys. Flags not listed here are
// not configuration.
var flagKeys = map[string]string{
	"tier":       "tier",
	"host":       "server.host",
	"port":       "server.port",
	"db":         "repository.sqlite_path",
	"driver":     "repository.driver",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"seed":       "catalog.seed_path",
	"explain":    "engine.explain",
}

// Result is a loaded configuration and where it came from.
type Result struct {
	Config *domain.Config

	// File is the config file that was read, if any.
	File string
}

// Load builds the configuration. cfgFile may be empty, in which case
// heron.yaml is read when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Result, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"tier": string(domain.TierCommunity),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
		if debug, _ := flags.GetBool("debug"); debug {
			_ = k.Set("logging.level", "debug")
		}
	}

	// The tier picks the base defaults; every layer above is applied on top.
	var cfg *domain.Config
	switch tier := domain.Tier(k.String("tier")); tier {
	case domain.TierPro:
		cfg = domain.ProConfig()
	case domain.TierCommunity:
		cfg = domain.DefaultConfig()
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidConfig, tier)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := domain.Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, File: used}, nil
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{DefaultFile, "heron.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// envKey turns HERON_REPOSITORY_SQLITE_PATH into repository.sqlite_path.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if ok && sections[section] {
		return section + "." + rest
	}
	return key
}
