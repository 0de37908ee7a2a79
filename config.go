package wren

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the global set of configuration for one Wren instance,
// adapted from air.Config: same appName/address/log-format/debug-mode
// knobs, generalized with the routing-specific settings this spec's
// engine needs (base path, i18n, minimal mode, cache sizing) and loaded
// from JSON, YAML, or TOML rather than air.Config's JSON-only config.json.
type Config struct {
	AppName   string
	DebugMode bool
	LogFormat string

	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	BasePath  string
	Locale    LocaleConfig
	MinimalMode bool

	EdgeManifestPath   string
	PagesManifestPath  string
	RoutesManifestPath string

	ResponseCacheMaxBytes int
	SandboxDevMode        bool
}

// DefaultConfig returns the Config an instance starts with absent any file
// (spec's ambient-stack expansion of air.Config's defaultConfig).
func DefaultConfig(appName string) *Config {
	return &Config{
		AppName:               appName,
		LogFormat:             DefaultLoggerFormat,
		Address:               "localhost:8080",
		ResponseCacheMaxBytes: 64 << 20,
	}
}

// LoadConfig reads path (json/yaml/yml/toml, by extension) and decodes it
// loosely onto a copy of DefaultConfig(appName), the way air.NewConfig
// layers a config file over its in-code defaults. mapstructure absorbs the
// decoded map into Config so each format's decoder only needs to produce
// a generic map/struct, not a format-specific Config mirror.
func LoadConfig(appName, path string) (*Config, error) {
	cfg := DefaultConfig(appName)

	raw, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "config",
	})
	if err != nil {
		return nil, fmt.Errorf("wren: failed to build config decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("wren: failed to decode config %s: %w", path, err)
	}

	return cfg, nil
}

func readConfigFile(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wren: failed to read config %s: %w", path, err)
	}

	raw := map[string]interface{}{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("wren: failed to parse yaml config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("wren: failed to parse toml config %s: %w", path, err)
		}
	case ".json", "":
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("wren: failed to parse json config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("wren: unsupported config format %q", ext)
	}

	return raw, nil
}
