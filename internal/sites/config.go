package sites

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Config captures settings for the unit root, its collaborators and logging.
type Config struct {
	Root          string
	Delimiter     rune
	TemplatePath  string
	ReloadCommand string
	// SyncCommand receives every change set from sync and watch as JSON on stdin.
	SyncCommand   string
	MainConfigDir string
	JournalPath   string
	LogLevel      slog.Level
	Meilisearch   MeilisearchConfig
}

// MeilisearchConfig captures connection settings for optional search synchronization.
type MeilisearchConfig struct {
	Host   string `yaml:"host" json:"host"`
	APIKey string `yaml:"api_key" json:"api_key"`
	Index  string `yaml:"index" json:"index"`
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration.
type ConfigOverride struct {
	Root          *string            `yaml:"root,omitempty" json:"root,omitempty"`
	Delimiter     *string            `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	TemplatePath  *string            `yaml:"template,omitempty" json:"template,omitempty"`
	ReloadCommand *string            `yaml:"reload_command,omitempty" json:"reload_command,omitempty"`
	SyncCommand   *string            `yaml:"sync_command,omitempty" json:"sync_command,omitempty"`
	MainConfigDir *string            `yaml:"main_config_dir,omitempty" json:"main_config_dir,omitempty"`
	JournalPath   *string            `yaml:"journal,omitempty" json:"journal,omitempty"`
	LogLevel      *string            `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Meilisearch   *MeilisearchConfig `yaml:"meilisearch,omitempty" json:"meilisearch,omitempty"`
}

// NewDefaultConfig creates a Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		Root:          "/etc/nginx/conf.d",
		Delimiter:     DefaultDelimiter,
		ReloadCommand: DefaultReloadCommand,
		MainConfigDir: "/etc/nginx",
		LogLevel:      slog.LevelInfo,
	}
}

// Merge applies non-nil values from override onto this Config.
func (c *Config) Merge(override *ConfigOverride) error {
	if override == nil {
		return nil
	}
	if override.Root != nil {
		c.Root = *override.Root
	}
	if override.Delimiter != nil {
		r, err := parseDelimiter(*override.Delimiter)
		if err != nil {
			return err
		}
		c.Delimiter = r
	}
	if override.TemplatePath != nil {
		c.TemplatePath = *override.TemplatePath
	}
	if override.ReloadCommand != nil {
		c.ReloadCommand = *override.ReloadCommand
	}
	if override.SyncCommand != nil {
		c.SyncCommand = *override.SyncCommand
	}
	if override.MainConfigDir != nil {
		c.MainConfigDir = *override.MainConfigDir
	}
	if override.JournalPath != nil {
		c.JournalPath = *override.JournalPath
	}
	if override.LogLevel != nil {
		lvl, err := ParseLogLevel(*override.LogLevel)
		if err != nil {
			return err
		}
		c.LogLevel = lvl
	}
	if override.Meilisearch != nil {
		c.Meilisearch = *override.Meilisearch
	}
	return nil
}

// Codec builds the identifier codec for the configured delimiter.
func (c *Config) Codec() (Codec, error) {
	return NewCodec(c.Delimiter)
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile merges file overrides onto the defaults.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Merge(override); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseLogLevel accepts debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

func parseDelimiter(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if _, err := NewCodec(r); err != nil {
		return 0, err
	}
	return r, nil
}
