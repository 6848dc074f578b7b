// Package config loads settings from embedded defaults, an optional config
// file, STRICT_DIR_SYNC_* environment variables and command line overrides,
// in that order of precedence.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/copyop"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/merge"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

const (
	AppName   = "strict-dir-sync"
	EnvPrefix = "STRICT_DIR_SYNC_"
)

//go:embed embedded/defaults.toml
var defaultConfig []byte

type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

type Folder struct {
	Name   string `koanf:"name"`
	Source string `koanf:"source"`
	Kind   string `koanf:"kind"`
}

type Config struct {
	Folders           []Folder      `koanf:"folders"`
	ExcludeExtensions []string      `koanf:"exclude_extensions"`
	ExcludePatterns   []string      `koanf:"exclude_patterns"`
	Conflict          string        `koanf:"conflict"`
	Operator          string        `koanf:"operator"`
	Mirror            bool          `koanf:"mirror"`
	VerifyCompleted   bool          `koanf:"verify_completed"`
	VerifyContent     bool          `koanf:"verify_content"`
	Retries           int           `koanf:"retries"`
	RetryWait         time.Duration `koanf:"retry_wait"`
	MaxAttempts       int           `koanf:"max_attempts"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	// LedgerDir overrides where restore ledgers are kept.
	LedgerDir string `koanf:"ledger_dir"`

	// Source is the config file that was loaded, if any.
	Source string `koanf:"-"`
}

// Load builds the configuration. path may be empty, in which case
// $XDG_CONFIG_HOME/strict-dir-sync/config.toml is used when present.
// overrides are dotted keys, typically from command line flags.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		if found, err := xdg.SearchConfigFile(filepath.Join(AppName, "config.toml")); err == nil {
			path = found
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Source = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return toml.Parser()
	}
}

// Validate rejects settings that would fail the session before any folder starts.
func (c *Config) Validate() error {
	if len(c.Folders) == 0 {
		return errors.New("config: no folders configured")
	}
	seen := make(map[string]bool, len(c.Folders))
	for i, f := range c.Folders {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("config: folders[%d] has no name", i)
		}
		if strings.ContainsAny(f.Name, `/\`) {
			return fmt.Errorf("config: folder name %q must not contain a path separator", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("config: folder %q listed twice", f.Name)
		}
		seen[f.Name] = true
		if _, err := parseKind(f.Kind); err != nil {
			return fmt.Errorf("config: folder %q: %w", f.Name, err)
		}
	}
	if _, err := merge.ParsePolicy(c.Conflict); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := copyop.New(c.Operator); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.Retries < 0 || c.RetryWait < 0 || c.RetryDelay < 0 {
		return errors.New("config: retries and retry delays must not be negative")
	}
	return nil
}

func parseKind(s string) (types.FolderKind, error) {
	switch types.FolderKind(strings.ToLower(s)) {
	case types.KindStandard, "":
		return types.KindStandard, nil
	case types.KindSyncedRoot:
		return types.KindSyncedRoot, nil
	default:
		return "", fmt.Errorf("unknown folder kind %q", s)
	}
}

// FolderKind returns the parsed kind of f.
func (f Folder) FolderKind() types.FolderKind {
	kind, _ := parseKind(f.Kind)
	return kind
}

// Path resolves the local location of f. A leading ~ is expanded; an empty
// source falls back to the XDG user directory of the same name.
func (f Folder) Path() (string, error) {
	if f.Source != "" {
		return expandHome(f.Source)
	}
	if dir := userDir(f.Name); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", f.Name, err)
	}
	return filepath.Join(home, f.Name), nil
}

func userDir(name string) string {
	switch strings.ToLower(name) {
	case "desktop":
		return xdg.UserDirs.Desktop
	case "documents":
		return xdg.UserDirs.Documents
	case "downloads":
		return xdg.UserDirs.Download
	case "music":
		return xdg.UserDirs.Music
	case "pictures":
		return xdg.UserDirs.Pictures
	case "videos":
		return xdg.UserDirs.Videos
	case "templates":
		return xdg.UserDirs.Templates
	case "public":
		return xdg.UserDirs.PublicShare
	default:
		return ""
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
