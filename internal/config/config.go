package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up in the user's home directory.
const DefaultFileName = "dif.toml"

// DefaultTOML is written to a missing TOML config path.
const DefaultTOML = `[ignore]
abs_path = []
regex = []
`

// DefaultYAML is written to a missing .yaml/.yml config path.
const DefaultYAML = `ignore:
  abs_path: []
  regex: []
`

// Config holds all configuration loaded from dif.toml (or a YAML equivalent).
type Config struct {
	Ignore         Ignore `toml:"ignore"           yaml:"ignore"`
	CachePath      string `toml:"cache_path"       yaml:"cache_path"`
	Threads        int    `toml:"threads"          yaml:"threads"`
	TasksPerThread int    `toml:"tasks_per_thread" yaml:"tasks_per_thread"`
	Pipeline       string `toml:"pipeline"         yaml:"pipeline"`
	Algorithm      string `toml:"algorithm"        yaml:"algorithm"`
	LogLevel       string `toml:"log_level"        yaml:"log_level"`
}

// Ignore lists the paths excluded from a scan: exact absolute paths and
// regular expressions matched against the path string.
type Ignore struct {
	AbsPath []string `toml:"abs_path" yaml:"abs_path"`
	Regex   []string `toml:"regex"    yaml:"regex"`
}

// ApplyDefaults fills zero/empty fields with sensible defaults. It is exported
// so flag overrides can be re-normalised after they are applied.
func (c *Config) ApplyDefaults() {
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.TasksPerThread <= 0 {
		c.TasksPerThread = 16
	}
	if c.Pipeline == "" {
		c.Pipeline = "split"
	}
	if c.Algorithm == "" {
		c.Algorithm = "phash"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CachePath == "" {
		c.CachePath = DefaultCachePath(c.Algorithm)
	}
}

// DefaultCachePath returns the per-algorithm cache location under the user's
// cache directory, falling back to the working directory.
func DefaultCachePath(algorithm string) string {
	name := "hashes-" + algorithm + ".db"
	dir, err := os.UserCacheDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "dif", name)
}

// DefaultPath returns ~/dif.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home dir: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// Load reads and parses the config file at path. Files ending in .yaml/.yml
// are decoded as YAML, everything else as TOML; unknown keys are rejected in
// both formats. If the file does not exist, Load writes DefaultYAML or
// DefaultTOML there, matching the extension, and returns the defaults.
func Load(path string) (*Config, error) {
	yamlFile := isYAML(path)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		content := DefaultTOML
		if yamlFile {
			content = DefaultYAML
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("create default config %q: %w", path, err)
		}
		var cfg Config
		cfg.ApplyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if yamlFile {
		err = decodeYAML(f, &cfg)
	} else {
		err = decodeTOML(f, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(r io.Reader, cfg *Config) error {
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}
