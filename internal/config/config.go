package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "dynlink.yaml"

// DumpEnv forces implementation dumps on when set to "true".
const DumpEnv = "DYNLINK_SAVE_IMPLS"

// Config represents the dynlink configuration.
type Config struct {
	Model      string         `yaml:"model"`
	Log        LogConfig      `yaml:"log"`
	Dump       DumpConfig     `yaml:"dump"`
	Server     ServerConfig   `yaml:"server"`
	Exclude    ExcludeConfig  `yaml:"exclude"`
	Strategies StrategyConfig `yaml:"strategies"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, text or json
}

// DumpConfig controls persistence of generated implementations and
// resolution traces.
type DumpConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// ExcludeConfig defines patterns to exclude when importing Go sources.
type ExcludeConfig struct {
	Dirs      []string `yaml:"dirs"`
	FilesGlob []string `yaml:"files_glob"`
}

// StrategyConfig assigns dispatch strategies outside the model annotations.
// Methods are keyed by "Owner.name" or "Owner.name(A,B)R"; Scopes map a
// strategy name to type-name patterns.
type StrategyConfig struct {
	Default string              `yaml:"default"`
	Methods map[string]string   `yaml:"methods"`
	Scopes  map[string][]string `yaml:"scopes"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Model: "model.yaml",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Dump: DumpConfig{
			Dir: ".dynlink",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Exclude: ExcludeConfig{
			Dirs:      []string{"vendor", "third_party", "testdata"},
			FilesGlob: []string{"**/*.pb.go", "**/*_gen.go", "**/*_mock.go"},
		},
		Strategies: StrategyConfig{
			Methods: map[string]string{},
			Scopes:  map[string][]string{},
		},
	}
}

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for dynlink.yaml in the current directory.
// Values present in the file replace the defaults field by field.
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = FileName
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, err
	}

	defaults.Merge(&fileCfg)
	return defaults, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Merge combines another config into this one, with other taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Model != "" {
		c.Model = other.Model
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Dump.Enabled {
		c.Dump.Enabled = true
	}
	if other.Dump.Dir != "" {
		c.Dump.Dir = other.Dump.Dir
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if len(other.Exclude.Dirs) > 0 {
		c.Exclude.Dirs = other.Exclude.Dirs
	}
	if len(other.Exclude.FilesGlob) > 0 {
		c.Exclude.FilesGlob = other.Exclude.FilesGlob
	}
	if other.Strategies.Default != "" {
		c.Strategies.Default = other.Strategies.Default
	}
	if len(other.Strategies.Methods) > 0 {
		c.Strategies.Methods = other.Strategies.Methods
	}
	if len(other.Strategies.Scopes) > 0 {
		c.Strategies.Scopes = other.Strategies.Scopes
	}
}

// DumpEnabled reports whether dumps are on, from the file or the environment.
func (c *Config) DumpEnabled() bool {
	if v, ok := os.LookupEnv(DumpEnv); ok {
		return strings.EqualFold(v, "true")
	}
	return c.Dump.Enabled
}

// IsExcludedDir checks if a directory should be excluded from importing.
func (c *Config) IsExcludedDir(dir string) bool {
	base := filepath.Base(dir)
	for _, excluded := range c.Exclude.Dirs {
		if base == excluded {
			return true
		}
	}
	return false
}

// IsExcludedFile checks a file path against the exclude globs.
func (c *Config) IsExcludedFile(path string) bool {
	for _, pattern := range c.Exclude.FilesGlob {
		if MatchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// StrategyForMethod returns the configured strategy for a method, trying the
// signature-qualified key before the plain one.
func (s *StrategyConfig) StrategyForMethod(qualified, sig string) string {
	if name, ok := s.Methods[qualified+sig]; ok {
		return name
	}
	return s.Methods[qualified]
}

// StrategyForScope returns the strategy whose scope patterns match the type
// name, or empty string if none does. Strategies are tried in name order so
// overlapping patterns resolve the same way every time.
func (s *StrategyConfig) StrategyForScope(typeName string) string {
	names := make([]string, 0, len(s.Scopes))
	for name := range s.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, pattern := range s.Scopes[name] {
			if MatchPattern(pattern, typeName) {
				return name
			}
		}
	}
	return ""
}

// MatchPattern matches a slash- or dot-separated name against a pattern.
// A leading and trailing ** matches the fixed middle anywhere; a leading **
// alone matches by suffix. Everything else uses filepath.Match.
// Example: "**/handlers/**" matches "myapp/internal/handlers/user".
func MatchPattern(pattern, name string) bool {
	if len(pattern) >= 4 && pattern[:2] == "**" && pattern[len(pattern)-2:] == "**" {
		middle := pattern[2 : len(pattern)-2]
		if strings.Contains(name, middle) {
			return true
		}
		if len(middle) > 0 && (middle[0] == '/' || middle[0] == '.') {
			if strings.HasPrefix(name, middle[1:]) {
				return true
			}
		}
		return false
	}
	if len(pattern) > 2 && pattern[:2] == "**" {
		suffix := pattern[2:]
		if strings.HasSuffix(name, suffix) {
			return true
		}
		if len(suffix) > 0 && (suffix[0] == '/' || suffix[0] == '.') && name == suffix[1:] {
			return true
		}
		if strings.ContainsAny(suffix, "*?[") {
			matched, err := filepath.Match(strings.TrimLeft(suffix, "/."), filepath.Base(name))
			return err == nil && matched
		}
		return false
	}

	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}
