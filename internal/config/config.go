// Package config provides configuration loading for evolab.
// Order: built-in defaults -> YAML file -> environment variables. Command-line
// flags are applied last by the caller.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/evolab/internal/dominance"
	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/hawkdove"
	"github.com/talgya/evolab/internal/jackdaw"
	"github.com/talgya/evolab/internal/predprey"
)

//go:embed defaults.yaml
var defaultsYAML []byte

//go:embed config.schema.json
var schemaJSON []byte

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "evolab.yaml"

// Config contains all evolab settings.
type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Seed seeds every run. 0 draws a fresh seed per run.
	Seed int64 `json:"seed" yaml:"seed"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
	Export  ExportConfig  `json:"export" yaml:"export"`
	Server  ServerConfig  `json:"server" yaml:"server"`

	HawkDove  hawkdove.Config  `json:"hawkdove" yaml:"hawkdove"`
	Jackdaw   jackdaw.Config   `json:"jackdaw" yaml:"jackdaw"`
	Dominance dominance.Config `json:"dominance" yaml:"dominance"`
	PredPrey  predprey.Config  `json:"predprey" yaml:"predprey"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	Level string `json:"level" yaml:"level"`
}

// StorageConfig configures the SQLite run archive.
type StorageConfig struct {
	// Path is the database file. Empty disables saving runs.
	Path string `json:"path" yaml:"path"`
}

// ExportConfig configures compressed history exports.
type ExportConfig struct {
	// Dir receives one .jsonl.zst file per run. Empty disables export.
	Dir string `json:"dir" yaml:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `json:"port" yaml:"port"`

	// AdminKey is the bearer token for destructive endpoints. Empty disables them.
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key"`

	// MaxGenerations caps the generation count of any API-submitted run.
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`

	// RunsPerHour limits simulation requests per client address.
	RunsPerHour int `json:"runs_per_hour" yaml:"runs_per_hour"`

	// CORSOrigins are extra allowed browser origins.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

// String implements fmt.Stringer without leaking the admin key.
func (s ServerConfig) String() string {
	key := ""
	if s.AdminKey != "" {
		key = "(set)"
	}
	return fmt.Sprintf("ServerConfig{Port:%d, AdminKey:%s, MaxGenerations:%d, RunsPerHour:%d}",
		s.Port, key, s.MaxGenerations, s.RunsPerHour)
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Port:           8080,
			MaxGenerations: 10000,
			RunsPerHour:    120,
			CORSOrigins:    []string{},
		},
		HawkDove:  hawkdove.DefaultConfig(),
		Jackdaw:   jackdaw.DefaultConfig(),
		Dominance: dominance.DefaultConfig(),
		PredPrey:  predprey.DefaultConfig(),
	}
}

// DefaultsYAML returns the annotated default configuration file.
func DefaultsYAML() []byte {
	return bytes.Clone(defaultsYAML)
}

// Load builds the effective configuration. An empty path falls back to
// EVOLAB_CONFIG, then to DefaultFile if present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("EVOLAB_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file over the defaults. The document is checked
// against the embedded schema before decoding.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (*Config, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %v", engine.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks the settings shared by every command. Model sections are
// validated by the simulation that uses them.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return engine.Invalidf("invalid log level: %s (valid: info, debug, trace)", c.Logging.Level)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return engine.Invalidf("server.port must be within 1-65535, got %d", c.Server.Port)
	}
	if c.Server.MaxGenerations <= 0 {
		return engine.Invalidf("server.max_generations must be positive, got %d", c.Server.MaxGenerations)
	}
	if c.Server.RunsPerHour <= 0 {
		return engine.Invalidf("server.runs_per_hour must be positive, got %d", c.Server.RunsPerHour)
	}
	return nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// checkSchema validates the structure of a YAML document. YAML is converted
// to its JSON form first so numbers reach the validator as json.Number.
func checkSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parsing config: %v", engine.ErrInvalidConfig, err)
	}
	if doc == nil {
		return nil // Empty file keeps every default.
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: config is not representable as JSON: %v", engine.ErrInvalidConfig, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decoding config JSON: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", engine.ErrInvalidConfig, ve.Error())
		}
		return fmt.Errorf("%w: %v", engine.ErrInvalidConfig, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("EVOLAB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("EVOLAB_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("EVOLAB_EXPORT_DIR"); v != "" {
		cfg.Export.Dir = v
	}
	if v := os.Getenv("EVOLAB_ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv("EVOLAB_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return engine.Invalidf("EVOLAB_PORT is not an integer: %q", v)
		}
		cfg.Server.Port = n
	}
	if v := os.Getenv("EVOLAB_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return engine.Invalidf("EVOLAB_SEED is not an integer: %q", v)
		}
		cfg.Seed = n
	}
	if v := os.Getenv("EVOLAB_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, origin)
			}
		}
	}
	return nil
}
