package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Built-in defaults. They reproduce the behavior of the client when no
// configuration is supplied at all.
const (
	DefaultBaseURL    = "http://localhost:1234"
	DefaultBackend    = "lmstudio"
	DefaultModel      = "QuantFactory/Meta-Llama-3-8B-GGUF"
	DefaultPreset     = "LM Studio Blank Preset"
	DefaultGPUOffload = "max"
	DefaultColor      = "always"
	DefaultLogLevel   = "warn"
	DefaultModelsDir  = "~/.lmstudio/models"
	DefaultLlamaCtx   = 2048
)

// EnvPrefix prefixes every environment variable the client reads.
const EnvPrefix = "COMPLETE_"

// Config holds runtime parameters for the client.
// Zero values in a file mean "unspecified" and keep the default.
type Config struct {
	BaseURL        string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Backend        string `json:"backend" yaml:"backend" toml:"backend"`
	Model          string `json:"model" yaml:"model" toml:"model"`
	Preset         string `json:"preset" yaml:"preset" toml:"preset"`
	GPUOffload     string `json:"gpu_offload" yaml:"gpu_offload" toml:"gpu_offload"`
	KeepAlive      *bool  `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
	Verbose        *bool  `json:"verbose" yaml:"verbose" toml:"verbose"`
	Color          string `json:"color" yaml:"color" toml:"color"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LlamaCtx       int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads   int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url" toml:"pushgateway_url"`
}

// Default returns the built-in configuration.
func Default() Config {
	keep := true
	return Config{
		BaseURL:    DefaultBaseURL,
		Backend:    DefaultBackend,
		Model:      DefaultModel,
		Preset:     DefaultPreset,
		GPUOffload: DefaultGPUOffload,
		KeepAlive:  &keep,
		Color:      DefaultColor,
		LogLevel:   DefaultLogLevel,
		ModelsDir:  DefaultModelsDir,
		LlamaCtx:   DefaultLlamaCtx,
	}
}

// KeepAliveAfterExit reports whether the loaded model should outlive the process.
func (c Config) KeepAliveAfterExit() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}

// VerboseEnabled reports whether verbose loading and debug logging are on.
func (c Config) VerboseEnabled() bool {
	return c.Verbose != nil && *c.Verbose
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Merge overlays the non-zero fields of o onto c.
func (c Config) Merge(o Config) Config {
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Preset != "" {
		c.Preset = o.Preset
	}
	if o.GPUOffload != "" {
		c.GPUOffload = o.GPUOffload
	}
	if o.KeepAlive != nil {
		v := *o.KeepAlive
		c.KeepAlive = &v
	}
	if o.Verbose != nil {
		v := *o.Verbose
		c.Verbose = &v
	}
	if o.Color != "" {
		c.Color = o.Color
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.ModelsDir != "" {
		c.ModelsDir = o.ModelsDir
	}
	if o.LlamaCtx > 0 {
		c.LlamaCtx = o.LlamaCtx
	}
	if o.LlamaThreads > 0 {
		c.LlamaThreads = o.LlamaThreads
	}
	if o.PushgatewayURL != "" {
		c.PushgatewayURL = o.PushgatewayURL
	}
	return c
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// FromEnv builds a partial Config from COMPLETE_* variables using lookup
// (normally os.LookupEnv).
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("BASE_URL", &cfg.BaseURL)
	str("BACKEND", &cfg.Backend)
	str("MODEL", &cfg.Model)
	str("PRESET", &cfg.Preset)
	str("GPU_OFFLOAD", &cfg.GPUOffload)
	str("COLOR", &cfg.Color)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("MODELS_DIR", &cfg.ModelsDir)
	str("PUSHGATEWAY_URL", &cfg.PushgatewayURL)

	for _, b := range []struct {
		key string
		set func(bool)
	}{
		{"KEEP_ALIVE", func(v bool) { cfg.KeepAlive = &v }},
		{"VERBOSE", func(v bool) { cfg.Verbose = &v }},
	} {
		if v, ok := lookup(EnvPrefix + b.key); ok && v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return cfg, fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
			}
			b.set(parsed)
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"LLAMA_CTX", &cfg.LlamaCtx},
		{"LLAMA_THREADS", &cfg.LlamaThreads},
	} {
		if v, ok := lookup(EnvPrefix + n.key); ok && v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("%s%s: %w", EnvPrefix, n.key, err)
			}
			*n.dst = parsed
		}
	}
	return cfg, nil
}

// Validate checks the merged configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	switch c.Backend {
	case "lmstudio":
		if strings.TrimSpace(c.BaseURL) == "" {
			return fmt.Errorf("base_url must not be empty for the lmstudio backend")
		}
	case "llama":
		if strings.TrimSpace(c.ModelsDir) == "" {
			return fmt.Errorf("models_dir must not be empty for the llama backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want lmstudio or llama)", c.Backend)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("unknown color mode %q (want auto, always or never)", c.Color)
	}
	return nil
}
