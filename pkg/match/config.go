package match

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultMillis        = 1000
	DefaultTimeoutMillis = 10000
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "gemma3:1b"
	DefaultOllamaMillis  = 30000
)

type Config struct {
	Engine        string            `json:"engine"`
	EngineArgs    []string          `json:"engine_args"`
	Options       map[string]string `json:"options"`
	Millis        int               `json:"millis"`
	TimeoutMillis int               `json:"timeout_millis"`
	Level         string            `json:"level"`
	Seed          int64             `json:"seed"`
	Ollama        OllamaConfig      `json:"ollama"`
}

type OllamaConfig struct {
	Endpoint      string `json:"endpoint"`
	Model         string `json:"model"`
	TimeoutMillis int    `json:"timeout_millis"`
}

// Timeout is how long the controller waits for an external move.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// EnginePath resolves a relative engine path against root.
func (c Config) EnginePath(root string) string {
	if c.Engine == "" || filepath.IsAbs(c.Engine) {
		return c.Engine
	}
	return filepath.Join(root, c.Engine)
}

// FindConfigPath looks for config.json in the working directory and its
// parents. It returns the file and the directory holding it.
func FindConfigPath() (string, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	return FindConfigPathFrom(cwd)
}

func FindConfigPathFrom(start string) (string, string, error) {
	dir := start
	for {
		path := filepath.Join(dir, "config.json")
		if _, err := os.Stat(path); err == nil {
			return path, filepath.Dir(path), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", "", fmt.Errorf("config.json not found from %s", start)
}

// LoadConfig reads path and fills unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ResolveConfig loads path, or the nearest config.json when path is empty.
// With neither it returns the defaults. The second result is the directory
// relative engine paths are resolved against.
func ResolveConfig(path string) (Config, string, error) {
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return Config{}, "", err
		}
		cfg, err := LoadConfig(abs)
		return cfg, filepath.Dir(abs), err
	}
	found, root, err := FindConfigPath()
	if err != nil {
		cwd, _ := os.Getwd()
		return DefaultConfig(), cwd, nil
	}
	cfg, err := LoadConfig(found)
	return cfg, root, err
}

// DefaultConfig is used when no config.json exists.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Millis <= 0 {
		c.Millis = DefaultMillis
	}
	if c.TimeoutMillis <= 0 {
		c.TimeoutMillis = DefaultTimeoutMillis
	}
	if c.Level == "" {
		c.Level = "intermediate"
	}
	if c.Ollama.Endpoint == "" {
		c.Ollama.Endpoint = DefaultOllamaURL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = DefaultOllamaModel
	}
	if c.Ollama.TimeoutMillis <= 0 {
		c.Ollama.TimeoutMillis = DefaultOllamaMillis
	}
}
