package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Model acquisition.
	DataDir       string   `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ExtraVolumes  []string `json:"extra_volumes" yaml:"extra_volumes" toml:"extra_volumes"`
	SharedDirs    bool     `json:"shared_dirs" yaml:"shared_dirs" toml:"shared_dirs"`
	ModelFileName string   `json:"model_file_name" yaml:"model_file_name" toml:"model_file_name"`
	ModelURL      string   `json:"model_url" yaml:"model_url" toml:"model_url"`
	KaggleUser    string   `json:"kaggle_user" yaml:"kaggle_user" toml:"kaggle_user"`
	KaggleKey     string   `json:"kaggle_key" yaml:"kaggle_key" toml:"kaggle_key"`

	// Engine configuration, fixed for the lifetime of the engine.
	ContextTokens int `json:"context_tokens" yaml:"context_tokens" toml:"context_tokens"`
	Threads       int `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers     int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	MaxImages     int `json:"max_images" yaml:"max_images" toml:"max_images"`

	// Session sampling parameters.
	TopK        int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`

	// Generation behavior.
	GenerateTimeoutSeconds int `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`
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
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
