package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models boardflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	AI AIConfig `yaml:"ai"`
}

// AIConfig holds everything the assistant needs to talk to a model provider.
type AIConfig struct {
	Provider            string  `yaml:"provider"`
	Model               string  `yaml:"model"`
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	MaxTokens           int     `yaml:"max_tokens"`
	ClassifierMaxTokens int     `yaml:"classifier_max_tokens"`
	Temperature         float64 `yaml:"temperature"`
	MaxToolRounds       int     `yaml:"max_tool_rounds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	switch c.AI.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config.ai.provider must be anthropic or openai, got %q", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("config.ai.model is required")
	}
	if c.AI.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.ai.timeout_seconds must be positive")
	}
	if c.AI.MaxToolRounds <= 0 {
		return fmt.Errorf("config.ai.max_tool_rounds must be positive")
	}
	return nil
}

// Default returns a Config with every field at its default.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v1"
	cfg.AI = AIConfig{
		Provider:            "anthropic",
		Model:               "claude-sonnet-4-5",
		TimeoutSeconds:      30,
		MaxTokens:           1024,
		ClassifierMaxTokens: 256,
		Temperature:         0.1,
		MaxToolRounds:       1,
	}
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "boardflow.yml")
}

// GenerateDefault returns default config YAML for bf init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1

auth:
  jwt_secret: ""

ai:
  provider: anthropic
  model: claude-sonnet-4-5
  api_key: ""
  base_url: ""
  timeout_seconds: 30
  max_tokens: 1024
  classifier_max_tokens: 256
  temperature: 0.1
  max_tool_rounds: 1
`
