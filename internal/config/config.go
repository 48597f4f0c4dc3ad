package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"alixia/internal/capability"
	"alixia/internal/identity"
)

// Config models alixia.yml.
type Config struct {
	Service struct {
		Name    string `yaml:"name" json:"name"`
		Version string `yaml:"version" json:"version"`
	} `yaml:"service" json:"service"`
	Logging struct {
		Level       string `yaml:"level" json:"level"`
		Development bool   `yaml:"development" json:"development"`
	} `yaml:"logging" json:"logging"`
	Server struct {
		Addr        string   `yaml:"addr" json:"addr"`
		BasePath    string   `yaml:"base_path" json:"base_path"`
		TurnTimeout Duration `yaml:"turn_timeout" json:"turn_timeout"`
		JWTSecret   string   `yaml:"jwt_secret" json:"-"`
	} `yaml:"server" json:"server"`
	Pipeline struct {
		StallTimeout Duration `yaml:"stall_timeout" json:"stall_timeout"`
		ShowOrphans  bool     `yaml:"show_orphans" json:"show_orphans"`
		Workers      int      `yaml:"workers" json:"workers"`
		Apology      string   `yaml:"apology" json:"apology"`
	} `yaml:"pipeline" json:"pipeline"`
	Rooms struct {
		Enabled []string `yaml:"enabled" json:"enabled"`
	} `yaml:"rooms" json:"rooms"`
	Capabilities map[string]struct {
		Description string `yaml:"description" json:"description"`
	} `yaml:"capabilities" json:"capabilities"`
	Matcher struct {
		Rules []MatcherRule `yaml:"rules" json:"rules"`
	} `yaml:"matcher" json:"matcher"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type MatcherRule struct {
	Capability string   `yaml:"capability" json:"capability"`
	Keywords   []string `yaml:"keywords" json:"keywords,omitempty"`
	Pattern    string   `yaml:"pattern" json:"pattern,omitempty"`
	Confidence int      `yaml:"confidence" json:"confidence"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Duration reads Go duration strings such as "30s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Value == "" || n.Value == "0" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// Catalog returns the configured capabilities plus the reserved ones.
func (c *Config) Catalog() capability.Catalog {
	cat := capability.Reserved()
	for name, entry := range c.Capabilities {
		cat[capability.Name(name)] = entry.Description
	}
	return cat
}

// EnabledRooms resolves rooms.enabled.
func (c *Config) EnabledRooms() ([]identity.Room, error) {
	out := make([]identity.Room, 0, len(c.Rooms.Enabled))
	for _, name := range c.Rooms.Enabled {
		r, err := identity.Parse(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with alixia config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("config.pipeline.workers must not be negative")
	}
	if c.Pipeline.StallTimeout < 0 {
		return fmt.Errorf("config.pipeline.stall_timeout must not be negative")
	}
	rooms, err := c.EnabledRooms()
	if err != nil {
		return fmt.Errorf("config.rooms.enabled: %w", err)
	}
	required := map[identity.Room]bool{identity.Controller: false, identity.Overmind: false, identity.Frontdesk: false}
	for _, r := range rooms {
		if _, ok := required[r]; ok {
			required[r] = true
		}
	}
	for r, ok := range required {
		if !ok {
			return fmt.Errorf("config.rooms.enabled must include %s", r)
		}
	}
	for name := range c.Capabilities {
		if name == "" {
			return fmt.Errorf("config.capabilities contains empty name")
		}
	}
	cat := c.Catalog()
	for i, rule := range c.Matcher.Rules {
		if rule.Capability == "" {
			return fmt.Errorf("matcher rule %d has empty capability", i)
		}
		if !cat.Has(capability.Name(rule.Capability)) {
			return fmt.Errorf("matcher rule %d proposes unknown capability %s", i, rule.Capability)
		}
		if rule.Confidence < 0 || rule.Confidence > 100 {
			return fmt.Errorf("matcher rule %d confidence must be within 0..100", i)
		}
		if len(rule.Keywords) == 0 && rule.Pattern == "" {
			return fmt.Errorf("matcher rule %d needs keywords or a pattern", i)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "alixia.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceName string) string {
	return fmt.Sprintf(defaultTemplate, serviceName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("alixia"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: %s
  version: 0.3.0

logging:
  level: info
  development: false

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  turn_timeout: 30s

pipeline:
  stall_timeout: 0
  show_orphans: true
  workers: 4

rooms:
  enabled:
    - monitor
    - overmind
    - linguist
    - matcher
    - historian
    - concierge
    - frontdesk
    - controller

capabilities:
  tell_time:
    description: "Say the current time"
  show_clock:
    description: "Render a clock face for rich clients"
  set_timer:
    description: "Push a reminder after a number of seconds"
  greet:
    description: "Say hello"
  recall_history:
    description: "List the client's recent turns"
  play_title:
    description: "Play a media title"
  lights_on:
    description: "Switch the lights on"

matcher:
  rules:
    - capability: tell_time
      keywords: [time, clock]
      confidence: 70
    - capability: show_clock
      keywords: [clock]
      confidence: 70
    - capability: set_timer
      pattern: 'timer for (\d+)'
      confidence: 90
    - capability: greet
      keywords: [hello, hi, hey]
      confidence: 60
    - capability: recall_history
      keywords: [history, "what did i ask"]
      confidence: 80
    - capability: like_a_version
      keywords: [version]
      confidence: 80
`
