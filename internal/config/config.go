// Package config provides YAML-based configuration loading for Leadline.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownEventKinds is the closed set of event kinds that trigger rules and
// sequence steps may reference. Unknown kinds are rejected at config load,
// not at dispatch.
var KnownEventKinds = map[string]bool{
	"new_lead":              true,
	"form_submitted":        true,
	"missed_call":           true,
	"appointment_scheduled": true,
	"inbound_message":       true,
	"no_response":           true,
	"no_response_final":     true,
	"appointment_reminder":  true,
	"post_appointment":      true,
}

// KnownDelayUnits maps accepted sequence delay units to their length in
// minutes.
var KnownDelayUnits = map[string]float64{
	"minutes": 1,
	"hours":   60,
	"days":    1440,
}

// Config is the top-level Leadline configuration, loaded from config.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Worker   WorkerConfig   `yaml:"worker"`
	Reply    ReplyConfig    `yaml:"reply"`
	Notify   NotifyConfig   `yaml:"notify"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// DatabaseConfig selects the backing store: sqlite for local work and
// tests, mysql for server deployments.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds REST API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// WorkerConfig holds the due-task executor settings. Schedule, when set,
// is a cron expression that overrides the fixed interval.
type WorkerConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	BatchSize       int    `yaml:"batch_size"`
	Schedule        string `yaml:"schedule"`
}

// ReplyConfig holds reply-generation settings.
type ReplyConfig struct {
	Provider  string `yaml:"provider"` // "openai" or "mock"
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

// NotifyConfig holds escalation notification settings. Empty tokens
// disable the corresponding channel.
type NotifyConfig struct {
	SlackToken     string `yaml:"slack_token"`
	SlackChannel   string `yaml:"slack_channel"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// DefaultsConfig holds per-session defaults applied when an agent config
// leaves them unset.
type DefaultsConfig struct {
	TimeoutHours    int               `yaml:"timeout_hours"`
	MaxMessageCount int               `yaml:"max_message_count"`
	Goals           map[string]string `yaml:"goals"` // use case -> default goal
}

// AgentConfig defines a seeded agent with its trigger rules and follow-up
// sequence steps. Seeded at `ll db init` via upsert.
type AgentConfig struct {
	Name            string         `yaml:"name"`
	UseCase         string         `yaml:"use_case"`
	DefaultGoal     string         `yaml:"default_goal"`
	MaxMessageCount int            `yaml:"max_message_count"`
	TimeoutHours    int            `yaml:"timeout_hours"`
	LeadSources     []string       `yaml:"lead_sources"`
	Triggers        []TriggerRule  `yaml:"triggers"`
	Sequences       []SequenceStep `yaml:"sequences"`
}

// TriggerRule matches an event kind, optionally restricted by a
// "field=value" condition on the event payload.
type TriggerRule struct {
	Event     string `yaml:"event"`
	Condition string `yaml:"condition"`
}

// SequenceStep defines one delayed follow-up message. Delay may be
// fractional and, for reminder-style events, negative.
type SequenceStep struct {
	Event    string  `yaml:"event"`
	Position int     `yaml:"position"`
	Delay    float64 `yaml:"delay"`
	Unit     string  `yaml:"unit"`
	Template string  `yaml:"template"`
}

// DelayMinutes returns the step delay normalized to minutes.
func (s SequenceStep) DelayMinutes() float64 {
	return s.Delay * KnownDelayUnits[s.Unit]
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "leadline.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "leadline"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Worker.IntervalSeconds == 0 {
		c.Worker.IntervalSeconds = 60
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 50
	}
	if c.Reply.Provider == "" {
		c.Reply.Provider = "mock"
	}
	if c.Reply.Model == "" {
		c.Reply.Model = "gpt-4o-mini"
	}
	if c.Reply.Workers == 0 {
		c.Reply.Workers = 4
	}
	if c.Reply.QueueSize == 0 {
		c.Reply.QueueSize = 64
	}
	if c.Defaults.TimeoutHours == 0 {
		c.Defaults.TimeoutHours = 24
	}
	if c.Defaults.MaxMessageCount == 0 {
		c.Defaults.MaxMessageCount = 100
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.MaxMessageCount == 0 {
			a.MaxMessageCount = c.Defaults.MaxMessageCount
		}
		if a.TimeoutHours == 0 {
			a.TimeoutHours = c.Defaults.TimeoutHours
		}
		if a.DefaultGoal == "" {
			a.DefaultGoal = c.Defaults.Goals[a.UseCase]
		}
		for j := range a.Sequences {
			if a.Sequences[j].Unit == "" {
				a.Sequences[j].Unit = "minutes"
			}
		}
	}
}

// validate checks that all required fields are present and consistent.
// Sequence steps are checked here so a malformed agent config fails at
// load time rather than at execution.
func (c *Config) validate() error {
	var errs []string
	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("database.driver %q is not sqlite or mysql", c.Database.Driver))
	}
	if c.Reply.Provider != "openai" && c.Reply.Provider != "mock" {
		errs = append(errs, fmt.Sprintf("reply.provider %q is not openai or mock", c.Reply.Provider))
	}
	if c.Reply.Provider == "openai" && c.Reply.APIKey == "" {
		errs = append(errs, "reply.api_key is required for the openai provider")
	}
	for i, a := range c.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].name is required", i))
		}
		if a.UseCase == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].use_case is required", i))
		}
		for j, tr := range a.Triggers {
			if !KnownEventKinds[tr.Event] {
				errs = append(errs, fmt.Sprintf("agents[%d].triggers[%d].event %q is unknown", i, j, tr.Event))
			}
			if tr.Condition != "" && !strings.Contains(tr.Condition, "=") {
				errs = append(errs, fmt.Sprintf("agents[%d].triggers[%d].condition %q is not field=value", i, j, tr.Condition))
			}
		}
		errs = append(errs, validateSequences(i, a.Sequences)...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateSequences checks that each event's steps form positions 1..N
// with known units and non-empty templates.
func validateSequences(agentIdx int, steps []SequenceStep) []string {
	var errs []string
	byEvent := make(map[string][]SequenceStep)
	for j, s := range steps {
		if !KnownEventKinds[s.Event] {
			errs = append(errs, fmt.Sprintf("agents[%d].sequences[%d].event %q is unknown", agentIdx, j, s.Event))
			continue
		}
		if _, ok := KnownDelayUnits[s.Unit]; !ok {
			errs = append(errs, fmt.Sprintf("agents[%d].sequences[%d].unit %q is unknown", agentIdx, j, s.Unit))
		}
		if s.Template == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].sequences[%d].template is required", agentIdx, j))
		}
		byEvent[s.Event] = append(byEvent[s.Event], s)
	}
	for event, group := range byEvent {
		seen := make(map[int]bool)
		for _, s := range group {
			seen[s.Position] = true
		}
		for p := 1; p <= len(group); p++ {
			if !seen[p] {
				errs = append(errs, fmt.Sprintf("agents[%d] sequence %q positions are not 1..%d", agentIdx, event, len(group)))
				break
			}
		}
	}
	return errs
}
