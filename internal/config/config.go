package config

// Run profile loading and validation for iotnoise

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tturner/iotnoise/internal/errors"
)

// Limits and defaults shared by the CLI and the profile.
const (
	DefaultDuration = 180 // seconds
	DefaultRate     = 60.0
	FallbackRate    = 10.0 // used when the requested rate is not positive
	MaxRate         = 240.0
	DefaultSeed     = 1
)

// WeightsConfig splits the aggregate rate across protocol workers.
type WeightsConfig struct {
	HTTP float64 `yaml:"http"`
	MQTT float64 `yaml:"mqtt"`
	RTSP float64 `yaml:"rtsp"`
	CoAP float64 `yaml:"coap"`
}

// HTTPConfig shapes the HTTP worker.
type HTTPConfig struct {
	RouterShare           float64       `yaml:"router_share"` // remainder goes to the camera
	HeadProbability       float64       `yaml:"head_probability"`
	RandomPathProbability float64       `yaml:"random_path_probability"`
	DropProbability       float64       `yaml:"drop_probability"`
	Paths                 []string      `yaml:"paths"`
	UserAgents            []string      `yaml:"user_agents"`
	Timeout               time.Duration `yaml:"timeout"`
}

// MQTTConfig shapes the MQTT worker and its session.
type MQTTConfig struct {
	DisconnectProbability float64       `yaml:"disconnect_probability"`
	DropProbability       float64       `yaml:"drop_probability"`
	TopicPrefix           string        `yaml:"topic_prefix"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	IOTimeout             time.Duration `yaml:"io_timeout"`
	ReconnectInterval     time.Duration `yaml:"reconnect_interval"`
}

// RTSPConfig shapes the RTSP worker.
type RTSPConfig struct {
	DescribeProbability float64       `yaml:"describe_probability"`
	DropProbability     float64       `yaml:"drop_probability"`
	Paths               []string      `yaml:"paths"`
	UserAgents          []string      `yaml:"user_agents"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	IOTimeout           time.Duration `yaml:"io_timeout"`
}

// CoAPConfig shapes the CoAP worker.
type CoAPConfig struct {
	Paths   []string      `yaml:"paths"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is a noise run profile.
type Config struct {
	Duration    int               `yaml:"duration"` // seconds
	Rate        float64           `yaml:"rate"`     // aggregate requests per minute
	Seed        int64             `yaml:"seed"`
	Targets     map[string]string `yaml:"targets"`         // key -> host[:port]
	Rules       []string          `yaml:"rules,omitempty"` // glob patterns
	AttacksJSON string            `yaml:"attacks_json,omitempty"`
	Weights     WeightsConfig     `yaml:"weights"`
	HTTP        HTTPConfig        `yaml:"http"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	RTSP        RTSPConfig        `yaml:"rtsp"`
	CoAP        CoAPConfig        `yaml:"coap"`
	JoinTimeout time.Duration     `yaml:"join_timeout"`
}

// CreateDefaultConfig returns the profile used when no file is given.
func CreateDefaultConfig() *Config {
	targets := make(map[string]string)
	for _, k := range KnownTargetKeys {
		targets[k] = defaultTargets[k].String()
	}
	return &Config{
		Duration: DefaultDuration,
		Rate:     DefaultRate,
		Seed:     DefaultSeed,
		Targets:  targets,
		Weights:  WeightsConfig{HTTP: 0.35, MQTT: 0.45, RTSP: 0.17, CoAP: 0.03},
		HTTP: HTTPConfig{
			RouterShare:           0.55,
			HeadProbability:       0.08,
			RandomPathProbability: 0.12,
			DropProbability:       0.04,
			Paths:                 []string{"/", "/status", "/health", "/index.html", "/api/status", "/device/status"},
			UserAgents:            []string{"smart-noise/1.0", "curl/8.0", "python-httpclient/1.0", "mozilla/5.0"},
			Timeout:               3 * time.Second,
		},
		MQTT: MQTTConfig{
			DisconnectProbability: 0.02,
			DropProbability:       0.03,
			TopicPrefix:           "home/telemetry",
			DialTimeout:           3 * time.Second,
			IOTimeout:             2 * time.Second,
			ReconnectInterval:     15 * time.Second,
		},
		RTSP: RTSPConfig{
			DescribeProbability: 0.10,
			DropProbability:     0.05,
			Paths:               []string{"/", "/live", "/stream", "/media", "/cam"},
			UserAgents:          []string{"VLC/3.0.20", "Lavf/59.27.100", "smart-noise-rtsp/1.0"},
			DialTimeout:         3 * time.Second,
			IOTimeout:           2 * time.Second,
		},
		CoAP: CoAPConfig{
			Paths:   []string{"/sensor/temp", "/sensor/hum", "/status"},
			Timeout: time.Second,
		},
		JoinTimeout: time.Second,
	}
}

// WriteConfig writes cfg as YAML.
func WriteConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// WriteDefaultConfig writes the default profile to path.
func WriteDefaultConfig(path string) error {
	return WriteConfig(path, CreateDefaultConfig())
}

// LoadConfig loads a profile from a YAML file. Fields missing from the file
// keep their default values. If the file doesn't exist and autoCreate is
// true, the default profile is written there first.
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
		}
		if !autoCreate {
			return nil, errors.WrapConfigError(fmt.Errorf("config file not found: %s", path), path)
		}
		if err := WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.WrapConfigError(fmt.Errorf("read created config file: %w", err), path)
		}
	}

	cfg := CreateDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapConfigError(fmt.Errorf("parse YAML: %w", err), path)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, errors.WrapConfigError(fmt.Errorf("validate config: %w", err), path)
	}
	return cfg, nil
}

// ValidateConfig checks ranges and fills timeouts left at zero. Rate and
// duration are normalized by the caller rather than rejected.
func ValidateConfig(cfg *Config) error {
	if cfg.Weights.HTTP < 0 || cfg.Weights.MQTT < 0 || cfg.Weights.RTSP < 0 || cfg.Weights.CoAP < 0 {
		return fmt.Errorf("weights must be >= 0")
	}
	probs := []struct {
		name string
		v    float64
	}{
		{"http.router_share", cfg.HTTP.RouterShare},
		{"http.head_probability", cfg.HTTP.HeadProbability},
		{"http.random_path_probability", cfg.HTTP.RandomPathProbability},
		{"http.drop_probability", cfg.HTTP.DropProbability},
		{"mqtt.disconnect_probability", cfg.MQTT.DisconnectProbability},
		{"mqtt.drop_probability", cfg.MQTT.DropProbability},
		{"rtsp.describe_probability", cfg.RTSP.DescribeProbability},
		{"rtsp.drop_probability", cfg.RTSP.DropProbability},
	}
	for _, p := range probs {
		if p.v < 0 || p.v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", p.name, p.v)
		}
	}
	lists := []struct {
		name string
		v    []string
	}{
		{"http.paths", cfg.HTTP.Paths},
		{"http.user_agents", cfg.HTTP.UserAgents},
		{"rtsp.paths", cfg.RTSP.Paths},
		{"rtsp.user_agents", cfg.RTSP.UserAgents},
		{"coap.paths", cfg.CoAP.Paths},
	}
	for _, l := range lists {
		if len(l.v) == 0 {
			return fmt.Errorf("%s must not be empty", l.name)
		}
	}
	if cfg.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix must not be empty")
	}

	def := CreateDefaultConfig()
	fill := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	fill(&cfg.HTTP.Timeout, def.HTTP.Timeout)
	fill(&cfg.MQTT.DialTimeout, def.MQTT.DialTimeout)
	fill(&cfg.MQTT.IOTimeout, def.MQTT.IOTimeout)
	fill(&cfg.MQTT.ReconnectInterval, def.MQTT.ReconnectInterval)
	fill(&cfg.RTSP.DialTimeout, def.RTSP.DialTimeout)
	fill(&cfg.RTSP.IOTimeout, def.RTSP.IOTimeout)
	fill(&cfg.CoAP.Timeout, def.CoAP.Timeout)
	fill(&cfg.JoinTimeout, def.JoinTimeout)
	return nil
}

// EffectiveDuration returns the run length, never less than one second.
func (c *Config) EffectiveDuration() time.Duration {
	if c.Duration < 1 {
		return time.Second
	}
	return time.Duration(c.Duration) * time.Second
}

// EffectiveRate replaces a non-positive rate with FallbackRate. Capping at
// MaxRate is left to the scheduler so the caller can log it.
func (c *Config) EffectiveRate() float64 {
	if c.Rate <= 0 {
		return FallbackRate
	}
	return c.Rate
}

// ResolveTargets overlays the profile's target entries on the defaults.
func (c *Config) ResolveTargets() Targets {
	t := DefaultTargets()
	for _, k := range sortedKeys(c.Targets) {
		t.set(k, c.Targets[k])
	}
	return t
}
