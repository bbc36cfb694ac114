package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/rtty_rx/rtty"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Input  InputConfig  `yaml:"input"`
	RTTY   rtty.Config  `yaml:"rtty"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	MaxSessions int    `yaml:"max_sessions"` // 0 = unlimited
	EnableCORS  bool   `yaml:"enable_cors"`
}

// InputConfig contains the IQ multicast input settings
type InputConfig struct {
	DataGroup  string `yaml:"data_group"`  // multicast group, host:port
	Interface  string `yaml:"interface"`   // network interface name (empty = default)
	SSRC       uint32 `yaml:"ssrc"`        // RTP stream selector (0 = accept all)
	SampleRate int    `yaml:"sample_rate"` // complex samples per second
}

// MQTTConfig contains MQTT publishing settings
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	PublishInterval int           `yaml:"publish_interval"` // metric snapshot interval in seconds
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains TLS settings for the MQTT connection
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// defaultConfig returns the configuration used when fields are omitted
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      ":8075",
			MaxSessions: 32,
		},
		Input: InputConfig{
			DataGroup:  "rtty-iq.local:5004",
			SampleRate: 8000,
		},
		RTTY: rtty.DefaultConfig(),
		MQTT: MQTTConfig{
			TopicPrefix:     "rtty_rx",
			PublishInterval: 60,
		},
	}
}

// validate checks settings that would only fail later at runtime
func (c *Config) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Input.SampleRate <= 0 {
		return fmt.Errorf("input.sample_rate must be positive (got %d)", c.Input.SampleRate)
	}
	if c.Input.DataGroup == "" {
		return fmt.Errorf("input.data_group must not be empty")
	}
	if c.RTTY.Decimation < 1 {
		return fmt.Errorf("rtty.decimation must be at least 1 (got %d)", c.RTTY.Decimation)
	}
	if c.RTTY.WordLen < 1 || c.RTTY.WordLen > 8 {
		return fmt.Errorf("rtty.word_len must be 1..8 (got %d)", c.RTTY.WordLen)
	}
	if _, err := rtty.ParseParity(c.RTTY.Parity); err != nil {
		return fmt.Errorf("rtty.parity: %w", err)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must be set when mqtt is enabled")
	}
	if c.MQTT.PublishInterval <= 0 {
		c.MQTT.PublishInterval = 60
	}
	return nil
}
